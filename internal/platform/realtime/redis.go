package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelPrefix namespaces the redis channels used for events.
const DefaultChannelPrefix = "carelink:events:"

// RedisBroker shares events between server instances. Events published here
// are delivered to local subscribers immediately and published on the redis
// channel <prefix><topic>; events from other instances arrive through a
// pattern subscription and are relayed to local subscribers with their
// original Origin.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	local  *LocalBroker
	logger zerolog.Logger

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroker subscribes to <prefix>* and starts relaying. The
// subscription is confirmed before returning.
func NewRedisBroker(ctx context.Context, client redis.UniversalClient, prefix, instanceID string, logger zerolog.Logger, m *metrics.Metrics) (*RedisBroker, error) {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	b := &RedisBroker{
		client: client,
		prefix: prefix,
		local:  NewLocalBroker(instanceID, m),
		logger: logger.With().Str("component", "redis_broker").Logger(),
		done:   make(chan struct{}),
	}

	b.pubsub = client.PSubscribe(ctx, prefix+"*")
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s*: %w", prefix, err)
	}

	go b.relay(b.pubsub.Channel())
	return b, nil
}

func (b *RedisBroker) InstanceID() string { return b.local.InstanceID() }

func (b *RedisBroker) Subscribe(topic string, h Handler) func() {
	return b.local.Subscribe(topic, h)
}

func (b *RedisBroker) Publish(ctx context.Context, e Event) error {
	b.local.stamp(&e)
	b.local.deliver(e, "local")

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	if err := b.client.Publish(ctx, b.prefix+e.Topic, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s to redis: %w", e.ID, err)
	}
	return nil
}

func (b *RedisBroker) relay(ch <-chan *redis.Message) {
	defer close(b.done)
	for msg := range ch {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
			continue
		}
		if e.Origin == b.InstanceID() {
			continue
		}
		if e.Topic == "" {
			e.Topic = strings.TrimPrefix(msg.Channel, b.prefix)
		}
		b.local.deliver(e, "remote")
	}
}

// Close stops the relay and waits for it to exit.
func (b *RedisBroker) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
