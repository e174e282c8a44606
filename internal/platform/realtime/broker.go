package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/google/uuid"
)

// Handler receives events. Brokers call handlers synchronously on the
// publishing goroutine, so handlers must not block.
type Handler func(Event)

// Broker is the change stream shared by the chat, scheduling, notification
// and websocket components.
type Broker interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers h for topic (or AllTopics). The returned function
	// removes the registration and is safe to call more than once.
	Subscribe(topic string, h Handler) (cancel func())
	// InstanceID identifies this server process. Events published here
	// carry it as their Origin.
	InstanceID() string
}

// LocalBroker fans events out to in-process subscribers.
type LocalBroker struct {
	instanceID string
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewLocalBroker(instanceID string, m *metrics.Metrics) *LocalBroker {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &LocalBroker{
		instanceID: instanceID,
		metrics:    m,
		subs:       make(map[string]map[uint64]Handler),
	}
}

func (b *LocalBroker) InstanceID() string { return b.instanceID }

// Publish stamps the event with this instance as origin and delivers it.
func (b *LocalBroker) Publish(_ context.Context, e Event) error {
	b.stamp(&e)
	b.deliver(e, "local")
	return nil
}

func (b *LocalBroker) stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Origin == "" {
		e.Origin = b.instanceID
	}
}

func (b *LocalBroker) deliver(e Event, source string) {
	b.metrics.EventHandled(e.Type, source)

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic])+len(b.subs[AllTopics]))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	if e.Topic != AllTopics {
		for _, h := range b.subs[AllTopics] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

func (b *LocalBroker) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *LocalBroker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
