package notification

import (
	"context"
	"errors"

	"github.com/carelink/carelink/internal/platform/realtime"
	"github.com/rs/zerolog"
)

// Deliverer pushes a notification to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, n *Notification) error
}

// BrokerDeliverer publishes the notification on the recipient's user topic.
// Connected websocket clients subscribed to user:<id> receive it.
type BrokerDeliverer struct {
	broker realtime.Broker
}

func NewBrokerDeliverer(b realtime.Broker) *BrokerDeliverer {
	return &BrokerDeliverer{broker: b}
}

func (d *BrokerDeliverer) Deliver(ctx context.Context, n *Notification) error {
	e, err := realtime.NewEvent(realtime.EventNotification, realtime.UserTopic(n.Recipient), n.ID, n)
	if err != nil {
		return err
	}
	return d.broker.Publish(ctx, e)
}

// LogDeliverer writes each notification to the log.
type LogDeliverer struct {
	logger zerolog.Logger
}

func NewLogDeliverer(logger zerolog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(_ context.Context, n *Notification) error {
	d.logger.Info().
		Str("notification_id", n.ID).
		Str("recipient_id", n.Recipient).
		Str("event_type", n.EventType).
		Str("title", n.Title).
		Msg("notification delivered")
	return nil
}

// MultiDeliverer calls every deliverer and joins their errors.
type MultiDeliverer []Deliverer

func (m MultiDeliverer) Deliver(ctx context.Context, n *Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
