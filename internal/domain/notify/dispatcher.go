// Package notify turns committed chat and appointment changes into
// user-facing notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/platform/metrics"
	"github.com/carelink/carelink/internal/platform/notification"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// DefaultQueueSize bounds events waiting for dispatch.
const DefaultQueueSize = 256

// Sender renders and delivers a templated notification.
type Sender interface {
	SendFromTemplate(ctx context.Context, templateID, recipient, resourceID string, data map[string]string) (*notification.Notification, error)
}

// Intent is one notification to produce for an event.
type Intent struct {
	Template   string
	Recipient  string
	ResourceID string
	Data       map[string]string
}

// Dispatcher listens to the change stream and sends one notification per
// qualifying event. Only events that originated on this instance are
// dispatched, so each change is notified once however many instances share
// the stream.
type Dispatcher struct {
	broker  realtime.Broker
	sender  Sender
	queue   chan realtime.Event
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(broker realtime.Broker, sender Sender, queueSize int, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		broker:  broker,
		sender:  sender,
		queue:   make(chan realtime.Event, queueSize),
		logger:  logger,
		metrics: m,
	}
}

// OnEvent queues e without blocking the publisher. Events that arrive while
// the queue is full are dropped and logged.
func (d *Dispatcher) OnEvent(e realtime.Event) {
	if e.Origin != d.broker.InstanceID() {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Warn().Str("event", e.Type).Str("event_id", e.ID).Msg("notification queue full, event dropped")
		d.metrics.NotificationDispatched(e.Type, false)
	}
}

// Start subscribes to every topic and dispatches queued events until ctx is
// cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	cancel := d.broker.Subscribe(realtime.AllTopics, d.OnEvent)
	defer cancel()

	d.logger.Info().Str("instance", d.broker.InstanceID()).Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-d.queue:
			d.Handle(ctx, e)
		}
	}
}

// Handle dispatches a single event. Failures are logged; they never stop
// the dispatcher.
func (d *Dispatcher) Handle(ctx context.Context, e realtime.Event) {
	intent, ok, err := Plan(e)
	if err != nil {
		d.logger.Warn().Err(err).Str("event", e.Type).Str("event_id", e.ID).Msg("undecodable event")
		return
	}
	if !ok {
		return
	}

	n, err := d.sender.SendFromTemplate(ctx, intent.Template, intent.Recipient, intent.ResourceID, intent.Data)
	d.metrics.NotificationDispatched(e.Type, err == nil)
	if err != nil {
		d.logger.Error().Err(err).
			Str("event", e.Type).
			Str("recipient_id", intent.Recipient).
			Msg("notification delivery failed")
		return
	}
	d.logger.Debug().Str("notification_id", n.ID).Str("recipient_id", n.Recipient).Msg("notification dispatched")
}

type messagePayload struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	chat.Payload
}

// preview uses the same labels as the thread preview.
func (m messagePayload) preview() string { return m.Payload.Preview() }

type appointmentPayload struct {
	ID              string `json:"id"`
	PatientID       string `json:"patient_id"`
	HealthWorkerID  string `json:"health_worker_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	ProposedBy      string `json:"proposed_by"`
	ProposerName    string `json:"proposer_name"`
	RespondedBy     string `json:"responded_by"`
	RespondedByName string `json:"responded_by_name"`
}

func (a appointmentPayload) counterparty() string {
	if a.ProposedBy == a.PatientID {
		return a.HealthWorkerID
	}
	return a.PatientID
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Plan decides which notification, if any, an event produces. Appointment
// events are published to both parties' topics; only the copy on the
// notified party's topic yields an intent.
func Plan(e realtime.Event) (*Intent, bool, error) {
	switch e.Type {
	case realtime.EventMessageCreated:
		var m messagePayload
		if err := json.Unmarshal(e.Data, &m); err != nil {
			return nil, false, fmt.Errorf("decode message: %w", err)
		}
		if m.RecipientID == "" || m.RecipientID == m.SenderID {
			return nil, false, nil
		}
		return &Intent{
			Template:   notification.TemplateNewMessage,
			Recipient:  m.RecipientID,
			ResourceID: m.ThreadID,
			Data:       map[string]string{"preview": m.preview()},
		}, true, nil

	case realtime.EventAppointmentProposed:
		var a appointmentPayload
		if err := json.Unmarshal(e.Data, &a); err != nil {
			return nil, false, fmt.Errorf("decode appointment: %w", err)
		}
		target := a.counterparty()
		if e.Topic != realtime.UserTopic(target) {
			return nil, false, nil
		}
		return &Intent{
			Template:   notification.TemplateAppointmentProposed,
			Recipient:  target,
			ResourceID: a.ID,
			Data: map[string]string{
				"proposer": orDefault(a.ProposerName, a.ProposedBy),
				"date":     a.Date,
				"time":     a.Time,
			},
		}, true, nil

	case realtime.EventAppointmentApproved, realtime.EventAppointmentRejected:
		var a appointmentPayload
		if err := json.Unmarshal(e.Data, &a); err != nil {
			return nil, false, fmt.Errorf("decode appointment: %w", err)
		}
		if a.ProposedBy == "" || e.Topic != realtime.UserTopic(a.ProposedBy) {
			return nil, false, nil
		}
		tpl := notification.TemplateAppointmentApproved
		if e.Type == realtime.EventAppointmentRejected {
			tpl = notification.TemplateAppointmentRejected
		}
		return &Intent{
			Template:   tpl,
			Recipient:  a.ProposedBy,
			ResourceID: a.ID,
			Data:       map[string]string{"responder": orDefault(a.RespondedByName, a.RespondedBy)},
		}, true, nil
	}
	return nil, false, nil
}
