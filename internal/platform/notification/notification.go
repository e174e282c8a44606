// Package notification records user-facing notifications and hands them to
// a delivery collaborator (websocket push, log). Titles and bodies come from
// templates keyed by the change event that caused the notification.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carelink/carelink/internal/platform/apperr"
	"github.com/google/uuid"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single message shown to one account.
type Notification struct {
	ID         string     `json:"id"`
	Recipient  string     `json:"recipient_id"`
	EventType  string     `json:"event_type"`
	ResourceID string     `json:"resource_id,omitempty"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template renders the title and body of one kind of notification.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

const (
	TemplateNewMessage          = "message.created"
	TemplateAppointmentProposed = "appointment.proposed"
	TemplateAppointmentApproved = "appointment.approved"
	TemplateAppointmentRejected = "appointment.rejected"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{ID: TemplateNewMessage, Title: "New message", Body: "{{preview}}"},
		{ID: TemplateAppointmentProposed, Title: "New appointment", Body: "{{proposer}} scheduled {{date}} @ {{time}}"},
		{ID: TemplateAppointmentApproved, Title: "Appointment approved", Body: "Appointment approved by {{responder}}"},
		{ID: TemplateAppointmentRejected, Title: "Appointment rejected", Body: "Appointment rejected by {{responder}}"},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	title, body = t.Title, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return title, body, nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	UpdateStatus(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id string) (*Notification, error)
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Notification, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Manager records notifications and delivers them.
type Manager struct {
	store     Store
	deliverer Deliverer
	templates *TemplateEngine
	now       func() time.Time
}

func NewManager(store Store, deliverer Deliverer, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{store: store, deliverer: deliverer, templates: tpl, now: time.Now}
}

// Send stores n as pending, delivers it and records the outcome. A delivery
// failure is returned after the failed status has been stored.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return apperr.New(apperr.KindValidation, "notification recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = m.now().UTC()
	n.Status = StatusPending

	if err := m.store.Create(ctx, n); err != nil {
		return apperr.FromStore(err, "record notification")
	}
	return m.deliver(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	sendErr := m.deliverer.Deliver(ctx, n)
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		n.Error = ""
		sentAt := m.now().UTC()
		n.SentAt = &sentAt
	}

	if err := m.store.UpdateStatus(ctx, n); err != nil {
		return apperr.FromStore(err, "update notification %s", n.ID)
	}
	if sendErr != nil {
		return apperr.Wrap(apperr.KindTransient, sendErr, "deliver notification %s", n.ID)
	}
	return nil
}

// SendFromTemplate renders a template and sends the resulting notification.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID, recipient, resourceID string, data map[string]string) (*Notification, error) {
	title, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "render notification")
	}
	n := &Notification{
		Recipient:  recipient,
		EventType:  templateID,
		ResourceID: resourceID,
		Title:      title,
		Body:       body,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Retry re-delivers a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	n, err := m.store.GetByID(ctx, id)
	if err != nil {
		return apperr.FromStore(err, "get notification %s", id)
	}
	if n.Status != StatusFailed {
		return apperr.New(apperr.KindConflict, "notification %q is not in failed status (current: %s)", id, n.Status)
	}
	return m.deliver(ctx, n)
}

func (m *Manager) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := m.store.ListByRecipient(ctx, recipient, limit)
	if err != nil {
		return nil, apperr.FromStore(err, "list notifications")
	}
	return list, nil
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := m.store.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.FromStore(err, "notification stats")
	}
	return stats, nil
}
