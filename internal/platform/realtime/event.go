// Package realtime carries committed-change events between components and
// across server instances. Events are addressed to topics: thread:<id> for a
// chat thread and user:<id> for everything addressed to one account.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventThreadCreated       = "thread.created"
	EventMessageCreated      = "message.created"
	EventMessageDeleted      = "message.deleted"
	EventThreadRead          = "thread.read"
	EventUnreadChanged       = "unread.changed"
	EventAppointmentProposed = "appointment.proposed"
	EventAppointmentApproved = "appointment.approved"
	EventAppointmentRejected = "appointment.rejected"
	EventNotification        = "notification"
)

// AllTopics subscribes a handler to every event.
const AllTopics = "*"

const (
	threadPrefix = "thread:"
	userPrefix   = "user:"
)

// Event is a single committed change.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId,omitempty"`
	Origin     string          `json:"origin"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func ThreadTopic(threadID string) string { return threadPrefix + threadID }

func UserTopic(accountID string) string { return userPrefix + accountID }

// ParseTopic splits a topic into its kind ("thread" or "user") and id.
func ParseTopic(topic string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(topic, threadPrefix):
		id = strings.TrimPrefix(topic, threadPrefix)
		kind = "thread"
	case strings.HasPrefix(topic, userPrefix):
		id = strings.TrimPrefix(topic, userPrefix)
		kind = "user"
	default:
		return "", "", false
	}
	return kind, id, id != ""
}

// NewEvent builds an event with a fresh id and data marshaled to JSON.
// Origin is filled in by the broker on publish.
func NewEvent(eventType, topic, resourceID string, data interface{}) (Event, error) {
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Topic:      topic,
		ResourceID: resourceID,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s event data: %w", eventType, err)
		}
		e.Data = raw
	}
	return e, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s event has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}
