package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestLocalBroker_TopicRouting(t *testing.T) {
	b := NewLocalBroker("node-a", nil)
	thread, user, all := &recorder{}, &recorder{}, &recorder{}
	b.Subscribe(ThreadTopic("p1_w1"), thread.handle)
	b.Subscribe(UserTopic("w1"), user.handle)
	b.Subscribe(AllTopics, all.handle)

	e, err := NewEvent(EventMessageCreated, ThreadTopic("p1_w1"), "m1", map[string]string{"text": "Hello"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), e))

	require.Len(t, thread.all(), 1)
	assert.Empty(t, user.all())
	require.Len(t, all.all(), 1)

	got := thread.all()[0]
	assert.Equal(t, "node-a", got.Origin)
	assert.Equal(t, "m1", got.ResourceID)

	var data map[string]string
	require.NoError(t, got.Decode(&data))
	assert.Equal(t, "Hello", data["text"])
}

func TestLocalBroker_StampsDefaults(t *testing.T) {
	b := NewLocalBroker("", nil)
	assert.NotEmpty(t, b.InstanceID())

	rec := &recorder{}
	b.Subscribe("user:p1", rec.handle)
	require.NoError(t, b.Publish(context.Background(), Event{Type: EventUnreadChanged, Topic: "user:p1"}))

	got := rec.all()[0]
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, b.InstanceID(), got.Origin)
}

func TestLocalBroker_CancelIsIdempotent(t *testing.T) {
	b := NewLocalBroker("node-a", nil)
	rec := &recorder{}
	cancel := b.Subscribe("thread:t1", rec.handle)
	assert.Equal(t, 1, b.SubscriberCount("thread:t1"))

	cancel()
	cancel()
	assert.Equal(t, 0, b.SubscriberCount("thread:t1"))

	require.NoError(t, b.Publish(context.Background(), Event{Type: EventThreadRead, Topic: "thread:t1"}))
	assert.Empty(t, rec.all())
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic    string
		kind, id string
		ok       bool
	}{
		{"thread:p1_w1", "thread", "p1_w1", true},
		{"user:w1", "user", "w1", true},
		{"user:", "user", "", false},
		{"*", "", "", false},
		{"patients", "", "", false},
	}
	for _, tt := range tests {
		kind, id, ok := ParseTopic(tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.kind, kind, tt.topic)
		assert.Equal(t, tt.id, id, tt.topic)
	}
}

func TestEvent_DecodeEmpty(t *testing.T) {
	var v map[string]interface{}
	assert.Error(t, Event{Type: EventThreadRead}.Decode(&v))
}
