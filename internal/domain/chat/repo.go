package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ThreadRepository interface {
	// CreateIfAbsent inserts t unless a thread with the same id exists and
	// reports whether this call created it.
	CreateIfAbsent(ctx context.Context, t *Thread) (bool, error)
	GetByID(ctx context.Context, id string) (*Thread, error)
	ListByParticipant(ctx context.Context, participant string, limit, offset int) ([]*Thread, int, error)
	// Lock takes the thread row lock for the rest of the transaction.
	Lock(ctx context.Context, id string) error
	// TouchPreview sets the preview and returns the new last-message time,
	// strictly later than the previous one.
	TouchPreview(ctx context.Context, id, preview string) (time.Time, error)
}

type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// ListByThread orders newest first, ties by id descending.
	ListByThread(ctx context.Context, threadID string, limit, offset int) ([]*Message, int, error)
	MarkRead(ctx context.Context, threadID, recipient string) (int64, error)
	// DeleteBySender removes the message only when sender wrote it and
	// returns the removed row.
	DeleteBySender(ctx context.Context, id uuid.UUID, sender string) (*Message, error)
}

type UnreadRepository interface {
	Increment(ctx context.Context, threadID, recipient string) (int, error)
	// Decrement never goes below zero.
	Decrement(ctx context.Context, threadID, recipient string) (int, error)
	Reset(ctx context.Context, threadID, recipient string) error
	Get(ctx context.Context, threadID, recipient string) (int, error)
	Total(ctx context.Context, recipient string) (int, error)
	ByThread(ctx context.Context, recipient string) (map[string]int, error)
	// Reconcile recomputes counters from message read flags and returns the
	// number of counters it corrected. Must run inside a transaction.
	Reconcile(ctx context.Context) (int, error)
}
