package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/platform/blobstore"
)

// memDB backs the in-memory repositories. fakeTx snapshots it so a failed
// transaction leaves no partial writes.
type memDB struct {
	mu       sync.Mutex
	threads  map[string]*Thread
	messages map[uuid.UUID]*Message
	unread   map[[2]string]int

	failIncrement error
	failList      error
}

func newMemDB() *memDB {
	return &memDB{
		threads:  make(map[string]*Thread),
		messages: make(map[uuid.UUID]*Message),
		unread:   make(map[[2]string]int),
	}
}

func (d *memDB) snapshot() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	threads := make(map[string]*Thread, len(d.threads))
	for k, v := range d.threads {
		cp := *v
		threads[k] = &cp
	}
	messages := make(map[uuid.UUID]*Message, len(d.messages))
	for k, v := range d.messages {
		cp := *v
		messages[k] = &cp
	}
	unread := make(map[[2]string]int, len(d.unread))
	for k, v := range d.unread {
		unread[k] = v
	}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.threads, d.messages, d.unread = threads, messages, unread
	}
}

type fakeTx struct {
	mu sync.Mutex
	db *memDB
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	restore := f.db.snapshot()
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}

// -- Threads --

type mockThreadRepo struct{ db *memDB }

func (m *mockThreadRepo) CreateIfAbsent(_ context.Context, t *Thread) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.threads[t.ID]; ok {
		return false, nil
	}
	now := time.Now()
	cp := *t
	cp.CreatedAt, cp.LastMessageTime = now, now
	m.db.threads[t.ID] = &cp
	return true, nil
}

func (m *mockThreadRepo) GetByID(_ context.Context, id string) (*Thread, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.threads[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	cp.UnreadCounts = make(map[string]int)
	for k, n := range m.db.unread {
		if k[0] == id {
			cp.UnreadCounts[k[1]] = n
		}
	}
	return &cp, nil
}

func (m *mockThreadRepo) ListByParticipant(_ context.Context, participant string, limit, offset int) ([]*Thread, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Thread
	for _, t := range m.db.threads {
		if t.HasParticipant(participant) {
			cp := *t
			cp.Unread = m.db.unread[[2]string{t.ID, participant}]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageTime.After(out[j].LastMessageTime) })
	return out, len(out), nil
}

func (m *mockThreadRepo) Lock(_ context.Context, id string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.threads[id]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (m *mockThreadRepo) TouchPreview(_ context.Context, id, preview string) (time.Time, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.threads[id]
	if !ok {
		return time.Time{}, pgx.ErrNoRows
	}
	ts := time.Now()
	if min := t.LastMessageTime.Add(time.Microsecond); ts.Before(min) {
		ts = min
	}
	t.LastMessage, t.LastMessageTime = preview, ts
	return ts, nil
}

// -- Messages --

type mockMessageRepo struct{ db *memDB }

func (m *mockMessageRepo) Insert(_ context.Context, msg *Message) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cp := *msg
	m.db.messages[msg.ID] = &cp
	return nil
}

func (m *mockMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	msg, ok := m.db.messages[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *msg
	return &cp, nil
}

func (m *mockMessageRepo) ListByThread(_ context.Context, threadID string, limit, offset int) ([]*Message, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failList != nil {
		return nil, 0, m.db.failList
	}
	var out []*Message
	for _, msg := range m.db.messages {
		if msg.ThreadID == threadID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockMessageRepo) MarkRead(_ context.Context, threadID, recipient string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var n int64
	for _, msg := range m.db.messages {
		if msg.ThreadID == threadID && msg.RecipientID == recipient && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (m *mockMessageRepo) DeleteBySender(_ context.Context, id uuid.UUID, sender string) (*Message, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	msg, ok := m.db.messages[id]
	if !ok || msg.SenderID != sender {
		return nil, pgx.ErrNoRows
	}
	delete(m.db.messages, id)
	return msg, nil
}

// -- Unread --

type mockUnreadRepo struct{ db *memDB }

func (m *mockUnreadRepo) Increment(_ context.Context, threadID, recipient string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failIncrement != nil {
		return 0, m.db.failIncrement
	}
	k := [2]string{threadID, recipient}
	m.db.unread[k]++
	return m.db.unread[k], nil
}

func (m *mockUnreadRepo) Decrement(_ context.Context, threadID, recipient string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	k := [2]string{threadID, recipient}
	if m.db.unread[k] > 0 {
		m.db.unread[k]--
	}
	return m.db.unread[k], nil
}

func (m *mockUnreadRepo) Reset(_ context.Context, threadID, recipient string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.unread[[2]string{threadID, recipient}] = 0
	return nil
}

func (m *mockUnreadRepo) Get(_ context.Context, threadID, recipient string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.unread[[2]string{threadID, recipient}], nil
}

func (m *mockUnreadRepo) Total(_ context.Context, recipient string) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	total := 0
	for k, n := range m.db.unread {
		if k[1] == recipient {
			total += n
		}
	}
	return total, nil
}

func (m *mockUnreadRepo) ByThread(_ context.Context, recipient string) (map[string]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := make(map[string]int)
	for k, n := range m.db.unread {
		if k[1] == recipient && n > 0 {
			out[k[0]] = n
		}
	}
	return out, nil
}

func (m *mockUnreadRepo) Reconcile(_ context.Context) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	actual := make(map[[2]string]int)
	for _, msg := range m.db.messages {
		if !msg.Read {
			actual[[2]string{msg.ThreadID, msg.RecipientID}]++
		}
	}
	fixed := 0
	for k, n := range actual {
		if m.db.unread[k] != n {
			m.db.unread[k] = n
			fixed++
		}
	}
	for k, n := range m.db.unread {
		if _, ok := actual[k]; !ok && n != 0 {
			m.db.unread[k] = 0
			fixed++
		}
	}
	return fixed, nil
}

// failingMediaStore rejects every upload.
type failingMediaStore struct{ err error }

func (f failingMediaStore) Put(context.Context, blobstore.UploadRequest, io.Reader) (*blobstore.Asset, error) {
	return nil, f.err
}

func (f failingMediaStore) Get(context.Context, string) (io.ReadCloser, *blobstore.Asset, error) {
	return nil, nil, blobstore.ErrBlobNotFound
}

func (f failingMediaStore) Delete(context.Context, string) error { return nil }

var errStorage = errors.New("connection reset by peer")
