package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperr"
)

// memDB backs the mock repositories. fakeTx snapshots it so a failing
// transaction leaves nothing behind.
type memDB struct {
	mu        sync.Mutex
	appts     map[uuid.UUID]*Appointment
	threads   map[string]*chat.Thread
	announced []string

	failThread bool
	failUpdate bool
}

func newMemDB() *memDB {
	return &memDB{appts: make(map[uuid.UUID]*Appointment), threads: make(map[string]*chat.Thread)}
}

func (d *memDB) snapshot() func() {
	appts := make(map[uuid.UUID]*Appointment, len(d.appts))
	for k, v := range d.appts {
		cp := *v
		appts[k] = &cp
	}
	threads := make(map[string]*chat.Thread, len(d.threads))
	for k, v := range d.threads {
		threads[k] = v
	}
	return func() { d.appts, d.threads = appts, threads }
}

type fakeTx struct {
	db   *memDB
	txMu sync.Mutex
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	f.db.mu.Lock()
	restore := f.db.snapshot()
	f.db.mu.Unlock()
	if err := fn(ctx); err != nil {
		f.db.mu.Lock()
		restore()
		f.db.mu.Unlock()
		return err
	}
	return nil
}

// -- Appointments --

type mockApptRepo struct{ db *memDB }

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	cp := *a
	m.db.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	a, ok := m.db.appts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, respondedAt time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failUpdate {
		return false, errors.New("connection reset by peer")
	}
	a, ok := m.db.appts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.RespondedAt = &respondedAt
	return true, nil
}

func (m *mockApptRepo) sorted(keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.db.appts {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *mockApptRepo) ListByParty(_ context.Context, account string, limit, offset int) ([]*Appointment, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	all := m.sorted(func(a *Appointment) bool { return a.HasParty(account) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockApptRepo) ListActive(_ context.Context, account, fromDate string) ([]*Appointment, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.sorted(func(a *Appointment) bool {
		return a.HasParty(account) && a.Status != StatusRejected && a.Date >= fromDate
	}), nil
}

// -- Collaborators --

type mockProfiles struct {
	profiles map[string]*identity.Profile
}

func (m *mockProfiles) GetProfile(_ context.Context, id string) (*identity.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperr.Wrap(apperr.KindNotFound, pgx.ErrNoRows, "get profile %s", id)
	}
	cp := *p
	return &cp, nil
}

func seedProfiles() *mockProfiles {
	return &mockProfiles{profiles: map[string]*identity.Profile{
		"p1": {ID: "p1", Name: "Amina", Role: identity.RolePatient},
		"p2": {ID: "p2", Name: "Baraka", Role: identity.RolePatient},
		"w1": {ID: "w1", Name: "Dr. Wanjiru", Role: identity.RoleHealthWorker, Verified: true},
		"w2": {ID: "w2", Name: "Dr. Otieno", Role: identity.RoleHealthWorker},
	}}
}

type mockThreads struct{ db *memDB }

func (m *mockThreads) EnsureThread(_ context.Context, a, b string) (*chat.Thread, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if m.db.failThread {
		return nil, apperr.New(apperr.KindTransient, "create thread: timeout")
	}
	id := chat.ThreadID(a, b)
	pair := [2]string{a, b}
	if b < a {
		pair = [2]string{b, a}
	}
	if t, ok := m.db.threads[id]; ok {
		if t.Participants != pair {
			return nil, apperr.New(apperr.KindConflict, "thread %s belongs to another pair", id)
		}
		cp := *t
		cp.Created = false
		return &cp, nil
	}
	t := &chat.Thread{ID: id, Participants: pair, Status: chat.ThreadStatusActive}
	m.db.threads[id] = t
	cp := *t
	cp.Created = true
	return &cp, nil
}

func (m *mockThreads) AnnounceThread(_ context.Context, t *chat.Thread) {
	m.db.mu.Lock()
	m.db.announced = append(m.db.announced, t.ID)
	m.db.mu.Unlock()
}

func (m *mockThreads) exists(id string) bool {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	_, ok := m.db.threads[id]
	return ok
}
