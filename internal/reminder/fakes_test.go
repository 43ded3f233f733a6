package reminder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"evolve/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var ist = time.FixedZone("IST", 5*3600+1800)

func at(hour, minute int) time.Time {
	return time.Date(2025, time.March, 3, hour, minute, 0, 0, ist)
}

func item(id int64, recipient string, hour, minute int) domain.ScheduledItem {
	day := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	return domain.ScheduledItem{
		ID:            id,
		RecipientID:   recipient,
		Description:   "task",
		Priority:      domain.PriorityHigh,
		Status:        domain.StatusPending,
		ScheduledDate: &day,
		ScheduledTime: &domain.TimeOfDay{Hour: hour, Minute: minute},
	}
}

// mockProvider records calls and returns a canned response or error.
type mockProvider struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
	last    domain.ChatRequest
}

func (m *mockProvider) Name() string                      { return "mock" }
func (m *mockProvider) Healthy(ctx context.Context) error { return nil }
func (m *mockProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{Content: m.content}, nil
}

type fakeConn struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (c *fakeConn) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeRegistry struct {
	mu    sync.Mutex
	conns map[string]domain.Conn
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{conns: make(map[string]domain.Conn)}
}

func (r *fakeRegistry) add(id string, c domain.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = c
}

func (r *fakeRegistry) Lookup(id string) (domain.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *fakeRegistry) UnregisterIf(id string, c domain.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; ok && cur == c {
		delete(r.conns, id)
		return true
	}
	return false
}

func (r *fakeRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var errStoreDown = errors.New("store down")

type fakeStore struct {
	mu        sync.Mutex
	tasks     []domain.ScheduledItem
	loadErr   error
	appendErr error
	records   []domain.NotificationRecord
	days      []time.Time
}

func (s *fakeStore) TasksScheduledOn(_ context.Context, day time.Time) ([]domain.ScheduledItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days = append(s.days, day)
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.tasks, nil
}

func (s *fakeStore) AppendNotification(_ context.Context, rec domain.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	return nil
}
