package channel

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"evolve/internal/domain"
	"evolve/internal/events"
)

// ErrNotConnected is returned when writing to a channel that has gone away.
var ErrNotConnected = errors.New("recipient not connected")

// Registry maps recipient IDs to their live channel. At most one channel is
// kept per recipient; the most recent connection wins.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]domain.Conn
	bus    *events.Bus
	logger *slog.Logger
}

// RegistryStatus is the read-only view served on the status endpoint.
type RegistryStatus struct {
	ConnectedUsers int      `json:"connected_users"`
	Status         string   `json:"status"`
	ActiveUserIDs  []string `json:"active_user_ids"`
}

func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]domain.Conn),
		bus:    bus,
		logger: logger,
	}
}

// Register stores conn for recipientID and returns the channel it replaced,
// if any. The replaced channel is not closed.
func (r *Registry) Register(recipientID string, conn domain.Conn, source string) domain.Conn {
	r.mu.Lock()
	prev := r.conns[recipientID]
	r.conns[recipientID] = conn
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("recipient connected", "recipient", recipientID, "source", source, "replaced", prev != nil)
	r.emit(events.RecipientConnected, recipientID, source, n)
	return prev
}

// Unregister removes recipientID. Removing an absent recipient is a no-op.
func (r *Registry) Unregister(recipientID string) bool {
	r.mu.Lock()
	_, ok := r.conns[recipientID]
	delete(r.conns, recipientID)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Info("recipient disconnected", "recipient", recipientID)
		r.emit(events.RecipientDisconnected, recipientID, "", n)
	}
	return ok
}

// UnregisterIf removes recipientID only while conn is still its registered
// channel, so a newer connection is never dropped by a stale owner.
func (r *Registry) UnregisterIf(recipientID string, conn domain.Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[recipientID]
	if !ok || cur != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, recipientID)
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("recipient disconnected", "recipient", recipientID)
	r.emit(events.RecipientDisconnected, recipientID, "", n)
	return true
}

func (r *Registry) Lookup(recipientID string) (domain.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[recipientID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the connected recipient IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Status() RegistryStatus {
	ids := r.IDs()
	return RegistryStatus{
		ConnectedUsers: len(ids),
		Status:         "active",
		ActiveUserIDs:  ids,
	}
}

func (r *Registry) emit(kind, recipientID, source string, connected int) {
	r.bus.Emit(events.Event{
		Type:   kind,
		Source: "registry",
		Payload: map[string]any{
			"recipient": recipientID,
			"channel":   source,
			"connected": connected,
		},
	})
}
