package events

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is an internal notification about connection or delivery activity.
type Event struct {
	Type      string         // e.g. "recipient.connected", "reminder.delivered"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

type Handler func(Event)

// Bus is a topic based publish/subscribe bus with a bounded replay history.
// A nil *Bus is valid and drops every event.
type Bus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	nextID     int
}

type namedHandler struct {
	ID      string
	Handler Handler
}

// New creates a Bus keeping the last maxHistory events (default 500).
func New(maxHistory int, logger *slog.Logger) *Bus {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// On registers a handler for eventType ("*" matches everything) and returns
// an ID usable with Off.
func (b *Bus) On(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := eventType + "-" + strconv.Itoa(b.nextID)
	b.handlers[eventType] = append(b.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (b *Bus) Off(eventType, handlerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			b.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers synchronously.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Emit(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if len(b.history) >= b.maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, event)

	var handlers []namedHandler
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns events of eventType ("*" for all) emitted at or after since.
func (b *Bus) Replay(eventType string, since time.Time) []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

const (
	RecipientConnected    = "recipient.connected"
	RecipientDisconnected = "recipient.disconnected"
	RecipientPruned       = "recipient.pruned"
	ReminderDelivered     = "reminder.delivered"
	ReminderFailed        = "reminder.failed"
	ReminderCycle         = "reminder.cycle"
)
