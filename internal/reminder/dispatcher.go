package reminder

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"evolve/internal/domain"
	"evolve/internal/events"
	"evolve/internal/metrics"
)

// Registry is the view of the connection registry the dispatcher needs.
type Registry interface {
	Lookup(recipientID string) (domain.Conn, bool)
	// UnregisterIf removes recipientID only while conn is still its channel.
	UnregisterIf(recipientID string, conn domain.Conn) bool
	IDs() []string
}

type DispatcherConfig struct {
	Registry    Registry // nil treats every recipient as not connected
	Store       domain.NotificationStore // nil skips the audit trail
	Bus         *events.Bus
	SendTimeout time.Duration // per message, default 10s
	Logger      *slog.Logger
}

// Dispatcher delivers composed messages and records each one.
type Dispatcher struct {
	registry    Registry
	store       domain.NotificationStore
	bus         *events.Bus
	sendTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// DispatchReport summarises one Dispatch call.
type DispatchReport struct {
	Messages      int      `json:"messages"`
	Delivered     int      `json:"delivered"`
	NotConnected  int      `json:"not_connected"`
	Failed        int      `json:"failed"`
	Skipped       int      `json:"skipped"` // recipient already failed this round
	Persisted     int      `json:"persisted"`
	PersistFailed int      `json:"persist_failed"`
	Pruned        []string `json:"pruned,omitempty"`
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = noConnections{}
	}
	return &Dispatcher{
		registry:    cfg.Registry,
		store:       cfg.Store,
		bus:         cfg.Bus,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// Dispatch sends each message to its own recipient's live channel, if any,
// and appends a notification record for every message whatever the delivery
// outcome. A recipient whose send fails is not retried in this call and its
// channel is removed once all messages are processed.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []domain.ComposedMessage) DispatchReport {
	report := DispatchReport{Messages: len(msgs)}
	failed := make(map[string]domain.Conn)

	for _, msg := range msgs {
		rec := domain.NotificationRecord{
			ID:          uuid.NewString(),
			RecipientID: msg.RecipientID,
			ItemID:      msg.ItemID,
			Message:     msg.Text,
		}

		if _, down := failed[msg.RecipientID]; down {
			report.Skipped++
		} else if conn, ok := d.registry.Lookup(msg.RecipientID); !ok {
			report.NotConnected++
			d.logger.Debug("recipient not connected", "recipient", msg.RecipientID, "item", msg.ItemID)
		} else if err := d.send(ctx, conn, msg.Text); err != nil {
			report.Failed++
			failed[msg.RecipientID] = conn
			d.logger.Warn("delivery failed", "recipient", msg.RecipientID, "item", msg.ItemID, "err", err)
			d.bus.Emit(events.Event{
				Type:    events.ReminderFailed,
				Source:  "dispatcher",
				Payload: map[string]any{"recipient": msg.RecipientID, "item": msg.ItemID, "error": err.Error()},
			})
		} else {
			report.Delivered++
			rec.Delivered = true
			d.bus.Emit(events.Event{
				Type:    events.ReminderDelivered,
				Source:  "dispatcher",
				Payload: map[string]any{"recipient": msg.RecipientID, "item": msg.ItemID, "source": string(msg.Source)},
			})
		}

		if d.persist(ctx, rec) {
			report.Persisted++
		} else if d.store != nil {
			report.PersistFailed++
		}
	}

	for id, conn := range failed {
		if d.registry.UnregisterIf(id, conn) {
			report.Pruned = append(report.Pruned, id)
			d.bus.Emit(events.Event{
				Type:    events.RecipientPruned,
				Source:  "dispatcher",
				Payload: map[string]any{"recipient": id},
			})
		}
	}
	sort.Strings(report.Pruned)
	return report
}

// noConnections is the registry of a dispatcher built without one.
type noConnections struct{}

func (noConnections) Lookup(string) (domain.Conn, bool)     { return nil, false }
func (noConnections) UnregisterIf(string, domain.Conn) bool { return false }
func (noConnections) IDs() []string                         { return nil }

func (d *Dispatcher) send(ctx context.Context, conn domain.Conn, text string) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return conn.Send(ctx, text)
}

func (d *Dispatcher) persist(ctx context.Context, rec domain.NotificationRecord) bool {
	if d.store == nil {
		return false
	}
	rec.SentAt = d.now()
	if err := d.store.AppendNotification(ctx, rec); err != nil {
		metrics.PersistFailures.Inc()
		d.logger.Error("persist notification", "recipient", rec.RecipientID, "item", rec.ItemID, "err", err)
		return false
	}
	return true
}
