package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"evolve/internal/domain"
	"evolve/internal/events"
	"evolve/internal/metrics"
	"evolve/internal/scheduler"
)

// DefaultJobID is the scheduler ID of the reminder scan.
const DefaultJobID = "task_reminders"

type Config struct {
	Tasks      domain.TaskStore
	Composer   *Composer
	Dispatcher *Dispatcher
	Location   *time.Location
	Lookahead  time.Duration // default 30m
	Interval   time.Duration // default 10m
	JobID      string
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Service runs reminder cycles: load today's tasks, pick the due-soon ones,
// compose reminders and dispatch them.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// CycleReport describes one RunCycle.
type CycleReport struct {
	At        time.Time      `json:"at"`
	Scanned   int            `json:"scanned"`
	DueSoon   int            `json:"due_soon"`
	Generated int            `json:"generated"`
	Fallback  int            `json:"fallback"`
	Dispatch  DispatchReport `json:"dispatch"`
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("reminder service: task store is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("reminder service: dispatcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Composer == nil {
		cfg.Composer = NewComposer(ComposerConfig{Logger: cfg.Logger})
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.JobID == "" {
		cfg.JobID = DefaultJobID
	}
	return &Service{cfg: cfg, logger: cfg.Logger}, nil
}

// RunCycle performs one scan at now. With nothing due soon it returns before
// any generation call or notification write.
func (s *Service) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	now = now.In(s.cfg.Location)
	report := CycleReport{At: now}
	metrics.ReminderCycles.Inc()

	today, err := s.cfg.Tasks.TasksScheduledOn(ctx, now)
	if err != nil {
		return report, fmt.Errorf("load tasks for %s: %w", now.Format("2006-01-02"), err)
	}
	report.Scanned = len(today)

	due := DueSoon(now, today, s.cfg.Lookahead)
	report.DueSoon = len(due)
	if len(due) == 0 {
		s.logger.Debug("no reminders due", "scanned", len(today), "at", now.Format("15:04"))
		return report, nil
	}
	metrics.ReminderDueItems.Add(int64(len(due)))

	msgs := s.cfg.Composer.Compose(ctx, now, due, today)
	for _, m := range msgs {
		if m.Source == domain.SourceGenerated {
			report.Generated++
		} else {
			report.Fallback++
		}
	}

	report.Dispatch = s.cfg.Dispatcher.Dispatch(ctx, msgs)

	s.logger.Info("reminder cycle complete",
		"due", report.DueSoon,
		"generated", report.Generated,
		"fallback", report.Fallback,
		"delivered", report.Dispatch.Delivered,
		"failed", report.Dispatch.Failed,
	)
	s.cfg.Bus.Emit(events.Event{
		Type:   events.ReminderCycle,
		Source: "reminder",
		Payload: map[string]any{
			"due":       report.DueSoon,
			"delivered": report.Dispatch.Delivered,
			"fallback":  report.Fallback,
		},
	})
	return report, nil
}

// Job adapts the service to the scheduler. Registering it twice replaces the
// earlier registration.
func (s *Service) Job() scheduler.Job {
	return scheduler.Job{
		ID:       s.cfg.JobID,
		Interval: s.cfg.Interval,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := s.RunCycle(ctx, now)
			return err
		},
	}
}

// Notify sends an ad hoc message to recipientID, or to every connected
// recipient when recipientID is empty. Messages are recorded like reminders.
func (s *Service) Notify(ctx context.Context, recipientID, text string) (DispatchReport, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DispatchReport{}, errors.New("notify: empty message")
	}

	recipients := []string{recipientID}
	if recipientID == "" {
		recipients = s.cfg.Dispatcher.registry.IDs()
	}

	msgs := make([]domain.ComposedMessage, 0, len(recipients))
	for _, id := range recipients {
		msgs = append(msgs, domain.ComposedMessage{RecipientID: id, Text: text, Source: domain.SourceManual})
	}
	return s.cfg.Dispatcher.Dispatch(ctx, msgs), nil
}
