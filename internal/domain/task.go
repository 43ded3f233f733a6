package domain

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusDiscarded  Status = "Discarded"
)

// ReminderEligible reports whether a task in this state may still be reminded about.
func (s Status) ReminderEligible() bool {
	return s != StatusCompleted
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// TimeOfDay is a wall-clock time without a date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Clock renders the full "15:04:05" form used for storage.
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ScheduledItem is a task as seen by the reminder subsystem. It is read-only
// for the duration of a scan.
type ScheduledItem struct {
	ID          int64
	RecipientID string
	Description string
	Priority    Priority
	Status      Status

	// ScheduledDate carries only a civil date; its clock and zone are ignored.
	ScheduledDate *time.Time
	ScheduledTime *TimeOfDay

	// ActualMinutes is the duration already spent on the task. A non-zero
	// value postpones the reminder by that much.
	ActualMinutes int
}

// DueAt returns the effective due instant in loc. It reports false when the
// item has no date or no time of day.
func (it ScheduledItem) DueAt(loc *time.Location) (time.Time, bool) {
	if it.ScheduledDate == nil || it.ScheduledTime == nil {
		return time.Time{}, false
	}
	d, tod := *it.ScheduledDate, *it.ScheduledTime
	due := time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, tod.Second, 0, loc)
	if it.ActualMinutes > 0 {
		due = due.Add(time.Duration(it.ActualMinutes) * time.Minute)
	}
	return due, true
}

// TaskStore is the read side of task persistence consumed by the reminder scan.
type TaskStore interface {
	// TasksScheduledOn returns every task, for all recipients, whose
	// scheduled date equals the civil date of day.
	TasksScheduledOn(ctx context.Context, day time.Time) ([]ScheduledItem, error)
}
