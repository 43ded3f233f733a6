// Package reminder scans today's tasks for ones that are about to fall due,
// turns them into reminder texts with a single generation call and pushes
// them to connected recipients.
package reminder

import (
	"time"

	"evolve/internal/domain"
)

// DueSoon returns, in input order, the items whose effective due instant lies
// in [now, now+lookahead]. Due instants are computed in now's location.
// Items without a time of day and completed items are never returned.
func DueSoon(now time.Time, items []domain.ScheduledItem, lookahead time.Duration) []domain.ScheduledItem {
	var out []domain.ScheduledItem
	for _, it := range items {
		if isDueSoon(now, it, lookahead) {
			out = append(out, it)
		}
	}
	return out
}

func isDueSoon(now time.Time, it domain.ScheduledItem, lookahead time.Duration) bool {
	if !it.Status.ReminderEligible() {
		return false
	}
	due, ok := it.DueAt(now.Location())
	if !ok {
		return false
	}
	return !due.Before(now) && !due.After(now.Add(lookahead))
}

// minutesUntil rounds down, so an item due in 19m59s reads as 19 minutes.
func minutesUntil(now time.Time, it domain.ScheduledItem) int {
	due, ok := it.DueAt(now.Location())
	if !ok || due.Before(now) {
		return 0
	}
	return int(due.Sub(now) / time.Minute)
}
