package domain

import (
	"context"
	"time"
)

// MessageSource tells whether a reminder text came from the generator or
// from the deterministic fallback.
type MessageSource string

const (
	SourceGenerated MessageSource = "generated"
	SourceFallback  MessageSource = "fallback"
	SourceManual    MessageSource = "manual"
)

// ComposedMessage is one reminder ready for delivery. ItemID is zero for
// ad hoc notifications that are not tied to a task.
type ComposedMessage struct {
	ItemID      int64
	RecipientID string
	Text        string
	Source      MessageSource
}

// NotificationRecord is the audit entry written for every dispatched message.
type NotificationRecord struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"user_id"`
	ItemID      int64     `json:"task_id,omitempty"`
	Message     string    `json:"message"`
	Delivered   bool      `json:"delivered"`
	SentAt      time.Time `json:"sent_at"`
}

// NotificationStore appends audit records. Records are never updated.
type NotificationStore interface {
	AppendNotification(ctx context.Context, rec NotificationRecord) error
}

// Conn is a live channel able to push text to a single recipient.
type Conn interface {
	Send(ctx context.Context, text string) error
}
