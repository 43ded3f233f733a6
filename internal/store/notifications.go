package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"evolve/internal/domain"
)

// AppendNotification writes an audit record. Missing IDs and timestamps are
// filled in.
func (s *Store) AppendNotification(ctx context.Context, rec domain.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	var taskID sql.NullInt64
	if rec.ItemID != 0 {
		taskID = sql.NullInt64{Int64: rec.ItemID, Valid: true}
	}

	query, args, err := s.sb.Insert("notifications").
		Columns("id", "user_id", "task_id", "message", "delivered", "sent_at").
		Values(rec.ID, rec.RecipientID, taskID, rec.Message, rec.Delivered, rec.SentAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the most recent records for recipientID, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query, args, err := s.sb.Select("id", "user_id", "task_id", "message", "delivered", "sent_at").
		From("notifications").
		Where(sq.Eq{"user_id": recipientID}).
		OrderBy("sent_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var recs []domain.NotificationRecord
	for rows.Next() {
		var (
			r      domain.NotificationRecord
			taskID sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.RecipientID, &taskID, &r.Message, &r.Delivered, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		r.ItemID = taskID.Int64
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
