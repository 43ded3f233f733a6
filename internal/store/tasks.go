package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"evolve/internal/domain"
)

const dateLayout = "2006-01-02"

var taskColumns = []string{
	"task_id", "user_id", "description", "priority", "completion_status",
	"scheduled_for_date", "scheduled_for_time", "actual_duration",
}

// TasksScheduledOn returns every task for every user whose scheduled date is
// day's civil date, ordered by time of day.
func (s *Store) TasksScheduledOn(ctx context.Context, day time.Time) ([]domain.ScheduledItem, error) {
	query, args, err := s.sb.Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"scheduled_for_date": day.Format(dateLayout)}).
		OrderBy("scheduled_for_time", "task_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build task query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var items []domain.ScheduledItem
	for rows.Next() {
		it, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateTask inserts a task and returns its ID.
func (s *Store) CreateTask(ctx context.Context, it domain.ScheduledItem) (int64, error) {
	if it.RecipientID == "" || it.Description == "" {
		return 0, fmt.Errorf("create task: user and description are required")
	}
	if it.Priority == "" {
		it.Priority = domain.PriorityMedium
	}
	if it.Status == "" {
		it.Status = domain.StatusPending
	}

	var date, clock sql.NullString
	if it.ScheduledDate != nil {
		date = sql.NullString{String: it.ScheduledDate.Format(dateLayout), Valid: true}
	}
	if it.ScheduledTime != nil {
		clock = sql.NullString{String: it.ScheduledTime.Clock(), Valid: true}
	}
	var duration sql.NullInt64
	if it.ActualMinutes > 0 {
		duration = sql.NullInt64{Int64: int64(it.ActualMinutes), Valid: true}
	}

	query, args, err := s.sb.Insert("tasks").
		Columns("user_id", "description", "priority", "completion_status",
			"scheduled_for_date", "scheduled_for_time", "actual_duration").
		Values(it.RecipientID, it.Description, string(it.Priority), string(it.Status), date, clock, duration).
		Suffix("RETURNING task_id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// SetTaskStatus updates a task's completion status.
func (s *Store) SetTaskStatus(ctx context.Context, id int64, status domain.Status) error {
	query, args, err := s.sb.Update("tasks").
		Set("completion_status", string(status)).
		Where(sq.Eq{"task_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}

func scanTask(rows *sql.Rows) (domain.ScheduledItem, error) {
	var (
		it               domain.ScheduledItem
		priority, status string
		date, clock      sql.NullString
		duration         sql.NullInt64
	)
	if err := rows.Scan(&it.ID, &it.RecipientID, &it.Description, &priority, &status, &date, &clock, &duration); err != nil {
		return it, fmt.Errorf("scan task: %w", err)
	}
	it.Priority = domain.Priority(priority)
	it.Status = domain.Status(status)
	if date.Valid {
		d, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return it, fmt.Errorf("task %d: bad date %q: %w", it.ID, date.String, err)
		}
		it.ScheduledDate = &d
	}
	if clock.Valid && clock.String != "" {
		tod, err := domain.ParseTimeOfDay(clock.String)
		if err != nil {
			return it, fmt.Errorf("task %d: %w", it.ID, err)
		}
		it.ScheduledTime = &tod
	}
	if duration.Valid {
		it.ActualMinutes = int(duration.Int64)
	}
	return it, nil
}
