package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration is a single schema step with one script per dialect.
type migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

func (m migration) script(driver string) string {
	if driver == DriverPostgres {
		return m.Postgres
	}
	return m.SQLite
}

// Dates and times of day are stored as ISO text in both dialects so that
// scanning is identical.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: tasks, notifications",
		SQLite: `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id            TEXT NOT NULL,
			description        TEXT NOT NULL,
			priority           TEXT NOT NULL DEFAULT 'Medium',
			completion_status  TEXT NOT NULL DEFAULT 'Pending',
			scheduled_for_date TEXT,
			scheduled_for_time TEXT,
			actual_duration    INTEGER,
			created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_date ON tasks(scheduled_for_date);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			task_id    INTEGER,
			message    TEXT NOT NULL,
			delivered  BOOLEAN NOT NULL DEFAULT 0,
			sent_at    DATETIME NOT NULL
		);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id            BIGSERIAL PRIMARY KEY,
			user_id            TEXT NOT NULL,
			description        TEXT NOT NULL,
			priority           TEXT NOT NULL DEFAULT 'Medium',
			completion_status  TEXT NOT NULL DEFAULT 'Pending',
			scheduled_for_date TEXT,
			scheduled_for_time TEXT,
			actual_duration    INTEGER,
			created_at         TIMESTAMPTZ DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_date ON tasks(scheduled_for_date);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			task_id    BIGINT,
			message    TEXT NOT NULL,
			delivered  BOOLEAN NOT NULL DEFAULT false,
			sent_at    TIMESTAMPTZ NOT NULL
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: notification history index",
		SQLite:      `CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, sent_at);`,
		Postgres:    `CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, sent_at);`,
	},
}

// RunMigrations applies all pending schema migrations for driver, tracking
// applied versions in the schema_version table.
func RunMigrations(db *sql.DB, driver string, logger *slog.Logger) error {
	createVersion := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`
	if driver == DriverPostgres {
		createVersion = strings.Replace(createVersion, "DATETIME", "TIMESTAMPTZ", 1)
	}
	if _, err := db.Exec(createVersion); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	record := "INSERT INTO schema_version (version, description) VALUES (?, ?)"
	if driver == DriverPostgres {
		record = "INSERT INTO schema_version (version, description) VALUES ($1, $2)"
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.script(driver)) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
			}
		}
		if _, err := tx.Exec(record, m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// splitSQL splits a multi-statement script on semicolons.
func splitSQL(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
