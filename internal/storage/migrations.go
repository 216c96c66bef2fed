package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 2

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial run audit schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					model_code TEXT NOT NULL DEFAULT '',
					process_serial TEXT NOT NULL DEFAULT '',
					serial_number TEXT NOT NULL DEFAULT '',
					source_file TEXT NOT NULL DEFAULT '',
					materials TEXT NOT NULL DEFAULT '',
					record_count INTEGER NOT NULL DEFAULT 0,
					warning_count INTEGER NOT NULL DEFAULT 0,
					critical_count INTEGER NOT NULL DEFAULT 0,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS deviation_records (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					material TEXT NOT NULL,
					column_name TEXT NOT NULL,
					current_name TEXT NOT NULL DEFAULT '',
					strategy TEXT NOT NULL,
					severity TEXT NOT NULL,
					baseline REAL NOT NULL,
					current_value REAL NOT NULL,
					deviation REAL NOT NULL,
					recorded_at DATETIME NOT NULL,
					FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX IF NOT EXISTS idx_deviation_records_run ON deviation_records(run_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Index runs by model and severity ranking for history queries",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_runs_model_started ON runs(model_code, started_at)`,
				`ALTER TABLE deviation_records ADD COLUMN severity_rank INTEGER NOT NULL DEFAULT 0`,
				`UPDATE deviation_records SET severity_rank = CASE severity
					WHEN 'Critical' THEN 2
					WHEN 'Warning' THEN 1
					ELSE 0 END`,
				`CREATE INDEX IF NOT EXISTS idx_deviation_records_rank ON deviation_records(run_id, severity_rank)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SchemaVersion reports the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", checkCorrupt(err))
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		s.logger.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}
	return nil
}
