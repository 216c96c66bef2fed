package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

// SaveRun stores a run and its records atomically.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *service.Run, records []model.DeviationRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = ?)`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: run %s", common.ErrDuplicateEntry, run.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, model_code, process_serial, serial_number, source_file,
			materials, record_count, warning_count, critical_count, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.ModelCode, run.ProcessSerial, run.SerialNumber, run.SourceFile,
		strings.Join(run.Materials, ","), run.RecordCount, run.WarningCount, run.CriticalCount,
		run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deviation_records (run_id, material, column_name, current_name, strategy,
			severity, severity_rank, baseline, current_value, deviation, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	recordedAt := run.StartedAt.UTC()
	for _, rec := range records {
		_, err := stmt.ExecContext(ctx, run.ID, rec.Key.Material, rec.Column(), rec.Current.Raw.Name,
			string(rec.Strategy), string(rec.Severity), rec.Severity.Rank(),
			rec.Baseline.Mean, rec.Current.Value, rec.Deviation, recordedAt)
		if err != nil {
			return fmt.Errorf("failed to save record %s: %w", rec.Column(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug("Saved run", "run_id", run.ID, "records", len(records))
	return nil
}

const runColumns = `id, started_at, model_code, process_serial, serial_number, source_file,
	materials, record_count, warning_count, critical_count, duration_ms`

// ListRuns returns runs newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter service.RunFilter) ([]service.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.ModelCode != "" {
		where = append(where, "model_code = ?")
		args = append(args, filter.ModelCode)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []service.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun loads one run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*service.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getRun(ctx, s.db, id)
}

func (s *SQLiteStorage) getRun(ctx context.Context, q queryable, id string) (*service.Run, error) {
	run, err := scanRun(q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	return run, err
}

// GetRunRecords returns the records of a run at or above minSeverity.
// An empty minSeverity returns every record.
func (s *SQLiteStorage) GetRunRecords(ctx context.Context, runID string, minSeverity model.Severity) ([]service.StoredRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}
	if minSeverity != "" && !minSeverity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidRecord, minSeverity)
	}

	if _, err := s.getRun(ctx, s.db, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, material, column_name, current_name, strategy, severity,
			baseline, current_value, deviation, recorded_at
		FROM deviation_records
		WHERE run_id = ? AND severity_rank >= ?
		ORDER BY id
	`, runID, minSeverity.Rank())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []service.StoredRecord
	for rows.Next() {
		var (
			rec      service.StoredRecord
			strategy string
			severity string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Material, &rec.Column, &rec.CurrentName,
			&strategy, &severity, &rec.Baseline, &rec.CurrentValue, &rec.Deviation, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Strategy = model.MatchStrategy(strategy)
		rec.Severity = model.Severity(severity)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*service.Run, error) {
	var (
		run        service.Run
		materials  string
		durationMS int64
	)
	err := row.Scan(&run.ID, &run.StartedAt, &run.ModelCode, &run.ProcessSerial, &run.SerialNumber,
		&run.SourceFile, &materials, &run.RecordCount, &run.WarningCount, &run.CriticalCount, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if materials != "" {
		run.Materials = strings.Split(materials, ",")
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
