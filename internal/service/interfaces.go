// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/report"
)

// CurrentSource yields the unit under inspection.
type CurrentSource interface {
	LatestUnit(ctx context.Context) (*model.Unit, error)
}

// HistoricalSource retrieves the rows the engine compares against.
type HistoricalSource interface {
	// HistoricalRows returns up to limit cleaned baseline rows for a model code, newest first.
	HistoricalRows(ctx context.Context, modelCode string, limit int) ([]model.Row, error)
	// MaterialLots resolves the material code and lot number of each material used by a unit.
	MaterialLots(ctx context.Context, processSerial string, materials []string) (map[string]model.MaterialLot, error)
	// InspectionRows returns the inspection rows recorded for a lot, newest first.
	InspectionRows(ctx context.Context, table, lot string) ([]model.Row, error)
}

// ReportWriter serializes an assembled report to some destination.
type ReportWriter interface {
	Write(ctx context.Context, r *report.Report) error
}

// RunStore persists the audit log of engine runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run, records []model.DeviationRecord) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	GetRunRecords(ctx context.Context, runID string, minSeverity model.Severity) ([]StoredRecord, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Run summarizes one pipeline execution.
type Run struct {
	StartedAt     time.Time
	ID            string
	ModelCode     string
	ProcessSerial string
	SerialNumber  string
	SourceFile    string
	Materials     []string
	RecordCount   int
	WarningCount  int
	CriticalCount int
	Duration      time.Duration
}

// RunFilter narrows run listings.
type RunFilter struct {
	Since     *time.Time
	ModelCode string
	Limit     int
}

// StoredRecord is a deviation record as kept in the audit log.
type StoredRecord struct {
	RecordedAt   time.Time
	RunID        string
	Material     string
	Column       string
	CurrentName  string
	Strategy     model.MatchStrategy
	Severity     model.Severity
	ID           int64
	Baseline     float64
	CurrentValue float64
	Deviation    float64
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions is used for database and Sheets calls.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}
