package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(MemoryPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store
}

func testRecord(material, inspection string, sev model.Severity, dev float64) model.DeviationRecord {
	key := model.MeasurementKey{
		ProcessNumber:    model.IntPtr(1),
		Material:         material,
		InspectionNumber: inspection,
		Kind:             model.KindResistance,
		Statistic:        model.StatAverage,
	}
	return model.DeviationRecord{
		Key:       key,
		Severity:  sev,
		Strategy:  model.StrategyDirectTypeMapping,
		Baseline:  model.Baseline{Key: key, Mean: 0.92},
		Current:   model.CurrentMeasurement{Raw: model.RawColumn{Name: "Inspection_" + inspection + "_Resistance_Average"}, Value: 0.92 * (1 - dev)},
		Deviation: dev,
	}
}

func testRun(id string, started time.Time) *service.Run {
	return &service.Run{
		ID:            id,
		StartedAt:     started,
		ModelCode:     "MC-100",
		ProcessSerial: "PSN-7",
		SerialNumber:  "SN-7",
		SourceFile:    "PICompiled2025-07-11.csv",
		Materials:     []string{"Em2p", "Frame"},
		RecordCount:   3,
		WarningCount:  1,
		CriticalCount: 1,
		Duration:      1500 * time.Millisecond,
	}
}

func TestNewSQLiteStorage_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if store.Path() != path {
		t.Errorf("Path() = %q, want %q", store.Path(), path)
	}
}

func TestNewSQLiteStorage_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	garbage := []byte("Run,Model,Serial\n" + string(make([]byte, 4096)))
	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store, err := NewSQLiteStorage(path)
	if err == nil {
		defer func() { _ = store.Close() }()
		err = store.Migrate(context.Background())
	}
	if !errors.Is(err, common.ErrDatabaseCorrupted) {
		t.Errorf("expected ErrDatabaseCorrupted, got %v", err)
	}
}

func TestNewSQLiteStorage_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStorage("  "); !errors.Is(err, ErrEmptyString) {
		t.Errorf("expected ErrEmptyString, got %v", err)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	started := time.Date(2025, 7, 11, 8, 30, 0, 0, time.UTC)

	records := []model.DeviationRecord{
		testRecord("Em2p", "3", model.SeverityNormal, 0.0055),
		testRecord("Em2p", "4", model.SeverityWarning, 0.04),
		testRecord("Frame", "4", model.SeverityCritical, -0.08),
	}
	if err := store.SaveRun(ctx, testRun("run-1", started), records); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}
	if run.ModelCode != "MC-100" || run.SerialNumber != "SN-7" {
		t.Errorf("unexpected run identity: %+v", run)
	}
	if len(run.Materials) != 2 || run.Materials[1] != "Frame" {
		t.Errorf("Materials = %v", run.Materials)
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", run.Duration)
	}

	all, err := store.GetRunRecords(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("GetRunRecords() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	first := all[0]
	if first.Column != "Process_1_Em2p_Inspection_3_Average_Data" {
		t.Errorf("Column = %q", first.Column)
	}
	if first.CurrentName != "Inspection_3_Resistance_Average" {
		t.Errorf("CurrentName = %q", first.CurrentName)
	}
	if first.Strategy != model.StrategyDirectTypeMapping || first.Severity != model.SeverityNormal {
		t.Errorf("unexpected strategy/severity: %s/%s", first.Strategy, first.Severity)
	}
	if first.Baseline != 0.92 || first.Deviation != 0.0055 {
		t.Errorf("unexpected values: baseline=%v deviation=%v", first.Baseline, first.Deviation)
	}

	flagged, err := store.GetRunRecords(ctx, "run-1", model.SeverityWarning)
	if err != nil {
		t.Fatalf("GetRunRecords(Warning) error = %v", err)
	}
	if len(flagged) != 2 {
		t.Errorf("got %d flagged records, want 2", len(flagged))
	}

	critical, err := store.GetRunRecords(ctx, "run-1", model.SeverityCritical)
	if err != nil {
		t.Fatalf("GetRunRecords(Critical) error = %v", err)
	}
	if len(critical) != 1 || critical[0].Material != "Frame" {
		t.Errorf("unexpected critical records: %+v", critical)
	}
}

func TestSaveRun_Duplicate(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	run := testRun("run-dup", time.Now())

	if err := store.SaveRun(ctx, run, nil); err != nil {
		t.Fatalf("first SaveRun() error = %v", err)
	}
	if err := store.SaveRun(ctx, run, nil); !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestSaveRun_InvalidRecordRollsBack(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	bad := testRecord("Em2p", "3", model.Severity("Severe"), 0.1)
	err := store.SaveRun(ctx, testRun("run-bad", time.Now()), []model.DeviationRecord{bad})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := store.GetRun(ctx, "run-bad"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("run should not exist, got %v", err)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetRunRecords(ctx, "missing", ""); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for records, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := testRun(id, base.Add(time.Duration(i)*24*time.Hour))
		if id == "b" {
			run.ModelCode = "MC-200"
		}
		if err := store.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		name   string
		filter service.RunFilter
		want   []string
	}{
		{name: "all newest first", want: []string{"c", "b", "a"}},
		{name: "limit", filter: service.RunFilter{Limit: 2}, want: []string{"c", "b"}},
		{name: "model", filter: service.RunFilter{ModelCode: "MC-100"}, want: []string{"c", "a"}},
		{name: "since", filter: service.RunFilter{Since: func() *time.Time { t := base.Add(24 * time.Hour); return &t }()}, want: []string{"c", "b"}},
		{name: "no match", filter: service.RunFilter{ModelCode: "nope"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			var got []string
			for _, r := range runs {
				got = append(got, r.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
