// Package source reads historical and lot data from the production database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/ingest"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

// Config controls how the store queries the production database.
type Config struct {
	DSN             string
	HistoryTable    string
	OrderColumn     string
	LotColumn       string
	Keywords        []string
	QueryTimeout    time.Duration
	QueryMultiplier int
	MinQueryRows    int
	ProcessTables   int
	Retry           service.RetryOptions
}

// DefaultConfig returns the production query settings.
func DefaultConfig() Config {
	return Config{
		HistoryTable:    "database_data",
		LotColumn:       "Lot_Number",
		Keywords:        ingest.DefaultHistoricalKeywords,
		QueryTimeout:    30 * time.Second,
		QueryMultiplier: 2,
		MinQueryRows:    500,
		ProcessTables:   6,
		Retry:           service.DefaultRetryOptions(),
	}
}

// Store implements service.HistoricalSource over gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	cfg    Config
}

// Open connects to MySQL with the configured DSN.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database dsn", common.ErrMissingConfig)
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabaseConnection, err)
	}
	return newStore(db, cfg, logger), nil
}

// OpenWithConn wraps an existing connection pool, speaking the MySQL dialect.
func OpenWithConn(conn *sql.DB, cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}
	return newStore(db, cfg, logger), nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

func newStore(db *gorm.DB, cfg Config, logger *slog.Logger) *Store {
	defaults := DefaultConfig()
	if cfg.HistoryTable == "" {
		cfg.HistoryTable = defaults.HistoryTable
	}
	if cfg.LotColumn == "" {
		cfg.LotColumn = defaults.LotColumn
	}
	if cfg.Keywords == nil {
		cfg.Keywords = defaults.Keywords
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.QueryMultiplier <= 0 {
		cfg.QueryMultiplier = defaults.QueryMultiplier
	}
	if cfg.MinQueryRows <= 0 {
		cfg.MinQueryRows = defaults.MinQueryRows
	}
	if cfg.ProcessTables <= 0 {
		cfg.ProcessTables = defaults.ProcessTables
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, cfg: cfg, logger: logger.With("component", "source")}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", common.ErrDatabaseConnection, err)
	}
	return nil
}

// HistoricalRows returns up to limit cleaned rows for a model code, newest first.
func (s *Store) HistoricalRows(ctx context.Context, modelCode string, limit int) ([]model.Row, error) {
	if limit <= 0 {
		limit = 100
	}
	fetch := limit * s.cfg.QueryMultiplier
	if fetch < s.cfg.MinQueryRows {
		fetch = s.cfg.MinQueryRows
	}

	var rows []map[string]any
	err := s.query(ctx, func(db *gorm.DB) error {
		q := db.Table(s.cfg.HistoryTable).
			Where(clause.Eq{Column: clause.Column{Name: "Model_Code"}, Value: modelCode})
		if s.cfg.OrderColumn != "" {
			q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: s.cfg.OrderColumn}, Desc: true})
		}
		return q.Limit(fetch).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for model %s: %w", s.cfg.HistoryTable, modelCode, err)
	}

	out := ingest.FilterRows(toRows(rows), s.cfg.Keywords)
	cleaned, dropped := ingest.DropTaintedColumns(out, s.cfg.Keywords)
	if len(dropped) > 0 {
		s.logger.Info("Dropped tainted historical columns", "columns", dropped)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: model %s", common.ErrNoHistoricalData, modelCode)
	}
	if len(cleaned) < limit {
		s.logger.Warn("Fewer historical rows than requested after cleaning",
			"model_code", modelCode, "rows", len(cleaned), "requested", limit)
	}
	s.logger.Debug("Loaded historical rows", "model_code", modelCode, "fetched", len(rows), "kept", len(cleaned))
	return cleaned, nil
}

// MaterialLots finds the material code and lot number each material was
// built from, walking the process tables in order.
func (s *Store) MaterialLots(ctx context.Context, processSerial string, materials []string) (map[string]model.MaterialLot, error) {
	lots := make(map[string]model.MaterialLot, len(materials))

	for n := 1; n <= s.cfg.ProcessTables && len(lots) < len(materials); n++ {
		table := fmt.Sprintf("process%d_data", n)
		serialColumn := fmt.Sprintf("Process_%d_S_N", n)

		var rows []map[string]any
		err := s.query(ctx, func(db *gorm.DB) error {
			return db.Table(table).
				Where(clause.Eq{Column: clause.Column{Name: serialColumn}, Value: processSerial}).
				Limit(1).
				Find(&rows).Error
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("Skipping process table", "table", table, "error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		row := model.Row(rows[0])
		for _, material := range materials {
			if _, done := lots[material]; done {
				continue
			}
			prefix := fmt.Sprintf("Process_%d_%s", n, material)
			code := cellString(row, prefix)
			lot := cellString(row, prefix+"_Lot_No")
			if lot == "" {
				continue
			}
			lots[material] = model.MaterialLot{
				Material:      material,
				MaterialCode:  code,
				LotNumber:     lot,
				ProcessNumber: n,
			}
			s.logger.Debug("Resolved material lot", "material", material, "table", table, "lot", lot, "code", code)
		}
	}

	if len(lots) == 0 {
		return nil, fmt.Errorf("%w: no material lots for process serial %s", common.ErrNotFound, processSerial)
	}
	return lots, nil
}

// InspectionRows returns the inspection rows of a lot, newest first, without id columns.
func (s *Store) InspectionRows(ctx context.Context, table, lot string) ([]model.Row, error) {
	var rows []map[string]any
	err := s.query(ctx, func(db *gorm.DB) error {
		return db.Table(table).
			Where(clause.Eq{Column: clause.Column{Name: s.cfg.LotColumn}, Value: lot}).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for lot %s: %w", table, lot, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: lot %s in %s", common.ErrNotFound, lot, table)
	}

	out := toRows(rows)
	for _, row := range out {
		for name := range row {
			if isIDColumn(name) {
				delete(row, name)
			}
		}
	}
	SortNewestFirst(out)
	return out, nil
}

// query runs fn with the query timeout, retrying transient failures.
func (s *Store) query(ctx context.Context, fn func(db *gorm.DB) error) error {
	return common.WithRetry(ctx, func() error {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
		err := fn(s.db.WithContext(qctx))
		if err == nil {
			return nil
		}
		if common.IsRetryable(err) {
			return err
		}
		return common.Permanent(err)
	}, s.cfg.Retry)
}

// SortNewestFirst orders rows by their first date-like column, newest first.
// Rows without a readable date keep their relative order at the end.
func SortNewestFirst(rows []model.Row) {
	column := dateColumn(rows)
	if column == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, okI := asTime(rows[i][column])
		tj, okJ := asTime(rows[j][column])
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		default:
			return false
		}
	})
}

func dateColumn(rows []model.Row) string {
	names := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			names[name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	for _, name := range sorted {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "date") || strings.Contains(lower, "timestamp") {
			return name
		}
	}
	return ""
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		return ingest.ParseDate(x)
	case []byte:
		return ingest.ParseDate(string(x))
	}
	return time.Time{}, false
}

func isIDColumn(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return lower == "id" || strings.HasSuffix(lower, "_id")
}

func cellString(row model.Row, name string) string {
	for k, v := range row {
		if !strings.EqualFold(k, name) {
			continue
		}
		switch x := v.(type) {
		case string:
			return strings.TrimSpace(x)
		case []byte:
			return strings.TrimSpace(string(x))
		case nil:
			return ""
		default:
			return strings.TrimSpace(fmt.Sprint(x))
		}
	}
	return ""
}

func toRows(in []map[string]any) []model.Row {
	out := make([]model.Row, 0, len(in))
	for _, r := range in {
		out = append(out, model.Row(r))
	}
	return out
}

// MaterialTable returns the inspection table of a material from the catalog.
func MaterialTable(catalog config.Catalog, material string) (string, error) {
	m, ok := catalog.Lookup(material)
	if !ok {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownMaterial, material)
	}
	return m.InspectionTable, nil
}
