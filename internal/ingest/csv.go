// Package ingest reads the daily compiled inspection export.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/model"
)

// Columns of the compiled export.
const (
	ColumnDate          = "DATE"
	ColumnModelCode     = "MODEL CODE"
	ColumnProcessSerial = "PROCESS S/N"
	ColumnSerial        = "S/N"
	ColumnPassNG        = "PASS_NG"
)

// DefaultPattern names the daily export; the verb receives the date.
const DefaultPattern = "PICompiled%s.csv"

// ErrMissingColumn is returned when the export lacks a required column.
var ErrMissingColumn = errors.New("missing required csv column")

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"02-Jan-06",
}

// CSVConfig locates and filters the export.
type CSVConfig struct {
	Now      func() time.Time
	Path     string
	Dir      string
	Pattern  string
	Keywords []string
}

// CSVSource reads the most recent production unit from the compiled export.
type CSVSource struct {
	logger *slog.Logger
	cfg    CSVConfig
}

// NewCSVSource creates a CSV source. Missing pattern, keywords and clock get defaults.
func NewCSVSource(cfg CSVConfig, logger *slog.Logger) *CSVSource {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultCSVKeywords
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{cfg: cfg, logger: logger.With("component", "csv_source")}
}

// Resolve returns the export path: the explicit path, or today's file in Dir.
func (s *CSVSource) Resolve() (string, error) {
	if s.cfg.Path != "" {
		return s.cfg.Path, nil
	}
	if s.cfg.Dir == "" {
		return "", fmt.Errorf("%w: csv path or directory", common.ErrMissingConfig)
	}
	name := fmt.Sprintf(s.cfg.Pattern, s.cfg.Now().Format("2006-01-02"))
	return filepath.Join(s.cfg.Dir, name), nil
}

// LatestUnit returns the last production row of the export.
func (s *CSVSource) LatestUnit(ctx context.Context) (*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.Resolve()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("Failed to close csv", "path", path, "error", cerr)
		}
	}()

	unit, err := s.ReadUnit(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return unit, nil
}

// ReadUnit parses an export stream and returns its last production row.
func (s *CSVSource) ReadUnit(r io.Reader) (*model.Unit, error) {
	header, rows, err := ReadRows(r)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{ColumnModelCode, ColumnProcessSerial, ColumnSerial} {
		if !contains(header, col) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	kept := FilterRows(rows, s.cfg.Keywords)
	s.logger.Debug("Filtered csv rows", "total", len(rows), "kept", len(kept), "keywords", s.cfg.Keywords)
	if len(kept) == 0 {
		return nil, common.ErrNoCurrentData
	}

	last := kept[len(kept)-1]
	unit := &model.Unit{
		Row:           last,
		RawDate:       cell(last, ColumnDate),
		ModelCode:     strings.TrimSpace(strings.ReplaceAll(cell(last, ColumnModelCode), `"`, "")),
		ProcessSerial: cell(last, ColumnProcessSerial),
		SerialNumber:  cell(last, ColumnSerial),
		PassNG:        passNG(last),
	}
	if unit.ProcessSerial == "" {
		return nil, fmt.Errorf("%w: last row has no %s", common.ErrNoCurrentData, ColumnProcessSerial)
	}
	if d, ok := ParseDate(unit.RawDate); ok {
		unit.Date = d
	}
	return unit, nil
}

// ReadRows reads a CSV stream into rows keyed by normalized header names.
func ReadRows(r io.Reader) ([]string, []model.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, common.ErrNoCurrentData
		}
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = NormalizeHeader(h)
	}

	var rows []model.Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Warn("Skipping malformed csv line", "line", line, "error", err)
			continue
		}
		row := make(model.Row, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// NormalizeHeader upper-cases a header, drops a byte order mark and collapses spaces.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToUpper(strings.Join(strings.Fields(h), " "))
}

// ParseDate parses the date formats seen in exports.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cell(row model.Row, name string) string {
	if s, ok := text(row[name]); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// passNG reads the verdict column, which some exports spell PASS/NG.
func passNG(row model.Row) string {
	if v := cell(row, ColumnPassNG); v != "" {
		return v
	}
	return cell(row, "PASS/NG")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
