package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/Veraticus/deviation-watch/internal/model"
)

const maxSheetName = 31

// ExcelWriter writes a report as an xlsx workbook.
type ExcelWriter struct {
	logger *slog.Logger
	path   string
}

// NewExcelWriter creates a writer targeting path.
func NewExcelWriter(path string, logger *slog.Logger) *ExcelWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExcelWriter{path: path, logger: logger.With("component", "excel_writer")}
}

// Path returns the workbook location.
func (w *ExcelWriter) Path() string {
	return w.path
}

// Write renders every report table into its own sheet and saves the workbook.
func (w *ExcelWriter) Write(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			w.logger.Warn("Failed to close workbook", "error", err)
		}
	}()

	styles, err := newSheetStyles(f)
	if err != nil {
		return err
	}

	used := make(map[string]struct{})
	for i, t := range r.Tables() {
		name := uniqueSheetName(t.Name, used)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		if err := writeTable(f, name, t, styles); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", name, err)
		}
	}

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", w.path, err)
	}

	w.logger.Info("Wrote excel report", "path", w.path, "records", r.Summary.Records)
	return nil
}

type sheetStyles struct {
	header   int
	warning  int
	critical int
}

func newSheetStyles(f *excelize.File) (sheetStyles, error) {
	var s sheetStyles
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return s, fmt.Errorf("failed to create header style: %w", err)
	}
	s.warning, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFF2CC"}},
	})
	if err != nil {
		return s, fmt.Errorf("failed to create warning style: %w", err)
	}
	s.critical, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#9C0006"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#FFC7CE"}},
	})
	if err != nil {
		return s, fmt.Errorf("failed to create critical style: %w", err)
	}
	return s, nil
}

func writeTable(f *excelize.File, sheet string, t Table, styles sheetStyles) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	width := len(t.Header)
	for i, row := range t.Rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil
	}

	lastCol, err := excelize.ColumnNumberToName(width)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", styles.header); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return err
	}

	for i, sev := range t.Severity {
		style := 0
		switch sev {
		case model.SeverityCritical:
			style = styles.critical
		case model.SeverityWarning:
			style = styles.warning
		}
		if style == 0 {
			continue
		}
		row := i + 2
		if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), style); err != nil {
			return err
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// uniqueSheetName applies the workbook naming rules and avoids collisions.
// Names keep their casing; collisions are checked case-insensitively and
// lengths are counted in characters.
func uniqueSheetName(name string, used map[string]struct{}) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "Sheet"
	}
	clean = truncateRunes(clean, maxSheetName)

	candidate := clean
	for n := 2; ; n++ {
		if _, taken := used[strings.ToLower(candidate)]; !taken {
			break
		}
		suffix := fmt.Sprintf(" (%d)", n)
		candidate = truncateRunes(clean, maxSheetName-utf8.RuneCountInString(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = struct{}{}
	return candidate
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
