package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/deviation-watch/internal/model"
)

// Sheet names shared by every writer.
const (
	SheetSummary   = "Summary"
	SheetCritical  = "Critical Deviations"
	SheetUnmatched = "Unmatched Columns"
)

// Table is a titled grid of cells, the unit every writer serializes.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
	// Severity of each row, parallel to Rows; empty for tables without records.
	Severity []model.Severity
}

// RecordHeader lists the columns of record tables.
var RecordHeader = []string{
	"Column", "Material", "Process", "Inspection", "Kind", "Statistic",
	"Database Average", "Samples", "Valid Fraction", "Database Min", "Database Max", "Std Dev",
	"Matched Inspection Column", "Inspection Value", "Deviation", "Severity", "Strategy", "S/N",
}

// Tables renders the report as the ordered list of sheets writers emit.
func (r *Report) Tables() []Table {
	tables := []Table{r.summaryTable()}
	tables = append(tables, r.recordTable(SheetCritical, r.Critical))
	for _, s := range r.Materials {
		tables = append(tables, r.recordTable(s.Material, s.Records))
	}
	return append(tables, r.unmatchedTable())
}

func (r *Report) summaryTable() Table {
	m := r.Meta
	rows := [][]any{
		{"Run ID", m.RunID},
		{"Generated At", m.GeneratedAt.Format(time.RFC3339)},
		{"Model Code", m.ModelCode},
		{"Process S/N", m.ProcessSerial},
		{"S/N", m.SerialNumber},
		{"PASS/NG", m.PassNG},
		{"Unit Date", formatDate(m.UnitDate)},
		{"Source File", m.SourceFile},
		{"Materials", r.Summary.Materials},
		{"Records", r.Summary.Records},
		{"Normal", r.Summary.Normal},
		{"Warning", r.Summary.Warning},
		{"Critical", r.Summary.Critical},
		{"Max |Deviation|", r.Summary.MaxAbsDeviation},
		{},
		{"Material", "Material Code", "Lot", "Table", "Records", "Warning", "Critical", "No Match", "No Baseline", "Unmatched Columns", "Status"},
	}
	for _, s := range r.Materials {
		rows = append(rows, []any{
			s.Material, s.MaterialCode, s.LotNumber, s.Table,
			len(s.Records), s.Count(model.SeverityWarning), s.Count(model.SeverityCritical),
			s.Diagnostics.NoMatchFound, s.Diagnostics.NoBaseline, len(s.Passthrough),
			status(s),
		})
	}
	return Table{Name: SheetSummary, Header: []string{"Field", "Value"}, Rows: rows}
}

func (r *Report) recordTable(name string, records []model.DeviationRecord) Table {
	t := Table{Name: name, Header: RecordHeader}
	for _, rec := range records {
		t.Rows = append(t.Rows, RecordRow(rec, r.Meta.SerialNumber))
		t.Severity = append(t.Severity, rec.Severity)
	}
	return t
}

func (r *Report) unmatchedTable() Table {
	t := Table{Name: SheetUnmatched, Header: []string{"Material", "Table", "Column", "Reason"}}
	for _, s := range r.Materials {
		for _, col := range s.Passthrough {
			t.Rows = append(t.Rows, []any{s.Material, col.SourceTable, col.Name, "no canonical match"})
		}
		for _, sk := range s.Skipped {
			t.Rows = append(t.Rows, []any{s.Material, "", sk.Column, strings.ReplaceAll(string(sk.Reason), "_", " ")})
		}
	}
	return t
}

// RecordRow renders one record in RecordHeader order.
func RecordRow(rec model.DeviationRecord, serial string) []any {
	process := ""
	if rec.Key.ProcessNumber != nil {
		process = fmt.Sprint(*rec.Key.ProcessNumber)
	}
	return []any{
		rec.Column(),
		rec.Key.Material,
		process,
		rec.Key.InspectionNumber,
		string(rec.Key.Kind),
		string(rec.Key.Statistic),
		rec.Baseline.Mean,
		rec.Baseline.SampleCount,
		rec.Baseline.ValidFraction,
		rec.Baseline.Min,
		rec.Baseline.Max,
		rec.Baseline.StdDev,
		rec.Current.Raw.Name,
		rec.Current.Value,
		rec.Deviation,
		string(rec.Severity),
		string(rec.Strategy),
		serial,
	}
}

func status(s MaterialSection) string {
	switch {
	case s.Error != "":
		return "error: " + s.Error
	case s.LowConfidence:
		return "ok (incomplete inspection row)"
	default:
		return "ok"
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
