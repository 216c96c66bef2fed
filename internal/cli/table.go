package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/service"
)

// RenderTable draws a bordered table. severities, when non-nil, colors each row.
func RenderTable(headers []string, rows [][]string, severities []model.Severity) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtleStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if row >= 0 && row < len(severities) && severities[row] != model.SeverityNormal {
				return SeverityStyle(severities[row]).PaddingRight(2)
			}
			return TableCellStyle
		})
	return t.Render()
}

// RecordHeaders are the columns of RenderRecords.
var RecordHeaders = []string{"Material", "Column", "Matched", "Baseline", "Current", "Deviation", "Severity", "Strategy"}

// RenderRecords renders deviation records, keeping at most limit rows when limit > 0.
func RenderRecords(records []model.DeviationRecord, limit int) string {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	rows := make([][]string, 0, len(records))
	sevs := make([]model.Severity, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Key.Material,
			rec.Column(),
			rec.Current.Raw.Name,
			formatFloat(rec.Baseline.Mean),
			formatFloat(rec.Current.Value),
			FormatDeviation(rec.Deviation),
			string(rec.Severity),
			string(rec.Strategy),
		})
		sevs = append(sevs, rec.Severity)
	}
	return RenderTable(RecordHeaders, rows, sevs)
}

// RenderStoredRecords renders records loaded from the run history.
func RenderStoredRecords(records []service.StoredRecord) string {
	rows := make([][]string, 0, len(records))
	sevs := make([]model.Severity, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Material,
			rec.Column,
			rec.CurrentName,
			formatFloat(rec.Baseline),
			formatFloat(rec.CurrentValue),
			FormatDeviation(rec.Deviation),
			string(rec.Severity),
			string(rec.Strategy),
		})
		sevs = append(sevs, rec.Severity)
	}
	return RenderTable(RecordHeaders, rows, sevs)
}

// RenderRuns renders a run history listing.
func RenderRuns(runs []service.Run) string {
	rows := make([][]string, 0, len(runs))
	sevs := make([]model.Severity, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.ModelCode,
			r.SerialNumber,
			strconv.Itoa(r.RecordCount),
			strconv.Itoa(r.WarningCount),
			strconv.Itoa(r.CriticalCount),
		})
		sev := model.SeverityNormal
		switch {
		case r.CriticalCount > 0:
			sev = model.SeverityCritical
		case r.WarningCount > 0:
			sev = model.SeverityWarning
		}
		sevs = append(sevs, sev)
	}
	return RenderTable([]string{"Run", "Started", "Model", "S/N", "Records", "Warning", "Critical"}, rows, sevs)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4g", v)
}
