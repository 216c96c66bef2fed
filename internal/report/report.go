// Package report groups deviation records for presentation and writes them out.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/deviation-watch/internal/engine"
	"github.com/Veraticus/deviation-watch/internal/model"
)

// Meta describes the unit and run a report belongs to.
type Meta struct {
	GeneratedAt   time.Time
	UnitDate      time.Time
	RunID         string
	ModelCode     string
	ProcessSerial string
	SerialNumber  string
	PassNG        string
	SourceFile    string
	// MaterialOrder is the catalog order used to sort material sections.
	MaterialOrder []string
}

// MaterialResult is the outcome of one material's run, as handed to Assemble.
type MaterialResult struct {
	Err           error
	Material      string
	MaterialCode  string
	LotNumber     string
	Table         string
	Result        engine.Result
	LowConfidence bool
}

// MaterialSection is one material's part of the report.
type MaterialSection struct {
	Material      string
	MaterialCode  string
	LotNumber     string
	Table         string
	Error         string
	Records       []model.DeviationRecord
	Passthrough   []model.RawColumn
	Skipped       []engine.SkippedColumn
	Diagnostics   engine.Diagnostics
	LowConfidence bool
}

// Count returns the number of records with the given severity.
func (s MaterialSection) Count(sev model.Severity) int {
	n := 0
	for _, r := range s.Records {
		if r.Severity == sev {
			n++
		}
	}
	return n
}

// Summary holds report-wide totals.
type Summary struct {
	Materials       int
	Failed          int
	Records         int
	Normal          int
	Warning         int
	Critical        int
	Unmatched       int
	MaxAbsDeviation float64
}

// Report is the assembled output of a pipeline run.
type Report struct {
	Meta      Meta
	Materials []MaterialSection
	// Critical holds every Warning and Critical record, largest deviation first.
	Critical []model.DeviationRecord
	Summary  Summary
}

// Assemble groups per-material results into a report.
func Assemble(meta Meta, results []MaterialResult) *Report {
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now()
	}
	r := &Report{Meta: meta}

	for _, res := range results {
		section := MaterialSection{
			Material:      res.Material,
			MaterialCode:  res.MaterialCode,
			LotNumber:     res.LotNumber,
			Table:         res.Table,
			Records:       res.Result.Records,
			Passthrough:   res.Result.Passthrough,
			Skipped:       res.Result.Diagnostics.Skipped,
			Diagnostics:   res.Result.Diagnostics,
			LowConfidence: res.LowConfidence,
		}
		if res.Err != nil {
			section.Error = res.Err.Error()
			r.Summary.Failed++
		}
		r.Materials = append(r.Materials, section)
	}

	sort.SliceStable(r.Materials, func(i, j int) bool {
		return materialRank(meta.MaterialOrder, r.Materials[i].Material) < materialRank(meta.MaterialOrder, r.Materials[j].Material)
	})

	for _, section := range r.Materials {
		r.Summary.Materials++
		r.Summary.Unmatched += len(section.Passthrough) + len(section.Skipped)
		for _, rec := range section.Records {
			r.Summary.Records++
			switch rec.Severity {
			case model.SeverityCritical:
				r.Summary.Critical++
			case model.SeverityWarning:
				r.Summary.Warning++
			default:
				r.Summary.Normal++
			}
			if rec.AbsDeviation() > r.Summary.MaxAbsDeviation {
				r.Summary.MaxAbsDeviation = rec.AbsDeviation()
			}
			if rec.Severity != model.SeverityNormal {
				r.Critical = append(r.Critical, rec)
			}
		}
	}

	sort.SliceStable(r.Critical, func(i, j int) bool {
		return r.Critical[i].AbsDeviation() > r.Critical[j].AbsDeviation()
	})
	return r
}

// Records returns all records across materials in report order.
func (r *Report) Records() []model.DeviationRecord {
	var out []model.DeviationRecord
	for _, s := range r.Materials {
		out = append(out, s.Records...)
	}
	return out
}

func materialRank(order []string, material string) int {
	for i, m := range order {
		if strings.EqualFold(m, material) {
			return i
		}
	}
	return len(order)
}
