// Package engine reconciles current inspection data with historical baselines
// and scores the deviation of every matched measurement.
package engine

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/numeric"
	"github.com/Veraticus/deviation-watch/internal/pattern"
)

// materialCodeColumn carries the material code on inspection rows.
const materialCodeColumn = "material_code"

// SkipReason explains why a baseline column produced no record.
type SkipReason string

// Skip reasons.
const (
	SkipNoBaseline   SkipReason = "no_baseline"
	SkipNoMatch      SkipReason = "no_match"
	SkipZeroBaseline SkipReason = "zero_baseline"
	SkipNonFinite    SkipReason = "non_finite"
)

// SkippedColumn is a baseline column that produced no record.
type SkippedColumn struct {
	Column string
	Reason SkipReason
}

// Diagnostics counts the recoverable problems met during a run.
type Diagnostics struct {
	Skipped          []SkippedColumn
	Identifiers      int
	NoCanonicalMatch int
	UnparsableValues int
	NoBaseline       int
	LowValidFraction int
	NoMatchFound     int
	ZeroBaseline     int
	NonFinite        int
}

// RunInput is the data snapshot one run works on.
type RunInput struct {
	// MaterialCode tags current rows that carry no Material_Code column.
	MaterialCode string
	// CurrentTable names the table the current rows came from.
	CurrentTable string
	// Materials limits baseline columns to these materials; empty means all.
	Materials []string
	// Historical rows, newest first.
	Historical []model.Row
	// Current inspection rows, newest first. The first usable value per column wins.
	Current []model.Row
}

// Result is everything a run produced.
type Result struct {
	Records     []model.DeviationRecord
	Baselines   []model.Baseline
	Columns     []model.CanonicalColumn
	Passthrough []model.RawColumn
	Diagnostics Diagnostics
}

// Engine runs the reconciliation pipeline. It holds only immutable
// configuration; every run gets its own matching session.
type Engine struct {
	canon   *pattern.Canonicalizer
	matcher *pattern.Matcher
	catalog config.Catalog
	calc    Calculator
	cfg     config.Engine
}

// New validates configuration and creates an engine.
func New(cfg config.Engine, catalog config.Catalog) (*Engine, error) {
	matcher, err := pattern.NewMatcher(cfg, catalog)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		catalog: catalog,
		canon:   pattern.NewCanonicalizer(cfg),
		matcher: matcher,
		calc:    NewCalculator(cfg),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() config.Engine {
	return e.cfg
}

// Canonicalizer returns the canonicalizer used for current columns.
func (e *Engine) Canonicalizer() *pattern.Canonicalizer {
	return e.canon
}

// Run executes one reconciliation. It performs no I/O and never fails:
// every recoverable problem is counted in the result diagnostics.
func (e *Engine) Run(in RunInput) Result {
	var res Result
	canon := e.canon.WithAliases(e.catalog.Aliases(in.Materials...))

	candidates, fallback := e.currentCandidates(canon, in, &res)
	columns := e.baselineColumns(canon, in)

	session := e.matcher.NewSession()
	for _, bc := range columns {
		w := NewWindow(bc.Raw, bc.Key, in.Historical, e.cfg.WindowSize)
		baseline, ok := Aggregate(w)
		if !ok {
			res.Diagnostics.NoBaseline++
			res.Diagnostics.Skipped = append(res.Diagnostics.Skipped, SkippedColumn{Column: bc.Raw.Name, Reason: SkipNoBaseline})
			continue
		}
		if baseline.ValidFraction < e.cfg.MinValidFraction {
			res.Diagnostics.LowValidFraction++
			slog.Warn("Baseline built from few valid values",
				"column", bc.Raw.Name,
				"valid_fraction", baseline.ValidFraction,
				"samples", baseline.SampleCount)
		}
		res.Baselines = append(res.Baselines, baseline)

		match, ok := session.Match(bc.Key, candidates, fallback)
		if !ok {
			res.Diagnostics.NoMatchFound++
			res.Diagnostics.Skipped = append(res.Diagnostics.Skipped, SkippedColumn{Column: bc.Raw.Name, Reason: SkipNoMatch})
			continue
		}

		record, ok := e.calc.Compute(baseline, match)
		if !ok && baseline.Mean != 0 {
			res.Diagnostics.NonFinite++
			res.Diagnostics.Skipped = append(res.Diagnostics.Skipped, SkippedColumn{Column: bc.Raw.Name, Reason: SkipNonFinite})
			slog.Warn("Skipping non-finite deviation", "column", bc.Raw.Name, "mean", baseline.Mean)
			continue
		}
		if !ok {
			res.Diagnostics.ZeroBaseline++
			res.Diagnostics.Skipped = append(res.Diagnostics.Skipped, SkippedColumn{Column: bc.Raw.Name, Reason: SkipZeroBaseline})
			slog.Debug("Skipping zero baseline", "column", bc.Raw.Name)
			continue
		}
		res.Records = append(res.Records, record)
	}

	slog.Info("Engine run complete",
		"materials", strings.Join(in.Materials, ","),
		"baseline_columns", len(columns),
		"records", len(res.Records),
		"no_match", res.Diagnostics.NoMatchFound,
		"no_baseline", res.Diagnostics.NoBaseline)

	return res
}

// baselineColumns returns the canonical historical columns in emission order.
func (e *Engine) baselineColumns(canon *pattern.Canonicalizer, in RunInput) []model.CanonicalColumn {
	names := make(map[string]struct{})
	for _, row := range in.Historical {
		for name := range row {
			names[name] = struct{}{}
		}
	}

	out := make([]model.CanonicalColumn, 0, len(names))
	for name := range names {
		key, ok := canon.ParseBaseline(name)
		if !ok || !wanted(key.Material, in.Materials) {
			continue
		}
		out = append(out, model.CanonicalColumn{
			Raw:        model.RawColumn{Name: name, SourceTable: e.cfg.HistoricalTable},
			Key:        key,
			Confidence: model.ConfidenceExact,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Less(out[j].Key) {
			return true
		}
		if out[j].Key.Less(out[i].Key) {
			return false
		}
		return out[i].Raw.Name < out[j].Raw.Name
	})
	return out
}

// currentCandidates canonicalizes the current rows and coerces their values.
func (e *Engine) currentCandidates(canon *pattern.Canonicalizer, in RunInput, res *Result) ([]model.CurrentMeasurement, map[string]float64) {
	names := make(map[string]struct{})
	for _, row := range in.Current {
		for name := range row {
			names[name] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	candidates := make([]model.CurrentMeasurement, 0, len(ordered))
	fallback := make(map[string]float64, len(ordered))

	for _, name := range ordered {
		raw := model.RawColumn{Name: name, SourceTable: in.CurrentTable}
		value, sample, source, found := firstValue(in.Current, name)

		cc := canon.Canonicalize(raw, sample)
		res.Columns = append(res.Columns, cc)

		if cc.Identifier {
			res.Diagnostics.Identifiers++
			continue
		}
		if cc.Confidence == model.ConfidenceUnmatched {
			res.Diagnostics.NoCanonicalMatch++
			res.Passthrough = append(res.Passthrough, raw)
		}
		if !found {
			if cc.Matched() && !numeric.IsMissing(sample) {
				res.Diagnostics.UnparsableValues++
			}
			continue
		}

		code := in.MaterialCode
		if rowCode, ok := lookupFold(source, materialCodeColumn); ok {
			if s, isString := stringValue(rowCode); isString && s != "" {
				code = s
			}
		}

		fallback[name] = value
		candidates = append(candidates, model.CurrentMeasurement{
			Raw:          raw,
			Key:          cc.Key,
			MaterialCode: code,
			Confidence:   cc.Confidence,
			Value:        value,
		})
	}
	return candidates, fallback
}

// firstValue returns the first coercible value of a column across rows. When
// none coerces, sample is the first non-missing raw value.
func firstValue(rows []model.Row, name string) (value float64, sample any, source model.Row, found bool) {
	for _, row := range rows {
		v, present := row[name]
		if !present {
			continue
		}
		if f, ok := numeric.Coerce(v); ok {
			return f, v, row, true
		}
		if sample == nil && !numeric.IsMissing(v) {
			sample = v
		}
	}
	return 0, sample, nil, false
}

func lookupFold(row model.Row, name string) (any, bool) {
	for k, v := range row {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case []byte:
		return strings.TrimSpace(string(x)), true
	}
	return "", false
}

func wanted(material string, materials []string) bool {
	if len(materials) == 0 {
		return true
	}
	for _, m := range materials {
		if strings.EqualFold(m, material) {
			return true
		}
	}
	return false
}
