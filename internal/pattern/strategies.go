package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
)

// kindSynonyms are alternative kind words seen in inspection table headers.
var kindSynonyms = map[model.Kind][]string{
	model.KindDimension:  {"Length", "Width", "Height", "Thickness", "Depth"},
	model.KindResistance: {"Resistance", "Ohm"},
}

// DefaultStrategies returns the production cascade.
func DefaultStrategies(cfg config.Engine) []Strategy {
	return []Strategy{
		DirectTypeMapping{cfg: cfg},
		PatternMapping{cfg: cfg},
		FlexibleKeyword{},
		PositionalFallback{},
	}
}

// DirectTypeMapping pairs a target with a candidate of the same inspection
// number whose kind is the one mapped to that number.
type DirectTypeMapping struct {
	cfg config.Engine
}

// Name implements Strategy.
func (DirectTypeMapping) Name() model.MatchStrategy { return model.StrategyDirectTypeMapping }

// Find implements Strategy.
func (s DirectTypeMapping) Find(q Query) (model.CurrentMeasurement, bool) {
	kind, ok := s.cfg.KindFor(q.Target.InspectionNumber)
	if !ok {
		return model.CurrentMeasurement{}, false
	}
	for _, c := range q.Candidates {
		if c.Key.InspectionNumber != q.Target.InspectionNumber || c.Key.Kind != kind {
			continue
		}
		if kind == model.KindPullTest || sameStatistic(c.Key.Statistic, q.Target.Statistic) {
			return c, true
		}
	}
	return model.CurrentMeasurement{}, false
}

// PatternMapping compares candidate names with the names the target is
// known to appear under in inspection tables.
type PatternMapping struct {
	cfg config.Engine
}

// Name implements Strategy.
func (PatternMapping) Name() model.MatchStrategy { return model.StrategyPatternMatch }

// Find implements Strategy.
func (s PatternMapping) Find(q Query) (model.CurrentMeasurement, bool) {
	pool := q.Candidates
	if q.MaterialCode != "" && anyTagged(pool) {
		scoped := make([]model.CurrentMeasurement, 0, len(pool))
		for _, c := range pool {
			if config.NormalizeMaterialCode(c.MaterialCode) == q.MaterialCode {
				scoped = append(scoped, c)
			}
		}
		pool = scoped
	}

	templates := Templates(q.Target, s.cfg)
	for _, tmpl := range templates {
		for _, c := range pool {
			if strings.EqualFold(strings.TrimSpace(c.Raw.Name), tmpl) {
				return c, true
			}
		}
	}
	return model.CurrentMeasurement{}, false
}

// Templates lists the column names a baseline key is expected to appear
// under, most specific first.
func Templates(target model.MeasurementKey, cfg config.Engine) []string {
	n := target.InspectionNumber
	kind := target.Kind
	if mapped, ok := cfg.KindFor(n); ok {
		kind = mapped
	}

	if kind == model.KindPullTest {
		out := make([]string, 0, 2)
		if target.IsBaseline() {
			out = append(out, fmt.Sprintf("Process_%d_%s_Inspection_%s_Pull_Test", target.Process(), target.Material, n))
		}
		return append(out, fmt.Sprintf("Inspection_%s_Pull_Test", n))
	}

	stat := target.Statistic
	if stat == "" || stat == model.StatSingle {
		stat = model.StatAverage
	}

	out := make([]string, 0, 8)
	if target.IsBaseline() {
		out = append(out, fmt.Sprintf("Process_%d_%s_Inspection_%s_%s_Data", target.Process(), target.Material, n, stat))
	}
	if kind != model.KindUnknown && kind != "" {
		out = append(out, fmt.Sprintf("Inspection_%s_%s_%s", n, kind, stat))
	}
	out = append(out, fmt.Sprintf("Inspection_%s_%s", n, stat))
	for _, syn := range kindSynonyms[kind] {
		if strings.EqualFold(syn, string(kind)) {
			continue
		}
		out = append(out, fmt.Sprintf("Inspection_%s_%s_%s", n, syn, stat))
	}
	return out
}

// FlexibleKeyword scans raw fallback names for the inspection number and a
// statistic word compatible with the target.
type FlexibleKeyword struct{}

// Name implements Strategy.
func (FlexibleKeyword) Name() model.MatchStrategy { return model.StrategyKeywordMatch }

// Find implements Strategy.
func (FlexibleKeyword) Find(q Query) (model.CurrentMeasurement, bool) {
	names := make([]string, 0, len(q.Fallback))
	for name := range q.Fallback {
		names = append(names, name)
	}
	sort.Strings(names)

	inner := "_" + strings.ToLower(q.Target.InspectionNumber) + "_"
	suffix := "_" + strings.ToLower(q.Target.InspectionNumber)

	for _, name := range names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if !strings.Contains(lower, inner) && !strings.HasSuffix(lower, suffix) {
			continue
		}
		if !statisticCompatible(lower, q.Target.Statistic) {
			continue
		}
		for _, c := range q.All {
			if c.Raw.Name == name {
				c.Value = q.Fallback[name]
				return c, true
			}
		}
		return model.CurrentMeasurement{
			Raw:        model.RawColumn{Name: name, SourceTable: FallbackTable},
			Key:        model.MeasurementKey{InspectionNumber: q.Target.InspectionNumber, Kind: q.Target.Kind, Statistic: q.Target.Statistic},
			Confidence: model.ConfidenceKeyword,
			Value:      q.Fallback[name],
		}, true
	}
	return model.CurrentMeasurement{}, false
}

// PositionalFallback accepts the only remaining candidate with the target's
// inspection number and a compatible statistic. Pull tests ignore statistic.
type PositionalFallback struct{}

// Name implements Strategy.
func (PositionalFallback) Name() model.MatchStrategy { return model.StrategyPositionalFallback }

// Find implements Strategy.
func (PositionalFallback) Find(q Query) (model.CurrentMeasurement, bool) {
	var found []model.CurrentMeasurement
	for _, c := range q.Candidates {
		if c.Key.InspectionNumber != q.Target.InspectionNumber {
			continue
		}
		if q.Target.Kind != model.KindPullTest && !sameStatistic(c.Key.Statistic, q.Target.Statistic) {
			continue
		}
		found = append(found, c)
	}
	if len(found) != 1 {
		return model.CurrentMeasurement{}, false
	}
	return found[0], true
}

func sameStatistic(a, b model.Statistic) bool {
	norm := func(s model.Statistic) model.Statistic {
		if s == "" || s == model.StatSingle {
			return model.StatAverage
		}
		return s
	}
	return norm(a) == norm(b)
}

func statisticCompatible(lower string, stat model.Statistic) bool {
	hasMin := strings.Contains(lower, "min")
	hasMax := strings.Contains(lower, "max")
	switch stat {
	case model.StatMinimum:
		return hasMin
	case model.StatMaximum:
		return hasMax
	default:
		return strings.Contains(lower, "avg") || strings.Contains(lower, "average") || (!hasMin && !hasMax)
	}
}

func anyTagged(candidates []model.CurrentMeasurement) bool {
	for _, c := range candidates {
		if c.MaterialCode != "" {
			return true
		}
	}
	return false
}
