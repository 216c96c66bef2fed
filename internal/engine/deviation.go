package engine

import (
	"math"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/pattern"
)

// Calculator turns a baseline and a matched measurement into a deviation record.
type Calculator struct {
	warning   float64
	critical  float64
	precision int
}

// NewCalculator creates a calculator from engine thresholds.
func NewCalculator(cfg config.Engine) Calculator {
	return Calculator{
		warning:   cfg.WarningThreshold,
		critical:  cfg.CriticalThreshold,
		precision: cfg.Precision,
	}
}

// Compute returns the relative deviation (mean-value)/mean. A zero mean
// or a result that is not finite yields no record.
func (c Calculator) Compute(b model.Baseline, m pattern.Match) (model.DeviationRecord, bool) {
	if b.Mean == 0 || !finite(b.Mean) || !finite(m.Current.Value) {
		return model.DeviationRecord{}, false
	}

	d := Round((b.Mean-m.Current.Value)/b.Mean, c.precision)
	if !finite(d) {
		return model.DeviationRecord{}, false
	}
	return model.DeviationRecord{
		Key:       b.Key,
		Baseline:  b,
		Current:   m.Current,
		Deviation: d,
		Severity:  c.Classify(d),
		Strategy:  m.Strategy,
	}, true
}

// Classify maps a deviation to a severity. Both thresholds are inclusive.
func (c Calculator) Classify(d float64) model.Severity {
	abs := math.Abs(d)
	switch {
	case abs >= c.critical:
		return model.SeverityCritical
	case abs >= c.warning:
		return model.SeverityWarning
	default:
		return model.SeverityNormal
	}
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
