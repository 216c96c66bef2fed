package engine

import (
	"math"

	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/numeric"
)

// NewWindow collects at most size values of a column from rows ordered
// newest first. Rows lacking the column contribute a missing value.
func NewWindow(column model.RawColumn, key model.MeasurementKey, rows []model.Row, size int) model.HistoricalWindow {
	if size > 0 && len(rows) > size {
		rows = rows[:size]
	}
	values := make([]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, row[column.Name])
	}
	return model.HistoricalWindow{Column: column, Key: key, Values: values}
}

// Aggregate reduces a window to its mean. Values that do not coerce are
// discarded and lower the valid fraction. It reports false when no value is usable.
func Aggregate(w model.HistoricalWindow) (model.Baseline, bool) {
	values, _ := numeric.CoerceAll(w.Values)
	if len(values) == 0 {
		return model.Baseline{}, false
	}

	// Running mean: stays within [min, max] where a plain sum could overflow.
	mean := 0.0
	lo, hi := values[0], values[0]
	for i, v := range values {
		n := float64(i + 1)
		mean += v/n - mean/n
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	stddev := 0.0
	if scale := math.Max(math.Abs(lo), math.Abs(hi)); len(values) > 1 && scale > 0 {
		variance := 0.0
		for _, v := range values {
			d := (v - mean) / scale
			variance += d * d
		}
		stddev = scale * math.Sqrt(variance/float64(len(values)-1))
	}

	return model.Baseline{
		Key:           w.Key,
		Column:        w.Column,
		Mean:          mean,
		Min:           lo,
		Max:           hi,
		StdDev:        stddev,
		SampleCount:   len(values),
		ValidFraction: float64(len(values)) / float64(len(w.Values)),
	}, true
}
