package model

import "math"

// Severity classifies how far a measurement drifted from its baseline.
type Severity string

// Severity levels.
const (
	SeverityNormal   Severity = "Normal"
	SeverityWarning  Severity = "Warning"
	SeverityCritical Severity = "Critical"
)

// Valid reports whether s is a declared severity.
func (s Severity) Valid() bool {
	return s == SeverityNormal || s == SeverityWarning || s == SeverityCritical
}

// Rank orders severities from least to most severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// MatchStrategy names the rule that paired a current column with a baseline column.
type MatchStrategy string

// Match strategies in cascade order.
const (
	StrategyDirectTypeMapping  MatchStrategy = "Direct_Type_Mapping"
	StrategyPatternMatch       MatchStrategy = "Pattern_Match"
	StrategyKeywordMatch       MatchStrategy = "Keyword_Match"
	StrategyPositionalFallback MatchStrategy = "Positional_Fallback"
)

// Valid reports whether s is a declared strategy.
func (s MatchStrategy) Valid() bool {
	switch s {
	case StrategyDirectTypeMapping, StrategyPatternMatch, StrategyKeywordMatch, StrategyPositionalFallback:
		return true
	}
	return false
}

// HistoricalWindow is the bounded slice of historical values for one column.
type HistoricalWindow struct {
	Column RawColumn
	Key    MeasurementKey
	Values []any
}

// Baseline is the historical statistic for one canonical measurement.
type Baseline struct {
	Key           MeasurementKey
	Column        RawColumn
	Mean          float64
	Min           float64
	Max           float64
	StdDev        float64
	ValidFraction float64
	SampleCount   int
}

// CurrentMeasurement is one coerced cell from the current inspection data.
type CurrentMeasurement struct {
	Raw          RawColumn
	Key          MeasurementKey
	MaterialCode string
	Confidence   Confidence
	Value        float64
}

// DeviationRecord is one row of the deviation report.
type DeviationRecord struct {
	Key       MeasurementKey
	Severity  Severity
	Strategy  MatchStrategy
	Current   CurrentMeasurement
	Baseline  Baseline
	Deviation float64
}

// AbsDeviation returns the magnitude of the deviation.
func (r DeviationRecord) AbsDeviation() float64 {
	return math.Abs(r.Deviation)
}

// Column returns the canonical baseline column name of the record.
func (r DeviationRecord) Column() string {
	if r.Baseline.Column.Name != "" {
		return r.Baseline.Column.Name
	}
	return r.Key.CanonicalName()
}
