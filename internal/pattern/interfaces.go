// Package pattern reconciles inspection column names with the canonical
// measurement identities used by the historical baseline table.
package pattern

import (
	"github.com/Veraticus/deviation-watch/internal/model"
)

// FallbackTable is the source table given to measurements synthesized from
// fallback values that have no canonicalized counterpart.
const FallbackTable = "fallback"

// Strategy is one step of the matching cascade.
type Strategy interface {
	// Name identifies the strategy in deviation records.
	Name() model.MatchStrategy
	// Find returns the candidate this strategy pairs with the query target.
	Find(q Query) (model.CurrentMeasurement, bool)
}

// Query is what a strategy sees for a single baseline target.
type Query struct {
	// Fallback holds raw current values by name, unclaimed names only.
	Fallback map[string]float64
	// MaterialCode is the normalized code of the target's material, empty when unknown.
	MaterialCode string
	// Target is the baseline key to pair.
	Target model.MeasurementKey
	// Candidates are unclaimed, material-compatible, canonicalized measurements sorted by name.
	Candidates []model.CurrentMeasurement
	// All additionally includes unclaimed candidates that failed canonicalization.
	All []model.CurrentMeasurement
}

// Match pairs a baseline target with a current measurement.
type Match struct {
	Current  model.CurrentMeasurement
	Strategy model.MatchStrategy
}
