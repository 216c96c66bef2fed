// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the physical quantity a measurement captures.
type Kind string

// Measurement kinds.
const (
	KindResistance  Kind = "Resistance"
	KindDimension   Kind = "Dimension"
	KindPullTest    Kind = "Pull_Test"
	KindTemperature Kind = "Temperature"
	KindUnknown     Kind = "Unknown"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{KindResistance, KindDimension, KindPullTest, KindTemperature, KindUnknown}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind resolves a kind from a column fragment such as "resistance" or
// "Pull_Test". It is case-insensitive and ignores underscores.
func ParseKind(s string) (Kind, bool) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
	for _, k := range Kinds {
		if strings.ReplaceAll(strings.ToLower(string(k)), "_", "") == norm {
			return k, true
		}
	}
	return KindUnknown, false
}

// Statistic is the reduction a column holds for a measurement.
type Statistic string

// Statistics.
const (
	StatMinimum Statistic = "Minimum"
	StatAverage Statistic = "Average"
	StatMaximum Statistic = "Maximum"
	StatSingle  Statistic = "Single"
)

// Valid reports whether s is a declared statistic.
func (s Statistic) Valid() bool {
	switch s {
	case StatMinimum, StatAverage, StatMaximum, StatSingle:
		return true
	}
	return false
}

// Rank orders statistics for stable report layout. Average comes first so it
// is matched before its minimum and maximum siblings.
func (s Statistic) Rank() int {
	switch s {
	case StatAverage:
		return 0
	case StatMinimum:
		return 1
	case StatMaximum:
		return 2
	default:
		return 3
	}
}

// ParseStatistic resolves the long statistic names used in column names.
func ParseStatistic(s string) (Statistic, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimum", "min":
		return StatMinimum, true
	case "average", "avg", "mean":
		return StatAverage, true
	case "maximum", "max":
		return StatMaximum, true
	case "single":
		return StatSingle, true
	}
	return StatAverage, false
}

// MeasurementKey is the canonical identity of a measurement, independent of
// the naming convention of the table it came from.
type MeasurementKey struct {
	ProcessNumber    *int
	Material         string
	InspectionNumber string
	Kind             Kind
	Statistic        Statistic
}

// IsBaseline reports whether the key carries the process and material scope
// that historical columns have.
func (k MeasurementKey) IsBaseline() bool {
	return k.ProcessNumber != nil && k.Material != ""
}

// Process returns the process number or zero when unknown.
func (k MeasurementKey) Process() int {
	if k.ProcessNumber == nil {
		return 0
	}
	return *k.ProcessNumber
}

// CanonicalName renders the key in the canonical column naming convention.
func (k MeasurementKey) CanonicalName() string {
	stat := k.Statistic
	if stat == "" {
		stat = StatAverage
	}
	if k.IsBaseline() {
		if k.Kind == KindPullTest && stat == StatSingle {
			return fmt.Sprintf("Process_%d_%s_Inspection_%s_Pull_Test", *k.ProcessNumber, k.Material, k.InspectionNumber)
		}
		return fmt.Sprintf("Process_%d_%s_Inspection_%s_%s_Data", *k.ProcessNumber, k.Material, k.InspectionNumber, stat)
	}
	if k.Kind == KindPullTest && stat == StatSingle {
		return fmt.Sprintf("Inspection_%s_Pull_Test", k.InspectionNumber)
	}
	kind := k.Kind
	if kind == "" {
		kind = KindUnknown
	}
	return fmt.Sprintf("Inspection_%s_%s_%s", k.InspectionNumber, kind, stat)
}

// String implements fmt.Stringer.
func (k MeasurementKey) String() string {
	return k.CanonicalName()
}

// Equal compares two keys by value.
func (k MeasurementKey) Equal(other MeasurementKey) bool {
	if (k.ProcessNumber == nil) != (other.ProcessNumber == nil) {
		return false
	}
	if k.ProcessNumber != nil && *k.ProcessNumber != *other.ProcessNumber {
		return false
	}
	return k.Material == other.Material &&
		k.InspectionNumber == other.InspectionNumber &&
		k.Kind == other.Kind &&
		k.Statistic == other.Statistic
}

// Less orders keys by process, material, inspection number and statistic.
// Inspection numbers compare numerically when both are numeric.
func (k MeasurementKey) Less(other MeasurementKey) bool {
	if k.Process() != other.Process() {
		return k.Process() < other.Process()
	}
	if k.Material != other.Material {
		return k.Material < other.Material
	}
	if k.InspectionNumber != other.InspectionNumber {
		a, errA := strconv.Atoi(k.InspectionNumber)
		b, errB := strconv.Atoi(other.InspectionNumber)
		if errA == nil && errB == nil {
			return a < b
		}
		return k.InspectionNumber < other.InspectionNumber
	}
	return k.Statistic.Rank() < other.Statistic.Rank()
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
