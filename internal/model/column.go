package model

// Confidence describes how a raw column was canonicalized.
type Confidence string

// Canonicalization confidence tiers, strongest first.
const (
	ConfidenceExact     Confidence = "Exact"
	ConfidencePattern   Confidence = "Pattern_Match"
	ConfidenceKeyword   Confidence = "Keyword_Match"
	ConfidenceHeuristic Confidence = "Heuristic"
	ConfidenceUnmatched Confidence = "Unmatched"
)

// Valid reports whether c is a declared confidence tier.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceExact, ConfidencePattern, ConfidenceKeyword, ConfidenceHeuristic, ConfidenceUnmatched:
		return true
	}
	return false
}

// Row is one record handed over by an ingestion or retrieval collaborator,
// keyed by raw column name.
type Row map[string]any

// RawColumn is a column as it appears in its source table.
type RawColumn struct {
	Name        string
	SourceTable string
}

// ID identifies the column across tables.
func (c RawColumn) ID() string {
	return c.SourceTable + "\x00" + c.Name
}

// CanonicalColumn is a raw column together with its canonical identity.
type CanonicalColumn struct {
	Raw        RawColumn
	Key        MeasurementKey
	Confidence Confidence
	Identifier bool
}

// Matched reports whether the column carries a usable measurement identity.
func (c CanonicalColumn) Matched() bool {
	return !c.Identifier && c.Confidence != ConfidenceUnmatched
}
