package pattern

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/numeric"
)

var (
	baselineDataRe = regexp.MustCompile(`(?i)^Process_(\d+)_([A-Za-z0-9_]+?)_Inspection_([A-Za-z0-9]+)_(Minimum|Average|Maximum)_Data$`)
	baselinePullRe = regexp.MustCompile(`(?i)^Process_(\d+)_([A-Za-z0-9_]+?)_Inspection_([A-Za-z0-9]+)_Pull_Test$`)
	currentStatRe  = regexp.MustCompile(`(?i)^Inspection_([A-Za-z0-9]+)_(Resistance|Dimension|Pull_Test|Temperature|Unknown)_(Minimum|Average|Maximum|Single)$`)
	currentPullRe  = regexp.MustCompile(`(?i)^Inspection_([A-Za-z0-9]+)_Pull_Test$`)
)

// Canonicalizer maps raw column names to canonical measurement keys.
// It holds only immutable tables and is safe for concurrent use.
type Canonicalizer struct {
	identifiers map[string]struct{}
	aliases     map[string]string
	cfg         config.Engine
}

// NewCanonicalizer builds a canonicalizer from engine configuration.
func NewCanonicalizer(cfg config.Engine) *Canonicalizer {
	return &Canonicalizer{
		cfg:         cfg,
		identifiers: identifierSet(cfg.IdentifierColumns),
	}
}

// WithAliases returns a copy that renames raw columns before canonicalizing them.
// Alias keys are compared case-insensitively.
func (c *Canonicalizer) WithAliases(aliases map[string]string) *Canonicalizer {
	cp := *c
	cp.aliases = make(map[string]string, len(aliases))
	for raw, canonical := range aliases {
		cp.aliases[strings.ToLower(strings.TrimSpace(raw))] = canonical
	}
	return &cp
}

// Canonicalize resolves a column using the configured identifier set.
func (c *Canonicalizer) Canonicalize(col model.RawColumn, sample any) model.CanonicalColumn {
	return c.canonicalize(col, c.identifiers, sample)
}

// CanonicalizeWith resolves a column against an explicit identifier set.
func (c *Canonicalizer) CanonicalizeWith(col model.RawColumn, identifiers []string, sample any) model.CanonicalColumn {
	return c.canonicalize(col, identifierSet(identifiers), sample)
}

// IsIdentifier reports whether a column name is bookkeeping rather than a measurement.
func (c *Canonicalizer) IsIdentifier(name string) bool {
	return c.isIdentifier(name, c.identifiers)
}

func (c *Canonicalizer) canonicalize(col model.RawColumn, identifiers map[string]struct{}, sample any) model.CanonicalColumn {
	if c.isIdentifier(col.Name, identifiers) {
		return model.CanonicalColumn{
			Raw:        col,
			Key:        model.MeasurementKey{Kind: model.KindUnknown, Statistic: model.StatAverage},
			Confidence: model.ConfidenceUnmatched,
			Identifier: true,
		}
	}

	name := strings.TrimSpace(col.Name)
	if alias, ok := c.aliases[strings.ToLower(name)]; ok {
		if key, ok := c.exact(alias); ok {
			return model.CanonicalColumn{Raw: col, Key: key, Confidence: model.ConfidenceExact}
		}
		name = alias
	}

	if key, ok := c.exact(name); ok {
		return model.CanonicalColumn{Raw: col, Key: key, Confidence: model.ConfidenceExact}
	}

	lower := strings.ToLower(name)
	stat := detectStatistic(lower)

	if number, ok := c.adjacentNumber(lower); ok {
		kind := c.kindFromKeywords(lower)
		if kind == model.KindUnknown {
			kind, _ = c.cfg.KindFor(number)
		}
		return model.CanonicalColumn{
			Raw:        col,
			Key:        model.MeasurementKey{InspectionNumber: number, Kind: kind, Statistic: stat},
			Confidence: model.ConfidencePattern,
		}
	}

	for _, rule := range c.cfg.Keywords {
		if rule.InspectionNumber == "" || !containsAny(lower, rule.Keywords) {
			continue
		}
		return model.CanonicalColumn{
			Raw:        col,
			Key:        model.MeasurementKey{InspectionNumber: rule.InspectionNumber, Kind: rule.Kind, Statistic: stat},
			Confidence: model.ConfidenceKeyword,
		}
	}

	if _, numericSample := numeric.Coerce(sample); numericSample && containsAny(lower, c.cfg.HeuristicWords) {
		return model.CanonicalColumn{
			Raw: col,
			Key: model.MeasurementKey{
				InspectionNumber: c.cfg.HeuristicDefault.InspectionNumber,
				Kind:             c.cfg.HeuristicDefault.Kind,
				Statistic:        stat,
			},
			Confidence: model.ConfidenceHeuristic,
		}
	}

	return model.CanonicalColumn{
		Raw:        col,
		Key:        model.MeasurementKey{Kind: model.KindUnknown, Statistic: stat},
		Confidence: model.ConfidenceUnmatched,
	}
}

// ParseBaseline recognizes a historical baseline column name.
func (c *Canonicalizer) ParseBaseline(name string) (model.MeasurementKey, bool) {
	key, ok := c.exact(strings.TrimSpace(name))
	if !ok || !key.IsBaseline() {
		return model.MeasurementKey{}, false
	}
	return key, true
}

// exact recognizes the canonical naming forms.
func (c *Canonicalizer) exact(name string) (model.MeasurementKey, bool) {
	if m := baselineDataRe.FindStringSubmatch(name); m != nil {
		process, err := strconv.Atoi(m[1])
		if err != nil {
			return model.MeasurementKey{}, false
		}
		stat, _ := model.ParseStatistic(m[4])
		kind, _ := c.cfg.KindFor(m[3])
		return model.MeasurementKey{
			ProcessNumber:    &process,
			Material:         m[2],
			InspectionNumber: m[3],
			Kind:             kind,
			Statistic:        stat,
		}, true
	}
	if m := baselinePullRe.FindStringSubmatch(name); m != nil {
		process, err := strconv.Atoi(m[1])
		if err != nil {
			return model.MeasurementKey{}, false
		}
		return model.MeasurementKey{
			ProcessNumber:    &process,
			Material:         m[2],
			InspectionNumber: m[3],
			Kind:             model.KindPullTest,
			Statistic:        model.StatSingle,
		}, true
	}
	if m := currentStatRe.FindStringSubmatch(name); m != nil {
		kind, _ := model.ParseKind(m[2])
		stat, _ := model.ParseStatistic(m[3])
		return model.MeasurementKey{InspectionNumber: m[1], Kind: kind, Statistic: stat}, true
	}
	if m := currentPullRe.FindStringSubmatch(name); m != nil {
		return model.MeasurementKey{InspectionNumber: m[1], Kind: model.KindPullTest, Statistic: model.StatSingle}, true
	}
	return model.MeasurementKey{}, false
}

// adjacentNumber finds the inspection number carried by a name. A number
// right after an "inspection" token wins, otherwise the first in-range
// all-digit token does.
func (c *Canonicalizer) adjacentNumber(lower string) (string, bool) {
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})

	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] != "inspection" {
			continue
		}
		if n, ok := c.inRange(tokens[i+1]); ok {
			return n, true
		}
	}
	for _, tok := range tokens {
		if n, ok := c.inRange(tok); ok {
			return n, true
		}
	}
	return "", false
}

func (c *Canonicalizer) inRange(tok string) (string, bool) {
	if tok == "" {
		return "", false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < c.cfg.InspectionMin || n > c.cfg.InspectionMax {
		return "", false
	}
	return strconv.Itoa(n), true
}

func (c *Canonicalizer) kindFromKeywords(lower string) model.Kind {
	for _, rule := range c.cfg.Keywords {
		if containsAny(lower, rule.Keywords) {
			return rule.Kind
		}
	}
	return model.KindUnknown
}

func (c *Canonicalizer) isIdentifier(name string, identifiers map[string]struct{}) bool {
	norm := strings.ToLower(strings.TrimSpace(name))
	if _, ok := identifiers[norm]; ok {
		return true
	}
	for _, suffix := range c.cfg.IdentifierSuffixes {
		if strings.HasSuffix(norm, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// detectStatistic reads the statistic from a lower-cased name.
func detectStatistic(lower string) model.Statistic {
	switch {
	case strings.Contains(lower, "min"):
		return model.StatMinimum
	case strings.Contains(lower, "max"):
		return model.StatMaximum
	default:
		return model.StatAverage
	}
}

func identifierSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return set
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
