package pattern

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/config"
	"github.com/Veraticus/deviation-watch/internal/model"
)

// Matcher pairs baseline keys with current measurements through an ordered
// cascade of strategies. It is immutable; matching state lives in a Session.
type Matcher struct {
	catalog    config.Catalog
	strategies []Strategy
}

// NewMatcher creates a matcher with the default strategy cascade.
func NewMatcher(cfg config.Engine, catalog config.Catalog) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return NewMatcherWithStrategies(catalog, DefaultStrategies(cfg)...), nil
}

// NewMatcherWithStrategies creates a matcher with an explicit cascade.
func NewMatcherWithStrategies(catalog config.Catalog, strategies ...Strategy) *Matcher {
	return &Matcher{catalog: catalog, strategies: strategies}
}

// Strategies returns the cascade in evaluation order.
func (m *Matcher) Strategies() []Strategy {
	out := make([]Strategy, len(m.strategies))
	copy(out, m.strategies)
	return out
}

// NewSession starts a run. Candidates claimed within a session are never reused.
func (m *Matcher) NewSession() *Session {
	return &Session{
		matcher:  m,
		consumed: make(map[string]struct{}),
		names:    make(map[string]struct{}),
	}
}

// Session tracks which current measurements a run has already paired.
// A Session is not safe for concurrent use.
type Session struct {
	matcher  *Matcher
	consumed map[string]struct{}
	names    map[string]struct{}
	matched  int
	missed   int
}

// Match finds the current measurement for target, trying each strategy in order.
func (s *Session) Match(target model.MeasurementKey, candidates []model.CurrentMeasurement, fallback map[string]float64) (Match, bool) {
	q := s.query(target, candidates, fallback)

	for _, strategy := range s.matcher.strategies {
		current, ok := strategy.Find(q)
		if !ok {
			continue
		}
		s.claim(current.Raw)
		s.matched++
		slog.Debug("Matched baseline column",
			"target", target.CanonicalName(),
			"current", current.Raw.Name,
			"strategy", strategy.Name())
		return Match{Current: current, Strategy: strategy.Name()}, true
	}

	s.missed++
	slog.Debug("No match found for baseline column", "target", target.CanonicalName())
	return Match{}, false
}

// Claimed reports whether a column was already paired in this session. A
// name paired in any table counts, so a fallback claim blocks the real column.
func (s *Session) Claimed(col model.RawColumn) bool {
	if _, ok := s.consumed[col.ID()]; ok {
		return true
	}
	_, ok := s.names[foldName(col.Name)]
	return ok
}

// Stats returns the number of matched and unmatched targets so far.
func (s *Session) Stats() (matched, missed int) {
	return s.matched, s.missed
}

func (s *Session) claim(col model.RawColumn) {
	s.consumed[col.ID()] = struct{}{}
	s.names[foldName(col.Name)] = struct{}{}
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Session) query(target model.MeasurementKey, candidates []model.CurrentMeasurement, fallback map[string]float64) Query {
	code := ""
	if mat, ok := s.matcher.catalog.Lookup(target.Material); ok {
		code = config.NormalizeMaterialCode(mat.Code)
	}

	all := make([]model.CurrentMeasurement, 0, len(candidates))
	foreign := make(map[string]struct{})
	for _, c := range candidates {
		if s.Claimed(c.Raw) {
			continue
		}
		if !compatible(code, c.MaterialCode) {
			foreign[foldName(c.Raw.Name)] = struct{}{}
			continue
		}
		all = append(all, c)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Raw.Name != all[j].Raw.Name {
			return all[i].Raw.Name < all[j].Raw.Name
		}
		return all[i].Raw.SourceTable < all[j].Raw.SourceTable
	})

	eligible := make([]model.CurrentMeasurement, 0, len(all))
	for _, c := range all {
		if c.Confidence != model.ConfidenceUnmatched {
			eligible = append(eligible, c)
		}
	}

	// Fallback names backed only by another material's columns stay out of
	// reach of the keyword scan.
	open := make(map[string]float64, len(fallback))
	for name, v := range fallback {
		key := foldName(name)
		if _, taken := s.names[key]; taken {
			continue
		}
		if _, other := foreign[key]; other && !hasName(all, key) {
			continue
		}
		open[name] = v
	}

	return Query{
		Target:       target,
		MaterialCode: code,
		Candidates:   eligible,
		All:          all,
		Fallback:     open,
	}
}

func hasName(cands []model.CurrentMeasurement, key string) bool {
	for _, c := range cands {
		if foldName(c.Raw.Name) == key {
			return true
		}
	}
	return false
}

// compatible applies the material rule: an untagged candidate fits any target.
func compatible(targetCode, candidateCode string) bool {
	if candidateCode == "" || targetCode == "" {
		return true
	}
	return config.NormalizeMaterialCode(candidateCode) == targetCode
}

// String describes the cascade, mainly for logs.
func (m *Matcher) String() string {
	names := make([]string, 0, len(m.strategies))
	for _, st := range m.strategies {
		names = append(names, string(st.Name()))
	}
	return fmt.Sprintf("Matcher[%s]", strings.Join(names, " > "))
}
