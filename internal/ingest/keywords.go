package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Veraticus/deviation-watch/internal/model"
)

// Default keyword sets. Rows mentioning any of them are not production units.
var (
	DefaultCSVKeywords        = []string{"NG", "TRIAL", "MASTER PUMP", "RUNNING", "RE PI"}
	DefaultHistoricalKeywords = []string{"NG PRESSURE", "REPAIRED AT", "RE PI", "MASTER PUMP", "NG AT", "INSPECTION ONLY"}
)

// KeywordFilter matches whole-word keywords, ignoring case. Spaces inside a
// keyword match any run of whitespace or underscores.
type KeywordFilter struct {
	words    []string
	patterns []*regexp.Regexp
}

// NewKeywordFilter compiles a keyword set. Blank keywords are ignored.
func NewKeywordFilter(keywords []string) *KeywordFilter {
	f := &KeywordFilter{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		parts := strings.Fields(kw)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		expr := fmt.Sprintf(`(?i)(^|[^A-Za-z0-9])%s([^A-Za-z0-9]|$)`, strings.Join(parts, `[\s_]+`))
		f.words = append(f.words, kw)
		f.patterns = append(f.patterns, regexp.MustCompile(expr))
	}
	return f
}

// Match returns the first keyword found in s.
func (f *KeywordFilter) Match(s string) (string, bool) {
	for i, re := range f.patterns {
		if re.MatchString(s) {
			return f.words[i], true
		}
	}
	return "", false
}

// Empty reports whether the filter has no keywords.
func (f *KeywordFilter) Empty() bool {
	return len(f.patterns) == 0
}

// FilterRows drops rows with a keyword in any textual cell.
func FilterRows(rows []model.Row, keywords []string) []model.Row {
	f := NewKeywordFilter(keywords)
	if f.Empty() {
		return rows
	}
	kept := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		if !rowTainted(row, f) {
			kept = append(kept, row)
		}
	}
	return kept
}

// DropTaintedColumns removes columns whose name or any textual value mentions
// a keyword. It returns the cleaned rows and the sorted dropped column names.
func DropTaintedColumns(rows []model.Row, keywords []string) ([]model.Row, []string) {
	f := NewKeywordFilter(keywords)
	if f.Empty() {
		return rows, nil
	}

	tainted := make(map[string]struct{})
	for _, row := range rows {
		for name, v := range row {
			if _, done := tainted[name]; done {
				continue
			}
			if _, hit := f.Match(name); hit {
				tainted[name] = struct{}{}
				continue
			}
			if s, ok := text(v); ok {
				if _, hit := f.Match(s); hit {
					tainted[name] = struct{}{}
				}
			}
		}
	}
	if len(tainted) == 0 {
		return rows, nil
	}

	out := make([]model.Row, 0, len(rows))
	for _, row := range rows {
		clean := make(model.Row, len(row))
		for name, v := range row {
			if _, drop := tainted[name]; !drop {
				clean[name] = v
			}
		}
		out = append(out, clean)
	}

	dropped := make([]string, 0, len(tainted))
	for name := range tainted {
		dropped = append(dropped, name)
	}
	sort.Strings(dropped)
	return out, dropped
}

func rowTainted(row model.Row, f *KeywordFilter) bool {
	for _, v := range row {
		s, ok := text(v)
		if !ok {
			continue
		}
		if _, hit := f.Match(s); hit {
			return true
		}
	}
	return false
}

func text(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	return "", false
}
