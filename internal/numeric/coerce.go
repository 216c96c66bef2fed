// Package numeric turns loosely typed cell values into floats.
package numeric

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// missing spellings, compared case-insensitively after trimming.
var missing = map[string]struct{}{
	"":     {},
	"nan":  {},
	"null": {},
	"none": {},
	"n/a":  {},
	"na":   {},
}

// Coerce converts a raw cell value to a float. It reports false for missing,
// non-finite or unparsable values and never panics.
func Coerce(v any) (float64, bool) {
	f, ok := coerce(v)
	if !ok {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsMissing reports whether a cell holds no value at all: nil, a NaN, or one
// of the textual null spellings. Present but malformed values are not missing.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case []byte:
		return isMissingString(string(x))
	case string:
		return isMissingString(x)
	case sql.NullString:
		return !x.Valid || isMissingString(x.String)
	case sql.NullFloat64:
		return !x.Valid || math.IsNaN(x.Float64)
	case sql.NullInt64:
		return !x.Valid
	case sql.NullTime:
		return !x.Valid
	}
	return false
}

func isMissingString(s string) bool {
	_, ok := missing[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// CoerceAll returns the values that coerce, plus the number that did not.
func CoerceAll(values []any) ([]float64, int) {
	out := make([]float64, 0, len(values))
	failed := 0
	for _, v := range values {
		if f, ok := Coerce(v); ok {
			out = append(out, f)
			continue
		}
		failed++
	}
	return out, failed
}

func coerce(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		return 0, false
	case json.Number:
		return parseString(string(x))
	case sql.NullFloat64:
		return x.Float64, x.Valid
	case sql.NullInt64:
		return float64(x.Int64), x.Valid
	case sql.NullInt32:
		return float64(x.Int32), x.Valid
	case sql.NullString:
		if !x.Valid {
			return 0, false
		}
		return parseString(x.String)
	case []byte:
		return parseString(string(x))
	case string:
		return parseString(x)
	case *float64:
		if x == nil {
			return 0, false
		}
		return *x, true
	case *string:
		if x == nil {
			return 0, false
		}
		return parseString(*x)
	case fmt.Stringer:
		return parseString(x.String())
	default:
		return 0, false
	}
}

func parseString(s string) (float64, bool) {
	if isMissingString(s) {
		return 0, false
	}

	cleaned := Clean(s)
	if cleaned == "" || cleaned == "-" {
		slog.Debug("Value is not numeric", "value", s)
		return 0, false
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		slog.Debug("Value is not numeric", "value", s, "cleaned", cleaned)
		return 0, false
	}
	return f, true
}

// Clean normalizes a numeric string: whitespace and thousands separators are
// removed, only the first decimal point of the mantissa survives, and only a
// leading minus sign is kept. An exponent after e/E keeps its own sign.
func Clean(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || r == ',' {
			continue
		}
		b.WriteRune(r)
	}
	compact := b.String()

	mantissa, exponent := compact, ""
	if i := strings.IndexAny(compact, "eE"); i > 0 {
		mantissa, exponent = compact[:i], compact[i+1:]
	}

	out := cleanMantissa(mantissa)
	if exponent != "" {
		exp := cleanExponent(exponent)
		if exp == "" {
			return out + "e"
		}
		out += "e" + exp
	}
	return out
}

func cleanMantissa(m string) string {
	var b strings.Builder
	seenPoint := false
	for i, r := range m {
		switch {
		case r == '-':
			if i == 0 {
				b.WriteRune(r)
			}
		case r == '+':
			if i != 0 {
				continue
			}
		case r == '.':
			if !seenPoint {
				b.WriteRune(r)
				seenPoint = true
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cleanExponent(e string) string {
	var b strings.Builder
	for i, r := range e {
		if (r == '-' || r == '+') && i > 0 {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
