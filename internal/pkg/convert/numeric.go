// Package convert provides loose numeric coercion for LLM-produced payloads.
package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 converts various numeric types to float64.
// Returns 0 for unsupported types or parse failures.
func ToFloat64(v any) float64 {
	f, _ := OptionalFloat(v)
	return f
}

// OptionalFloat reports whether v holds a usable finite number.
// Strings such as " 101.5 ", "1,250.5" and "3x" are accepted.
func OptionalFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// OptionalInt coerces leverage-like values ("10x", 10.0, "5") to int, truncating fractions.
func OptionalInt(v any) (int, bool) {
	f, ok := OptionalFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
