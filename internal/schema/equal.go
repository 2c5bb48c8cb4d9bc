package schema

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/roach88/patchwork/internal/mutation"
)

// Equal reports whether two field values are equal under the property's
// declared type. Integer-typed comparison coerces both sides: whole-number
// floats and numeric strings compare by their integer part, so 40, 40.9,
// and "40.2" are all equal to 40. When neither side coerces, comparison
// falls back to deep equality, which keeps Equal reflexive for any input.
func Equal(v1, v2 any, prop Property) bool {
	if prop.Type == TypeInteger {
		i1, ok1 := coerceInt(v1)
		i2, ok2 := coerceInt(v2)
		switch {
		case ok1 && ok2:
			return i1 == i2
		case ok1 != ok2:
			return false
		}
		// Neither side is numeric; fall through to deep equality.
	}
	return reflect.DeepEqual(v1, v2)
}

// coerceInt extracts the integer part of a numeric value or a string with
// a leading numeric prefix, truncating toward zero.
func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		return parseLeadingInt(n)
	default:
		return 0, false
	}
}

// parseLeadingInt parses the leading integer of a decimal string:
// "40" → 40, "1.9" → 1, "12abc" → 12, "abc" → no value.
func parseLeadingInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == end {
		return 0, false
	}
	i, err := strconv.ParseInt(s[:digits], 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// Diff returns the subset of patch whose values differ, per typed
// equality, from the corresponding fields of instance. Fields absent from
// the definition are dropped. A nil instance diffs as empty.
func Diff(patch, instance mutation.Instance, def Definition) mutation.Instance {
	diff := mutation.Instance{}
	for key, newValue := range patch {
		prop, known := def.Properties[key]
		if !known {
			continue
		}
		oldValue, present := instance[key]
		if !present {
			diff[key] = newValue
			continue
		}
		if !Equal(oldValue, newValue, prop) {
			diff[key] = newValue
		}
	}
	return diff
}
