package query

import (
	"cmp"
	"math"
	"reflect"
	"strings"
)

// ToFloat64 converts a value of any Go numeric type to a float64. It returns
// the converted value and whether the input was numeric. Strings are never
// treated as numbers.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// toInteger returns integer values as int64. Floats and unsigned values
// beyond the int64 range are not integers here.
func toInteger(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		if uint64(val) > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	default:
		return 0, false
	}
}

// Equal reports whether two record values are equal. Numbers compare by value
// regardless of their Go type: two integers exactly, mixed pairs as float64.
// Sequences and maps compare element-wise.
func Equal(a, b any) bool {
	if ai, ok := toInteger(a); ok {
		if bi, ok := toInteger(b); ok {
			return ai == bi
		}
	}
	if af, ok := ToFloat64(a); ok {
		bf, ok := ToFloat64(b)
		return ok && af == bf
	}

	if as, ok := asSequence(a); ok {
		bs, ok := asSequence(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, present := bm[k]
			if !present || !Equal(av, bv) {
				return false
			}
		}
		return true
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// Compare orders two values using natural ordering: numbers numerically and
// strings lexicographically. The boolean is false when the pair has no
// natural order.
func Compare(a, b any) (int, bool) {
	if ai, ok := toInteger(a); ok {
		if bi, ok := toInteger(b); ok {
			return cmp.Compare(ai, bi), true
		}
	}
	if af, ok := ToFloat64(a); ok {
		bf, ok := ToFloat64(b)
		if !ok || math.IsNaN(af) || math.IsNaN(bf) {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// truthy mirrors the presence check applied before any field comparison:
// nil, false, zero, NaN and the empty string never match.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}
	return true
}

// asSequence returns v as a []any when it is a slice or array.
func asSequence(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap returns v as a map[string]any when it is a string-keyed map.
func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// contains implements $in: membership of the operand in a sequence-valued
// field. A sequence operand matches when any of its elements is present; a
// scalar field is tested against a sequence operand.
func contains(field, operand any) bool {
	if seq, ok := asSequence(field); ok {
		if candidates, ok := asSequence(operand); ok {
			for _, c := range candidates {
				if containsValue(seq, c) {
					return true
				}
			}
			return false
		}
		return containsValue(seq, operand)
	}
	if candidates, ok := asSequence(operand); ok {
		return containsValue(candidates, field)
	}
	return false
}

func containsValue(seq []any, v any) bool {
	for _, item := range seq {
		if Equal(item, v) {
			return true
		}
	}
	return false
}
