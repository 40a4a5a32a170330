// Package document defines the schema-less record type stored in collections
// and the helpers used to copy, identify and convert records.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/asaidimu/go-pocketdb/utils"
)

// IDField is the reserved field holding a record's store-assigned identity.
const IDField = "id"

// Document is a single schema-less record. Values are strings, numbers,
// booleans, nil, nested map[string]any values or []any sequences.
type Document map[string]any

// ID returns the record's identity and whether a valid positive id is present.
func (d Document) ID() (int64, bool) {
	if d == nil {
		return 0, false
	}
	id, ok := ToInt64(d[IDField])
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// WithID returns a deep copy of the document carrying the given id. Any id
// already present is overwritten.
func (d Document) WithID(id int64) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	out[IDField] = id
	return out
}

// Merge returns a deep copy of d with every field of patch applied on top.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneAll deep copies every document of the slice. A nil slice yields an
// empty, non-nil slice.
func CloneAll(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case Document:
		return map[string]any(val.Clone())
	case map[string]any:
		return map[string]any(Document(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	default:
		return v
	}
}

// Normalize rewrites decoded values into the canonical in-memory shapes:
// maps keyed by arbitrary values become map[string]any, nested documents
// become map[string]any and sequences become []any. Integers decoded as
// json.Number or uint64 become int64 when they fit, so they keep their full
// precision. The id field of a record is always held as int64.
func Normalize(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = normalizeValue(v)
	}
	if id, ok := ToInt64(out[IDField]); ok {
		out[IDField] = id
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case Document:
		return map[string]any(Normalize(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val)
		}
		return val
	default:
		return v
	}
}

// ToInt64 converts integral numeric values to int64. Floats are accepted only
// when they hold a whole number.
func ToInt64(v any) (int64, bool) {
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
	case float32:
		f := float64(val)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int64(val), true
	case json.Number:
		i, err := val.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// FromStruct converts a struct into a Document using its json tags.
func FromStruct[T any](v T) (Document, error) {
	m, err := utils.StructToMap(v)
	if err != nil {
		return nil, err
	}
	return Normalize(Document(m)), nil
}

// To decodes a Document into the struct type T using its json tags.
func To[T any](d Document) (T, error) {
	return utils.MapToStruct[T](d)
}
