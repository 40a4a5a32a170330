// Package utils holds conversion helpers shared by the document and persistence
// packages. They bridge typed Go structs and the schema-less map
// representation used for stored records.
package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
)

// DecodeJSON decodes a single JSON value into v, keeping numbers as
// json.Number so integers beyond 2^53 are not rounded through float64.
// Anything after the value other than whitespace is an error.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return err
		}
		return fmt.Errorf("unexpected data after JSON value at offset %d", dec.InputOffset())
	}
	return nil
}

// StructToMap converts a Go struct into a map[string]any.
//
// The struct is marshaled to JSON and decoded back into a map, so `json:"tag"`
// annotations and `omitempty` are respected. Nested structs become nested
// map[string]any values and slices become []any, which keeps them reachable by
// the query evaluator. Numbers are returned as json.Number.
//
// The input must be a struct or a non-nil pointer to a struct.
//
// Example:
//
//	type Person struct {
//		Name string `json:"name"`
//		Age  int    `json:"age"`
//	}
//	m, err := StructToMap(Person{Name: "Amie", Age: 22})
//	// m == map[string]any{"name": "Amie", "age": json.Number("22")}
func StructToMap[T any](record T) (map[string]any, error) {
	val := reflect.ValueOf(record)

	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}

	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal input record to JSON: %w", err)
	}

	var result map[string]any
	if err := DecodeJSON(jsonBytes, &result); err != nil {
		return nil, fmt.Errorf("StructToMap: failed to unmarshal JSON to map[string]any: %w", err)
	}

	return result, nil
}

// MapToStruct is the inverse of StructToMap. It converts a map[string]any into
// a new instance of T, which must be a struct type or a pointer to one.
//
// Example:
//
//	type Person struct {
//		ID   int64  `json:"id"`
//		Name string `json:"name"`
//	}
//	p, err := MapToStruct[Person](map[string]any{"id": int64(1), "name": "Sam"})
//	// p == Person{ID: 1, Name: "Sam"}
func MapToStruct[T any](input map[string]any) (T, error) {
	var zero T

	if input == nil {
		return zero, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ == nil {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got interface")
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to marshal input map to JSON: %w", err)
	}

	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to unmarshal JSON to target struct: %w", err)
	}

	return result, nil
}
