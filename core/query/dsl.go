// Package query defines how records of a collection are selected and ordered.
// A Query is either a predicate function or a structured filter mapping field
// names to literals and operator sets; Options add sorting and pagination.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/utils"
)

var (
	// ErrUnknownOperator is returned when a structured filter references an
	// operator that is neither built in nor registered on the evaluator.
	ErrUnknownOperator = errors.New("unknown query operator")
	// ErrInvalidOptions is returned for negative skip or limit values.
	ErrInvalidOptions = errors.New("invalid query options")
)

// Operator names a comparison applied to a single field.
type Operator string

// Built-in operators.
const (
	OperatorGt     Operator = "$gt"
	OperatorGte    Operator = "$gte"
	OperatorLt     Operator = "$lt"
	OperatorLte    Operator = "$lte"
	OperatorNe     Operator = "$ne"
	OperatorIn     Operator = "$in"
	OperatorNin    Operator = "$nin"
	OperatorLength Operator = "$length"
)

var builtinOperators = map[Operator]struct{}{
	OperatorGt:     {},
	OperatorGte:    {},
	OperatorLt:     {},
	OperatorLte:    {},
	OperatorNe:     {},
	OperatorIn:     {},
	OperatorNin:    {},
	OperatorLength: {},
}

// IsBuiltin reports whether the operator is evaluated natively.
func (o Operator) IsBuiltin() bool {
	_, ok := builtinOperators[o]
	return ok
}

// Operators is a set of operator conditions that must all hold for a field.
type Operators map[Operator]any

// Filter maps field names to either a literal value (equality) or an operator
// set. A plain map[string]any whose keys all start with "$" is also treated as
// an operator set, which is the shape produced by decoding JSON queries.
type Filter map[string]any

// Predicate selects records with arbitrary Go logic.
type Predicate func(doc document.Document) bool

// Kind tags the variant held by a Query.
type Kind int

const (
	// KindNone is the zero Query: no query was supplied.
	KindNone Kind = iota
	// KindPredicate holds a Predicate.
	KindPredicate
	// KindStructured holds a Filter.
	KindStructured
)

// Query is a tagged variant: a predicate, a structured filter, or nothing.
// The zero value means "no query" and matches every record when reading.
type Query struct {
	kind      Kind
	predicate Predicate
	filter    Filter
}

// All returns a structured query with no conditions.
func All() Query {
	return Query{kind: KindStructured, filter: Filter{}}
}

// Where returns a structured query over the given filter. A nil filter
// matches every record.
func Where(filter Filter) Query {
	if filter == nil {
		filter = Filter{}
	}
	return Query{kind: KindStructured, filter: filter}
}

// Func returns a predicate query. A nil predicate yields the zero Query.
func Func(p Predicate) Query {
	if p == nil {
		return Query{}
	}
	return Query{kind: KindPredicate, predicate: p}
}

// Kind returns the variant held by the query.
func (q Query) Kind() Kind { return q.kind }

// IsZero reports whether no query was supplied.
func (q Query) IsZero() bool { return q.kind == KindNone }

// Filter returns the structured filter, or nil for other variants.
func (q Query) Filter() Filter { return q.filter }

// Predicate returns the predicate, or nil for other variants.
func (q Query) Predicate() Predicate { return q.predicate }

// predicatePlaceholder stands in for predicate queries, which cannot be
// serialized. It needs no HTML escaping so json.Marshal and String agree.
const predicatePlaceholder = `"predicate"`

// MarshalJSON renders the query for logs and telemetry.
func (q Query) MarshalJSON() ([]byte, error) {
	switch q.kind {
	case KindPredicate:
		return []byte(predicatePlaceholder), nil
	case KindStructured:
		return json.Marshal(map[string]any(q.filter))
	default:
		return []byte("null"), nil
	}
}

// String implements fmt.Stringer.
func (q Query) String() string {
	b, err := q.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid query: %v>", err)
	}
	return string(b)
}

// Options control ordering and pagination of query results.
type Options struct {
	// Sort is a field name, prefixed with "-" for descending order.
	Sort string `json:"sort,omitempty" yaml:"sort,omitempty"`
	// Skip drops that many results after sorting.
	Skip int `json:"skip,omitempty" yaml:"skip,omitempty"`
	// Limit caps the number of results; zero means no limit.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Validate rejects negative pagination values.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.Skip < 0 {
		return fmt.Errorf("%w: skip must be non-negative, got %d", ErrInvalidOptions, o.Skip)
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidOptions, o.Limit)
	}
	return nil
}

// SortKey splits a sort specification into its field and direction.
func SortKey(key string) (field string, descending bool) {
	if strings.HasPrefix(key, "-") {
		return key[1:], true
	}
	return key, false
}

// ParseFilter decodes a JSON object into a Filter. Empty input yields an
// empty filter. Integers decode as int64 and other numbers as float64.
func ParseFilter(data []byte) (Filter, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Filter{}, nil
	}
	var f Filter
	if err := utils.DecodeJSON(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse query filter: %w", err)
	}
	if f == nil {
		return Filter{}, nil
	}
	return Filter(document.Normalize(document.Document(f))), nil
}

// asOperators reports whether a filter value is an operator set and returns
// it in canonical form.
func asOperators(v any) (Operators, bool) {
	switch val := v.(type) {
	case Operators:
		return val, len(val) > 0
	case map[Operator]any:
		return Operators(val), len(val) > 0
	case map[string]any:
		if len(val) == 0 {
			return nil, false
		}
		ops := make(Operators, len(val))
		for k, operand := range val {
			if !strings.HasPrefix(k, "$") {
				return nil, false
			}
			ops[Operator(k)] = operand
		}
		return ops, true
	default:
		return nil, false
	}
}
