package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func people() []document.Document {
	return []document.Document{
		{"id": int64(1), "name": "Amie", "age": 22, "profession": "Developer", "tags": []any{"go", "db"}},
		{"id": int64(2), "name": "John", "age": 21, "profession": "Designer", "tags": []any{"ux"}},
		{"id": int64(3), "name": "Lisa", "age": 19, "profession": "Developer", "tags": []any{}},
		{"id": int64(4), "name": "Doug", "age": 21, "profession": "Developer", "active": false},
	}
}

func names(docs []document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["name"].(string)
	}
	return out
}

func TestNewEvaluator(t *testing.T) {
	e := NewEvaluator(nil)
	assert.NotNil(t, e)
	assert.NotNil(t, e.operators)
	assert.NotNil(t, e.logger)

	e = NewEvaluator(zap.NewNop())
	assert.NotNil(t, e)
}

func TestEvaluator_RegisterOperator(t *testing.T) {
	e := NewEvaluator(nil)
	fn := func(doc document.Document, field string, operand any) (bool, error) { return true, nil }

	require.NoError(t, e.RegisterOperator("$startsWith", fn))
	assert.Contains(t, e.Operators(), Operator("$startsWith"))

	assert.Error(t, e.RegisterOperator(OperatorGt, fn), "built-ins cannot be overridden")
	assert.Error(t, e.RegisterOperator("$nothing", nil))

	require.NoError(t, e.RegisterOperators(map[Operator]OperatorFunction{"$a": fn, "$b": fn}))
	assert.Len(t, e.Operators(), 3)
}

func TestEvaluator_Match(t *testing.T) {
	e := NewEvaluator(zap.NewNop())
	items := people()

	tests := []struct {
		name     string
		query    Query
		expected []string
	}{
		{"zero query matches all", Query{}, []string{"Amie", "John", "Lisa", "Doug"}},
		{"empty filter matches all", All(), []string{"Amie", "John", "Lisa", "Doug"}},
		{"predicate", Func(func(d document.Document) bool {
			age, _ := ToFloat64(d["age"])
			return age < 21
		}), []string{"Lisa"}},
		{"equality", Where(Filter{"name": "Amie"}), []string{"Amie"}},
		{"equality across numeric types", Where(Filter{"age": float64(21)}), []string{"John", "Doug"}},
		{"all keys must match", Where(Filter{"age": 21, "profession": "Developer"}), []string{"Doug"}},
		{"missing field never matches", Where(Filter{"email": "x"}), []string{}},
		{"falsy field never matches", Where(Filter{"active": false}), []string{}},
		{"range", Where(Filter{"age": Operators{OperatorGt: 19, OperatorLt: 23}}), []string{"Amie", "John", "Doug"}},
		{"gte lte", Where(Filter{"age": map[string]any{"$gte": 21, "$lte": 21}}), []string{"John", "Doug"}},
		{"string comparison", Where(Filter{"name": Operators{OperatorLt: "John"}}), []string{"Amie", "Doug"}},
		{"incomparable types", Where(Filter{"name": Operators{OperatorGt: 1}}), []string{}},
		{"ne", Where(Filter{"profession": Operators{OperatorNe: "Developer"}}), []string{"John"}},
		{"in", Where(Filter{"tags": Operators{OperatorIn: "go"}}), []string{"Amie"}},
		{"in with candidates", Where(Filter{"tags": Operators{OperatorIn: []any{"ux", "db"}}}), []string{"Amie", "John"}},
		{"in scalar field", Where(Filter{"name": Operators{OperatorIn: []any{"Lisa", "Doug"}}}), []string{"Lisa", "Doug"}},
		{"nin", Where(Filter{"tags": Operators{OperatorNin: "go"}}), []string{"John", "Lisa"}},
		{"length", Where(Filter{"tags": Operators{OperatorLength: 2}}), []string{"Amie"}},
		{"length of empty sequence", Where(Filter{"tags": Operators{OperatorLength: 0}}), []string{"Lisa"}},
		{"length of scalar", Where(Filter{"name": Operators{OperatorLength: 4}}), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Match(tt.query, items)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, names(result))
		})
	}
}

func TestEvaluator_MatchReturnsFreshSlice(t *testing.T) {
	e := NewEvaluator(nil)
	items := people()

	all, err := e.Match(All(), items)
	require.NoError(t, err)
	all[0] = document.Document{"name": "Replaced"}
	assert.Equal(t, "Amie", items[0]["name"])
}

func TestEvaluator_UnknownOperator(t *testing.T) {
	e := NewEvaluator(nil)

	_, err := e.Match(Where(Filter{"age": map[string]any{"$regex": "^2"}}), people())
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = e.Match(Where(Filter{"age": map[string]any{"$regex": "^2"}}), nil)
	assert.ErrorIs(t, err, ErrUnknownOperator, "validation does not depend on the record set")
}

func TestEvaluator_CustomOperator(t *testing.T) {
	e := NewEvaluator(nil)
	require.NoError(t, e.RegisterOperator("$prefix", func(doc document.Document, field string, operand any) (bool, error) {
		s, ok := doc[field].(string)
		p, _ := operand.(string)
		return ok && strings.HasPrefix(s, p), nil
	}))

	result, err := e.Match(Where(Filter{"name": Operators{"$prefix": "Li"}}), people())
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisa"}, names(result))

	boom := errors.New("boom")
	require.NoError(t, e.RegisterOperator("$fail", func(document.Document, string, any) (bool, error) {
		return false, boom
	}))
	_, err = e.Match(Where(Filter{"name": Operators{"$fail": true}}), people())
	assert.ErrorIs(t, err, boom)
}

func TestEvaluator_MatchDocument(t *testing.T) {
	e := NewEvaluator(nil)
	doc := people()[0]

	ok, err := e.MatchDocument(Where(Filter{"age": Operators{OperatorGte: 22}}), doc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.MatchDocument(Query{}, doc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.MatchDocument(Func(func(document.Document) bool { return false }), doc)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.MatchDocument(Where(Filter{"age": map[string]any{"$what": 1}}), doc)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestEvaluator_Sort(t *testing.T) {
	e := NewEvaluator(nil)
	items := people()

	asc := e.Sort("age", items)
	assert.Equal(t, []string{"Lisa", "John", "Doug", "Amie"}, names(asc), "ties keep insertion order")

	desc := e.Sort("-age", items)
	assert.Equal(t, []string{"Amie", "John", "Doug", "Lisa"}, names(desc), "ties keep insertion order")

	byName := e.Sort("name", items)
	assert.Equal(t, []string{"Amie", "Doug", "John", "Lisa"}, names(byName))

	unchanged := e.Sort("missing", items)
	assert.Equal(t, names(items), names(unchanged))

	assert.Equal(t, []string{"Amie", "John", "Lisa", "Doug"}, names(items), "input is not reordered")
}

func TestEvaluator_SortMissingAndMixed(t *testing.T) {
	e := NewEvaluator(nil)
	items := []document.Document{
		{"name": "two", "age": 2},
		{"name": "none"},
		{"name": "one", "age": int64(1)},
		{"name": "text", "age": "b"},
		{"name": "null", "age": nil},
		{"name": "flag", "age": true},
		{"name": "half", "age": 1.5},
		{"name": "alpha", "age": "a"},
	}

	tests := []struct {
		key      string
		expected []string
	}{
		{"age", []string{"one", "half", "two", "alpha", "text", "flag", "none", "null"}},
		{"-age", []string{"two", "half", "one", "text", "alpha", "flag", "none", "null"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, names(e.Sort(tt.key, items)))
		})
	}

	short := []document.Document{{"name": "two", "age": 2}, {"name": "none"}, {"name": "one", "age": 1}}
	assert.Equal(t, []string{"one", "two", "none"}, names(e.Sort("age", short)))
}

func TestEvaluator_Apply(t *testing.T) {
	e := NewEvaluator(nil)
	items := people()

	result, err := e.Apply(All(), &Options{Sort: "age"}, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"Lisa", "John", "Doug", "Amie"}, names(result))

	result, err = e.Apply(All(), &Options{Sort: "age", Skip: 1, Limit: 2}, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"John", "Doug"}, names(result))

	result, err = e.Apply(All(), &Options{Skip: 10}, items)
	require.NoError(t, err)
	assert.Empty(t, result)

	result, err = e.Apply(Where(Filter{"profession": "Developer"}), &Options{Sort: "-age", Limit: 1}, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"Amie"}, names(result))

	result, err = e.Apply(Query{}, nil, items)
	require.NoError(t, err)
	assert.Len(t, result, 4)

	_, err = e.Apply(All(), &Options{Limit: -1}, items)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
