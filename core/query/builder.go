package query

// SortDirection specifies the direction for sorting.
type SortDirection string

// Supported sort directions.
const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// QueryBuilder provides a fluent API for building structured queries and
// their options.
//
//	q := NewQueryBuilder().Where("age").Gt(19).Where("age").Lt(23).OrderByDesc("age")
//	docs, err := collection.Find(ctx, q.Build(), q.Options())
type QueryBuilder struct {
	filter  Filter
	options Options
}

// NewQueryBuilder creates a new, empty query builder instance.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{filter: Filter{}}
}

// Build returns the structured query assembled so far. The returned query
// does not share state with the builder.
func (qb *QueryBuilder) Build() Query {
	return Where(cloneFilter(qb.filter))
}

// Options returns the sort and pagination options assembled so far.
func (qb *QueryBuilder) Options() *Options {
	opts := qb.options
	return &opts
}

// Clone creates an independent copy of the builder.
func (qb *QueryBuilder) Clone() *QueryBuilder {
	return &QueryBuilder{
		filter:  cloneFilter(qb.filter),
		options: qb.options,
	}
}

// Reset clears all conditions and options.
func (qb *QueryBuilder) Reset() *QueryBuilder {
	qb.filter = Filter{}
	qb.options = Options{}
	return qb
}

func cloneFilter(f Filter) Filter {
	out := make(Filter, len(f))
	for field, cond := range f {
		if ops, ok := cond.(Operators); ok {
			copied := make(Operators, len(ops))
			for op, operand := range ops {
				copied[op] = operand
			}
			out[field] = copied
			continue
		}
		out[field] = cond
	}
	return out
}

// Where begins a condition on a field. Several operator conditions on the
// same field are combined; an equality condition replaces them.
func (qb *QueryBuilder) Where(field string) *FilterConditionBuilder {
	return &FilterConditionBuilder{parent: qb, field: field}
}

// FilterConditionBuilder builds a single field condition.
type FilterConditionBuilder struct {
	parent *QueryBuilder
	field  string
}

// Eq adds an equality condition.
func (fcb *FilterConditionBuilder) Eq(value any) *QueryBuilder {
	fcb.parent.filter[fcb.field] = value
	return fcb.parent
}

// Ne adds a not-equal condition.
func (fcb *FilterConditionBuilder) Ne(value any) *QueryBuilder {
	return fcb.addCondition(OperatorNe, value)
}

// Lt adds a less-than condition.
func (fcb *FilterConditionBuilder) Lt(value any) *QueryBuilder {
	return fcb.addCondition(OperatorLt, value)
}

// Lte adds a less-than-or-equal condition.
func (fcb *FilterConditionBuilder) Lte(value any) *QueryBuilder {
	return fcb.addCondition(OperatorLte, value)
}

// Gt adds a greater-than condition.
func (fcb *FilterConditionBuilder) Gt(value any) *QueryBuilder {
	return fcb.addCondition(OperatorGt, value)
}

// Gte adds a greater-than-or-equal condition.
func (fcb *FilterConditionBuilder) Gte(value any) *QueryBuilder {
	return fcb.addCondition(OperatorGte, value)
}

// In requires the sequence-valued field to contain the value. With several
// values, any of them suffices.
func (fcb *FilterConditionBuilder) In(values ...any) *QueryBuilder {
	return fcb.addCondition(OperatorIn, operandOf(values))
}

// Nin requires the sequence-valued field to contain none of the values.
func (fcb *FilterConditionBuilder) Nin(values ...any) *QueryBuilder {
	return fcb.addCondition(OperatorNin, operandOf(values))
}

// Length requires the sequence-valued field to hold exactly n elements.
func (fcb *FilterConditionBuilder) Length(n int) *QueryBuilder {
	return fcb.addCondition(OperatorLength, n)
}

// Custom adds a condition using an operator registered on the evaluator.
func (fcb *FilterConditionBuilder) Custom(operator Operator, value any) *QueryBuilder {
	return fcb.addCondition(operator, value)
}

func operandOf(values []any) any {
	if len(values) == 1 {
		return values[0]
	}
	return values
}

func (fcb *FilterConditionBuilder) addCondition(operator Operator, value any) *QueryBuilder {
	ops, ok := fcb.parent.filter[fcb.field].(Operators)
	if !ok {
		ops = Operators{}
		fcb.parent.filter[fcb.field] = ops
	}
	ops[operator] = value
	return fcb.parent
}

// OrderBy sets the sort field and direction.
func (qb *QueryBuilder) OrderBy(field string, direction SortDirection) *QueryBuilder {
	if direction == SortDirectionDesc {
		qb.options.Sort = "-" + field
	} else {
		qb.options.Sort = field
	}
	return qb
}

// OrderByAsc sorts ascending by field.
func (qb *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionAsc)
}

// OrderByDesc sorts descending by field.
func (qb *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	return qb.OrderBy(field, SortDirectionDesc)
}

// Limit sets the maximum number of records to be returned.
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.options.Limit = limit
	return qb
}

// Offset sets how many sorted records are skipped.
func (qb *QueryBuilder) Offset(offset int) *QueryBuilder {
	qb.options.Skip = offset
	return qb
}
