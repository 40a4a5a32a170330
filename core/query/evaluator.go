package query

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/asaidimu/go-pocketdb/core/document"
	"go.uber.org/zap"
)

// OperatorFunction evaluates a custom operator against a record. It receives
// the whole record, the field named in the filter and the operand.
type OperatorFunction func(doc document.Document, field string, operand any) (bool, error)

// Evaluator filters, sorts and paginates record sets. It is read-only with
// respect to the records it is given and safe for concurrent use.
type Evaluator struct {
	operators map[Operator]OperatorFunction
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewEvaluator creates a new Evaluator instance.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		operators: make(map[Operator]OperatorFunction),
		logger:    logger,
	}
}

// RegisterOperator registers a custom operator. Built-in operators cannot be
// overridden.
func (e *Evaluator) RegisterOperator(operator Operator, fn OperatorFunction) error {
	if operator.IsBuiltin() {
		return fmt.Errorf("cannot override built-in operator %s", operator)
	}
	if fn == nil {
		return fmt.Errorf("operator %s has no implementation", operator)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operators[operator] = fn
	e.logger.Info("Registered query operator", zap.String("operator", string(operator)))
	return nil
}

// RegisterOperators registers multiple custom operators from a map.
func (e *Evaluator) RegisterOperators(functionMap map[Operator]OperatorFunction) error {
	for operator, fn := range functionMap {
		if err := e.RegisterOperator(operator, fn); err != nil {
			return err
		}
	}
	return nil
}

// Match returns the records selected by q, in their original order. The
// returned slice is always freshly allocated; the records themselves are
// shared with items.
func (e *Evaluator) Match(q Query, items []document.Document) ([]document.Document, error) {
	switch q.kind {
	case KindPredicate:
		matched := make([]document.Document, 0, len(items))
		for _, item := range items {
			if q.predicate(item) {
				matched = append(matched, item)
			}
		}
		return matched, nil
	case KindStructured:
		if len(q.filter) > 0 {
			return e.matchFilter(q.filter, items)
		}
	}

	all := make([]document.Document, len(items))
	copy(all, items)
	return all, nil
}

func (e *Evaluator) matchFilter(filter Filter, items []document.Document) ([]document.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.validateFilter(filter); err != nil {
		return nil, err
	}

	matched := make([]document.Document, 0)
	for _, item := range items {
		passes, err := e.evaluate(item, filter)
		if err != nil {
			return nil, fmt.Errorf("error evaluating filter for record %v: %w", item[document.IDField], err)
		}
		if passes {
			matched = append(matched, item)
		}
	}
	e.logger.Debug("Records remaining after filter", zap.Int("count", len(matched)), zap.Int("scanned", len(items)))
	return matched, nil
}

// validateFilter rejects unknown operators before any record is scanned, so
// the outcome does not depend on the collection's contents.
func (e *Evaluator) validateFilter(filter Filter) error {
	for field, cond := range filter {
		ops, ok := asOperators(cond)
		if !ok {
			continue
		}
		for op := range ops {
			if op.IsBuiltin() {
				continue
			}
			if _, ok := e.operators[op]; !ok {
				return fmt.Errorf("%w: %s on field %q", ErrUnknownOperator, op, field)
			}
		}
	}
	return nil
}

// MatchDocument evaluates a single record against q.
func (e *Evaluator) MatchDocument(q Query, doc document.Document) (bool, error) {
	switch q.kind {
	case KindPredicate:
		return q.predicate(doc), nil
	case KindStructured:
		if len(q.filter) == 0 {
			return true, nil
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		if err := e.validateFilter(q.filter); err != nil {
			return false, err
		}
		return e.evaluate(doc, q.filter)
	default:
		return true, nil
	}
}

// evaluate requires every key of the filter to hold for doc.
func (e *Evaluator) evaluate(doc document.Document, filter Filter) (bool, error) {
	for field, cond := range filter {
		value, present := doc[field]

		ops, isOps := asOperators(cond)
		if !isOps {
			if !present || !truthy(value) || !Equal(value, cond) {
				return false, nil
			}
			continue
		}

		for op, operand := range ops {
			passes, err := e.evaluateOperator(doc, field, value, present, op, operand)
			if err != nil || !passes {
				return false, err
			}
		}
	}
	return true, nil
}

func (e *Evaluator) evaluateOperator(doc document.Document, field string, value any, present bool, op Operator, operand any) (bool, error) {
	if !op.IsBuiltin() {
		return e.operators[op](doc, field, operand)
	}

	if !present || !truthy(value) {
		return false, nil
	}

	switch op {
	case OperatorGt:
		c, ok := Compare(value, operand)
		return ok && c > 0, nil
	case OperatorGte:
		c, ok := Compare(value, operand)
		return ok && c >= 0, nil
	case OperatorLt:
		c, ok := Compare(value, operand)
		return ok && c < 0, nil
	case OperatorLte:
		c, ok := Compare(value, operand)
		return ok && c <= 0, nil
	case OperatorNe:
		return !Equal(value, operand), nil
	case OperatorIn:
		return contains(value, operand), nil
	case OperatorNin:
		return !contains(value, operand), nil
	case OperatorLength:
		seq, ok := asSequence(value)
		if !ok {
			return false, nil
		}
		n, ok := ToFloat64(operand)
		return ok && float64(len(seq)) == n, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
}

// Sort returns a stably sorted copy of items ordered by the field named in
// key. A leading "-" sorts in descending order. Numbers come first, then
// strings, then other values, and records missing the field come last in
// both directions. Values with no natural order among themselves, and ties,
// keep their relative positions.
func (e *Evaluator) Sort(key string, items []document.Document) []document.Document {
	sorted := make([]document.Document, len(items))
	copy(sorted, items)

	field, descending := SortKey(key)
	if field == "" {
		return sorted
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i][field], sorted[j][field]
		ra, rb := sortRank(a), sortRank(b)
		if ra != rb {
			return ra < rb
		}
		c, ok := Compare(a, b)
		if !ok {
			return false
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
	return sorted
}

// Sort ranks. Only values of the same orderable rank are compared.
const (
	rankNumber = iota
	rankString
	rankUnordered
	rankMissing
)

func sortRank(v any) int {
	if v == nil {
		return rankMissing
	}
	if f, ok := ToFloat64(v); ok {
		if math.IsNaN(f) {
			return rankUnordered
		}
		return rankNumber
	}
	if _, ok := v.(string); ok {
		return rankString
	}
	return rankUnordered
}

// Apply filters items with q, then sorts and paginates according to opts.
func (e *Evaluator) Apply(q Query, opts *Options, items []document.Document) ([]document.Document, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	result, err := e.Match(q, items)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		return result, nil
	}

	if opts.Sort != "" {
		result = e.Sort(opts.Sort, result)
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(result) {
			return []document.Document{}, nil
		}
		result = result[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Operators returns the names of the registered custom operators.
func (e *Evaluator) Operators() map[Operator]struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[Operator]struct{}, len(e.operators))
	for op := range maps.Keys(e.operators) {
		out[op] = struct{}{}
	}
	return out
}
