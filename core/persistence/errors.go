package persistence

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by a collection or database verb
// wraps exactly one of them, so callers can discriminate with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence error")
)

var (
	ErrMissingQuery          = fmt.Errorf("%w: a query is required", ErrValidation)
	ErrInvalidInput          = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrInvalidEvent          = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrDuplicateListener     = fmt.Errorf("%w: listener already registered", ErrValidation)
	ErrCollectionExists      = fmt.Errorf("%w: collection already loaded", ErrValidation)
	ErrInvalidCollectionName = fmt.Errorf("%w: invalid collection name", ErrValidation)
	ErrCollectionDropped     = fmt.Errorf("%w: collection has been removed", ErrValidation)
	ErrReentrantMutation     = fmt.Errorf("%w: mutation from inside a hook", ErrValidation)

	ErrNoMatch            = fmt.Errorf("%w: no record matches the query", ErrNotFound)
	ErrCollectionNotFound = fmt.Errorf("%w: collection is not loaded", ErrNotFound)
)

func persistenceError(op, name string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrPersistence, op, name, err)
}
