package persistence

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/query"
)

// FindAs runs Find and decodes every result into T using its json tags.
func FindAs[T any](ctx context.Context, c *Collection, q query.Query, opts *query.Options) ([]T, error) {
	docs, err := c.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := document.To[T](d)
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %v: %w", d[document.IDField], err)
		}
		out = append(out, v)
	}
	return out, nil
}

// InsertStruct encodes v into a record, inserts it and decodes the stored
// record, id included, back into T.
func InsertStruct[T any](ctx context.Context, c *Collection, v T) (T, error) {
	var zero T
	record, err := document.FromStruct(v)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	stored, err := c.InsertOne(ctx, record)
	if stored == nil {
		return zero, err
	}
	out, decodeErr := document.To[T](stored)
	if decodeErr != nil {
		return zero, fmt.Errorf("failed to decode stored record: %w", decodeErr)
	}
	return out, err
}
