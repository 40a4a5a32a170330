package persistence

import (
	"context"

	"github.com/asaidimu/go-pocketdb/core/document"
)

// State is the persisted form of a collection.
type State struct {
	Items  []document.Document `json:"items"`
	Name   string              `json:"name"`
	NextID int64               `json:"nextID"`
	Path   string              `json:"path"`
}

// normalize puts decoded state into its canonical in-memory shape.
func (s *State) normalize() {
	for i, item := range s.Items {
		s.Items[i] = document.Normalize(item)
	}
	if s.Items == nil {
		s.Items = []document.Document{}
	}
	if s.NextID < 1 {
		s.NextID = 1
	}
}

// Backend synchronizes collection state with durable storage. Sync must be
// atomic: after a crash the stored state is either the previous or the new
// one, never a mix.
type Backend interface {
	// Path returns the location of a collection's backing store.
	Path(name string) string
	Exists(ctx context.Context, name string) (bool, error)
	Load(ctx context.Context, name string) (*State, error)
	Sync(ctx context.Context, state *State) error
	// Remove deletes the backing store. Removing a missing store is not an error.
	Remove(ctx context.Context, name string) error
	Close() error
}
