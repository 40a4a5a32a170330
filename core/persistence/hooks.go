package persistence

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/asaidimu/go-pocketdb/core/document"
)

// Event names a point in the mutation lifecycle at which listeners run.
type Event string

const (
	BeforeSave   Event = "beforeSave"
	AfterSave    Event = "afterSave"
	BeforeRemove Event = "beforeRemove"
	AfterRemove  Event = "afterRemove"
)

// IsValid reports whether e is one of the four lifecycle events.
func (e Event) IsValid() bool {
	switch e {
	case BeforeSave, AfterSave, BeforeRemove, AfterRemove:
		return true
	}
	return false
}

// Change is the payload handed to listeners. For saves Original holds the
// records as supplied or as they were before the update and Modified holds
// the records as stored. For removals both hold the removed records.
type Change struct {
	Event    Event               `json:"event"`
	Original []document.Document `json:"original"`
	Modified []document.Document `json:"modified"`
}

// HookFunc is invoked synchronously during a mutation, while the collection's
// write lock is held. Returning an error from a before hook aborts the
// mutation. The context passed in is marked with the dispatching collection:
// reads of that collection with it succeed, mutations with it fail with
// ErrReentrantMutation. Any verb reaching the collection with another context
// while hooks run, from the hook or from another goroutine, also fails with
// ErrReentrantMutation rather than waiting for the lock.
type HookFunc func(ctx context.Context, change Change) error

// Listener is a registered hook.
type Listener struct {
	Event    Event    `json:"event"`
	ID       string   `json:"id"`
	Callback HookFunc `json:"-"`
}

// hooks is the per-collection listener registry. It is guarded separately
// from the collection state so that listeners may register or remove
// listeners while a mutation is dispatching.
type hooks struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (h *hooks) add(event Event, callback HookFunc, id string) error {
	if !event.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}
	if id == "" {
		return fmt.Errorf("%w: listener id must not be empty", ErrInvalidInput)
	}
	if callback == nil {
		return fmt.Errorf("%w: listener %q has no callback", ErrInvalidInput, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		if l.Event == event && l.ID == id {
			return fmt.Errorf("%w: %q on %s", ErrDuplicateListener, id, event)
		}
	}
	h.listeners = append(h.listeners, Listener{Event: event, ID: id, Callback: callback})
	return nil
}

func (h *hooks) remove(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	before := len(h.listeners)
	h.listeners = slices.DeleteFunc(h.listeners, func(l Listener) bool { return l.ID == id })
	return before - len(h.listeners)
}

func (h *hooks) list() []Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.listeners)
}

// emit runs the listeners registered for change.Event in registration order.
// The first error stops dispatch.
func (h *hooks) emit(ctx context.Context, change Change) error {
	for _, l := range h.list() {
		if l.Event != change.Event {
			continue
		}
		payload := Change{
			Event:    change.Event,
			Original: document.CloneAll(change.Original),
			Modified: document.CloneAll(change.Modified),
		}
		if err := l.Callback(ctx, payload); err != nil {
			return fmt.Errorf("%s listener %q failed: %w", change.Event, l.ID, err)
		}
	}
	return nil
}

type dispatchKey struct {
	c *Collection
}

// withDispatch marks ctx as belonging to a hook dispatched by c.
func withDispatch(ctx context.Context, c *Collection) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, dispatchKey{c}, true)
}

func isDispatching(ctx context.Context, c *Collection) bool {
	if ctx == nil {
		return false
	}
	marked, _ := ctx.Value(dispatchKey{c}).(bool)
	return marked
}
