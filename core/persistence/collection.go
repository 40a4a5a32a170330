package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/asaidimu/go-pocketdb/metrics"
	"go.uber.org/zap"
)

// Collection is a named, ordered set of records held in memory and mirrored
// to a backing store on every mutation. Each verb is atomic with respect to
// the others. Records handed out are copies.
type Collection struct {
	mu      sync.RWMutex
	name    string
	path    string
	nextID  atomic.Int64
	items   []document.Document
	dropped bool

	// dispatching is set while hooks run under the write lock.
	dispatching atomic.Bool

	backend   Backend
	evaluator *query.Evaluator
	hooks     hooks
	events    emitter
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func newCollection(state *State, db *Database) *Collection {
	c := &Collection{
		name:      state.Name,
		path:      state.Path,
		items:     state.Items,
		backend:   db.backend,
		evaluator: db.evaluator,
		events:    emitter{bus: db.bus, name: state.Name, logger: db.logger},
		metrics:   db.metrics,
		logger:    db.logger.With(zap.String("collection", state.Name)),
	}
	c.nextID.Store(state.NextID)
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Path returns the location of the backing store.
func (c *Collection) Path() string { return c.path }

// NextID returns the id the next inserted record will receive.
func (c *Collection) NextID() int64 { return c.nextID.Load() }

// AddListener registers a hook for one of the lifecycle events. The id must
// be unique per event within this collection.
func (c *Collection) AddListener(event Event, callback HookFunc, id string) error {
	if err := c.hooks.add(event, callback, id); err != nil {
		return err
	}
	c.logger.Debug("Registered listener", zap.String("event", string(event)), zap.String("id", id))
	return nil
}

// RemoveListener removes every listener registered under id.
func (c *Collection) RemoveListener(id string) {
	if n := c.hooks.remove(id); n > 0 {
		c.logger.Debug("Removed listener", zap.String("id", id), zap.Int("count", n))
	}
}

// Listeners returns the registered listeners in registration order.
func (c *Collection) Listeners() []Listener {
	return c.hooks.list()
}

var operationEvents = map[string][3]PersistenceEventType{
	"create": {DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed},
	"read":   {DocumentReadStart, DocumentReadSuccess, DocumentReadFailed},
	"update": {DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed},
	"delete": {DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed},
}

// instrument publishes telemetry around a verb and counts it.
func (c *Collection) instrument(verb, operation string, input, q any, fn func() (any, error)) (any, error) {
	types := operationEvents[operation]
	result, err := c.events.withEventEmission(operation, types[0], types[1], types[2], input, q, fn)
	c.metrics.ObserveOperation(verb, c.name, err)
	return result, err
}

// Find returns copies of the records matching q, ordered and paginated by
// opts. A zero query matches every record.
func (c *Collection) Find(ctx context.Context, q query.Query, opts *query.Options) ([]document.Document, error) {
	result, err := c.instrument("find", "read", opts, q, func() (any, error) {
		return c.find(ctx, q, opts)
	})
	docs, _ := result.([]document.Document)
	return docs, err
}

// FindOne returns the first record Find would return, or nil when nothing
// matches.
func (c *Collection) FindOne(ctx context.Context, q query.Query, opts *query.Options) (document.Document, error) {
	result, err := c.instrument("findOne", "read", opts, q, func() (any, error) {
		docs, err := c.find(ctx, q, opts)
		if err != nil || len(docs) == 0 {
			return document.Document(nil), err
		}
		return docs[0], nil
	})
	doc, _ := result.(document.Document)
	return doc, err
}

// Count returns the number of records Find would return.
func (c *Collection) Count(ctx context.Context, q query.Query, opts *query.Options) (int, error) {
	result, err := c.instrument("count", "read", opts, q, func() (any, error) {
		unlock, err := c.rlock(ctx)
		if err != nil {
			return 0, err
		}
		defer unlock()
		matched, err := c.evaluator.Apply(q, opts, c.items)
		if err != nil {
			return 0, queryError(err)
		}
		return len(matched), nil
	})
	n, _ := result.(int)
	return n, err
}

func (c *Collection) find(ctx context.Context, q query.Query, opts *query.Options) ([]document.Document, error) {
	unlock, err := c.rlock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	matched, err := c.evaluator.Apply(q, opts, c.items)
	if err != nil {
		return nil, queryError(err)
	}
	return document.CloneAll(matched), nil
}

// InsertMany stores the records in input order with consecutive ids and
// returns the stored records. records must be a []document.Document, a
// []map[string]any or a []any of maps. Any id field supplied is overwritten.
func (c *Collection) InsertMany(ctx context.Context, records any) ([]document.Document, error) {
	result, err := c.instrument("insertMany", "create", records, nil, func() (any, error) {
		docs, err := toDocuments(records)
		if err != nil {
			return []document.Document(nil), err
		}
		return c.insert(ctx, docs)
	})
	docs, _ := result.([]document.Document)
	return docs, err
}

// InsertOne stores a single record and returns it with its id.
func (c *Collection) InsertOne(ctx context.Context, record document.Document) (document.Document, error) {
	result, err := c.instrument("insertOne", "create", record, nil, func() (any, error) {
		if record == nil {
			return document.Document(nil), fmt.Errorf("%w: record must not be nil", ErrInvalidInput)
		}
		created, err := c.insert(ctx, []document.Document{record})
		if len(created) == 0 {
			return document.Document(nil), err
		}
		return created[0], err
	})
	doc, _ := result.(document.Document)
	return doc, err
}

func (c *Collection) insert(ctx context.Context, records []document.Document) ([]document.Document, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if len(records) == 0 {
		return []document.Document{}, nil
	}

	next := c.nextID.Load()
	created := make([]document.Document, len(records))
	for i, record := range records {
		created[i] = record.WithID(next + int64(i))
	}

	staged := make([]document.Document, 0, len(c.items)+len(created))
	staged = append(staged, c.items...)
	staged = append(staged, created...)

	committed, err := c.commit(ctx, mutation{
		before:   BeforeSave,
		after:    AfterSave,
		original: records,
		modified: created,
		items:    staged,
		nextID:   next + int64(len(created)),
	})
	if !committed {
		return nil, err
	}
	return document.CloneAll(created), err
}

// UpdateOne merges patch into the first record matching q and returns the
// result. The record keeps its id and its position.
func (c *Collection) UpdateOne(ctx context.Context, q query.Query, patch document.Document) (document.Document, error) {
	result, err := c.instrument("updateOne", "update", patch, q, func() (any, error) {
		return c.updateOne(ctx, q, patch)
	})
	doc, _ := result.(document.Document)
	return doc, err
}

func (c *Collection) updateOne(ctx context.Context, q query.Query, patch document.Document) (document.Document, error) {
	if q.IsZero() {
		return nil, fmt.Errorf("%w: updating a record", ErrMissingQuery)
	}
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	idx, err := c.matchIndexes(q, 1)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w in %s: %s", ErrNoMatch, c.name, q)
	}

	original := c.items[idx[0]]
	updated := original.Merge(patch)
	updated[document.IDField] = original[document.IDField]

	staged := slices.Clone(c.items)
	staged[idx[0]] = updated

	committed, err := c.commit(ctx, mutation{
		before:   BeforeSave,
		after:    AfterSave,
		original: []document.Document{original},
		modified: []document.Document{updated},
		items:    staged,
		nextID:   c.nextID.Load(),
	})
	if !committed {
		return nil, err
	}
	return updated.Clone(), err
}

// RemoveOne removes the first record matching q and returns it.
func (c *Collection) RemoveOne(ctx context.Context, q query.Query) (document.Document, error) {
	result, err := c.instrument("removeOne", "delete", nil, q, func() (any, error) {
		removed, err := c.remove(ctx, q, 1)
		if len(removed) == 0 {
			return document.Document(nil), err
		}
		return removed[0], err
	})
	doc, _ := result.(document.Document)
	return doc, err
}

// Remove removes every record matching q and returns them. A zero query
// empties the collection and restarts ids at 1.
func (c *Collection) Remove(ctx context.Context, q query.Query) ([]document.Document, error) {
	result, err := c.instrument("remove", "delete", nil, q, func() (any, error) {
		if q.IsZero() {
			return c.clear(ctx)
		}
		return c.remove(ctx, q, 0)
	})
	docs, _ := result.([]document.Document)
	return docs, err
}

func (c *Collection) remove(ctx context.Context, q query.Query, limit int) ([]document.Document, error) {
	if q.IsZero() {
		return nil, fmt.Errorf("%w: removing a record", ErrMissingQuery)
	}
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	idx, err := c.matchIndexes(q, limit)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w in %s: %s", ErrNoMatch, c.name, q)
	}

	removed := make([]document.Document, 0, len(idx))
	staged := make([]document.Document, 0, len(c.items)-len(idx))
	next := 0
	for i, item := range c.items {
		if next < len(idx) && idx[next] == i {
			removed = append(removed, item)
			next++
			continue
		}
		staged = append(staged, item)
	}

	committed, err := c.commit(ctx, mutation{
		before:   BeforeRemove,
		after:    AfterRemove,
		original: removed,
		modified: removed,
		items:    staged,
		nextID:   c.nextID.Load(),
	})
	if !committed {
		return nil, err
	}
	return document.CloneAll(removed), err
}

func (c *Collection) clear(ctx context.Context) ([]document.Document, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	removed := c.items
	committed, err := c.commit(ctx, mutation{
		before:   BeforeRemove,
		after:    AfterRemove,
		original: removed,
		modified: removed,
		items:    []document.Document{},
		nextID:   1,
	})
	if !committed {
		return nil, err
	}
	return document.CloneAll(removed), err
}

// mutation is a staged change to the collection state.
type mutation struct {
	before   Event
	after    Event
	original []document.Document
	modified []document.Document
	items    []document.Document
	nextID   int64
}

// commit runs the before hooks, syncs the staged state, swaps it in and runs
// the after hooks. It reports whether the state was swapped in. The caller
// must hold the write lock.
func (c *Collection) commit(ctx context.Context, m mutation) (bool, error) {
	hookCtx := withDispatch(ctx, c)
	if err := c.dispatch(hookCtx, Change{Event: m.before, Original: m.original, Modified: m.modified}); err != nil {
		return false, err
	}

	if err := c.sync(ctx, m.items, m.nextID); err != nil {
		return false, err
	}
	c.items = m.items
	c.nextID.Store(m.nextID)
	c.metrics.SetRecords(c.name, len(m.items))

	if err := c.dispatch(hookCtx, Change{Event: m.after, Original: m.original, Modified: m.modified}); err != nil {
		return true, err
	}
	return true, nil
}

func (c *Collection) dispatch(ctx context.Context, change Change) error {
	c.dispatching.Store(true)
	defer c.dispatching.Store(false)
	return c.hooks.emit(ctx, change)
}

func (c *Collection) sync(ctx context.Context, items []document.Document, nextID int64) error {
	start := time.Now()
	err := c.backend.Sync(ctx, &State{
		Items:  items,
		Name:   c.name,
		NextID: nextID,
		Path:   c.path,
	})
	c.metrics.ObserveSync(c.name, time.Since(start))
	if err != nil {
		c.logger.Error("Failed to sync collection", zap.Error(err))
		return persistenceError("sync", c.name, err)
	}
	return nil
}

// matchIndexes returns the positions of up to limit records matching q. A
// limit of zero returns every match.
func (c *Collection) matchIndexes(q query.Query, limit int) ([]int, error) {
	// Validates the filter even when the collection is empty.
	if _, err := c.evaluator.Match(q, nil); err != nil {
		return nil, queryError(err)
	}
	var idx []int
	for i, item := range c.items {
		ok, err := c.evaluator.MatchDocument(q, item)
		if err != nil {
			return nil, queryError(err)
		}
		if !ok {
			continue
		}
		idx = append(idx, i)
		if limit > 0 && len(idx) == limit {
			break
		}
	}
	return idx, nil
}

// drop deletes the backing store and retires the collection.
func (c *Collection) drop(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if err := c.backend.Remove(ctx, c.name); err != nil {
		return persistenceError("remove", c.name, err)
	}
	c.dropped = true
	c.items = nil
	c.metrics.Forget(c.name)
	return nil
}

// lock takes the write lock. While hooks of this collection are running the
// lock is held by their dispatcher, so callers that cannot get it fail with
// ErrReentrantMutation instead of waiting.
func (c *Collection) lock(ctx context.Context) error {
	if isDispatching(ctx, c) {
		return fmt.Errorf("%w: %s", ErrReentrantMutation, c.name)
	}
	if !c.mu.TryLock() {
		if c.dispatching.Load() {
			return fmt.Errorf("%w: %s is dispatching hooks", ErrReentrantMutation, c.name)
		}
		c.mu.Lock()
	}
	if c.dropped {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCollectionDropped, c.name)
	}
	return nil
}

// rlock takes the read lock unless ctx belongs to a hook of this collection,
// whose dispatcher already holds the write lock. Like lock, it fails instead
// of waiting while hooks are running.
func (c *Collection) rlock(ctx context.Context) (func(), error) {
	if isDispatching(ctx, c) {
		return func() {}, nil
	}
	if !c.mu.TryRLock() {
		if c.dispatching.Load() {
			return nil, fmt.Errorf("%w: %s is dispatching hooks", ErrReentrantMutation, c.name)
		}
		c.mu.RLock()
	}
	if c.dropped {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrCollectionDropped, c.name)
	}
	return c.mu.RUnlock, nil
}

func queryError(err error) error {
	if errors.Is(err, query.ErrUnknownOperator) || errors.Is(err, query.ErrInvalidOptions) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}

func toDocuments(records any) ([]document.Document, error) {
	var docs []document.Document
	switch v := records.(type) {
	case []document.Document:
		docs = v
	case []map[string]any:
		docs = make([]document.Document, len(v))
		for i, m := range v {
			docs[i] = m
		}
	case []any:
		docs = make([]document.Document, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case document.Document:
				docs[i] = m
			case map[string]any:
				docs[i] = m
			default:
				return nil, fmt.Errorf("%w: record %d is %T, not a document", ErrInvalidInput, i, item)
			}
		}
	default:
		return nil, fmt.Errorf("%w: expected a sequence of documents, got %T", ErrInvalidInput, records)
	}

	for i, d := range docs {
		if d == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrInvalidInput, i)
		}
	}
	return docs, nil
}
