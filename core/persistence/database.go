// Package persistence implements pocketdb collections: in-memory record sets
// mirrored to a pluggable backend, lifecycle hooks around every mutation and
// a telemetry bus observing every operation.
package persistence

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/query"
	"github.com/asaidimu/go-pocketdb/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Database is a registry of named collections under a root directory.
type Database struct {
	root        string
	mu          sync.RWMutex
	collections map[string]*Collection

	backend   Backend
	codec     Codec
	evaluator *query.Evaluator
	metrics   *metrics.Collector
	logger    *zap.Logger

	bus           *events.TypedEventBus[PersistenceEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithBackend replaces the default file backend.
func WithBackend(backend Backend) Option {
	return func(db *Database) { db.backend = backend }
}

// WithCodec selects the codec of the default file backend. It has no effect
// together with WithBackend.
func WithCodec(codec Codec) Option {
	return func(db *Database) { db.codec = codec }
}

// WithEvaluator shares an evaluator, typically one with custom operators.
func WithEvaluator(evaluator *query.Evaluator) Option {
	return func(db *Database) { db.evaluator = evaluator }
}

// WithMetrics records operation metrics on the collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(db *Database) { db.metrics = collector }
}

// NewDatabase opens a database rooted at root, creating the directory if it
// does not exist. Unless WithBackend is given, collections are stored as
// <root>/<name>.db JSON files.
func NewDatabase(root string, opts ...Option) (*Database, error) {
	db := &Database{
		root:          root,
		collections:   make(map[string]*Collection),
		logger:        zap.NewNop(),
		subscriptions: make(map[string]*SubscriptionInfo),
	}
	for _, opt := range opts {
		opt(db)
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		db.logger.Info("Creating a new database", zap.String("root", root))
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database root %s: %w", ErrPersistence, root, err)
	}

	if db.backend == nil {
		backend, err := NewFileBackend(root, db.codec, db.logger)
		if err != nil {
			return nil, err
		}
		db.backend = backend
	}
	if db.evaluator == nil {
		db.evaluator = query.NewEvaluator(db.logger)
	}

	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	db.bus = bus

	return db, nil
}

// Root returns the database root directory.
func (db *Database) Root() string { return db.root }

// Evaluator returns the evaluator shared by all collections.
func (db *Database) Evaluator() *query.Evaluator { return db.evaluator }

// CollectionPath returns where the named collection is stored. It does not
// touch the backend.
func (db *Database) CollectionPath(name string) string {
	return db.backend.Path(name)
}

// LoadCollection loads the named collection from its backing store, or
// creates it empty when no store exists, and registers it.
func (db *Database) LoadCollection(ctx context.Context, name string) (*Collection, error) {
	start := time.Now()
	c, err := db.loadCollection(ctx, name)
	if err != nil {
		errStr := err.Error()
		db.emit(createEvent(CollectionCreateFailed, "loadCollection", name, name, nil, nil, &errStr, start))
		return nil, err
	}
	db.emit(createEvent(CollectionCreateSuccess, "loadCollection", name, name, c.Path(), nil, nil, start))
	return c, nil
}

func (db *Database) loadCollection(ctx context.Context, name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	exists, err := db.backend.Exists(ctx, name)
	if err != nil {
		return nil, persistenceError("stat", name, err)
	}

	var state *State
	if exists {
		state, err = db.backend.Load(ctx, name)
		if err != nil {
			return nil, persistenceError("load", name, err)
		}
	} else {
		state = &State{Items: []document.Document{}, Name: name, NextID: 1}
	}
	state.Name = name
	state.Path = db.backend.Path(name)

	c := newCollection(state, db)
	if !exists {
		if err := c.sync(ctx, c.items, state.NextID); err != nil {
			return nil, err
		}
	}
	db.metrics.SetRecords(name, len(c.items))
	db.collections[name] = c

	db.logger.Info("Loaded collection",
		zap.String("collection", name),
		zap.String("path", state.Path),
		zap.Bool("existing", exists),
		zap.Int("records", len(state.Items)),
	)
	return c, nil
}

// Collection returns a loaded collection.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// Collections returns the names of the loaded collections, sorted.
func (db *Database) Collections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RemoveCollection deletes a loaded collection's backing store and
// unregisters it. The removed collection rejects further verbs.
func (db *Database) RemoveCollection(ctx context.Context, name string) error {
	start := time.Now()
	err := db.removeCollection(ctx, name)
	if err != nil {
		errStr := err.Error()
		db.emit(createEvent(CollectionDeleteFailed, "removeCollection", name, name, nil, nil, &errStr, start))
		return err
	}
	db.emit(createEvent(CollectionDeleteSuccess, "removeCollection", name, name, nil, nil, nil, start))
	return nil
}

func (db *Database) removeCollection(ctx context.Context, name string) error {
	c, err := db.Collection(name)
	if err != nil {
		return err
	}
	// The registry lock is not held while dropping: hooks running under the
	// collection lock may look up collections.
	if err := c.drop(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	if db.collections[name] == c {
		delete(db.collections, name)
	}
	db.mu.Unlock()

	db.logger.Info("Removed collection", zap.String("collection", name))
	return nil
}

// Close releases the backend. Loaded collections must not be used afterwards.
func (db *Database) Close() error {
	db.subMu.Lock()
	for id, info := range db.subscriptions {
		info.Unsubscribe()
		delete(db.subscriptions, id)
	}
	db.subMu.Unlock()
	return db.backend.Close()
}

// RegisterSubscription registers a callback for a telemetry event. It returns
// a unique ID that can be used to unregister the subscription later.
func (db *Database) RegisterSubscription(options RegisterSubscriptionOptions) string {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	callback := options.Callback
	unsubscribe := db.bus.Subscribe(string(options.Event), func(ctx context.Context, event PersistenceEvent) error {
		return callback(ctx, event)
	})
	id := uuid.New().String()

	db.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	db.emit(createEvent(SubscriptionRegister, "registerSubscription", "", map[string]any{
		"event": options.Event,
		"label": options.Label,
	}, map[string]any{"subscriptionId": id}, nil, nil, time.Time{}))
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (db *Database) UnregisterSubscription(id string) {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	if info, ok := db.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(db.subscriptions, id)
		db.emit(createEvent(SubscriptionUnregister, "unregisterSubscription", "", map[string]any{
			"subscriptionId": id,
		}, nil, nil, nil, time.Time{}))
	}
}

// Subscriptions returns a list of all currently active subscriptions.
func (db *Database) Subscriptions() []SubscriptionInfo {
	db.subMu.RLock()
	defer db.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(db.subscriptions))
	for _, sub := range db.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}

func (db *Database) emit(event PersistenceEvent) {
	if db.bus != nil {
		db.bus.Emit(string(event.Type), event)
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidCollectionName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, os.PathSeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}
