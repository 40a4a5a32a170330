// Package sqlite provides a persistence.Backend storing every collection as a
// row of a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/asaidimu/go-pocketdb/core/document"
	"github.com/asaidimu/go-pocketdb/core/persistence"
	"github.com/asaidimu/go-pocketdb/utils"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// FileName is the database file created under a database root.
const FileName = "pocket.sqlite"

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS pocket_collections (
	name TEXT PRIMARY KEY,
	next_id INTEGER NOT NULL,
	items TEXT NOT NULL
)`
	existsSQL = `SELECT 1 FROM pocket_collections WHERE name = ?`
	loadSQL   = `SELECT next_id, items FROM pocket_collections WHERE name = ?`
	upsertSQL = `INSERT INTO pocket_collections (name, next_id, items) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET next_id = excluded.next_id, items = excluded.items`
	deleteSQL = `DELETE FROM pocket_collections WHERE name = ?`
)

// Backend implements persistence.Backend on SQLite. Each sync replaces a
// collection's row inside a transaction.
type Backend struct {
	db     *sql.DB
	path   string
	owned  bool
	logger *zap.Logger
}

// Ensure Backend implements the persistence.Backend interface.
var _ persistence.Backend = (*Backend)(nil)

// Open opens or creates <root>/pocket.sqlite. The returned backend owns the
// connection and closes it on Close.
func Open(ctx context.Context, root string, logger *zap.Logger) (*Backend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database root %s: %w", root, err)
	}
	path := filepath.Join(root, FileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	b, err := NewBackend(ctx, db, path, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.owned = true
	return b, nil
}

// NewBackend creates a backend on an existing connection, creating the
// collections table if needed. path is reported as every collection's
// location.
func NewBackend(ctx context.Context, db *sql.DB, path string, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create collections table: %w", err)
	}
	return &Backend{db: db, path: path, logger: logger}, nil
}

func (b *Backend) Path(name string) string {
	return b.path
}

func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, existsSQL, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up collection %s: %w", name, err)
	}
	return true, nil
}

func (b *Backend) Load(ctx context.Context, name string) (*persistence.State, error) {
	var (
		nextID int64
		raw    string
	)
	if err := b.db.QueryRowContext(ctx, loadSQL, name).Scan(&nextID, &raw); err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", name, err)
	}

	var items []document.Document
	if err := utils.DecodeJSON([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to decode items of collection %s: %w", name, err)
	}
	for i, item := range items {
		items[i] = document.Normalize(item)
	}
	if items == nil {
		items = []document.Document{}
	}
	if nextID < 1 {
		nextID = 1
	}

	return &persistence.State{
		Items:  items,
		Name:   name,
		NextID: nextID,
		Path:   b.path,
	}, nil
}

func (b *Backend) Sync(ctx context.Context, state *persistence.State) error {
	items := state.Items
	if items == nil {
		items = []document.Document{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode items of collection %s: %w", state.Name, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, state.Name, state.NextID, string(raw)); err != nil {
		tx.Rollback()
		b.logger.Error("Failed to write collection", zap.String("collection", state.Name), zap.Error(err))
		return fmt.Errorf("failed to write collection %s: %w", state.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collection %s: %w", state.Name, err)
	}

	b.logger.Debug("Synced collection",
		zap.String("collection", state.Name),
		zap.Int("records", len(items)),
		zap.Int64("nextID", state.NextID),
	)
	return nil
}

func (b *Backend) Remove(ctx context.Context, name string) error {
	if _, err := b.db.ExecContext(ctx, deleteSQL, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// Close closes the connection if the backend opened it.
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
