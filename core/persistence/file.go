package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileBackend keeps one file per collection at <root>/<name>.<ext>.
type FileBackend struct {
	root   string
	codec  Codec
	logger *zap.Logger
}

// NewFileBackend creates a file backend rooted at root, creating the
// directory if needed. A nil codec selects JSONCodec.
func NewFileBackend(root string, codec Codec, logger *zap.Logger) (*FileBackend, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database root %s: %w", ErrPersistence, root, err)
	}
	return &FileBackend{root: root, codec: codec, logger: logger}, nil
}

func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.root, name+"."+b.codec.Extension())
}

func (b *FileBackend) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(b.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *FileBackend) Load(ctx context.Context, name string) (*State, error) {
	path := b.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state, err := b.codec.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	state.Name = name
	state.Path = path
	return state, nil
}

// Sync writes the state to a temporary file next to the target, flushes it
// and renames it over the target.
func (b *FileBackend) Sync(ctx context.Context, state *State) error {
	data, err := b.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode collection state: %w", err)
	}
	return writeFileAtomic(b.Path(state.Name), data)
}

func (b *FileBackend) Remove(ctx context.Context, name string) error {
	err := os.Remove(b.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
