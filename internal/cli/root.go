// Package cli implements the pocketdb command line client.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/asaidimu/go-pocketdb/config"
	"github.com/asaidimu/go-pocketdb/core/persistence"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands. Non-empty flags override
// the config file and environment.
type RootOptions struct {
	ConfigPath string
	Root       string
	Backend    string
	LogLevel   string
}

// NewRootCommand creates the root command for the pocketdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pocketdb",
		Short: "pocketdb - embedded document store",
		Long:  "Inspect and modify pocketdb collections stored under a database root.",
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "database root directory")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (json|cbor|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))

	return cmd
}

// session is an open database plus the logger built for it.
type session struct {
	db     *persistence.Database
	logger *zap.Logger
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// resolve loads the configuration and applies flag overrides.
func (o *RootOptions) resolve() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Root != "" {
		cfg.Root = o.Root
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	return cfg, cfg.Validate()
}

func (o *RootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	db, _, err := config.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{db: db, logger: logger}, nil
}

// collection opens the database and loads a single collection.
func (o *RootOptions) collection(ctx context.Context, name string) (*session, *persistence.Collection, error) {
	s, err := o.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.db.LoadCollection(ctx, name)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, c, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
