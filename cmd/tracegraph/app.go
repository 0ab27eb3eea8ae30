package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/tracegraph/internal/baseline"
	"github.com/nvandessel/tracegraph/internal/config"
	"github.com/nvandessel/tracegraph/internal/engine"
	"github.com/nvandessel/tracegraph/internal/logging"
	"github.com/nvandessel/tracegraph/internal/pathutil"
	"github.com/nvandessel/tracegraph/internal/store"
)

// app bundles everything a command needs once the project is open.
type app struct {
	root      string
	cfg       *config.Config
	logger    *slog.Logger
	decisions *logging.DecisionLogger
	store     *store.SQLiteGraphStore
	engine    *engine.Engine
	baselines *baseline.Manager
}

// loadConfig loads the user config and applies the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		if !logging.ValidLevel(lvl) {
			return nil, fmt.Errorf("invalid log level: %s", lvl)
		}
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// dbPath resolves the database file for root.
func dbPath(cfg *config.Config, root string) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return store.DefaultDBPath(root)
}

// openApp opens the project under --root. The project must have been
// initialized unless the config points the store elsewhere.
func openApp(cmd *cobra.Command) (*app, error) {
	root, _ := cmd.Flags().GetString("root")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Path == "" {
		if _, err := os.Stat(store.LocalPath(root)); os.IsNotExist(err) {
			return nil, fmt.Errorf("%s not initialized. Run 'tracegraph init' first", store.DirName)
		}
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	path := dbPath(cfg, root)
	s, err := store.OpenSQLiteGraphStore(path, cfg.Store.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", pathutil.RedactPath(path), err)
	}
	logger.Debug("store opened", "path", pathutil.RedactPath(path))

	decisions := logging.NewDecisionLogger(store.LocalPath(root), cfg.Logging.Level)
	e := engine.New(s, engine.Config{
		Logger:            logger,
		Decisions:         decisions,
		Propagation:       cfg.Propagation.Enabled,
		PropagationReason: cfg.Propagation.Reason,
		HistoryLimit:      cfg.History.DefaultLimit,
	})

	return &app{
		root:      root,
		cfg:       cfg,
		logger:    logger,
		decisions: decisions,
		store:     s,
		engine:    e,
		baselines: baseline.NewManager(s, e),
	}, nil
}

// Close releases the store and the decision log.
func (a *app) Close() error {
	a.decisions.Close()
	return a.store.Close()
}

// describeErr turns a store.ErrNotFound into a message naming what is
// missing and returns other errors unchanged.
func describeErr(what, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s not found: %s", what, id)
	}
	return err
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
