// Package app wires config, storage and adapters into a workflow runner.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"nhaguard/internal/adapter"
	"nhaguard/internal/adapter/stdio"
	"nhaguard/internal/config"
	"nhaguard/internal/db"
	"nhaguard/internal/evidence"
	"nhaguard/internal/migrate"
	"nhaguard/internal/registry"
	"nhaguard/internal/store"
	"nhaguard/internal/workflow"
)

// App is the composed orchestrator plus everything that needs closing.
type App struct {
	Runner *workflow.Runner
	Store  *store.Store
	Config *config.Config

	conn    *sql.DB
	clients []*stdio.Client
}

// Options selects the workspace and an optional explicit config file.
type Options struct {
	Workspace  string
	ConfigPath string
	Logger     *slog.Logger
}

// Build opens storage, loads config, starts the configured adapter
// subprocesses and returns a ready runner. Adapter families without a
// configured command are left nil; calls against them degrade through the
// invoker rather than failing the build.
func Build(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *config.Config
	var err error
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	app := &App{
		Store:  &store.Store{DB: conn},
		Config: cfg,
		conn:   conn,
	}

	controlDir := cfg.Control.Dir
	if controlDir != "" && !filepath.IsAbs(controlDir) {
		controlDir = filepath.Join(opts.Workspace, controlDir)
	}
	reg := registry.New(registry.FallbackStore{
		registry.FileStore{Dir: controlDir},
		registry.BuiltinStore{},
	})

	runner := &workflow.Runner{
		Cache:    evidence.NewCache(),
		Registry: reg,
		Invoker:  adapter.NewInvoker(logger),
		Config:   cfg,
		Logger:   logger,
		Store:    app.Store,
	}
	for _, wire := range []struct {
		name    string
		command []string
		target  *any
	}{
		{"query", cfg.Adapters.Query.Command, &runner.Query},
		{"analysis", cfg.Adapters.Analysis.Command, &runner.Analysis},
		{"ticketing", cfg.Adapters.Ticketing.Command, &runner.Ticketing},
	} {
		if len(wire.command) == 0 {
			logger.Warn("adapter not configured", "family", wire.name)
			continue
		}
		client, err := stdio.Start(wire.command)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("start %s adapter: %w", wire.name, err)
		}
		app.clients = append(app.clients, client)
		*wire.target = client
	}
	app.Runner = runner
	return app, nil
}

// Close stops adapter subprocesses and the database.
func (a *App) Close() error {
	for _, c := range a.clients {
		_ = c.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
