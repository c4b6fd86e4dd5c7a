// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/api"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/events"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/logging"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/session"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/stream"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/thread"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// appOptions are the global flags that shape wiring.
type appOptions struct {
	ConfigPath string
	Verbose    bool
	Ephemeral  bool
}

// App holds the collaborators shared by every command.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   storage.Store
	Limiter *ratelimit.Limiter
	Client  *api.Client
	Bus     *events.Bus
	Threads *thread.Manager
	Stream  *stream.Assembler
	History *storage.ThreadStore // nil when history is disabled

	closers []io.Closer
}

// loadConfig reads the configuration named by opts, or the default files.
func loadConfig(opts appOptions, errw io.Writer) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.LoadFromPath(opts.ConfigPath)
	}
	cfg, err := config.Load()
	if cfg == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintf(errw, "%s %v\n", WarningStyle.Render("Warning: using default config:"), err)
	}
	return cfg, nil
}

// newApp loads configuration and wires every collaborator.
func newApp(ctx context.Context, opts appOptions, errw io.Writer) (*App, error) {
	cfg, err := loadConfig(opts, errw)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	config.SetGlobal(cfg)
	return newAppWithConfig(ctx, cfg, opts.Ephemeral)
}

// newAppWithConfig wires collaborators for an already loaded configuration.
func newAppWithConfig(ctx context.Context, cfg *config.Config, ephemeral bool) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger}

	if ephemeral {
		app.Store = storage.NewMemoryStore(nil)
	} else {
		statePath, err := cfg.StatePath()
		if err != nil {
			return nil, err
		}
		store, err := storage.OpenSQLite(ctx, statePath, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if n, err := store.PurgeExpired(ctx); err != nil {
			logger.Warn("failed to purge expired state", zap.Error(err))
		} else if n > 0 {
			logger.Debug("purged expired state", zap.Int64("entries", n))
		}
		app.Store = store
		app.closers = append(app.closers, store)
	}

	app.Limiter = ratelimit.New(app.Store,
		ratelimit.WithQuota(cfg.Quota.DailyLimit),
		ratelimit.WithLogger(logger.Named("quota")))
	app.Client = api.NewClient(cfg.Backend, logger.Named("api"))
	app.Bus = events.NewBus(logger.Named("events"))
	app.Threads = thread.NewManager(app.Client, app.Bus, logger.Named("thread"))

	validator, err := stream.NewValidator()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Stream = stream.NewAssembler(app.Client, validator, logger.Named("stream"))

	if cfg.Storage.HistoryEnabled && !ephemeral {
		dir, err := cfg.ThreadsDir()
		if err != nil {
			app.Close()
			return nil, err
		}
		history, err := storage.NewThreadStore(dir)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open thread history: %w", err)
		}
		history.MaxThreads = cfg.Storage.MaxThreads
		app.History = history
	}

	return app, nil
}

// NewController creates a session controller reporting to notifier.
func (a *App) NewController(notifier session.Notifier) *session.Controller {
	opts := []session.Option{
		session.WithNotifier(notifier),
		session.WithBus(a.Bus),
		session.WithFeedbackSender(a.Client),
		session.WithUser(a.Config.User),
		session.WithLogger(a.Logger.Named("session")),
	}
	if a.History != nil {
		opts = append(opts, session.WithHistory(a.History))
	}
	return session.New(a.Limiter, a.Threads, a.Stream, opts...)
}

// requireHistory returns the thread store or an error when it is disabled.
func (a *App) requireHistory() (*storage.ThreadStore, error) {
	if a.History == nil {
		return nil, usageErrorf("local history is disabled (storage.history_enabled = false)")
	}
	return a.History, nil
}

// Close releases the store and flushes the logger.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
