// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/auth/memory"
	"github.com/keysmith/keysmith/internal/auth/postgres"
	"github.com/keysmith/keysmith/internal/auth/sqlite"
	"github.com/keysmith/keysmith/internal/config"
	"github.com/keysmith/keysmith/internal/store"
	"github.com/keysmith/keysmith/internal/xdg"
)

// Storage bundles the repositories of one backend with its lifecycle hooks.
type Storage struct {
	Driver   string
	Accounts auth.AccountRepository
	Sessions auth.SessionRepository

	ping        func(ctx context.Context) error
	close       func() error
	auditWriter func(ctx context.Context) (audit.Writer, error)
}

// AuditWriter returns a new audit sink on this backend, or a log writer
// when the backend has no audit table. Database writers also implement
// audit.Purger.
func (s *Storage) AuditWriter(ctx context.Context, logger *slog.Logger) (audit.Writer, error) {
	if s.auditWriter == nil {
		return audit.NewLogWriter(logger), nil
	}
	return s.auditWriter(ctx)
}

// Ping reports whether the backend answers. Backends without a connection
// are always reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openStorage opens the backend named by cfg.Storage.Driver. The PostgreSQL
// schema is migrated first when storage.auto_migrate is set.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; accounts are lost on exit")
		return &Storage{
			Driver:   config.DriverMemory,
			Accounts: memory.NewAccountRepository(),
			Sessions: memory.NewSessionRepository(),
		}, nil

	case config.DriverSQLite:
		return openSQLite(ctx, cfg, logger)

	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("key", "storage.driver").
		Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func openSQLite(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	path, err := cfg.SQLitePath()
	if err != nil {
		return nil, oops.Code("STORAGE_PATH_FAILED").With("operation", "resolve sqlite path").Wrap(err)
	}
	if path != ":memory:" {
		if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Info("opened sqlite storage", "path", path)

	return &Storage{
		Driver:   config.DriverSQLite,
		Accounts: db.Accounts(),
		Sessions: db.Sessions(),
		ping:     db.Ping,
		close:    db.Close,
		auditWriter: func(ctx context.Context) (audit.Writer, error) {
			return audit.NewSQLiteWriter(ctx, db.SQL())
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	pool, err := store.Connect(ctx, cfg.Storage.DatabaseURL, store.ConnectOptions{
		Retries: cfg.Storage.ConnectRetries,
		Backoff: cfg.Storage.ConnectBackoff,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Storage.AutoMigrate {
		if err := migrateUp(cfg.Storage.DatabaseURL, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger.Info("connected to postgres storage")
	return &Storage{
		Driver:   config.DriverPostgres,
		Accounts: postgres.NewAccountRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
		ping:     pool.Ping,
		close: func() error {
			pool.Close()
			return nil
		},
		auditWriter: func(context.Context) (audit.Writer, error) {
			return audit.NewPostgresWriter(pool), nil
		},
	}, nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").Wrap(err)
	}
	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("database schema is current", "version", version)
	return nil
}
