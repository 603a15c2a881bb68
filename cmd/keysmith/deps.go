// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/keysmith/keysmith/internal/config"
	"github.com/keysmith/keysmith/internal/observability"
	"github.com/keysmith/keysmith/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StorageOpener opens the configured account and session store.
	// Default: openStorage
	StorageOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, probe observability.ReadinessProbe, logger *slog.Logger) ObservabilityServer

	// Ready, when set, receives the API server once it is listening.
	Ready func(api APIServer)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer interface wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Handler() http.Handler
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Status() (store.Status, error)
	Close() error
}
