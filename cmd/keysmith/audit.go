// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/config"
	"github.com/keysmith/keysmith/internal/observability"
)

// startAudit opens the audit trail on storage, replays any WAL left by a
// previous run, and starts retention when the backend can purge. The logger
// is nil when auditing is off. stop must be called once the API has stopped.
func startAudit(
	ctx context.Context,
	cfg *config.Config,
	storage *Storage,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (auditLogger *audit.Logger, stop func(), err error) {
	mode, err := audit.ParseMode(cfg.Audit.Mode)
	if err != nil {
		return nil, nil, err
	}
	if mode == audit.ModeOff {
		logger.Info("audit trail disabled")
		return nil, func() {}, nil
	}

	writer, err := storage.AuditWriter(ctx, logger)
	if err != nil {
		return nil, nil, err
	}

	auditLogger, err = audit.NewLogger(mode, writer, cfg.Audit.WALPath,
		audit.WithMetrics(metrics),
		audit.WithLogger(logger))
	if err != nil {
		_ = writer.Close()
		return nil, nil, err
	}

	if _, replayErr := auditLogger.ReplayWAL(ctx); replayErr != nil {
		logger.Warn("failed to replay audit WAL", "error", replayErr)
	}

	var retention *audit.RetentionWorker
	if purger, ok := writer.(audit.Purger); ok && cfg.Audit.PurgeInterval > 0 {
		retention = audit.NewRetentionWorker(cfg.AuditRetention(), purger, logger)
		retention.Start(ctx)
	}

	logger.Info("audit trail enabled", "mode", mode, "storage", storage.Driver)
	return auditLogger, func() {
		if retention != nil {
			retention.Stop()
		}
		if closeErr := auditLogger.Close(); closeErr != nil {
			logger.Warn("error closing audit trail", "error", closeErr)
		}
	}, nil
}
