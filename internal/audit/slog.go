// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"log/slog"
)

// LogWriter emits entries as structured log records. It backs the audit
// trail when storage is in memory.
type LogWriter struct {
	logger *slog.Logger
}

// NewLogWriter writes to logger, or slog.Default() when nil.
func NewLogWriter(logger *slog.Logger) *LogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWriter{logger: logger.With("component", "audit")}
}

// WriteSync logs entry at warn level for failures and info otherwise.
func (w *LogWriter) WriteSync(ctx context.Context, entry Entry) error {
	level := slog.LevelInfo
	if entry.Outcome == OutcomeFailure {
		level = slog.LevelWarn
	}
	w.logger.LogAttrs(ctx, level, "auth event",
		slog.String("event", string(entry.Event)),
		slog.String("outcome", string(entry.Outcome)),
		slog.String("email", entry.Email),
		slog.String("account_id", entry.AccountID),
		slog.String("remote_addr", entry.RemoteAddr),
		slog.String("code", entry.Code),
		slog.Time("timestamp", entry.Timestamp),
	)
	return nil
}

// WriteAsync logs entry immediately.
func (w *LogWriter) WriteAsync(entry Entry) error {
	return w.WriteSync(context.Background(), entry)
}

// Close is a no-op.
func (w *LogWriter) Close() error {
	return nil
}
