// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RetentionConfig defines how long audit entries are kept.
type RetentionConfig struct {
	RetainFailures  time.Duration // How long to keep failed events
	RetainSuccesses time.Duration // How long to keep successful events
	PurgeInterval   time.Duration // How often to run the purge cycle
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetainFailures:  90 * 24 * time.Hour,
		RetainSuccesses: 7 * 24 * time.Hour,
		PurgeInterval:   24 * time.Hour,
	}
}

// Purger deletes old audit entries. PostgresWriter and SQLiteWriter
// implement it.
type Purger interface {
	PurgeBefore(ctx context.Context, outcome Outcome, before time.Time) (int64, error)
}

// RetentionWorker runs periodic retention maintenance on audit entries.
type RetentionWorker struct {
	cfg    RetentionConfig
	purger Purger
	logger *slog.Logger
	clock  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionWorker creates a new retention worker.
func NewRetentionWorker(cfg RetentionConfig, purger Purger, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{
		cfg:    cfg,
		purger: purger,
		logger: logger,
		clock:  time.Now,
	}
}

// RunOnce executes a single retention cycle. Both outcomes are purged even
// if the first fails; errors are combined. A zero retention keeps entries
// of that outcome forever.
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	now := w.clock()
	var errs []error

	for _, r := range []struct {
		outcome Outcome
		keep    time.Duration
	}{
		{OutcomeFailure, w.cfg.RetainFailures},
		{OutcomeSuccess, w.cfg.RetainSuccesses},
	} {
		if r.keep <= 0 {
			continue
		}
		purged, err := w.purger.PurgeBefore(ctx, r.outcome, now.Add(-r.keep))
		if err != nil {
			w.logger.Error("purge audit entries failed", "outcome", r.outcome, "error", err)
			errs = append(errs, err)
			continue
		}
		if purged > 0 {
			w.logger.Info("purged audit entries", "outcome", r.outcome, "count", purged)
		}
	}

	return errors.Join(errs...)
}

// Start begins periodic retention maintenance. A cycle runs immediately.
func (w *RetentionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the retention worker and waits for completion.
func (w *RetentionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer w.wg.Done()

	interval := w.cfg.PurgeInterval
	if interval <= 0 {
		interval = DefaultRetentionConfig().PurgeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("audit retention cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("audit retention cycle failed", "error", err)
			}
		}
	}
}
