// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/observability"
	"github.com/keysmith/keysmith/internal/xdg"
)

// Mode controls which entries are recorded.
type Mode string

// Audit modes.
const (
	ModeOff      Mode = "off"
	ModeFailures Mode = "failures"
	ModeAll      Mode = "all"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeOff, ModeFailures, ModeAll:
		return m, nil
	}
	return "", oops.Code("AUDIT_MODE_INVALID").With("mode", s).Errorf("unknown audit mode %q", s)
}

// Event names the audited operation.
type Event string

// Audited events.
const (
	EventRegister Event = "register"
	EventLogin    Event = "login"
	EventLogout   Event = "logout"
)

// Outcome is whether the operation succeeded.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is one audited authentication event.
type Entry struct {
	Event      Event     `json:"event"`
	Outcome    Outcome   `json:"outcome"`
	Email      string    `json:"email,omitempty"`
	AccountID  string    `json:"account_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Code       string    `json:"code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Writer is the interface for writing audit entries to a backend.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

// WALFileName is the write-ahead log file inside the XDG state directory.
const WALFileName = "audit-wal.jsonl"

const asyncQueueSize = 1000

// DefaultWALPath returns $XDG_STATE_HOME/keysmith/audit-wal.jsonl.
func DefaultWALPath() (string, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, WALFileName), nil
}

// Option configures a Logger.
type Option func(*Logger)

// WithMetrics records drops, failures, and WAL depth on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithLogger sets the logger used to report audit failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// Logger routes audit entries based on mode and outcome.
type Logger struct {
	mode    Mode
	writer  Writer
	walPath string
	metrics *observability.Metrics
	logger  *slog.Logger

	walFile *os.File
	walMu   sync.Mutex

	asyncChan chan Entry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLogger creates a Logger with the given mode, writer, and WAL path.
// An empty walPath means DefaultWALPath.
func NewLogger(mode Mode, writer Writer, walPath string, opts ...Option) (*Logger, error) {
	if writer == nil {
		return nil, oops.Code("AUDIT_INVALID_DEPS").Errorf("audit writer is required")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if walPath == "" {
		path, err := DefaultWALPath()
		if err != nil {
			return nil, oops.Code("AUDIT_WAL_PATH_FAILED").Wrap(err)
		}
		walPath = path
	}

	l := &Logger{
		mode:      mode,
		writer:    writer,
		walPath:   walPath,
		logger:    slog.Default(),
		asyncChan: make(chan Entry, asyncQueueSize),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.asyncConsumer()

	return l, nil
}

// Mode returns the configured mode.
func (l *Logger) Mode() Mode {
	return l.mode
}

// Log records entry if the mode selects it. Failures are written
// synchronously, falling back to the WAL; successes are queued. Log never
// fails the caller: lost entries are logged and counted.
func (l *Logger) Log(ctx context.Context, entry Entry) {
	shouldLog, useSync := l.shouldLog(entry.Outcome)
	if !shouldLog {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if useSync {
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			if walErr := l.writeToWAL(entry); walErr != nil {
				l.logger.Error("audit write failed: both store and WAL failed",
					"store_error", err,
					"wal_error", walErr,
					"event", entry.Event,
					"outcome", entry.Outcome,
					"email", entry.Email,
				)
				l.metrics.RecordAuditFailure("wal_failed")
				return
			}
			l.logger.Warn("audit write failed, entry kept in WAL", "error", err, "event", entry.Event)
		}
		return
	}

	select {
	case l.asyncChan <- entry:
	default:
		l.metrics.RecordAuditDropped()
	}
}

// shouldLog reports whether an outcome is recorded in this mode and whether
// the write is synchronous.
func (l *Logger) shouldLog(outcome Outcome) (shouldLog, useSync bool) {
	switch l.mode {
	case ModeFailures:
		return outcome == OutcomeFailure, true
	case ModeAll:
		if outcome == OutcomeFailure {
			return true, true
		}
		return outcome == OutcomeSuccess, false
	}
	return false, false
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		case <-l.stopChan:
			l.drainAsync()
			return
		}
	}
}

func (l *Logger) drainAsync() {
	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		default:
			return
		}
	}
}

func (l *Logger) writeAsync(entry Entry) {
	if err := l.writer.WriteAsync(entry); err != nil {
		l.logger.Error("async audit write failed",
			"error", err,
			"event", entry.Event,
			"email", entry.Email,
		)
		l.metrics.RecordAuditFailure("async_write_failed")
	}
}

// writeToWAL appends entry to the write-ahead log.
func (l *Logger) writeToWAL(entry Entry) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		if err := xdg.EnsureDir(filepath.Dir(l.walPath)); err != nil {
			return err
		}
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.Code("AUDIT_WAL_OPEN_FAILED").With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Code("AUDIT_WAL_WRITE_FAILED").Wrap(err)
	}
	if _, err := l.walFile.Write(append(data, '\n')); err != nil {
		return oops.Code("AUDIT_WAL_WRITE_FAILED").With("path", l.walPath).Wrap(err)
	}

	l.metrics.AddAuditWALEntries(1)
	return nil
}

// ReplayWAL writes every WAL entry to the writer and returns how many were
// written. Entries the writer rejects stay in the WAL for the next replay;
// unparseable lines are logged and discarded.
func (l *Logger) ReplayWAL(ctx context.Context) (int, error) {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	file, err := os.Open(l.walPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("AUDIT_WAL_READ_FAILED").With("path", l.walPath).Wrap(err)
	}
	defer func() { _ = file.Close() }()

	var (
		replayed int
		pending  [][]byte
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Error("failed to unmarshal WAL entry", "error", err, "line", string(line))
			l.metrics.RecordAuditFailure("wal_unmarshal_failed")
			continue
		}
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			l.logger.Error("failed to replay WAL entry", "error", err, "event", entry.Event)
			l.metrics.RecordAuditFailure("wal_replay_failed")
			pending = append(pending, append([]byte(nil), line...))
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, oops.Code("AUDIT_WAL_READ_FAILED").With("path", l.walPath).Wrap(err)
	}

	if err := l.rewriteWAL(pending); err != nil {
		return replayed, err
	}
	l.metrics.ResetAuditWALEntries()
	l.metrics.AddAuditWALEntries(float64(len(pending)))

	if replayed > 0 {
		l.logger.Info("replayed audit WAL entries", "count", replayed, "pending", len(pending))
	}
	return replayed, nil
}

// rewriteWAL atomically replaces the WAL with lines. The caller holds walMu.
// The append handle is closed so the next writeToWAL opens the new file.
func (l *Logger) rewriteWAL(lines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.walPath), ".audit-wal-*")
	if err != nil {
		return oops.Code("AUDIT_WAL_REWRITE_FAILED").With("path", l.walPath).Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := errors.Join(w.Flush(), tmp.Sync(), tmp.Close()); err != nil {
		return oops.Code("AUDIT_WAL_REWRITE_FAILED").With("path", l.walPath).Wrap(err)
	}

	if l.walFile != nil {
		_ = l.walFile.Close()
		l.walFile = nil
	}
	if err := os.Rename(tmp.Name(), l.walPath); err != nil {
		return oops.Code("AUDIT_WAL_REWRITE_FAILED").With("path", l.walPath).Wrap(err)
	}
	return nil
}

// Close drains queued entries, then closes the writer and the WAL.
// Calling Close more than once is safe.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()

		if closeErr := l.writer.Close(); closeErr != nil {
			err = oops.Code("AUDIT_CLOSE_FAILED").Wrap(closeErr)
		}

		l.walMu.Lock()
		defer l.walMu.Unlock()
		if l.walFile != nil {
			if closeErr := l.walFile.Close(); closeErr != nil && err == nil {
				err = oops.Code("AUDIT_CLOSE_FAILED").With("path", l.walPath).Wrap(closeErr)
			}
			l.walFile = nil
		}
	})
	return err
}
