// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/samber/oops"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	email       TEXT NOT NULL DEFAULT '',
	account_id  TEXT NOT NULL DEFAULT '',
	remote_addr TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_outcome_created_at ON audit_log (outcome, created_at);
`

const sqliteInsertEntry = `
	INSERT INTO audit_log (event, outcome, email, account_id, remote_addr, code, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// SQLiteWriter implements Writer on the embedded SQLite database.
// Timestamps are stored as Unix nanoseconds.
type SQLiteWriter struct {
	db    *sql.DB
	batch *batcher
}

// NewSQLiteWriter creates the audit_log table if needed and returns a
// writer on db. The caller keeps ownership of db.
func NewSQLiteWriter(ctx context.Context, db *sql.DB) (*SQLiteWriter, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, oops.Code("AUDIT_SCHEMA_FAILED").Wrap(err)
	}
	w := &SQLiteWriter{db: db}
	w.batch = newBatcher(w.writeBatch, defaultBatchSize, defaultFlushPeriod)
	return w, nil
}

// WriteSync inserts entry immediately.
func (w *SQLiteWriter) WriteSync(ctx context.Context, entry Entry) error {
	if _, err := w.db.ExecContext(ctx, sqliteInsertEntry, sqliteArgs(entry)...); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("event", entry.Event).
			With("outcome", entry.Outcome).
			Wrap(err)
	}
	return nil
}

// WriteAsync queues entry for the next batch.
func (w *SQLiteWriter) WriteAsync(entry Entry) error {
	return w.batch.enqueue(entry)
}

// writeBatch inserts a batch in one transaction.
func (w *SQLiteWriter) writeBatch(ctx context.Context, entries []Entry) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("AUDIT_BATCH_FAILED").Wrap(err)
	}
	defer func() {
		//nolint:errcheck // Rollback after Commit returns ErrTxDone
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertEntry)
	if err != nil {
		return oops.Code("AUDIT_BATCH_FAILED").Wrap(err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entries {
		if _, err := stmt.ExecContext(ctx, sqliteArgs(entries[i])...); err != nil {
			return oops.Code("AUDIT_BATCH_FAILED").With("count", len(entries)).Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return oops.Code("AUDIT_BATCH_FAILED").Wrap(err)
	}
	return nil
}

// PurgeBefore deletes entries with outcome older than before.
func (w *SQLiteWriter) PurgeBefore(ctx context.Context, outcome Outcome, before time.Time) (int64, error) {
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE outcome = ? AND created_at < ?`,
		string(outcome), before.UTC().UnixNano())
	if err != nil {
		return 0, oops.Code("AUDIT_PURGE_FAILED").With("outcome", outcome).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("AUDIT_PURGE_FAILED").With("outcome", outcome).Wrap(err)
	}
	return n, nil
}

// Close flushes queued entries. It does not close the database.
func (w *SQLiteWriter) Close() error {
	w.batch.close()
	return nil
}

func sqliteArgs(e Entry) []any {
	return []any{
		string(e.Event),
		string(e.Outcome),
		e.Email,
		e.AccountID,
		e.RemoteAddr,
		e.Code,
		e.Timestamp.UTC().UnixNano(),
	}
}
