// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// PostgresDB is the subset of *pgxpool.Pool the writer uses.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var auditColumns = []string{"event", "outcome", "email", "account_id", "remote_addr", "code", "created_at"}

const pgInsertEntry = `
	INSERT INTO audit_log (event, outcome, email, account_id, remote_addr, code, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// PostgresWriter implements Writer for PostgreSQL. The audit_log table
// comes from the schema migrations.
type PostgresWriter struct {
	db    PostgresDB
	batch *batcher
}

// NewPostgresWriter creates a PostgresWriter on db.
func NewPostgresWriter(db PostgresDB) *PostgresWriter {
	w := &PostgresWriter{db: db}
	w.batch = newBatcher(w.writeBatch, defaultBatchSize, defaultFlushPeriod)
	return w
}

// WriteSync inserts entry immediately.
func (w *PostgresWriter) WriteSync(ctx context.Context, entry Entry) error {
	_, err := w.db.Exec(ctx, pgInsertEntry, entryArgs(entry)...)
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("event", entry.Event).
			With("outcome", entry.Outcome).
			Wrap(err)
	}
	return nil
}

// WriteAsync queues entry for the next batch.
func (w *PostgresWriter) WriteAsync(entry Entry) error {
	return w.batch.enqueue(entry)
}

// writeBatch copies a batch into audit_log in one round trip.
func (w *PostgresWriter) writeBatch(ctx context.Context, entries []Entry) error {
	rows := make([][]any, len(entries))
	for i := range entries {
		rows[i] = entryArgs(entries[i])
	}
	if _, err := w.db.CopyFrom(ctx, pgx.Identifier{"audit_log"}, auditColumns, pgx.CopyFromRows(rows)); err != nil {
		return oops.Code("AUDIT_BATCH_FAILED").With("count", len(entries)).Wrap(err)
	}
	return nil
}

// PurgeBefore deletes entries with outcome older than before.
func (w *PostgresWriter) PurgeBefore(ctx context.Context, outcome Outcome, before time.Time) (int64, error) {
	tag, err := w.db.Exec(ctx, `DELETE FROM audit_log WHERE outcome = $1 AND created_at < $2`, string(outcome), before)
	if err != nil {
		return 0, oops.Code("AUDIT_PURGE_FAILED").With("outcome", outcome).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Close flushes queued entries.
func (w *PostgresWriter) Close() error {
	w.batch.close()
	return nil
}

func entryArgs(e Entry) []any {
	return []any{
		string(e.Event),
		string(e.Outcome),
		e.Email,
		e.AccountID,
		e.RemoteAddr,
		e.Code,
		e.Timestamp.UTC(),
	}
}
