// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keysmith/keysmith/pkg/errutil"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresWriter_WriteSync(t *testing.T) {
	entry := failedLogin("mallory@example.com")

	t.Run("inserts entry", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs(entryArgs(entry)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		w := NewPostgresWriter(mock)
		require.NoError(t, w.WriteSync(context.Background(), entry))
		require.NoError(t, w.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps failures", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`INSERT INTO audit_log`).
			WithArgs(entryArgs(entry)...).
			WillReturnError(errors.New("connection reset"))

		w := NewPostgresWriter(mock)
		defer func() { _ = w.Close() }()

		err := w.WriteSync(context.Background(), entry)
		errutil.AssertErrorCode(t, err, "AUDIT_WRITE_FAILED")
		errutil.AssertErrorContext(t, err, "event", EventLogin)
	})
}

func TestPostgresWriter_BatchOnClose(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectCopyFrom(pgx.Identifier{"audit_log"}, auditColumns).WillReturnResult(2)

	w := NewPostgresWriter(mock)
	require.NoError(t, w.WriteAsync(successfulLogin("a@example.com")))
	require.NoError(t, w.WriteAsync(successfulLogin("b@example.com")))
	require.NoError(t, w.Close())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriter_WriteBatchError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectCopyFrom(pgx.Identifier{"audit_log"}, auditColumns).WillReturnError(errors.New("copy failed"))

	w := NewPostgresWriter(mock)
	defer func() { _ = w.Close() }()

	err := w.writeBatch(context.Background(), []Entry{successfulLogin("a@example.com")})
	errutil.AssertErrorCode(t, err, "AUDIT_BATCH_FAILED")
	errutil.AssertErrorContext(t, err, "count", 1)
}

func TestPostgresWriter_PurgeBefore(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("returns deleted rows", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM audit_log`).
			WithArgs("success", cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		w := NewPostgresWriter(mock)
		defer func() { _ = w.Close() }()

		n, err := w.PurgeBefore(context.Background(), OutcomeSuccess, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("wraps failures", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec(`DELETE FROM audit_log`).
			WithArgs("failure", cutoff).
			WillReturnError(errors.New("lock timeout"))

		w := NewPostgresWriter(mock)
		defer func() { _ = w.Close() }()

		_, err := w.PurgeBefore(context.Background(), OutcomeFailure, cutoff)
		errutil.AssertErrorCode(t, err, "AUDIT_PURGE_FAILED")
	})
}

func TestBatcher_QueueFull(t *testing.T) {
	block := make(chan struct{})
	b := newBatcher(func(context.Context, []Entry) error {
		<-block
		return nil
	}, 1, time.Hour)

	// The first entry is taken by the consumer, which then blocks in write.
	require.NoError(t, b.enqueue(successfulLogin("a@example.com")))
	require.Eventually(t, func() bool { return len(b.entries) == 0 }, time.Second, time.Millisecond)

	for range asyncQueueSize {
		require.NoError(t, b.enqueue(successfulLogin("a@example.com")))
	}
	assert.ErrorIs(t, b.enqueue(successfulLogin("a@example.com")), ErrQueueFull)

	close(block)
	b.close()
}
