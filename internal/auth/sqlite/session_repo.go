// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/auth"
)

var _ auth.SessionRepository = (*SessionRepository)(nil)

// SessionRepository implements auth.SessionRepository on SQLite.
type SessionRepository struct {
	db *sql.DB
}

// Create inserts a session; a reused token hash yields auth.ErrDuplicateToken.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	var expiresAt sql.NullInt64
	if session.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: toUnix(*session.ExpiresAt), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID.String(), session.AccountID.String(), session.TokenHash, toUnix(session.CreatedAt), expiresAt)
	if uniqueViolation(err, "sessions.token_hash") {
		return oops.Code("SESSION_TOKEN_TAKEN").Wrap(auth.ErrDuplicateToken)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID.String()).
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var (
		idStr, accountIDStr string
		createdAt           int64
		expiresAt           sql.NullInt64
		session             auth.Session
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, created_at, expires_at FROM sessions WHERE token_hash = ?`,
		tokenHash,
	).Scan(&idStr, &accountIDStr, &session.TokenHash, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if session.AccountID, err = ulid.Parse(accountIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}
	session.CreatedAt = fromUnix(createdAt)
	if expiresAt.Valid {
		t := fromUnix(expiresAt.Int64)
		session.ExpiresAt = &t
	}
	return &session, nil
}

// DeleteByTokenHash removes a session.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry is at or before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?`, toUnix(now))
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
