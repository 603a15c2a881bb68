// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// AccountRepository persists accounts.
type AccountRepository interface {
	// Create stores an account if no account with the same normalized email
	// exists. The check and insert are atomic; a taken email yields
	// ErrDuplicateEmail.
	Create(ctx context.Context, account *Account) error

	// GetByID returns ErrNotFound when the account does not exist.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail looks up by normalized email. Returns ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Delete removes an account. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id ulid.ULID) error
}

// SessionRepository persists sessions keyed by token hash.
type SessionRepository interface {
	// Create stores a session if its token hash is unused, otherwise
	// returns ErrDuplicateToken.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash returns ErrNotFound when no session has the hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// DeleteByTokenHash removes a session. Returns ErrNotFound when absent.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteExpired removes sessions whose expiry is at or before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccountFinder resolves account identities.
type AccountFinder interface {
	FindByID(ctx context.Context, id ulid.ULID) (*Account, error)
}
