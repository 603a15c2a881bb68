// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/auth"
)

var _ auth.AccountRepository = (*AccountRepository)(nil)

// AccountRepository implements auth.AccountRepository on SQLite.
type AccountRepository struct {
	db *sql.DB
}

// Create inserts an account; a taken email yields auth.ErrDuplicateEmail.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		account.ID.String(), account.Email, account.PasswordHash, toUnix(account.CreatedAt))
	if uniqueViolation(err, "accounts.email") {
		return oops.Code("ACCOUNT_EMAIL_TAKEN").
			With("email", account.Email).
			Wrap(auth.ErrDuplicateEmail)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE id = ?`, id.String())
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").With("account_id", id.String()).Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email. The column collates NOCASE.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE email = ?`, email)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").With("email", email).Wrap(err)
	}
	return account, nil
}

// Delete removes an account and, through the foreign key, its sessions.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", id.String()).Wrap(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row *sql.Row) (*auth.Account, error) {
	var (
		idStr     string
		createdAt int64
		account   auth.Account
	)
	if err := row.Scan(&idStr, &account.Email, &account.PasswordHash, &createdAt); err != nil {
		//nolint:wrapcheck // callers distinguish sql.ErrNoRows
		return nil, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	account.ID = id
	account.CreatedAt = fromUnix(createdAt)
	return &account, nil
}
