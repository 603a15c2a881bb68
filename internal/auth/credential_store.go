// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// CredentialStore owns accounts and their password hashes.
type CredentialStore struct {
	accounts AccountRepository
	hasher   PasswordHasher

	// dummyHash is verified against when an email is unknown so a failed
	// lookup costs the same as a wrong password.
	dummyHash string
}

// NewCredentialStore creates a CredentialStore. The hasher is exercised once
// to produce the dummy hash used for unknown emails.
func NewCredentialStore(accounts AccountRepository, hasher PasswordHasher) (*CredentialStore, error) {
	if accounts == nil {
		return nil, oops.Code("CREDENTIALS_INVALID_DEPS").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("CREDENTIALS_INVALID_DEPS").Errorf("password hasher is required")
	}

	dummy, err := hasher.Hash(rand.Text())
	if err != nil {
		return nil, oops.Code("CREDENTIALS_INIT_FAILED").
			With("operation", "hash dummy password").
			Wrap(err)
	}

	return &CredentialStore{
		accounts:  accounts,
		hasher:    hasher,
		dummyHash: dummy,
	}, nil
}

// Create registers a new account. The email is normalized; a taken email
// fails with ErrDuplicateEmail even under concurrent creation.
func (c *CredentialStore) Create(ctx context.Context, email, password string) (*Account, error) {
	email = NormalizeEmail(email)

	// Skip the hash when the email is visibly taken. The repository insert
	// is still the authority on uniqueness.
	_, err := c.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, duplicateEmail(email)
	case !errors.Is(err, ErrNotFound):
		return nil, storageError("get account by email", err)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	account, err := NewAccount(email, hash)
	if err != nil {
		return nil, err
	}

	if err := c.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, duplicateEmail(email)
		}
		return nil, storageError("create account", err)
	}
	return account, nil
}

// FindByEmail returns the account for the normalized email, or ErrNotFound.
func (c *CredentialStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)

	account, err := c.accounts.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, storageError("get account by email", err)
	}
	return account, nil
}

// FindByID returns the account with the given ID, or ErrNotFound.
func (c *CredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := c.accounts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, storageError("get account by id", err)
	}
	return account, nil
}

// VerifyPassword reports whether password matches the account's hash using
// a constant-time comparison. An error means the stored hash is malformed.
func (c *CredentialStore) VerifyPassword(account *Account, password string) (bool, error) {
	ok, err := c.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return false, oops.With("account_id", account.ID.String()).Wrap(err)
	}
	return ok, nil
}

// Authenticate returns the account when email and password match. Unknown
// emails and wrong passwords both yield ErrInvalidCredentials after the same
// amount of hashing work.
func (c *CredentialStore) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := c.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	target := c.dummyHash
	if account != nil {
		target = account.PasswordHash
	}

	valid, verifyErr := c.hasher.Verify(password, target)
	if account == nil {
		return nil, invalidCredentials()
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, invalidCredentials()
	}
	return account, nil
}

func duplicateEmail(email string) error {
	return oops.Code("AUTH_DUPLICATE_EMAIL").With("email", email).Wrap(ErrDuplicateEmail)
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

func storageError(operation string, err error) error {
	return oops.Code("AUTH_STORAGE_FAILED").
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStorage, err))
}
