// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/keysmith/keysmith/pkg/errutil"
)

// Service coordinates registration, login, logout, and identity resolution.
type Service struct {
	credentials *CredentialStore
	sessions    *SessionManager
	policy      RegistrationPolicy
	domains     domainMatcher
	logger      *slog.Logger
}

// NewAuthService creates a Service that logs to slog.Default().
func NewAuthService(credentials *CredentialStore, sessions *SessionManager, policy RegistrationPolicy) (*Service, error) {
	return NewAuthServiceWithLogger(credentials, sessions, policy, slog.Default())
}

// NewAuthServiceWithLogger creates a Service with an explicit logger.
func NewAuthServiceWithLogger(
	credentials *CredentialStore,
	sessions *SessionManager,
	policy RegistrationPolicy,
	logger *slog.Logger,
) (*Service, error) {
	if credentials == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("credential store is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("session manager is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("logger is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	domains, err := policy.compileDomains()
	if err != nil {
		return nil, err
	}

	return &Service{
		credentials: credentials,
		sessions:    sessions,
		policy:      policy,
		domains:     domains,
		logger:      logger,
	}, nil
}

// Register validates the input and creates an account. Checks run in order:
// missing fields, confirmation mismatch, minimum length, domain allow-list,
// then email uniqueness.
func (s *Service) Register(ctx context.Context, email, password, confirm string) (*Account, error) {
	email = NormalizeEmail(email)

	if email == "" || password == "" {
		return nil, oops.Code("AUTH_MISSING_FIELDS").Wrap(ErrMissingFields)
	}
	if password != confirm {
		return nil, oops.Code("AUTH_PASSWORD_MISMATCH").Wrap(ErrPasswordMismatch)
	}
	if s.policy.EnforceMinLength && utf8.RuneCountInString(password) < s.policy.MinPasswordLength {
		return nil, oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min_length", s.policy.MinPasswordLength).
			Wrap(ErrPasswordTooShort)
	}
	if !s.domains.allows(email) {
		return nil, oops.Code("AUTH_EMAIL_NOT_ALLOWED").
			With("domain", emailDomain(email)).
			Wrap(ErrEmailNotAllowed)
	}

	account, err := s.credentials.Create(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	return account, nil
}

// Login verifies the credentials and issues a session. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, string, error) {
	account, err := s.credentials.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.logger.InfoContext(ctx, "login rejected")
		}
		return nil, "", err
	}

	session, token, err := s.sessions.Issue(ctx, account.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", account.ID.String(),
		"session_id", session.ID.String())
	return session, token, nil
}

// Logout revokes token. It succeeds for unknown tokens.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// CurrentAccount returns the account bound to token. A session whose account
// no longer exists is revoked and reported as ErrSessionNotFound.
func (s *Service) CurrentAccount(ctx context.Context, token string) (*Account, error) {
	id, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	account, err := s.credentials.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if revokeErr := s.sessions.Revoke(ctx, token); revokeErr != nil {
			errutil.LogError(s.logger, "failed to revoke orphaned session", revokeErr)
		}
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}
