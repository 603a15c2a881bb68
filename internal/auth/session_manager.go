// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionManager issues, resolves, and revokes opaque session tokens.
type SessionManager struct {
	sessions SessionRepository
	accounts AccountFinder
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	onSweep  func(removed int64)
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTTL sets how long issued sessions stay valid. A non-positive
// TTL issues sessions that never expire.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		m.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionLogger sets the logger used for best-effort failures and sweeps.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithSweepHook registers a callback invoked with the count removed by each
// successful Sweep.
func WithSweepHook(fn func(removed int64)) SessionOption {
	return func(m *SessionManager) {
		m.onSweep = fn
	}
}

// NewSessionManager creates a SessionManager. Sessions expire after
// DefaultSessionTTL unless WithSessionTTL says otherwise.
func NewSessionManager(sessions SessionRepository, accounts AccountFinder, opts ...SessionOption) (*SessionManager, error) {
	if sessions == nil {
		return nil, oops.Code("SESSIONS_INVALID_DEPS").Errorf("session repository is required")
	}
	if accounts == nil {
		return nil, oops.Code("SESSIONS_INVALID_DEPS").Errorf("account finder is required")
	}

	m := &SessionManager{
		sessions: sessions,
		accounts: accounts,
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue creates a session for an existing account and returns it with the
// plaintext token. The token is not stored and cannot be recovered later.
func (m *SessionManager) Issue(ctx context.Context, accountID ulid.ULID) (*Session, string, error) {
	if _, err := m.accounts.FindByID(ctx, accountID); err != nil {
		return nil, "", oops.With("operation", "issue session").Wrap(err)
	}

	for attempt := 1; ; attempt++ {
		token, hash, err := GenerateSessionToken()
		if err != nil {
			return nil, "", err
		}

		now := m.now().UTC()
		var expiresAt *time.Time
		if m.ttl > 0 {
			t := now.Add(m.ttl)
			expiresAt = &t
		}

		session, err := NewSession(accountID, hash, now, expiresAt)
		if err != nil {
			return nil, "", err
		}

		err = m.sessions.Create(ctx, session)
		if err == nil {
			return session, token, nil
		}
		if !errors.Is(err, ErrDuplicateToken) {
			return nil, "", storageError("create session", err)
		}
		if attempt == maxIssueAttempts {
			return nil, "", oops.Code("SESSION_TOKEN_COLLISION").
				With("attempts", attempt).
				Wrap(err)
		}
	}
}

// Resolve returns the account bound to token. Unknown, revoked, and expired
// tokens yield ErrSessionNotFound; expired sessions are deleted on sight.
func (m *SessionManager) Resolve(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}

	hash := HashSessionToken(token)
	session, err := m.sessions.GetByTokenHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return ulid.ULID{}, oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
	}
	if err != nil {
		return ulid.ULID{}, storageError("get session by token hash", err)
	}

	if session.IsExpiredAt(m.now()) {
		if err := m.sessions.DeleteByTokenHash(ctx, hash); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.WarnContext(ctx, "failed to delete expired session",
				"session_id", session.ID.String(),
				"error", err)
		}
		return ulid.ULID{}, oops.Code("SESSION_EXPIRED").
			With("session_id", session.ID.String()).
			Wrap(ErrSessionNotFound)
	}

	return session.AccountID, nil
}

// Revoke invalidates token. Revoking an unknown or already revoked token is
// not an error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	err := m.sessions.DeleteByTokenHash(ctx, HashSessionToken(token))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return storageError("delete session", err)
	}
	return nil
}

// Sweep deletes every expired session and returns how many were removed.
func (m *SessionManager) Sweep(ctx context.Context) (int64, error) {
	removed, err := m.sessions.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, storageError("delete expired sessions", err)
	}
	if removed > 0 {
		m.logger.DebugContext(ctx, "swept expired sessions", "removed", removed)
	}
	if m.onSweep != nil {
		m.onSweep(removed)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done. Sweep failures
// are logged and the loop continues.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.WarnContext(ctx, "session sweep failed", "error", err)
			}
		}
	}
}
