// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package web

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/observability"
	"github.com/keysmith/keysmith/internal/password"
	"github.com/keysmith/keysmith/pkg/errutil"
)

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type generateRequest struct {
	Length    *int  `json:"length"`
	Uppercase *bool `json:"uppercase"`
	Digits    *bool `json:"digits"`
	Special   *bool `json:"special"`
}

type generateResponse struct {
	Password string `json:"password"`
	Strength string `json:"strength"`
	Length   int    `json:"length"`
}

type strengthRequest struct {
	Password string `json:"password"`
}

type strengthResponse struct {
	Strength string `json:"strength"`
}

func toAccountResponse(a *auth.Account) accountResponse {
	return accountResponse{ID: a.ID.String(), Email: a.Email, CreatedAt: a.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	account, err := s.auth.Register(r.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		s.metrics.RecordRegistration(registrationResult(err))
		s.recordAuth(r, audit.EventRegister, req.Email, "", err)
		s.writeError(w, r, err)
		return
	}

	s.metrics.RecordRegistration(observability.ResultSuccess)
	s.recordAuth(r, audit.EventRegister, account.Email, account.ID.String(), nil)
	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func registrationResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		return observability.ResultDuplicate
	case errors.Is(err, auth.ErrStorage):
		return observability.ResultError
	}
	return observability.ResultRejected
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.RecordLogin(observability.ResultRejected)
		} else {
			s.metrics.RecordLogin(observability.ResultError)
		}
		s.recordAuth(r, audit.EventLogin, req.Email, "", err)
		s.writeError(w, r, err)
		return
	}

	s.metrics.RecordLogin(observability.ResultSuccess)
	s.recordAuth(r, audit.EventLogin, req.Email, session.AccountID.String(), nil)
	s.setSessionCookie(w, token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		ID:        session.AccountID.String(),
		Email:     auth.NormalizeEmail(req.Email),
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), s.token(r)); err != nil {
		s.recordAuth(r, audit.EventLogout, "", "", err)
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordLogout()
	s.recordAuth(r, audit.EventLogout, "", "", nil)
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RequireSession {
		if _, ok := s.authenticate(w, r); !ok {
			return
		}
	}

	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}

	spec := s.cfg.GeneratorDefaults
	if req.Length != nil {
		spec.Length = *req.Length
	}
	if req.Uppercase != nil {
		spec.Uppercase = *req.Uppercase
	}
	if req.Digits != nil {
		spec.Digits = *req.Digits
	}
	if req.Special != nil {
		spec.Special = *req.Special
	}
	if spec.Length < 1 || spec.Length > s.cfg.MaxLength {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "length must be between 1 and the configured maximum",
			Code:  "PASSWORD_INVALID_LENGTH",
		})
		return
	}

	pw, err := s.generator.Generate(spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.RecordPasswordGenerated()
	writeJSON(w, http.StatusOK, generateResponse{
		Password: pw,
		Strength: password.Score(pw).String(),
		Length:   len(pw),
	})
}

func (s *Server) handleStrength(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RequireSession {
		if _, ok := s.authenticate(w, r); !ok {
			return
		}
	}

	var req strengthRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, strengthResponse{Strength: password.Score(req.Password).String()})
}

// recordAuth records one authentication event; err nil means success.
func (s *Server) recordAuth(r *http.Request, event audit.Event, email, accountID string, err error) {
	entry := audit.Entry{
		Event:      event,
		Outcome:    audit.OutcomeSuccess,
		Email:      auth.NormalizeEmail(email),
		AccountID:  accountID,
		RemoteAddr: remoteHost(r),
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Code = errutil.Code(err)
	}
	s.auditor.Log(r.Context(), entry)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate resolves the request's session or writes a 401.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Account, bool) {
	account, err := s.auth.CurrentAccount(r.Context(), s.token(r))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return account, true
}

// token returns the session cookie value, falling back to a bearer token.
func (s *Server) token(r *http.Request) string {
	if c, err := r.Cookie(s.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt *time.Time) {
	c := &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if expiresAt != nil {
		c.Expires = *expiresAt
	}
	http.SetCookie(w, c)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
