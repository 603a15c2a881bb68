// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package web

import (
	"bytes"
	"context"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/auth/memory"
	"github.com/keysmith/keysmith/internal/observability"
	"github.com/keysmith/keysmith/internal/password"
	keytls "github.com/keysmith/keysmith/internal/tls"
	"github.com/keysmith/keysmith/pkg/errutil"
)

const cookieName = "keysmith_session"

func testConfig() Config {
	return Config{
		CookieName:        cookieName,
		GeneratorDefaults: password.DefaultSpec(),
		MaxLength:         64,
	}
}

// recordingAuditor keeps every entry it is given.
type recordingAuditor struct {
	entries []audit.Entry
}

func (a *recordingAuditor) Log(_ context.Context, entry audit.Entry) {
	a.entries = append(a.entries, entry)
}

type fixture struct {
	server  *Server
	metrics *observability.Metrics
	auditor *recordingAuditor
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	creds, err := auth.NewCredentialStore(memory.NewAccountRepository(), auth.NewBcryptHasher(4))
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(memory.NewSessionRepository(), creds)
	require.NoError(t, err)
	svc, err := auth.NewAuthService(creds, sessions, auth.DefaultRegistrationPolicy())
	require.NoError(t, err)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	var logs bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	auditor := &recordingAuditor{}
	srv, err := NewServer("127.0.0.1:0", svc, cfg,
		WithMetrics(metrics),
		WithAuditor(auditor),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, err)

	return &fixture{server: srv, metrics: metrics, auditor: auditor, logs: &logs}
}

func (f *fixture) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func withCookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookieName, Value: token}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func register(t *testing.T, f *fixture, email, pw string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/register", registerRequest{Email: email, Password: pw, ConfirmPassword: pw})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func login(t *testing.T, f *fixture, email, pw string) loginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/login", loginRequest{Email: email, Password: pw})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[loginResponse](t, rec)
}

func TestNewServer_Validation(t *testing.T) {
	svc := &mockAuthService{}

	_, err := NewServer(":0", nil, testConfig())
	errutil.AssertErrorCode(t, err, "WEB_INVALID_DEPS")

	cfg := testConfig()
	cfg.CookieName = ""
	_, err = NewServer(":0", svc, cfg)
	errutil.AssertErrorCode(t, err, "WEB_INVALID_CONFIG")

	cfg = testConfig()
	cfg.MaxLength = 0
	_, err = NewServer(":0", svc, cfg)
	errutil.AssertErrorCode(t, err, "WEB_INVALID_CONFIG")
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
		wantResult string
	}{
		{
			name:       "created",
			body:       registerRequest{Email: "alice@example.com", Password: "secret1", ConfirmPassword: "secret1"},
			wantStatus: http.StatusCreated,
			wantResult: observability.ResultSuccess,
		},
		{
			name:       "missing confirm",
			body:       registerRequest{Email: "alice@example.com", Password: "secret1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "AUTH_PASSWORD_MISMATCH",
			wantResult: observability.ResultRejected,
		},
		{
			name:       "mismatch",
			body:       registerRequest{Email: "alice@example.com", Password: "secret1", ConfirmPassword: "secret2"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "AUTH_PASSWORD_MISMATCH",
			wantResult: observability.ResultRejected,
		},
		{
			name:       "too short",
			body:       registerRequest{Email: "alice@example.com", Password: "abc", ConfirmPassword: "abc"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "AUTH_PASSWORD_TOO_SHORT",
			wantResult: observability.ResultRejected,
		},
		{
			name:       "too long for bcrypt",
			body:       registerRequest{Email: "alice@example.com", Password: strings.Repeat("p", 73), ConfirmPassword: strings.Repeat("p", 73)},
			wantStatus: http.StatusBadRequest,
			wantCode:   "AUTH_PASSWORD_TOO_LONG",
			wantResult: observability.ResultRejected,
		},
		{
			name:       "malformed json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodPost, "/api/register", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeBody[errorResponse](t, rec).Code)
			} else {
				got := decodeBody[accountResponse](t, rec)
				assert.Equal(t, "alice@example.com", got.Email)
				assert.NotEmpty(t, got.ID)
			}
			if tt.wantResult != "" {
				assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues(tt.wantResult)), 0)
			}
			assert.InDelta(t, 1,
				testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("register", strconv.Itoa(tt.wantStatus))), 0)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	register(t, f, "alice@example.com", "secret1")

	rec := f.do(t, http.MethodPost, "/api/register",
		registerRequest{Email: "ALICE@example.com", Password: "secret1", ConfirmPassword: "secret1"})

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "AUTH_DUPLICATE_EMAIL", body.Code)
	assert.Equal(t, auth.ErrDuplicateEmail.Error(), body.Error)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Registrations.WithLabelValues(observability.ResultDuplicate)), 0)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CookieSecure = true })
	register(t, f, "alice@example.com", "secret1")

	t.Run("sets cookie and returns token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/login", loginRequest{Email: "Alice@Example.com", Password: "secret1"})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[loginResponse](t, rec)
		assert.Equal(t, "alice@example.com", body.Email)
		assert.NotEmpty(t, body.Token)
		require.NotNil(t, body.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(auth.DefaultSessionTTL), *body.ExpiresAt, time.Minute)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, cookieName, c.Name)
		assert.Equal(t, body.Token, c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := f.do(t, http.MethodPost, "/api/login", loginRequest{Email: "alice@example.com", Password: "nope"})
		unknown := f.do(t, http.MethodPost, "/api/login", loginRequest{Email: "bob@example.com", Password: "nope"})

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, wrong.Code, unknown.Code)
		assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
		assert.Empty(t, wrong.Result().Cookies())
		assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Logins.WithLabelValues(observability.ResultRejected)), 0)
	})

	t.Run("overlong password is rejected as invalid credentials", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/login",
			loginRequest{Email: "alice@example.com", Password: strings.Repeat("p", 73)})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_INVALID_CREDENTIALS", decodeBody[errorResponse](t, rec).Code)
	})
}

func TestProfileAndLogout(t *testing.T) {
	f := newFixture(t, nil)
	register(t, f, "alice@example.com", "secret1")
	token := login(t, f, "alice@example.com", "secret1").Token

	t.Run("cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/profile", nil, withCookie(token))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice@example.com", decodeBody[accountResponse](t, rec).Email)
	})

	t.Run("bearer", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/profile", nil, withBearer(token))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/profile", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "SESSION_NOT_FOUND", decodeBody[errorResponse](t, rec).Code)
	})

	t.Run("logout revokes and clears cookie", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/logout", nil, withCookie(token))
		require.Equal(t, http.StatusNoContent, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)

		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/profile", nil, withCookie(token)).Code)
		assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Logouts), 0)
	})

	t.Run("logout without a session still succeeds", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/logout", nil).Code)
	})
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("defaults", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/passwords", map[string]any{})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[generateResponse](t, rec)
		assert.Equal(t, password.DefaultLength, body.Length)
		assert.Len(t, body.Password, password.DefaultLength)
		assert.Equal(t, password.Score(body.Password).String(), body.Strength)
	})

	t.Run("overrides", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/passwords", map[string]any{
			"length": 20, "uppercase": false, "digits": false, "special": false,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[generateResponse](t, rec)
		assert.Len(t, body.Password, 20)
		for _, r := range body.Password {
			assert.Contains(t, password.Lowercase, string(r))
		}
	})

	for _, length := range []int{0, -1, 65} {
		rec := f.do(t, http.MethodPost, "/api/passwords", map[string]any{"length": length})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "length %d", length)
		assert.Equal(t, "PASSWORD_INVALID_LENGTH", decodeBody[errorResponse](t, rec).Code)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.PasswordsGenerated), 0)
}

func TestStrength(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/passwords/strength", strengthRequest{Password: "abc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, password.Weak.String(), decodeBody[strengthResponse](t, rec).Strength)

	rec = f.do(t, http.MethodPost, "/api/passwords/strength", strengthRequest{Password: "Abcdefgh1!xyz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, password.Score("Abcdefgh1!xyz").String(), decodeBody[strengthResponse](t, rec).Strength)
}

func TestPasswordEndpoints_RequireSession(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RequireSession = true })

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/passwords", map[string]any{}).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(t, http.MethodPost, "/api/passwords/strength", strengthRequest{Password: "x"}).Code)

	register(t, f, "alice@example.com", "secret1")
	token := login(t, f, "alice@example.com", "secret1").Token

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/passwords", map[string]any{}, withBearer(token)).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/login", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// mockAuthService lets tests inject service failures.
type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Register(ctx context.Context, email, pw, confirm string) (*auth.Account, error) {
	args := m.Called(ctx, email, pw, confirm)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, email, pw string) (*auth.Session, string, error) {
	args := m.Called(ctx, email, pw)
	s, _ := args.Get(0).(*auth.Session)
	return s, args.String(1), args.Error(2)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockAuthService) CurrentAccount(ctx context.Context, token string) (*auth.Account, error) {
	args := m.Called(ctx, token)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func TestStorageFailuresAreOpaque(t *testing.T) {
	svc := &mockAuthService{}
	storageErr := errors.Join(auth.ErrStorage, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	svc.On("Register", mock.Anything, "alice@example.com", "secret1", "secret1").Return(nil, storageErr)
	svc.On("Login", mock.Anything, "alice@example.com", "secret1").Return(nil, "", storageErr)

	var logs bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv, err := NewServer(":0", svc, testConfig(),
		WithMetrics(metrics),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	require.NoError(t, err)
	f := &fixture{server: srv, metrics: metrics, logs: &logs}

	rec := f.do(t, http.MethodPost, "/api/register",
		registerRequest{Email: "alice@example.com", Password: "secret1", ConfirmPassword: "secret1"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotContains(t, body.Error, "10.0.0.5")
	assert.Contains(t, logs.String(), "10.0.0.5")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Registrations.WithLabelValues(observability.ResultError)), 0)

	rec = f.do(t, http.MethodPost, "/api/login", loginRequest{Email: "alice@example.com", Password: "secret1"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Logins.WithLabelValues(observability.ResultError)), 0)

	svc.AssertExpectations(t)
}

func TestServer_StartStop(t *testing.T) {
	f := newFixture(t, nil)

	errCh, err := f.server.Start()
	require.NoError(t, err)
	_, err = f.server.Start()
	errutil.AssertErrorCode(t, err, "WEB_RUNNING")

	resp, err := http.Post("http://"+f.server.Addr()+"/api/passwords/strength", "application/json",
		strings.NewReader(`{"password":"abc"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.server.Stop(ctx))
	require.NoError(t, f.server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "unexpected serve error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after Stop")
	}
}

func TestServer_StartTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	certs, err := keytls.EnsureSelfSigned(dir, []string{"127.0.0.1"})
	require.NoError(t, err)
	ca, err := keytls.LoadCA(dir)
	require.NoError(t, err)

	f := newFixture(t, func(c *Config) { c.TLS = certs })
	_, err = f.server.Start()
	require.NoError(t, err)
	defer func() { _ = f.server.Stop(context.Background()) }()

	roots := x509.NewCertPool()
	roots.AddCert(ca.Certificate)
	transport := &http.Transport{TLSClientConfig: &cryptotls.Config{RootCAs: roots, MinVersion: cryptotls.VersionTLS12}}
	defer transport.CloseIdleConnections()

	resp, err := (&http.Client{Transport: transport}).Post("https://"+f.server.Addr()+"/api/passwords/strength",
		"application/json", strings.NewReader(`{"password":"abc"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t, nil)

	register(t, f, "Alice@Example.com", "hunter22")
	rec := f.do(t, http.MethodPost, "/api/register",
		registerRequest{Email: "alice@example.com", Password: "hunter22", ConfirmPassword: "hunter22"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/login", loginRequest{Email: "alice@example.com", Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	session := login(t, f, "alice@example.com", "hunter22")

	rec = f.do(t, http.MethodPost, "/api/logout", nil, withCookie(session.Token))
	require.Equal(t, http.StatusNoContent, rec.Code)

	entries := f.auditor.entries
	require.Len(t, entries, 5)

	assert.Equal(t, audit.EventRegister, entries[0].Event)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "alice@example.com", entries[0].Email)
	assert.NotEmpty(t, entries[0].AccountID)
	assert.Equal(t, "192.0.2.1", entries[0].RemoteAddr)

	assert.Equal(t, audit.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, "AUTH_DUPLICATE_EMAIL", entries[1].Code)

	assert.Equal(t, audit.EventLogin, entries[2].Event)
	assert.Equal(t, audit.OutcomeFailure, entries[2].Outcome)
	assert.Equal(t, "AUTH_INVALID_CREDENTIALS", entries[2].Code)
	assert.Empty(t, entries[2].AccountID)

	assert.Equal(t, audit.OutcomeSuccess, entries[3].Outcome)
	assert.Equal(t, session.ID, entries[3].AccountID)

	assert.Equal(t, audit.EventLogout, entries[4].Event)
	assert.Equal(t, audit.OutcomeSuccess, entries[4].Outcome)
}

func TestRemoteHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:4321"
	assert.Equal(t, "2001:db8::1", remoteHost(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", remoteHost(req))
}
