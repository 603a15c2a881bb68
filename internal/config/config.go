// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package config loads keysmith configuration from flag defaults, an
// optional YAML file, and explicitly set flags, in that order.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/control"
	"github.com/keysmith/keysmith/internal/password"
	"github.com/keysmith/keysmith/internal/store"
	"github.com/keysmith/keysmith/internal/xdg"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseURLEnv is consulted when storage.database_url is unset.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the full keysmith configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	HTTP      HTTPConfig      `koanf:"http"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Control   ControlConfig   `koanf:"control"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Generator GeneratorConfig `koanf:"generator"`
	Audit     AuditConfig     `koanf:"audit"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the JSON API listener.
type HTTPConfig struct {
	Addr         string        `koanf:"addr"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`

	// TLSCert and TLSKey serve HTTPS from PEM files. TLSSelfSigned instead
	// generates a local CA and server certificate under the data directory.
	TLSCert       string `koanf:"tls_cert"`
	TLSKey        string `koanf:"tls_key"`
	TLSSelfSigned bool   `koanf:"tls_self_signed"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// ControlConfig configures the local admin socket used by the status and
// stop commands. An empty Socket means the XDG runtime directory.
type ControlConfig struct {
	Enabled bool   `koanf:"enabled"`
	Socket  string `koanf:"socket"`
}

// StorageConfig selects and locates the account store.
type StorageConfig struct {
	Driver         string        `koanf:"driver"`
	DatabaseURL    string        `koanf:"database_url"`
	SQLitePath     string        `koanf:"sqlite_path"`
	AutoMigrate    bool          `koanf:"auto_migrate"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	ConnectBackoff time.Duration `koanf:"connect_backoff"`
}

// AuthConfig controls hashing and registration rules.
type AuthConfig struct {
	Hasher              string   `koanf:"hasher"`
	MinPasswordLength   int      `koanf:"min_password_length"`
	EnforceMinLength    bool     `koanf:"enforce_min_length"`
	AllowedEmailDomains []string `koanf:"allowed_email_domains"`
}

// SessionsConfig controls session lifetime. A zero TTL issues sessions that
// never expire; a zero SweepInterval disables the background sweeper.
type SessionsConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// GeneratorConfig holds the defaults for generated passwords.
type GeneratorConfig struct {
	Length         int  `koanf:"length"`
	Uppercase      bool `koanf:"uppercase"`
	Digits         bool `koanf:"digits"`
	Special        bool `koanf:"special"`
	MaxLength      int  `koanf:"max_length"`
	RequireSession bool `koanf:"require_session"`
}

// AuditConfig controls the authentication audit trail. Entries go to the
// storage backend's audit_log table, or to the log for memory storage.
type AuditConfig struct {
	Mode            string        `koanf:"mode"`
	WALPath         string        `koanf:"wal_path"`
	RetainFailures  time.Duration `koanf:"retain_failures"`
	RetainSuccesses time.Duration `koanf:"retain_successes"`
	PurgeInterval   time.Duration `koanf:"purge_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	retention := audit.DefaultRetentionConfig()
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		HTTP: HTTPConfig{
			Addr:        "127.0.0.1:8080",
			CookieName:  "keysmith_session",
			ReadTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Control: ControlConfig{Enabled: true},
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			AutoMigrate:    true,
			ConnectRetries: store.DefaultConnectRetries,
			ConnectBackoff: store.DefaultConnectBackoff,
		},
		Auth: AuthConfig{
			Hasher:            auth.HasherArgon2id,
			MinPasswordLength: auth.DefaultMinPasswordLength,
			EnforceMinLength:  true,
		},
		Sessions: SessionsConfig{
			TTL:           auth.DefaultSessionTTL,
			SweepInterval: 10 * time.Minute,
		},
		Generator: GeneratorConfig{
			Length:    password.DefaultLength,
			Uppercase: true,
			Digits:    true,
			Special:   true,
			MaxLength: 128,
		},
		Audit: AuditConfig{
			Mode:            string(audit.ModeFailures),
			RetainFailures:  retention.RetainFailures,
			RetainSuccesses: retention.RetainSuccesses,
			PurgeInterval:   retention.PurgeInterval,
		},
	}
}

// RegisterFlags adds one flag per configuration key to flags, using
// defaults from Default.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	flags.String("log.format", d.Log.Format, "log format (json or text)")
	flags.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")

	flags.String("http.addr", d.HTTP.Addr, "HTTP API listen address")
	flags.String("http.cookie-name", d.HTTP.CookieName, "session cookie name")
	flags.Bool("http.cookie-secure", d.HTTP.CookieSecure, "mark the session cookie Secure")
	flags.Duration("http.read-timeout", d.HTTP.ReadTimeout, "HTTP read timeout")
	flags.String("http.tls-cert", d.HTTP.TLSCert, "PEM certificate for HTTPS")
	flags.String("http.tls-key", d.HTTP.TLSKey, "PEM private key for HTTPS")
	flags.Bool("http.tls-self-signed", d.HTTP.TLSSelfSigned, "serve HTTPS with a generated self-signed certificate")

	flags.String("metrics.addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")

	flags.Bool("control.enabled", d.Control.Enabled, "serve the local admin socket")
	flags.String("control.socket", d.Control.Socket, "admin socket path (default: XDG_RUNTIME_DIR/keysmith/keysmith.sock)")

	flags.String("storage.driver", d.Storage.Driver, "account store (memory, sqlite, postgres)")
	flags.String("storage.database-url", d.Storage.DatabaseURL, "PostgreSQL URL (default: $"+DatabaseURLEnv+")")
	flags.String("storage.sqlite-path", d.Storage.SQLitePath, "SQLite file (default: XDG_DATA_HOME/keysmith/keysmith.db)")
	flags.Bool("storage.auto-migrate", d.Storage.AutoMigrate, "apply PostgreSQL migrations on startup")
	flags.Uint64("storage.connect-retries", d.Storage.ConnectRetries, "database connection retries")
	flags.Duration("storage.connect-backoff", d.Storage.ConnectBackoff, "initial database retry backoff")

	flags.String("auth.hasher", d.Auth.Hasher, "password hasher for new accounts (argon2id or bcrypt)")
	flags.Int("auth.min-password-length", d.Auth.MinPasswordLength, "minimum password length at registration")
	flags.Bool("auth.enforce-min-length", d.Auth.EnforceMinLength, "enforce the minimum password length")
	flags.StringSlice("auth.allowed-email-domains", nil, "glob patterns for allowed email domains (empty = any)")

	flags.Duration("sessions.ttl", d.Sessions.TTL, "session lifetime (0 = never expires)")
	flags.Duration("sessions.sweep-interval", d.Sessions.SweepInterval, "expired session sweep interval (0 = disabled)")

	flags.Int("generator.length", d.Generator.Length, "default generated password length")
	flags.Bool("generator.uppercase", d.Generator.Uppercase, "include uppercase letters by default")
	flags.Bool("generator.digits", d.Generator.Digits, "include digits by default")
	flags.Bool("generator.special", d.Generator.Special, "include special characters by default")
	flags.Int("generator.max-length", d.Generator.MaxLength, "largest length the API will generate")
	flags.Bool("generator.require-session", d.Generator.RequireSession, "require a session for password generation")

	flags.String("audit.mode", d.Audit.Mode, "audit trail mode (off, failures, all)")
	flags.String("audit.wal-path", d.Audit.WALPath, "audit write-ahead log (default: XDG_STATE_HOME/keysmith/audit-wal.jsonl)")
	flags.Duration("audit.retain-failures", d.Audit.RetainFailures, "how long failed events are kept (0 = forever)")
	flags.Duration("audit.retain-successes", d.Audit.RetainSuccesses, "how long successful events are kept (0 = forever)")
	flags.Duration("audit.purge-interval", d.Audit.PurgeInterval, "audit retention cycle interval (0 = disabled)")
}

// Load builds a Config. path names a YAML file; when empty, the default
// XDG config file is used if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = defaultConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, oops.Code("CONFIG_NOT_FOUND").With("path", path).Wrap(err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, flagKey(flags))
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
	}

	if cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = os.Getenv(DatabaseURLEnv)
	}
	return &cfg, nil
}

// flagKey maps "--auth.min-password-length" to "auth.min_password_length".
// Flags without a section (such as --config) are not configuration keys.
func flagKey(flags *pflag.FlagSet) func(*pflag.Flag) (string, interface{}) {
	return func(f *pflag.Flag) (string, interface{}) {
		if !strings.Contains(f.Name, ".") {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	}
}

func defaultConfigFile() string {
	path, err := xdg.ConfigFile()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// SQLitePath returns the configured SQLite file, defaulting to the XDG data
// directory.
func (c *Config) SQLitePath() (string, error) {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath, nil
	}
	dir, err := xdg.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "keysmith.db"), nil
}

// ControlSocket returns the admin socket path.
func (c *Config) ControlSocket() (string, error) {
	if c.Control.Socket != "" {
		return c.Control.Socket, nil
	}
	return control.SocketPath()
}

// CertsDir is where self-signed certificates are kept.
func (c *Config) CertsDir() (string, error) {
	dir, err := xdg.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "certs"), nil
}

// RegistrationPolicy converts the auth section into an auth.RegistrationPolicy.
func (c *Config) RegistrationPolicy() auth.RegistrationPolicy {
	return auth.RegistrationPolicy{
		MinPasswordLength: c.Auth.MinPasswordLength,
		EnforceMinLength:  c.Auth.EnforceMinLength,
		AllowedDomains:    c.Auth.AllowedEmailDomains,
	}
}

// AuditRetention converts the audit section into an audit.RetentionConfig.
func (c *Config) AuditRetention() audit.RetentionConfig {
	return audit.RetentionConfig{
		RetainFailures:  c.Audit.RetainFailures,
		RetainSuccesses: c.Audit.RetainSuccesses,
		PurgeInterval:   c.Audit.PurgeInterval,
	}
}

// GeneratorSpec converts the generator section into a password.Spec.
func (c *Config) GeneratorSpec() password.Spec {
	return password.Spec{
		Length:    c.Generator.Length,
		Uppercase: c.Generator.Uppercase,
		Digits:    c.Generator.Digits,
		Special:   c.Generator.Special,
	}
}
