// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package config

import (
	"slices"

	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/audit"
	"github.com/keysmith/keysmith/internal/auth"
)

var (
	logFormats = []string{"json", "text"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	drivers    = []string{DriverMemory, DriverSQLite, DriverPostgres}
	hashers    = []string{auth.HasherArgon2id, auth.HasherBcrypt}
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case !slices.Contains(logFormats, c.Log.Format):
		return invalid("log.format", c.Log.Format, "must be json or text")
	case !slices.Contains(logLevels, c.Log.Level):
		return invalid("log.level", c.Log.Level, "must be debug, info, warn, or error")
	case c.HTTP.Addr == "":
		return invalid("http.addr", c.HTTP.Addr, "is required")
	case c.HTTP.CookieName == "":
		return invalid("http.cookie_name", c.HTTP.CookieName, "is required")
	case c.HTTP.ReadTimeout < 0:
		return invalid("http.read_timeout", c.HTTP.ReadTimeout, "cannot be negative")
	case (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == ""):
		return invalid("http.tls_cert", c.HTTP.TLSCert, "and http.tls_key must be set together")
	case c.HTTP.TLSSelfSigned && c.HTTP.TLSCert != "":
		return invalid("http.tls_self_signed", true, "cannot be combined with http.tls_cert")
	case !slices.Contains(drivers, c.Storage.Driver):
		return invalid("storage.driver", c.Storage.Driver, "must be memory, sqlite, or postgres")
	case c.Storage.Driver == DriverPostgres && c.Storage.DatabaseURL == "":
		return invalid("storage.database_url", "", "is required for the postgres driver (or set "+DatabaseURLEnv+")")
	case !slices.Contains(hashers, c.Auth.Hasher):
		return invalid("auth.hasher", c.Auth.Hasher, "must be argon2id or bcrypt")
	case c.Sessions.TTL < 0:
		return invalid("sessions.ttl", c.Sessions.TTL, "cannot be negative")
	case c.Sessions.SweepInterval < 0:
		return invalid("sessions.sweep_interval", c.Sessions.SweepInterval, "cannot be negative")
	case c.Generator.MaxLength < 1:
		return invalid("generator.max_length", c.Generator.MaxLength, "must be positive")
	case c.Generator.Length < 0 || c.Generator.Length > c.Generator.MaxLength:
		return invalid("generator.length", c.Generator.Length, "must be between 0 and generator.max_length")
	case c.Audit.RetainFailures < 0:
		return invalid("audit.retain_failures", c.Audit.RetainFailures, "cannot be negative")
	case c.Audit.RetainSuccesses < 0:
		return invalid("audit.retain_successes", c.Audit.RetainSuccesses, "cannot be negative")
	case c.Audit.PurgeInterval < 0:
		return invalid("audit.purge_interval", c.Audit.PurgeInterval, "cannot be negative")
	}

	if _, err := audit.ParseMode(c.Audit.Mode); err != nil {
		return invalid("audit.mode", c.Audit.Mode, "must be off, failures, or all")
	}

	if err := c.RegistrationPolicy().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("key", "auth").
			Errorf("invalid registration policy: %v", err)
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("%s %s", key, reason)
}
