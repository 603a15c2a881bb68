// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package auth implements account registration, password verification, and
// session management for Keysmith.
//
// # Domain Types
//
// Account and Session values are created through their constructors:
//   - NewAccount - validates the email and password hash, assigns an ID
//   - NewSession - validates the bound account and token hash
//
// Repository implementations (memory, postgres, sqlite) receive
// pre-validated values and enforce uniqueness atomically.
//
// # Services
//
//   - CredentialStore - account creation, lookup, and password verification
//   - SessionManager - opaque token issuance, resolution, and revocation
//   - Service - register, login, logout, and current-account resolution
//
// Constructors validate their dependencies and return an error when one is
// missing.
package auth
