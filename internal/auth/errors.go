// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import "errors"

// Repository errors.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateToken is returned when a session token hash is already stored.
	ErrDuplicateToken = errors.New("session token already exists")
)

// Errors surfaced by the services. Each is returned wrapped in an oops error
// carrying a stable code; match with errors.Is.
var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrMissingFields      = errors.New("email and password are required")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrPasswordTooLong    = errors.New("password is too long")
	ErrEmailNotAllowed    = errors.New("email domain is not allowed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrStorage            = errors.New("storage failure")
)
