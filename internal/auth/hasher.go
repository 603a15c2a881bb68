// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher names accepted by NewHasher.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way digest of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)
}

// FormatHasher is a PasswordHasher that recognizes its own encoded hashes.
type FormatHasher interface {
	PasswordHasher
	Recognizes(hash string) bool
}

// Argon2Params tunes argon2id. Memory is in KiB.
type Argon2Params struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	SaltLength uint32
	KeyLength  uint32
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Time:       1,
	Memory:     64 * 1024,
	Threads:    4,
	SaltLength: 16,
	KeyLength:  32,
}

// Argon2idHasher hashes passwords with argon2id and encodes them as PHC
// strings: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an Argon2idHasher with DefaultArgon2Params.
func NewArgon2idHasher() *Argon2idHasher {
	return NewArgon2idHasherWithParams(DefaultArgon2Params)
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom parameters.
func NewArgon2idHasherWithParams(params Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: params}
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash. Parameters are read from
// the encoded hash, not from the hasher.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != HasherArgon2id {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// Recognizes reports whether hash is an argon2id PHC string.
func (h *Argon2idHasher) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$argon2id$")
}

// BcryptHasher hashes passwords with bcrypt. Hash rejects inputs longer than
// 72 bytes with ErrPasswordTooLong; Verify treats them as a mismatch.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost outside bcrypt's accepted
// range falls back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").With("max_bytes", 72).Wrap(ErrPasswordTooLong)
	}
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("cost", h.cost).Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the password matches the bcrypt hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

// Recognizes reports whether hash is a bcrypt modular-crypt string.
func (h *BcryptHasher) Recognizes(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

// DispatchHasher hashes with a primary algorithm and verifies any hash one of
// its hashers recognizes, so changing the primary keeps existing accounts
// usable.
type DispatchHasher struct {
	primary FormatHasher
	all     []FormatHasher
}

// NewDispatchHasher creates a DispatchHasher. Additional hashers are only
// used for verification.
func NewDispatchHasher(primary FormatHasher, others ...FormatHasher) *DispatchHasher {
	return &DispatchHasher{
		primary: primary,
		all:     append([]FormatHasher{primary}, others...),
	}
}

// NewHasher returns a DispatchHasher whose primary algorithm is name and
// which verifies both argon2id and bcrypt hashes.
func NewHasher(name string, params Argon2Params, bcryptCost int) (*DispatchHasher, error) {
	argon := NewArgon2idHasherWithParams(params)
	bc := NewBcryptHasher(bcryptCost)

	switch name {
	case HasherArgon2id, "":
		return NewDispatchHasher(argon, bc), nil
	case HasherBcrypt:
		return NewDispatchHasher(bc, argon), nil
	default:
		return nil, oops.Code("AUTH_UNKNOWN_HASHER").With("hasher", name).Errorf("unknown password hasher %q", name)
	}
}

// Hash hashes with the primary algorithm.
func (h *DispatchHasher) Hash(password string) (string, error) {
	//nolint:wrapcheck // primary hasher already returns coded errors
	return h.primary.Hash(password)
}

// Verify checks the password with whichever hasher recognizes the hash.
func (h *DispatchHasher) Verify(password, hash string) (bool, error) {
	for _, candidate := range h.all {
		if candidate.Recognizes(hash) {
			//nolint:wrapcheck // hashers already return coded errors
			return candidate.Verify(password, hash)
		}
	}
	return false, oops.Code("AUTH_INVALID_HASH").Errorf("unrecognized hash format")
}

// Recognizes reports whether any configured hasher recognizes hash.
func (h *DispatchHasher) Recognizes(hash string) bool {
	for _, candidate := range h.all {
		if candidate.Recognizes(hash) {
			return true
		}
	}
	return false
}
