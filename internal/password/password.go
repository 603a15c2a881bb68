// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package password generates random passwords and scores password strength.
package password

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Character classes drawn from when generating passwords.
const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Special   = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// DefaultLength is the password length used when none is configured.
const DefaultLength = 12

// Spec describes the password to generate.
type Spec struct {
	Length    int
	Uppercase bool
	Digits    bool
	Special   bool
}

// DefaultSpec returns a 12 character spec with every optional class enabled.
func DefaultSpec() Spec {
	return Spec{
		Length:    DefaultLength,
		Uppercase: true,
		Digits:    true,
		Special:   true,
	}
}

// CharacterSet returns the alphabet a spec draws from. Lowercase letters are
// always included.
func CharacterSet(spec Spec) string {
	var b strings.Builder
	b.WriteString(Lowercase)
	if spec.Uppercase {
		b.WriteString(Uppercase)
	}
	if spec.Digits {
		b.WriteString(Digits)
	}
	if spec.Special {
		b.WriteString(Special)
	}
	return b.String()
}

// Generator produces random passwords. The zero value is not usable; call
// NewGenerator.
type Generator struct {
	random io.Reader
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRandom replaces the entropy source. Intended for tests.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *Generator) {
		g.random = r
	}
}

// NewGenerator creates a Generator backed by crypto/rand.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{random: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a password of spec.Length characters, each drawn
// independently and uniformly from CharacterSet(spec). A non-positive length
// yields an empty password.
func (g *Generator) Generate(spec Spec) (string, error) {
	if spec.Length <= 0 {
		return "", nil
	}

	alphabet := CharacterSet(spec)
	limit := big.NewInt(int64(len(alphabet)))

	out := make([]byte, spec.Length)
	for i := range out {
		n, err := rand.Int(g.random, limit)
		if err != nil {
			return "", oops.Code("PASSWORD_GENERATE_FAILED").
				With("length", spec.Length).
				Wrap(err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// Strength is a coarse password strength rating.
type Strength string

// Strength levels from weakest to strongest.
const (
	Weak       Strength = "weak"
	Medium     Strength = "medium"
	Strong     Strength = "strong"
	VeryStrong Strength = "very-strong"
)

func (s Strength) String() string {
	return string(s)
}

// Score rates a password. One point each for: at least 8 characters, at
// least 12 characters, an ASCII uppercase letter, an ASCII digit, and any
// character that is not an ASCII letter or digit. Four or more points is
// very strong, three strong, two medium, anything else weak.
func Score(pw string) Strength {
	points := 0

	n := utf8.RuneCountInString(pw)
	if n >= 8 {
		points++
	}
	if n >= 12 {
		points++
	}

	var upper, digit, other bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
		default:
			other = true
		}
	}
	for _, hit := range []bool{upper, digit, other} {
		if hit {
			points++
		}
	}

	switch {
	case points >= 4:
		return VeryStrong
	case points == 3:
		return Strong
	case points == 2:
		return Medium
	default:
		return Weak
	}
}
