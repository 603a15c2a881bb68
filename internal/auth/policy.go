// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package auth

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// DefaultMinPasswordLength is the minimum length enforced at registration
// unless configured otherwise.
const DefaultMinPasswordLength = 6

// RegistrationPolicy holds the rules applied by Service.Register.
type RegistrationPolicy struct {
	// MinPasswordLength is counted in runes and only applies when
	// EnforceMinLength is set.
	MinPasswordLength int
	EnforceMinLength  bool

	// AllowedDomains restricts the email domain to those matching one of
	// the glob patterns. "*" does not cross dots; "**" does. Empty allows
	// every domain.
	AllowedDomains []string
}

// DefaultRegistrationPolicy enforces a six character minimum and accepts any
// domain.
func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		MinPasswordLength: DefaultMinPasswordLength,
		EnforceMinLength:  true,
	}
}

// Validate checks the policy for configuration mistakes.
func (p RegistrationPolicy) Validate() error {
	if p.EnforceMinLength && p.MinPasswordLength < 1 {
		return oops.Code("POLICY_INVALID").
			With("min_password_length", p.MinPasswordLength).
			Errorf("minimum password length must be at least 1 when enforced")
	}
	_, err := p.compileDomains()
	return err
}

func (p RegistrationPolicy) compileDomains() ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(p.AllowedDomains))
	for _, pattern := range p.AllowedDomains {
		g, err := glob.Compile(NormalizeEmail(pattern), '.')
		if err != nil {
			return nil, oops.Code("POLICY_INVALID").With("pattern", pattern).Wrap(err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// domainMatcher reports whether an email's domain passes the allow-list.
type domainMatcher []glob.Glob

func (m domainMatcher) allows(email string) bool {
	if len(m) == 0 {
		return true
	}
	domain := emailDomain(email)
	if domain == "" {
		return false
	}
	for _, g := range m {
		if g.Match(domain) {
			return true
		}
	}
	return false
}
