// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package password_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keysmith/keysmith/internal/password"
	"github.com/keysmith/keysmith/pkg/errutil"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestCharacterSet(t *testing.T) {
	tests := []struct {
		name string
		spec password.Spec
		want string
	}{
		{"lowercase only", password.Spec{}, password.Lowercase},
		{"uppercase", password.Spec{Uppercase: true}, password.Lowercase + password.Uppercase},
		{"digits", password.Spec{Digits: true}, password.Lowercase + password.Digits},
		{"special", password.Spec{Special: true}, password.Lowercase + password.Special},
		{
			"all classes",
			password.DefaultSpec(),
			password.Lowercase + password.Uppercase + password.Digits + password.Special,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, password.CharacterSet(tt.spec))
		})
	}
}

func TestSpecialSetIsASCIIPunctuation(t *testing.T) {
	assert.Len(t, password.Special, 32)
	for _, r := range password.Special {
		assert.False(t, strings.ContainsRune(password.Lowercase+password.Uppercase+password.Digits, r))
		assert.True(t, r > ' ' && r < 0x7f, "unexpected rune %q", r)
	}
}

func TestDefaultSpec(t *testing.T) {
	spec := password.DefaultSpec()
	assert.Equal(t, 12, spec.Length)
	assert.True(t, spec.Uppercase)
	assert.True(t, spec.Digits)
	assert.True(t, spec.Special)
}

func TestGenerator_Generate(t *testing.T) {
	gen := password.NewGenerator()

	t.Run("length and alphabet", func(t *testing.T) {
		for _, length := range []int{1, 8, 12, 64, 256} {
			spec := password.DefaultSpec()
			spec.Length = length

			pw, err := gen.Generate(spec)
			require.NoError(t, err)
			assert.Len(t, pw, length)

			alphabet := password.CharacterSet(spec)
			for _, r := range pw {
				assert.True(t, strings.ContainsRune(alphabet, r), "rune %q outside alphabet", r)
			}
		}
	})

	t.Run("no optional classes yields lowercase only", func(t *testing.T) {
		pw, err := gen.Generate(password.Spec{Length: 200})
		require.NoError(t, err)
		assert.Len(t, pw, 200)
		for _, r := range pw {
			assert.True(t, r >= 'a' && r <= 'z', "rune %q is not lowercase", r)
		}
	})

	t.Run("non-positive length yields empty password", func(t *testing.T) {
		for _, length := range []int{0, -1, -100} {
			pw, err := gen.Generate(password.Spec{Length: length, Uppercase: true})
			require.NoError(t, err)
			assert.Empty(t, pw)
		}
	})

	t.Run("successive passwords differ", func(t *testing.T) {
		spec := password.DefaultSpec()
		spec.Length = 32
		seen := make(map[string]struct{})
		for range 50 {
			pw, err := gen.Generate(spec)
			require.NoError(t, err)
			seen[pw] = struct{}{}
		}
		assert.Len(t, seen, 50)
	})

	t.Run("all classes eventually appear", func(t *testing.T) {
		spec := password.DefaultSpec()
		spec.Length = 2000
		pw, err := gen.Generate(spec)
		require.NoError(t, err)
		assert.True(t, strings.ContainsAny(pw, password.Lowercase))
		assert.True(t, strings.ContainsAny(pw, password.Uppercase))
		assert.True(t, strings.ContainsAny(pw, password.Digits))
		assert.True(t, strings.ContainsAny(pw, password.Special))
	})
}

func TestGenerator_InjectedRandom(t *testing.T) {
	gen := password.NewGenerator(password.WithRandom(bytes.NewReader(make([]byte, 64))))

	pw, err := gen.Generate(password.Spec{Length: 6, Digits: true})
	require.NoError(t, err)
	assert.Equal(t, "aaaaaa", pw)
}

func TestGenerator_RandomFailure(t *testing.T) {
	gen := password.NewGenerator(password.WithRandom(failingReader{}))

	_, err := gen.Generate(password.DefaultSpec())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "PASSWORD_GENERATE_FAILED")
	errutil.AssertErrorContext(t, err, "length", 12)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		want password.Strength
	}{
		{"empty", "", password.Weak},
		{"short lowercase", "abc", password.Weak},
		{"eight lowercase scores one point", "abcdefgh", password.Weak},
		{"eight with digit", "abcdefg1", password.Medium},
		{"twelve lowercase", "abcdefghijkl", password.Medium},
		{"short with upper digit special", "aB1!", password.Strong},
		{"eight with upper and digit", "abcdefG1", password.Strong},
		{"twelve with upper", "abcdefghijkL", password.Strong},
		{"eight with upper digit special", "abcdeG1!", password.VeryStrong},
		{"twelve with upper digit special", "Abcdefghij1!", password.VeryStrong},
		{"non-ascii counts as other", "pässwörd", password.Medium},
		{"length counts runes", "ééééééé", password.Weak},
		{"space counts as other", "a b", password.Weak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, password.Score(tt.pw))
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	for _, pw := range []string{"", "hunter2", "Correct-Horse-Battery-9"} {
		first := password.Score(pw)
		for range 10 {
			assert.Equal(t, first, password.Score(pw))
		}
	}
}

func TestStrength_String(t *testing.T) {
	assert.Equal(t, "very-strong", password.VeryStrong.String())
	assert.Equal(t, "weak", password.Weak.String())
}
