// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig keeps tests away from the developer's config file and
// database URL.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	configFile = ""
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	output, err := executeRoot(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "migrate", "generate", "score", "status", "stop"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "equals form",
			args:     []string{"--config=/etc/keysmith.yaml", "--help"},
			wantFlag: "/etc/keysmith.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			_, err := executeRoot(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_ConfigurationFlagsArePersistent(t *testing.T) {
	output, err := executeRoot(t, "serve", "--help")
	require.NoError(t, err)

	for _, flag := range []string{"--storage.driver", "--auth.min-password-length", "--sessions.ttl", "--http.addr"} {
		assert.Contains(t, output, flag)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_Properties(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "keysmith", cmd.Use)
	assert.Contains(t, cmd.Long, "sessions")
}

func TestLoadConfig_RejectsInvalidFlag(t *testing.T) {
	isolateConfig(t)

	_, err := executeRoot(t, "serve", "--storage.driver", "mongo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}
