// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/keysmith/keysmith/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the keysmith CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keysmith",
		Short: "keysmith - accounts, sessions, and password tooling",
		Long: `keysmith registers accounts, authenticates them into sessions, and
generates and scores passwords. It runs as a JSON API server or as an
offline password tool.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/keysmith/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewGenerateCmd())
	cmd.AddCommand(NewScoreCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewStopCmd())

	return cmd
}

// loadConfig reads and validates configuration for cmd, honoring --config
// and any explicitly set configuration flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
