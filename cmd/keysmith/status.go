// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keysmith/keysmith/internal/config"
	"github.com/keysmith/keysmith/internal/control"
)

const controlTimeout = 3 * time.Second

// ProcessStatus is what the status command reports.
type ProcessStatus struct {
	Running       bool   `json:"running"`
	Health        string `json:"health,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Version       string `json:"version,omitempty"`
	APIAddr       string `json:"api_addr,omitempty"`
	Storage       string `json:"storage,omitempty"`
	Socket        string `json:"socket"`
	Error         string `json:"error,omitempty"`
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a keysmith server is running",
		Long:  `Query the local admin socket of a running keysmith server.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := controlSocket(cmd)
			if err != nil {
				return err
			}
			st := queryStatus(cmd.Context(), socketPath)

			if jsonOutput {
				out, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), formatStatusTable(st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

// NewStopCmd creates the stop subcommand.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a running keysmith server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := controlSocket(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(contextOrBackground(cmd.Context()), controlTimeout)
			defer cancel()

			client := control.NewClient(socketPath)
			defer client.CloseIdleConnections()

			resp, err := client.Shutdown(ctx)
			if err != nil {
				return err
			}
			cmd.Println(resp.Message)
			return nil
		},
	}
}

func controlSocket(cmd *cobra.Command) (string, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return "", err
	}
	return cfg.ControlSocket()
}

// queryStatus never fails: an unreachable server is reported as stopped.
func queryStatus(ctx context.Context, socketPath string) ProcessStatus {
	st := ProcessStatus{Socket: socketPath}

	ctx, cancel := context.WithTimeout(contextOrBackground(ctx), controlTimeout)
	defer cancel()

	client := control.NewClient(socketPath)
	defer client.CloseIdleConnections()

	health, err := client.Health(ctx)
	if err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			st.Error = "not running"
		} else {
			st.Error = err.Error()
		}
		return st
	}
	st.Running = true
	st.Health = health.Status

	status, err := client.Status(ctx)
	if err != nil {
		return st
	}
	st.Running = status.Running
	st.PID = status.PID
	st.UptimeSeconds = status.UptimeSeconds
	st.Version = status.Version
	st.APIAddr = status.APIAddr
	st.Storage = status.Storage
	return st
}

func formatStatusTable(st ProcessStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "STATUS\tHEALTH\tPID\tUPTIME\tADDR\tSTORAGE")
	if st.Running {
		_, _ = fmt.Fprintf(w, "running\t%s\t%d\t%s\t%s\t%s\n",
			st.Health, st.PID, formatUptime(st.UptimeSeconds), st.APIAddr, st.Storage)
	} else {
		_, _ = fmt.Fprintf(w, "stopped\t-\t-\t-\t-\t%s\n", st.Error)
	}

	_ = w.Flush()
	return buf.String()
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
