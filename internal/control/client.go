// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// ErrNotRunning is returned when nothing answers on the socket.
var ErrNotRunning = oops.Code("CONTROL_NOT_RUNNING").Errorf("keysmith server is not running")

// Client talks to a control Server over its socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 2 * time.Second,
		},
	}
}

// Health queries /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", &resp)
	return resp, err
}

// Status queries /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", &resp)
	return resp, err
}

// Shutdown asks the server to stop.
func (c *Client) Shutdown(ctx context.Context) (ShutdownResponse, error) {
	var resp ShutdownResponse
	err := c.do(ctx, http.MethodPost, "/shutdown", &resp)
	return resp, err
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://keysmith"+path, http.NoBody)
	if err != nil {
		return oops.Code("CONTROL_REQUEST_FAILED").With("path", path).Wrap(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.With("socket", c.socketPath).Wrapf(ErrNotRunning, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return oops.Code("CONTROL_REQUEST_FAILED").
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Code("CONTROL_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
