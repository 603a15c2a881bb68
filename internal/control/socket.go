// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

// Package control serves a local admin API over a Unix socket so the CLI can
// inspect and stop a running keysmith server.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/keysmith/keysmith/internal/xdg"
)

// SocketName is the socket file name inside the runtime directory.
const SocketName = "keysmith.sock"

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Info describes the running server.
type Info struct {
	Version string `json:"version"`
	APIAddr string `json:"api_addr"`
	Storage string `json:"storage"`
}

// StatusResponse is returned by the /status endpoint.
type StatusResponse struct {
	Info
	Running       bool  `json:"running"`
	PID           int   `json:"pid"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// ShutdownResponse is returned by the /shutdown endpoint.
type ShutdownResponse struct {
	Message string `json:"message"`
}

// ShutdownFunc is called when shutdown is requested.
type ShutdownFunc func()

// Server runs HTTP over a Unix socket.
type Server struct {
	socketPath   string
	info         Info
	startTime    time.Time
	listener     net.Listener
	httpServer   *http.Server
	shutdownFunc ShutdownFunc
	running      atomic.Bool
	logger       *slog.Logger
}

// SocketPath returns the default socket path in the runtime directory.
func SocketPath() (string, error) {
	dir, err := xdg.RuntimeDir()
	if err != nil {
		return "", oops.Code("CONTROL_SOCKET_PATH").Wrap(err)
	}
	return filepath.Join(dir, SocketName), nil
}

// NewServer creates a control server bound to socketPath once started.
func NewServer(socketPath string, info Info, shutdownFunc ShutdownFunc) *Server {
	return &Server{
		socketPath:   socketPath,
		info:         info,
		startTime:    time.Now(),
		shutdownFunc: shutdownFunc,
		logger:       slog.Default(),
	}
}

// Start listens on the socket, replacing a stale socket file, and restricts
// it to the owner.
func (s *Server) Start() error {
	if err := xdg.EnsureDir(filepath.Dir(s.socketPath)); err != nil {
		return err
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", s.socketPath).Wrap(err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", s.socketPath).Wrap(err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return oops.Code("CONTROL_LISTEN_FAILED").With("path", s.socketPath).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control socket server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return oops.Code("CONTROL_SHUTDOWN_FAILED").Wrap(err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("failed to close control socket listener", "error", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove control socket file", "path", s.socketPath, "error", err)
	}
	return nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.socketPath
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.write(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.write(w, StatusResponse{
		Info:          s.info,
		Running:       s.running.Load(),
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.write(w, ShutdownResponse{Message: "shutdown initiated"})
	if s.shutdownFunc != nil {
		go s.shutdownFunc()
	}
}

func (s *Server) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write control response", "error", err)
	}
}
