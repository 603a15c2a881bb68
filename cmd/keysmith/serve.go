// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/config"
	"github.com/keysmith/keysmith/internal/control"
	"github.com/keysmith/keysmith/internal/logging"
	"github.com/keysmith/keysmith/internal/observability"
	keytls "github.com/keysmith/keysmith/internal/tls"
	"github.com/keysmith/keysmith/internal/web"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API server",
		Long: `Run the keysmith JSON API together with the metrics and health
endpoints. Expired sessions are swept in the background.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the API until ctx is cancelled, a signal arrives, or
// a server fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	ctx = contextOrBackground(ctx)
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StorageOpener == nil {
		deps.StorageOpener = openStorage
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, probe observability.ReadinessProbe, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, probe, observability.WithServerLogger(logger))
		}
	}

	logger, err := logging.SetDefault("keysmith", version, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	logger.Info("starting keysmith",
		"http_addr", cfg.HTTP.Addr,
		"storage", cfg.Storage.Driver,
		"hasher", cfg.Auth.Hasher,
		"audit", cfg.Audit.Mode)

	storage, err := deps.StorageOpener(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open storage").Wrap(err)
	}
	defer func() {
		if closeErr := storage.Close(); closeErr != nil {
			logger.Warn("error closing storage", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, storage.Ping, logger)
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	auditLogger, stopAudit, err := startAudit(ctx, cfg, storage, metrics, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "start audit trail").Wrap(err)
	}
	defer stopAudit()

	svc, sessions, err := buildAuthService(cfg, storage, metrics, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	tlsConfig, err := apiTLSConfig(cfg, logger)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	webOpts := []web.Option{web.WithMetrics(metrics), web.WithLogger(logger)}
	if auditLogger != nil {
		webOpts = append(webOpts, web.WithAuditor(auditLogger))
	}
	apiServer, err := web.NewServer(cfg.HTTP.Addr, svc, web.Config{
		CookieName:        cfg.HTTP.CookieName,
		CookieSecure:      cfg.HTTP.CookieSecure,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		GeneratorDefaults: cfg.GeneratorSpec(),
		MaxLength:         cfg.Generator.MaxLength,
		RequireSession:    cfg.Generator.RequireSession,
		TLS:               tlsConfig,
	}, webOpts...)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	var ctrl *control.Server
	if cfg.Control.Enabled {
		socketPath, pathErr := cfg.ControlSocket()
		if pathErr != nil {
			stopServers(apiServer, obsServer, nil, logger)
			return pathErr
		}
		ctrl = control.NewServer(socketPath, control.Info{
			Version: version,
			APIAddr: apiServer.Addr(),
			Storage: storage.Driver,
		}, func() { cancel() })
		if startErr := ctrl.Start(); startErr != nil {
			stopServers(apiServer, obsServer, nil, logger)
			return oops.With("operation", "start control socket").Wrap(startErr)
		}
		logger.Info("control socket listening", "path", socketPath)
	}

	var sweeper sync.WaitGroup
	if cfg.Sessions.SweepInterval > 0 {
		sweeper.Add(1)
		go func() {
			defer sweeper.Done()
			sessions.RunSweeper(ctx, cfg.Sessions.SweepInterval)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("keysmith listening on " + apiServer.Addr())
	logger.Info("keysmith ready", "addr", apiServer.Addr())
	if deps.Ready != nil {
		deps.Ready(apiServer)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	sweeper.Wait()
	stopServers(apiServer, obsServer, ctrl, logger)

	logger.Info("shutdown complete")
	return nil
}

// stopServers stops whichever servers were started, API first.
func stopServers(api APIServer, obsServer ObservabilityServer, ctrl *control.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := api.Stop(ctx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if ctrl != nil {
		if err := ctrl.Stop(ctx); err != nil {
			logger.Warn("error stopping control socket", "error", err)
		}
	}
	stopObservability(obsServer, logger)
}

// buildAuthService assembles the credential store, session manager, and
// auth service over storage.
func buildAuthService(
	cfg *config.Config,
	storage *Storage,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Service, *auth.SessionManager, error) {
	hasher, err := auth.NewHasher(cfg.Auth.Hasher, auth.DefaultArgon2Params, bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	credentials, err := auth.NewCredentialStore(storage.Accounts, hasher)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := auth.NewSessionManager(storage.Sessions, credentials,
		auth.WithSessionTTL(cfg.Sessions.TTL),
		auth.WithSessionLogger(logger),
		auth.WithSweepHook(metrics.RecordSessionsSwept))
	if err != nil {
		return nil, nil, err
	}

	svc, err := auth.NewAuthServiceWithLogger(credentials, sessions, cfg.RegistrationPolicy(), logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, sessions, nil
}

// apiTLSConfig returns the HTTPS config for the API, or nil for plain HTTP.
func apiTLSConfig(cfg *config.Config, logger *slog.Logger) (*cryptotls.Config, error) {
	switch {
	case cfg.HTTP.TLSCert != "":
		return keytls.LoadServerTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
	case cfg.HTTP.TLSSelfSigned:
		dir, err := cfg.CertsDir()
		if err != nil {
			return nil, err
		}
		tlsConfig, err := keytls.EnsureSelfSigned(dir, certHosts(cfg.HTTP.Addr))
		if err != nil {
			return nil, err
		}
		logger.Info("serving HTTPS with self-signed certificate", "certs_dir", dir)
		return tlsConfig, nil
	}
	return nil, nil
}

// certHosts lists the names a self-signed certificate covers: the listen
// host, when it is specific, plus the loopback names.
func certHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" || slices.Contains(hosts, host) {
		return hosts
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return hosts
	}
	return append([]string{host}, hosts...)
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
