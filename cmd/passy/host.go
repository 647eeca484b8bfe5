// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/passy/passy/internal/bridge"
	"github.com/passy/passy/internal/config"
	"github.com/passy/passy/internal/host"
	"github.com/passy/passy/internal/transport"
	"github.com/passy/passy/internal/xdg"
)

// NewHostCmd creates the host subcommand.
func NewHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Run the plugin host",
		Long: `Run the plugin host, which answers plugin command requests published
on the request topic until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, "passy-host")
			if err != nil {
				return oops.Wrapf(err, "invalid configuration")
			}
			return runHostWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// newRouter builds the router with the built-in plugins.
func newRouter() (*host.Router, error) {
	router := host.NewRouter()
	if err := host.RegisterEcho(router); err != nil {
		return nil, oops.Wrapf(err, "register echo plugin")
	}
	return router, nil
}

// resolveAppdataDir returns the configured appdata dir, or the default one,
// creating it if needed.
func resolveAppdataDir(cfg *config.Config, deps *Deps) (string, error) {
	dir := cfg.Host.AppdataDir
	if dir == "" {
		var err error
		dir, err = deps.AppdataDirGetter()
		if err != nil {
			return "", oops.Wrapf(err, "resolve appdata directory")
		}
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return "", err //nolint:wrapcheck // EnsureDir carries the path
	}
	return dir, nil
}

// startResponder serves router on the transport until Stop.
func startResponder(ctx context.Context, cfg *config.Config, deps *Deps, t transport.Transport) (*host.Responder, error) {
	router, err := newRouter()
	if err != nil {
		return nil, err
	}
	appdataDir, err := resolveAppdataDir(cfg, deps)
	if err != nil {
		return nil, err
	}

	responder, err := host.NewResponder(t, router,
		host.WithTopics(cfg.Bridge.RequestTopic, cfg.Bridge.ResponseTopic),
		host.WithAppdataDir(appdataDir),
		host.WithHandlerTimeout(cfg.Host.HandlerTimeout),
		host.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, oops.Wrapf(err, "create responder")
	}
	if err := responder.Start(ctx); err != nil {
		return nil, oops.Wrapf(err, "start responder")
	}
	return responder, nil
}

// runHostWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runHostWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	slog.Info("starting plugin host",
		"transport", cfg.Transport.Kind,
		"request_topic", cfg.Bridge.RequestTopic,
		"response_topic", cfg.Bridge.ResponseTopic,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t, release, err := deps.TransportFactory(ctx, cfg.Transport)
	if err != nil {
		return oops.Wrapf(err, "open transport")
	}
	defer release()

	responder, err := startResponder(ctx, cfg, deps, t)
	if err != nil {
		return err
	}
	defer responder.Stop()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load,
			host.RegisterMetrics, bridge.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Plugin host started")

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}
	ready.Store(false)

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a background server fails.
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
