// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/passy/passy/internal/bus"
	"github.com/passy/passy/internal/config"
	"github.com/passy/passy/internal/observability"
	"github.com/passy/passy/internal/transport"
	"github.com/passy/passy/internal/transport/pgnotify"
	"github.com/passy/passy/internal/xdg"
)

// Deps contains injectable dependencies for the host and invoke commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// TransportFactory opens the configured transport and returns a func
	// that releases it.
	// Default: openTransport
	TransportFactory func(ctx context.Context, cfg config.TransportConfig) (transport.Transport, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer

	// AppdataDirGetter returns the default AppdataPath directory.
	// Default: xdg.AppdataDir
	AppdataDirGetter func() (string, error)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// openTransport builds the transport named by cfg.Kind.
func openTransport(ctx context.Context, cfg config.TransportConfig) (transport.Transport, func(), error) {
	switch cfg.Kind {
	case config.TransportPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, oops.With("transport", cfg.Kind).Wrapf(err, "connect to database")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, oops.With("transport", cfg.Kind).Wrapf(err, "ping database")
		}
		t := pgnotify.NewFromPool(pool)
		return t, func() {
			t.Wait()
			pool.Close()
		}, nil
	case config.TransportMemory, "":
		t := transport.NewMemory(bus.New(bus.WithBufferSize(cfg.BufferSize)))
		return t, t.Wait, nil
	default:
		return nil, nil, oops.With("transport", cfg.Kind).Errorf("unknown transport %q", cfg.Kind)
	}
}

// withDefaults fills nil dependencies.
func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.TransportFactory == nil {
		out.TransportFactory = openTransport
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, ready, observability.WithRegistrars(registrars...))
		}
	}
	if out.AppdataDirGetter == nil {
		out.AppdataDirGetter = xdg.AppdataDir
	}
	return &out
}
