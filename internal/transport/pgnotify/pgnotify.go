// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package pgnotify implements a broadcast transport over PostgreSQL
// LISTEN/NOTIFY. Every session listening on a channel receives every
// notification sent to it, which matches the multi-subscriber semantics of
// the in-process bus.
package pgnotify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/passy/passy/internal/transport"
)

// MaxPayloadSize is the largest payload PostgreSQL accepts for NOTIFY.
const MaxPayloadSize = 7999

// Error codes for transport failures.
const (
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeNotifyFailed    = "NOTIFY_FAILED"
	CodeListenFailed    = "LISTEN_FAILED"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// Execer runs a statement. Satisfied by *pgxpool.Pool and pgxmock pools.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Conn is a dedicated session that can LISTEN. Satisfied by *pgx.Conn.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listening session.
type Dialer func(ctx context.Context) (Conn, error)

// PoolDialer takes a connection out of pool for exclusive use by a listener.
// The connection is closed rather than returned when the listener stops.
func PoolDialer(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, oops.Code(CodeListenFailed).Wrap(err)
		}
		return c.Hijack(), nil
	}
}

// Transport publishes with pg_notify and subscribes with LISTEN.
type Transport struct {
	exec    Execer
	dial    Dialer
	backoff func() retry.Backoff
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Option configures a Transport.
type Option func(*Transport)

// WithBackoff overrides the retry policy for publish and reconnect.
func WithBackoff(f func() retry.Backoff) Option {
	return func(t *Transport) {
		t.backoff = f
	}
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// DefaultBackoff is exponential from 100ms, capped at 5s per attempt and
// five retries.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	return retry.WithMaxRetries(5, b)
}

// New creates a transport. exec is used for NOTIFY, dial for LISTEN sessions.
func New(exec Execer, dial Dialer, opts ...Option) *Transport {
	t := &Transport{
		exec:    exec,
		dial:    dial,
		backoff: DefaultBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFromPool creates a transport sharing pool for both directions.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Transport {
	return New(pool, PoolDialer(pool), opts...)
}

// Publish sends payload on the channel named topic.
// Connection-class failures are retried with backoff.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return oops.Code(CodePayloadTooLarge).
			With("topic", topic).
			With("size", len(payload)).
			Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}

	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		_, err := t.exec.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(payload))
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return oops.Code(CodeNotifyFailed).With("topic", topic).Wrap(err)
	}
	return nil
}

// Subscribe opens a listening session for topic and delivers every
// notification to handler from a single goroutine. A lost session is
// re-established with backoff; notifications sent while disconnected are lost.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler transport.Handler) (transport.Disposer, error) {
	if handler == nil {
		return nil, oops.With("topic", topic).Errorf("nil handler")
	}

	conn, err := t.listen(ctx, topic)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, topic, conn, handler)
	}()

	return transport.OnceDisposer(cancel), nil
}

// Wait blocks until every listener goroutine has exited.
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) run(ctx context.Context, topic string, conn Conn, handler transport.Handler) {
	defer func() {
		if conn != nil {
			closeConn(conn)
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("notification listener lost connection",
				"topic", topic,
				"error", err)
			closeConn(conn)
			conn = nil

			conn, err = t.reconnect(ctx, topic)
			if err != nil {
				if ctx.Err() == nil {
					t.logger.Error("notification listener giving up",
						"topic", topic,
						"error", err)
				}
				return
			}
			continue
		}
		if n.Channel != topic {
			continue
		}
		handler(ctx, []byte(n.Payload))
	}
}

func (t *Transport) reconnect(ctx context.Context, topic string) (Conn, error) {
	var conn Conn
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		c, err := t.listen(ctx, topic)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already an oops error from listen
	}
	t.logger.Info("notification listener reconnected", "topic", topic)
	return conn, nil
}

func (t *Transport) listen(ctx context.Context, topic string) (Conn, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, oops.Code(CodeListenFailed).With("topic", topic).Wrap(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		closeConn(conn)
		return nil, oops.Code(CodeListenFailed).With("topic", topic).Wrap(err)
	}
	return conn, nil
}

func closeConn(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// isRetryable reports whether err is a transient connection failure.
func isRetryable(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown
	}
	return false
}
