// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package bridge lets a front-end process call commands owned by plugins in
// a host process over a broadcast transport.
//
// The transport has no request/response pairing, so every invocation carries
// a RequestID and the host echoes it in its single reply. A Bridge keeps one
// subscription on the response topic for its whole lifetime and routes each
// reply to the waiting Call through a Registry.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/passy/passy/internal/transport"
	"github.com/passy/passy/pkg/errutil"
)

// Defaults for the wire topics and call budget.
const (
	DefaultRequestTopic  = "plugin"
	DefaultResponseTopic = "plugin_res"
	DefaultTimeout       = 10 * time.Second
)

var tracer = otel.Tracer("passy/bridge")

// Bridge invokes plugin commands and correlates their responses.
type Bridge struct {
	transport     transport.Transport
	registry      *Registry
	requestTopic  string
	responseTopic string
	timeout       time.Duration
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dispose transport.Disposer
	closed  bool
}

// Option configures a Bridge during construction.
type Option func(*Bridge)

// WithRequestTopic overrides the topic requests are published on.
func WithRequestTopic(topic string) Option {
	return func(b *Bridge) {
		if topic != "" {
			b.requestTopic = topic
		}
	}
}

// WithResponseTopic overrides the topic responses are read from.
func WithResponseTopic(topic string) Option {
	return func(b *Bridge) {
		if topic != "" {
			b.responseTopic = topic
		}
	}
}

// WithDefaultTimeout sets the budget for calls that don't pass WithTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge over t. The response subscription is opened lazily
// by the first Invoke.
func New(t transport.Transport, opts ...Option) (*Bridge, error) {
	if t == nil {
		return nil, errors.New("bridge: transport cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		transport:     t,
		registry:      NewRegistry(),
		requestTopic:  DefaultRequestTopic,
		responseTopic: DefaultResponseTopic,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// invokeConfig holds per-call settings.
type invokeConfig struct {
	timeout time.Duration
	states  []AppState
}

// InvokeOption configures a single invocation.
type InvokeOption func(*invokeConfig)

// WithTimeout sets the budget for one call. Values <= 0 keep the default.
func WithTimeout(d time.Duration) InvokeOption {
	return func(c *invokeConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStates asks the host to pass the named host state to the command.
func WithStates(states ...AppState) InvokeOption {
	return func(c *invokeConfig) {
		c.states = append(c.states, states...)
	}
}

// Invoke publishes command for plugin with data and returns the pending call.
//
// The call settles exactly once: with the host's value, with the host's
// error, or with an encoding, publish, timeout, or cancellation error,
// whichever happens first. Cancelling ctx rejects the call with a
// cancellation error; a ctx deadline rejects it with a timeout error. Neither
// retracts a request that was already published.
func (b *Bridge) Invoke(ctx context.Context, plugin, command string, data any, opts ...InvokeOption) *Call {
	cfg := invokeConfig{timeout: b.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	id, call := b.registry.Register(plugin, command)
	OutstandingCalls.Inc()

	ctx, span := tracer.Start(ctx, "bridge.invoke",
		trace.WithAttributes(
			attribute.String("plugin.id", plugin),
			attribute.String("plugin.command", command),
			attribute.Int64("plugin.request_id", int64(id)), //nolint:gosec // ids stay far below MaxInt64
		),
	)
	call.observe(b.finish(span))

	payload, err := Encode(plugin, command, id, data, cfg.states...)
	if err != nil {
		b.registry.Expire(id, err)
		return call
	}

	if ctx.Err() != nil {
		b.registry.Expire(id, contextError(ctx, id, cfg.timeout))
		return call
	}

	if err := b.subscribe(); err != nil {
		if errors.Is(err, ErrClosed) {
			b.registry.Expire(id, CancelledError(id, ErrClosed))
		} else {
			b.registry.Expire(id, PublishError(id, b.responseTopic, err))
		}
		return call
	}

	timer := time.AfterFunc(cfg.timeout, func() {
		b.registry.Expire(id, TimeoutError(id, cfg.timeout))
	})
	b.registry.Attach(id, func() { timer.Stop() })

	stopWatch := context.AfterFunc(ctx, func() {
		b.registry.Expire(id, contextError(ctx, id, cfg.timeout))
	})
	b.registry.Attach(id, func() { stopWatch() })

	// Publishing stops once the call settles, and a call that settled
	// already (closed, timed out, cancelled) is never sent.
	pubCtx, cancelPublish := context.WithCancel(ctx)
	defer cancelPublish()
	if !b.registry.Attach(id, cancelPublish) {
		return call
	}

	if err := b.transport.Publish(pubCtx, b.requestTopic, payload); err != nil {
		if ctx.Err() != nil {
			b.registry.Expire(id, contextError(ctx, id, cfg.timeout))
		} else {
			b.registry.Expire(id, PublishError(id, b.requestTopic, err))
		}
		return call
	}

	b.logger.DebugContext(ctx, "plugin command published",
		"plugin", plugin,
		"command", command,
		"request_id", uint64(id))
	return call
}

// Call invokes a command and waits for its outcome.
func (b *Bridge) Call(ctx context.Context, plugin, command string, data any, opts ...InvokeOption) (json.RawMessage, error) {
	call := b.Invoke(ctx, plugin, command, data, opts...)
	<-call.Done()
	return call.outcome()
}

// InvokeAs invokes a command and unmarshals its value into T.
func InvokeAs[T any](ctx context.Context, b *Bridge, plugin, command string, data any, opts ...InvokeOption) (T, error) {
	var out T
	call := b.Invoke(ctx, plugin, command, data, opts...)
	<-call.Done()

	raw, err := call.outcome()
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, DecodingError(call.RequestID(), err)
	}
	return out, nil
}

// Pending returns the number of calls awaiting settlement.
func (b *Bridge) Pending() int {
	return b.registry.Len()
}

// Close drops the response subscription and rejects every outstanding call
// with a cancellation error. Invocations after Close are rejected the same way.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	dispose := b.dispose
	b.dispose = nil
	b.mu.Unlock()

	if dispose != nil {
		dispose()
	}
	b.cancel()

	rejected := b.registry.ExpireAll(func(id RequestID) error {
		return CancelledError(id, ErrClosed)
	})
	if len(rejected) > 0 {
		b.logger.Info("bridge closed with outstanding calls", "rejected", len(rejected))
	}
	return nil
}

// subscribe opens the shared response subscription once.
func (b *Bridge) subscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.dispose != nil {
		return nil
	}

	dispose, err := b.transport.Subscribe(b.ctx, b.responseTopic, b.handleResponse)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by the caller with request context
	}
	b.dispose = dispose
	b.logger.Debug("subscribed to plugin responses", "topic", b.responseTopic)
	return nil
}

// handleResponse settles the call a response belongs to. Responses that
// cannot be attributed, or whose call already settled, are dropped.
func (b *Bridge) handleResponse(ctx context.Context, payload []byte) {
	res, err := Decode(payload)
	if err != nil {
		if res.RequestID != 0 && IsDecodingError(err) {
			if !b.registry.Expire(res.RequestID, err) {
				recordDropped(DropUnknownID)
			}
			return
		}
		recordDropped(DropMalformed)
		errutil.LogWarn(ctx, b.logger, "dropping malformed plugin response", err)
		return
	}

	if !b.registry.Settle(res.RequestID, res) {
		recordDropped(DropUnknownID)
		b.logger.DebugContext(ctx, "dropping response for unknown or settled request",
			"request_id", uint64(res.RequestID))
	}
}

// contextError maps a finished ctx to the rejection for id: a deadline is a
// timeout, anything else is a cancellation.
func contextError(ctx context.Context, id RequestID, budget time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutError(id, budget)
	}
	return CancelledError(id, context.Cause(ctx))
}

// finish returns the observer that records a settled call.
func (b *Bridge) finish(span trace.Span) func(*Call) {
	return func(c *Call) {
		OutstandingCalls.Dec()
		_, err := c.outcome()
		recordSettled(c, outcomeOf(err))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
