// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package host answers plugin command requests published by a bridge.
//
// A Responder subscribes to the request topic, routes each request to a
// Handler, and publishes exactly one response carrying the request's id.
// Requests without an id cannot be answered and are dropped.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/passy/passy/internal/bridge"
	"github.com/passy/passy/internal/transport"
	"github.com/passy/passy/pkg/errutil"
)

// ErrorPrefix marks a handler result that is a failure message.
const ErrorPrefix = "err:"

// DefaultHandlerTimeout bounds a single handler run.
const DefaultHandlerTimeout = 30 * time.Second

// Responder serves plugin commands over a transport.
type Responder struct {
	transport     transport.Transport
	router        *Router
	requestTopic  string
	responseTopic string
	appdataDir    string
	timeout       time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	dispose  transport.Disposer
	stopping bool
	wg       sync.WaitGroup
}

// Option configures a Responder.
type Option func(*Responder)

// WithTopics overrides the request and response topics. Empty values keep
// the defaults.
func WithTopics(request, response string) Option {
	return func(r *Responder) {
		if request != "" {
			r.requestTopic = request
		}
		if response != "" {
			r.responseTopic = response
		}
	}
}

// WithAppdataDir sets the value resolved for the AppdataPath state.
func WithAppdataDir(dir string) Option {
	return func(r *Responder) {
		r.appdataDir = dir
	}
}

// WithHandlerTimeout bounds each handler run.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the responder logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResponder creates a responder serving router over t.
func NewResponder(t transport.Transport, router *Router, opts ...Option) (*Responder, error) {
	if t == nil {
		return nil, oops.Errorf("transport cannot be nil")
	}
	if router == nil {
		return nil, oops.Errorf("router cannot be nil")
	}

	r := &Responder{
		transport:     t,
		router:        router,
		requestTopic:  bridge.DefaultRequestTopic,
		responseTopic: bridge.DefaultResponseTopic,
		timeout:       DefaultHandlerTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes to the request topic. Requests are served until ctx is
// done or Stop is called.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping {
		return oops.Errorf("responder stopped")
	}
	if r.dispose != nil {
		return oops.Errorf("responder already started")
	}

	dispose, err := r.transport.Subscribe(ctx, r.requestTopic, r.serve)
	if err != nil {
		return oops.With("topic", r.requestTopic).Wrapf(err, "subscribe to plugin requests")
	}
	r.dispose = dispose
	r.logger.Info("plugin host listening",
		"request_topic", r.requestTopic,
		"response_topic", r.responseTopic,
		"routes", len(r.router.Patterns()))
	return nil
}

// Stop drops the subscription and waits for in-flight handlers. Requests
// the transport still delivers afterwards are ignored, so nothing is
// published once Stop returns. A stopped responder cannot be restarted.
func (r *Responder) Stop() {
	r.mu.Lock()
	r.stopping = true
	dispose := r.dispose
	r.dispose = nil
	r.mu.Unlock()

	if dispose != nil {
		dispose()
	}
	r.wg.Wait()
}

// serve runs each request on its own goroutine so a slow handler never
// holds up delivery of the next request.
func (r *Responder) serve(ctx context.Context, payload []byte) {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "ignoring plugin request after stop", "bytes", len(payload))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.handle(ctx, payload)
	}()
}

func (r *Responder) handle(ctx context.Context, payload []byte) {
	inv, _ := bridge.DecodeRequest(payload)
	if inv.RequestID == 0 {
		recordHandled(UnknownPlugin, OutcomeDropped)
		r.logger.WarnContext(ctx, "dropping plugin request without requestId", "bytes", len(payload))
		return
	}

	if err := bridge.ValidateRequest(payload); err != nil {
		recordHandled(UnknownPlugin, OutcomeInvalid)
		r.reply(ctx, inv.RequestID, "", oops.Errorf("invalid request: %s", bridge.FormatSchemaError(err)))
		return
	}

	label := r.router.pluginLabel(inv.Plugin)

	states, err := r.resolveStates(inv.States)
	if err != nil {
		recordHandled(label, OutcomeError)
		r.reply(ctx, inv.RequestID, "", err)
		return
	}

	req := Request{
		ID:      inv.RequestID,
		Plugin:  inv.Plugin,
		Command: inv.Command,
		Data:    json.RawMessage(inv.Data),
		States:  states,
	}

	value, err := r.run(ctx, req)
	if err != nil {
		recordHandled(label, OutcomeError)
		r.logger.DebugContext(ctx, "plugin command failed",
			"plugin", inv.Plugin,
			"command", inv.Command,
			"request_id", uint64(inv.RequestID),
			"error", err)
	} else {
		recordHandled(label, OutcomeOK)
	}
	r.reply(ctx, inv.RequestID, value, err)
}

// run routes and executes the handler, converting panics and "err:"
// results into failures.
func (r *Responder) run(ctx context.Context, req Request) (value string, err error) {
	h, err := r.router.Route(req.Plugin, req.Command)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "plugin command panicked",
				"plugin", req.Plugin,
				"command", req.Command,
				"panic", p)
			value, err = "", fmt.Errorf("plugin panicked: %v", p)
		}
	}()

	value, err = h.Handle(ctx, req)
	if err != nil {
		return "", err
	}
	if msg, ok := strings.CutPrefix(value, ErrorPrefix); ok {
		return "", plainError(msg)
	}
	return value, nil
}

func (r *Responder) resolveStates(states []bridge.AppState) (map[bridge.AppState]string, error) {
	if len(states) == 0 {
		return nil, nil
	}
	resolved := make(map[bridge.AppState]string, len(states))
	for _, s := range states {
		switch s {
		case bridge.AppStateAppdataPath:
			resolved[s] = r.appdataDir
		default:
			return nil, plainError(fmt.Sprintf("unknown state: %s", s))
		}
	}
	return resolved, nil
}

// reply publishes the single response for id.
func (r *Responder) reply(ctx context.Context, id bridge.RequestID, value string, failure error) {
	payload, err := bridge.EncodeResponse(id, value, failure)
	if err != nil {
		errutil.LogError(r.logger, "encode plugin response", err)
		return
	}
	if err := r.transport.Publish(ctx, r.responseTopic, payload); err != nil {
		errutil.Log(ctx, r.logger, slog.LevelError, "publish plugin response", err)
	}
}

// plainError is a failure whose text is sent to the caller unchanged.
type plainError string

func (e plainError) Error() string { return string(e) }
