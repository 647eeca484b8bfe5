// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package host

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/passy/passy/internal/bridge"
)

// Failure messages sent to callers verbatim.
var (
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrCommandNotFound = errors.New("command not found")
)

// Request is one decoded plugin command invocation.
type Request struct {
	ID      bridge.RequestID
	Plugin  string
	Command string
	// Data is the caller's argument as JSON text.
	Data json.RawMessage
	// States holds the host state the caller asked for, resolved to values.
	States map[bridge.AppState]string
}

// Handler runs a plugin command. The returned string is sent to the caller
// as JSON text. A result starting with "err:" is sent as a failure with the
// prefix removed.
type Handler interface {
	Handle(ctx context.Context, req Request) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type route struct {
	pattern    string
	pluginGlob string
	plugin     glob.Glob
	full       glob.Glob
	handler    Handler
}

// Router maps "plugin.command" names to handlers.
//
// Patterns use gobwas/glob with '.' as the segment separator: "vault.*"
// matches every command of the vault plugin, "**" matches everything. The
// first registered match wins.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers h for pattern. The pattern must have a plugin segment
// and a command segment.
func (r *Router) Handle(pattern string, h Handler) error {
	if h == nil {
		return oops.With("pattern", pattern).Errorf("handler cannot be nil")
	}
	pluginPart, _, ok := strings.Cut(pattern, ".")
	if !ok && pattern != "**" {
		return oops.With("pattern", pattern).Errorf("pattern must be plugin.command")
	}

	full, err := glob.Compile(pattern, '.')
	if err != nil {
		return oops.With("pattern", pattern).Wrapf(err, "compile pattern")
	}
	plugin, err := glob.Compile(pluginPart, '.')
	if err != nil {
		return oops.With("pattern", pattern).Wrapf(err, "compile plugin pattern")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: pattern, pluginGlob: pluginPart, plugin: plugin, full: full, handler: h})
	return nil
}

// HandleFunc registers fn for pattern.
func (r *Router) HandleFunc(pattern string, fn func(ctx context.Context, req Request) (string, error)) error {
	return r.Handle(pattern, HandlerFunc(fn))
}

// Route finds the handler for a command. It returns ErrPluginNotFound when
// no pattern names the plugin and ErrCommandNotFound when the plugin is
// known but the command is not.
func (r *Router) Route(plugin, command string) (Handler, error) {
	name := plugin + "." + command

	r.mu.RLock()
	defer r.mu.RUnlock()

	knownPlugin := false
	for _, rt := range r.routes {
		if rt.full.Match(name) {
			return rt.handler, nil
		}
		if rt.plugin.Match(plugin) {
			knownPlugin = true
		}
	}
	if knownPlugin {
		return nil, ErrCommandNotFound
	}
	return nil, ErrPluginNotFound
}

// pluginLabel names plugin by the plugin segment of the first pattern that
// matches it, or UnknownPlugin. The result is one of a fixed set of strings
// no matter what callers send.
func (r *Router) pluginLabel(plugin string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if rt.plugin.Match(plugin) {
			return rt.pluginGlob
		}
	}
	return UnknownPlugin
}

// Patterns returns the registered patterns in match order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, len(r.routes))
	for i, rt := range r.routes {
		patterns[i] = rt.pattern
	}
	return patterns
}
