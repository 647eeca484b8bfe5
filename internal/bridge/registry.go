// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"sync"
)

// pendingCall is a registered call and the cleanups to run when it settles.
type pendingCall struct {
	call  *Call
	stops []func()
}

// Registry maps outstanding request ids to the calls waiting on them.
//
// Registry is safe for concurrent use. Every settlement path removes the
// entry under the lock before completing the call, so of two racing
// settlements for the same id exactly one wins.
type Registry struct {
	mu      sync.Mutex
	next    RequestID
	pending map[RequestID]*pendingCall
}

// NewRegistry creates an empty registry. Ids start at 1.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[RequestID]*pendingCall),
	}
}

// Register allocates a fresh id and a pending call for it.
func (r *Registry) Register(plugin, command string) (RequestID, *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		r.next++
		if r.next == 0 {
			continue
		}
		if _, taken := r.pending[r.next]; !taken {
			break
		}
	}

	id := r.next
	call := newCall(id)
	call.plugin = plugin
	call.command = command
	r.pending[id] = &pendingCall{call: call}
	return id, call
}

// Attach records a cleanup to run when id settles. If id is not pending
// the cleanup runs immediately and Attach returns false.
func (r *Registry) Attach(id RequestID, stop func()) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		p.stops = append(p.stops, stop)
	}
	r.mu.Unlock()

	if !ok {
		stop()
	}
	return ok
}

// Settle completes id with a decoded result. Unknown, late, or duplicate
// ids are ignored and Settle returns false.
func (r *Registry) Settle(id RequestID, res Result) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	if res.Failed {
		return p.call.reject(hostError(id, res.Message))
	}
	return p.call.resolve(res.Value)
}

// Expire rejects id with err. It has the same no-op semantics as Settle.
func (r *Registry) Expire(id RequestID, err error) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	return p.call.reject(err)
}

// Lookup returns the pending call for id, if any.
func (r *Registry) Lookup(id RequestID) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	return p.call, true
}

// Len returns the number of outstanding calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ExpireAll rejects every outstanding call with the error produced by
// errFor and returns the calls that were rejected.
func (r *Registry) ExpireAll(errFor func(RequestID) error) []*Call {
	r.mu.Lock()
	taken := r.pending
	r.pending = make(map[RequestID]*pendingCall)
	r.mu.Unlock()

	calls := make([]*Call, 0, len(taken))
	for id, p := range taken {
		runStops(p)
		if p.call.reject(errFor(id)) {
			calls = append(calls, p.call)
		}
	}
	return calls
}

// take removes id and runs its cleanups. Returns nil if id was not pending.
func (r *Registry) take(id RequestID) *pendingCall {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	runStops(p)
	return p
}

func runStops(p *pendingCall) {
	for _, stop := range p.stops {
		stop()
	}
}
