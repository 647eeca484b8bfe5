// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// State is the lifecycle position of a Call.
type State int

// Call states. No transition leaves a terminal state.
const (
	StatePending State = iota
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Call is the eventual value of one plugin command invocation.
// It is settled exactly once, to a value or to an error.
type Call struct {
	id        RequestID
	plugin    string
	command   string
	createdAt time.Time

	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	value json.RawMessage
	err   error
	state State

	observers []func(*Call)
}

func newCall(id RequestID) *Call {
	return &Call{
		id:        id,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// RequestID returns the correlation id assigned to the call.
func (c *Call) RequestID() RequestID {
	return c.id
}

// Plugin returns the target plugin id.
func (c *Call) Plugin() string {
	return c.plugin
}

// Command returns the invoked command name.
func (c *Call) Command() string {
	return c.command
}

// CreatedAt returns when the call was registered.
func (c *Call) CreatedAt() time.Time {
	return c.createdAt
}

// Done returns a channel closed once the call is settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. A ctx that ends first
// returns ctx.Err() without settling the call.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. A call that has not
// settled yet returns ErrPending.
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.outcome()
	default:
		return nil, ErrPending
	}
}

// State returns the current state of the call.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) outcome() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.err
}

// resolve settles the call with a value. Reports whether it won.
func (c *Call) resolve(v json.RawMessage) bool {
	return c.settle(v, nil)
}

// reject settles the call with err. Reports whether it won.
func (c *Call) reject(err error) bool {
	return c.settle(nil, err)
}

// observe runs fn after the call settles, or immediately if it already has.
func (c *Call) observe(fn func(*Call)) {
	c.mu.Lock()
	if c.state == StatePending {
		c.observers = append(c.observers, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c)
}

func (c *Call) settle(v json.RawMessage, err error) bool {
	won := false
	c.once.Do(func() {
		c.mu.Lock()
		c.value = v
		c.err = err
		if err != nil {
			c.state = StateRejected
		} else {
			c.state = StateResolved
		}
		observers := c.observers
		c.observers = nil
		c.mu.Unlock()

		close(c.done)
		for _, fn := range observers {
			fn(c)
		}
		won = true
	})
	return won
}
