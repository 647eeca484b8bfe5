// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package transport adapts broadcast buses to the publish/subscribe contract
// used by the plugin bridge and the host responder.
package transport

import (
	"context"
	"sync"
)

// Handler is invoked once per message delivered on a subscribed topic.
type Handler func(ctx context.Context, payload []byte)

// Disposer stops delivery to a subscription. Calling it more than once is
// safe. Messages already in flight when it is called may still be delivered.
type Disposer func()

// Transport is a fire-and-forget broadcast bus.
type Transport interface {
	// Publish broadcasts payload on topic to zero or more subscribers.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for every future message on topic until
	// the returned Disposer is called.
	Subscribe(ctx context.Context, topic string, handler Handler) (Disposer, error)
}

// OnceDisposer wraps fn so that only the first call runs it.
func OnceDisposer(fn func()) Disposer {
	var once sync.Once
	return func() {
		once.Do(fn)
	}
}
