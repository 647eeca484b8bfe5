// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package transport

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/passy/passy/internal/bus"
)

// Compile-time interface check.
var _ Transport = (*Memory)(nil)

// Memory is a Transport backed by an in-process bus.
type Memory struct {
	bus *bus.Bus
	wg  sync.WaitGroup
}

// NewMemory creates a transport over b. A nil b gets a fresh bus.
func NewMemory(b *bus.Bus) *Memory {
	if b == nil {
		b = bus.New()
	}
	return &Memory{bus: b}
}

// Bus returns the underlying bus.
func (m *Memory) Bus() *bus.Bus {
	return m.bus
}

// Publish broadcasts payload on topic. It waits while a subscriber's buffer
// is full, so a burst is never dropped; ctx bounds the wait.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, err := m.bus.Publish(ctx, topic, payload); err != nil {
		return oops.With("topic", topic).Wrap(err)
	}
	return nil
}

// Subscribe starts a goroutine that feeds messages on topic to handler.
// The goroutine exits when the Disposer is called or ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) (Disposer, error) {
	if handler == nil {
		return nil, oops.With("topic", topic).Errorf("nil handler")
	}

	sub := m.bus.Subscribe(topic)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-sub.Done():
				return
			case <-ctx.Done():
				m.bus.Unsubscribe(sub)
				return
			case msg := <-sub.C():
				select {
				case <-sub.Done():
					return
				default:
				}
				handler(ctx, msg.Payload)
			}
		}
	}()

	return OnceDisposer(func() {
		m.bus.Unsubscribe(sub)
	}), nil
}

// Wait blocks until every subscription goroutine has exited.
func (m *Memory) Wait() {
	m.wg.Wait()
}
