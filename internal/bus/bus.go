// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bus

import (
	"context"
	"slices"
	"sync"
	"time"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 100

// Subscription receives messages published on one topic.
type Subscription struct {
	topic string
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// C delivers messages in publish order.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Bus distributes messages to topic subscribers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*Subscription
	bufferSize int
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer. Values <= 0 are ignored.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string][]*Subscription),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe creates a subscription receiving future messages on topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		topic: topic,
		ch:    make(chan Message, b.bufferSize),
		done:  make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Unsubscribe removes sub from its topic and closes its Done channel.
// Publishers blocked on sub are released. Calling it twice is safe.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.close()

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	if i := slices.Index(subs, sub); i >= 0 {
		b.subs[sub.topic] = slices.Delete(slices.Clone(subs), i, i+1)
		if len(b.subs[sub.topic]) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

// Publish delivers payload to every current subscriber of topic and returns
// the message that was broadcast. A subscriber with a full buffer applies
// backpressure: Publish waits for room, for the subscriber to go away, or for
// ctx to be done. On ctx expiry the subscribers not yet reached miss the
// message and ctx's error is returned.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) (Message, error) {
	msg := Message{
		ID:        NewID(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := ctx.Err(); err != nil {
		return msg, err //nolint:wrapcheck // callers wrap with topic context
	}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return msg, ctx.Err() //nolint:wrapcheck // callers wrap with topic context
		}
	}
	return msg, nil
}

// Subscribers returns the number of subscribers on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
