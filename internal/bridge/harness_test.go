// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/passy/passy/internal/transport"
)

// harness wires a bridge to an in-memory transport and plays the host by
// hand: tests read published requests and choose when and what to reply.
type harness struct {
	t        testing.TB
	tr       *transport.Memory
	bridge   *Bridge
	requests chan []byte
}

func newHarness(t testing.TB, opts ...Option) *harness {
	t.Helper()

	tr := transport.NewMemory(nil)
	h := &harness{
		t:        t,
		tr:       tr,
		requests: make(chan []byte, 256),
	}

	dispose, err := tr.Subscribe(context.Background(), DefaultRequestTopic, func(_ context.Context, p []byte) {
		h.requests <- p
	})
	require.NoError(t, err)

	b, err := New(tr, opts...)
	require.NoError(t, err)
	h.bridge = b

	t.Cleanup(func() {
		_ = b.Close()
		dispose()
		tr.Wait()
	})
	return h
}

// nextRaw returns the next published request payload.
func (h *harness) nextRaw() []byte {
	h.t.Helper()
	select {
	case p := <-h.requests:
		return p
	case <-time.After(time.Second):
		h.t.Fatal("no request published")
		return nil
	}
}

// next returns the next published request, decoded.
func (h *harness) next() Invocation {
	h.t.Helper()
	inv, err := DecodeRequest(h.nextRaw())
	require.NoError(h.t, err)
	return inv
}

// noRequest asserts nothing was published.
func (h *harness) noRequest() {
	h.t.Helper()
	select {
	case p := <-h.requests:
		h.t.Fatalf("unexpected request published: %s", p)
	case <-time.After(20 * time.Millisecond):
	}
}

// reply publishes a raw response envelope.
func (h *harness) reply(payload string) {
	h.t.Helper()
	require.NoError(h.t, h.tr.Publish(context.Background(), DefaultResponseTopic, []byte(payload)))
}

// replyData publishes a success response for id carrying value as data text.
func (h *harness) replyData(id RequestID, value string) {
	h.t.Helper()
	payload, err := EncodeResponse(id, value, nil)
	require.NoError(h.t, err)
	h.reply(string(payload))
}

// wait blocks until call settles.
func wait(t testing.TB, call *Call) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := call.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "call %d never settled", call.RequestID())
	return v, err
}
