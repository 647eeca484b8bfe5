// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

//go:build integration

package pgbridge_test

import (
	"context"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/passy/passy/internal/bridge"
	"github.com/passy/passy/internal/host"
	"github.com/passy/passy/internal/transport/pgnotify"
)

var _ = Describe("Bridge over LISTEN/NOTIFY", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		hostT     *pgnotify.Transport
		clientT   *pgnotify.Transport
		responder *host.Responder
		b         *bridge.Bridge
		router    *host.Router
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(env.ctx)

		hostT = pgnotify.NewFromPool(env.pool)
		clientT = pgnotify.NewFromPool(env.pool)

		router = host.NewRouter()
		Expect(host.RegisterEcho(router)).To(Succeed())

		var err error
		responder, err = host.NewResponder(hostT, router, host.WithAppdataDir("/srv/passy/appdata"))
		Expect(err).NotTo(HaveOccurred())
		Expect(responder.Start(ctx)).To(Succeed())

		b, err = bridge.New(clientT, bridge.WithDefaultTimeout(5*time.Second))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(b.Close()).To(Succeed())
		responder.Stop()
		cancel()
		hostT.Wait()
		clientT.Wait()
	})

	It("round-trips a value through the echo plugin", func() {
		got, err := bridge.InvokeAs[map[string]string](ctx, b, host.EchoPlugin, "echo", map[string]string{"key": "x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(map[string]string{"key": "x"}))
	})

	It("delivers the host's error text unchanged", func() {
		_, err := b.Call(ctx, "vault", "unlock", nil)
		Expect(err).To(HaveOccurred())
		Expect(bridge.IsHostError(err)).To(BeTrue())
		Expect(err.Error()).To(Equal("plugin not found"))
	})

	It("resolves AppdataPath on the host", func() {
		got, err := bridge.InvokeAs[map[string]string](ctx, b, host.EchoPlugin, "states", nil,
			bridge.WithStates(bridge.AppStateAppdataPath))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveKeyWithValue("AppdataPath", "/srv/passy/appdata"))
	})

	It("correlates many concurrent calls", func() {
		const n = 25
		calls := make([]*bridge.Call, n)
		for i := range calls {
			calls[i] = b.Invoke(ctx, host.EchoPlugin, "echo", i)
		}
		for i, call := range calls {
			v, err := call.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(v)).To(Equal(strconv.Itoa(i)))
		}
		Expect(b.Pending()).To(BeZero())
	})

	It("times out when nobody answers", func() {
		responder.Stop()

		_, err := b.Call(ctx, host.EchoPlugin, "echo", 1, bridge.WithTimeout(200*time.Millisecond))
		Expect(bridge.IsTimeout(err)).To(BeTrue())
	})

	It("rejects payloads larger than a notification allows", func() {
		_, err := b.Call(ctx, host.EchoPlugin, "echo", strings.Repeat("x", pgnotify.MaxPayloadSize))
		Expect(err).To(HaveOccurred())
		Expect(bridge.IsHostError(err)).To(BeFalse())
	})
})
