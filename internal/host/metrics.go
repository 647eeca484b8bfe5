// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package host

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for handled requests.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeInvalid = "invalid"
	OutcomeDropped = "dropped"
)

// UnknownPlugin labels requests for plugins no pattern serves.
const UnknownPlugin = "unknown"

// RequestsHandled counts plugin requests seen by the host. The plugin label
// is the plugin segment of the matching route pattern, so its values are
// bounded by the registered routes.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestsHandled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "passy_host_requests_total",
		Help: "Total number of plugin requests handled by the host by outcome",
	},
	[]string{"plugin", "outcome"},
)

// RegisterMetrics registers host metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestsHandled)
}

func recordHandled(plugin, outcome string) {
	RequestsHandled.WithLabelValues(plugin, outcome).Inc()
}
