// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for invocation metrics.
const (
	OutcomeResolved  = "resolved"
	OutcomeHostError = "host_error"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeEncoding  = "encoding_error"
	OutcomeDecoding  = "decoding_error"
	OutcomePublish   = "publish_error"
)

// Drop reasons for responses that settle nothing.
const (
	DropMalformed = "malformed"
	DropUnknownID = "unknown_id"
)

// Invocations counts settled plugin command calls.
// Use RegisterMetrics to register this with a Prometheus registry.
var Invocations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "passy_plugin_invocations_total",
		Help: "Total number of settled plugin command invocations",
	},
	[]string{"plugin", "command", "outcome"},
)

// InvocationDuration observes time from registration to settlement.
// Use RegisterMetrics to register this with a Prometheus registry.
var InvocationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "passy_plugin_invocation_duration_seconds",
		Help:    "Plugin command round-trip duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"plugin", "command"},
)

// OutstandingCalls tracks calls waiting for a response.
// Use RegisterMetrics to register this with a Prometheus registry.
var OutstandingCalls = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "passy_plugin_outstanding_calls",
		Help: "Number of plugin command calls awaiting settlement",
	},
)

// DroppedResponses counts responses that could not settle any call.
// Use RegisterMetrics to register this with a Prometheus registry.
var DroppedResponses = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "passy_plugin_dropped_responses_total",
		Help: "Total number of plugin responses dropped by reason",
	},
	[]string{"reason"},
)

// RegisterMetrics registers bridge metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Invocations)
	reg.MustRegister(InvocationDuration)
	reg.MustRegister(OutstandingCalls)
	reg.MustRegister(DroppedResponses)
}

func recordSettled(c *Call, outcome string) {
	Invocations.WithLabelValues(c.plugin, c.command, outcome).Inc()
	InvocationDuration.WithLabelValues(c.plugin, c.command).Observe(time.Since(c.createdAt).Seconds())
}

func recordDropped(reason string) {
	DroppedResponses.WithLabelValues(reason).Inc()
}

// outcomeOf maps a settled call's error to its metric label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeResolved
	case IsHostError(err):
		return OutcomeHostError
	case IsTimeout(err):
		return OutcomeTimeout
	case IsCancelled(err):
		return OutcomeCancelled
	case IsEncodingError(err):
		return OutcomeEncoding
	case IsDecodingError(err):
		return OutcomeDecoding
	default:
		return OutcomePublish
	}
}
