// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome labels for login and registration counters.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the AuthGate Prometheus collectors.
type Metrics struct {
	LoginsTotal          *prometheus.CounterVec
	RegistrationsTotal   *prometheus.CounterVec
	TokenDecodeFailures  *prometheus.CounterVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDurations *prometheus.HistogramVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_registrations_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"},
		),
		TokenDecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_token_decode_failures_total",
				Help: "Presented access tokens that failed to decode, by reason",
			},
			[]string{"reason"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authgate_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.RegistrationsTotal,
		m.TokenDecodeFailures,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurations,
	)
	return m
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(result string) {
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordRegistration counts one registration attempt.
func (m *Metrics) RecordRegistration(result string) {
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordTokenDecodeFailure counts one rejected token.
func (m *Metrics) RecordTokenDecodeFailure(reason string) {
	m.TokenDecodeFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest counts and times one served request. route is the
// matched pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
