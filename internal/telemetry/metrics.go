/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics for the control plane.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal        *prometheus.CounterVec
	QueueAdmissionsTotal *prometheus.CounterVec
	LivestreamSessions   prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_requests_total",
			Help: "HTTP requests by status class",
		}, []string{"class"}),
		QueueAdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidecast_queue_admissions_total",
			Help: "Queue admission attempts by result",
		}, []string{"result"}),
		LivestreamSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidecast_livestream_sessions_total",
			Help: "Accepted livestream sessions",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.QueueAdmissionsTotal,
		m.LivestreamSessions,
	)

	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter captures the status code for request metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware records request counts by status class.
func (m *Metrics) RequestMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)

			class := "2xx"
			switch {
			case wrap.status >= 500:
				class = "5xx"
			case wrap.status >= 400:
				class = "4xx"
			case wrap.status >= 300:
				class = "3xx"
			}
			m.RequestsTotal.WithLabelValues(class).Inc()
		})
	}
}
