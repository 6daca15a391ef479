// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hvkit/hvkit/lib/hotplug"
	"github.com/hvkit/hvkit/lib/qmp"
	"github.com/hvkit/hvkit/lib/tap"
	"github.com/hvkit/hvkit/lib/version"
)

// metrics holds the agent's Prometheus collectors. Each agent registers
// into its own registry so tests can run several side by side.
type metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	connectAttempts *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	m := &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hvkit_hotplugd_requests_total",
			Help: "Socket requests handled, by action and result.",
		}, []string{"action", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hvkit_hotplugd_request_duration_seconds",
			Help:    "Time spent handling socket requests, by action.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"action"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hvkit_hotplugd_requests_in_flight",
			Help: "Socket requests currently being handled.",
		}),
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hvkit_hotplugd_monitor_connect_attempts_total",
			Help: "Monitor connection attempts, by outcome.",
		}, []string{"outcome"}),
		buildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hvkit_hotplugd_build_info",
			Help: "Always 1; labelled with the running build.",
		}, []string{"version", "commit"}),
	}
	m.buildInfo.WithLabelValues(version.Short(), version.Commit()).Set(1)
	return m
}

// observe records one completed request.
func (m *metrics) observe(action string, started time.Time, err error) {
	m.requests.WithLabelValues(action, resultLabel(err)).Inc()
	m.duration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

// resultLabel buckets err into a low-cardinality label value.
func resultLabel(err error) string {
	var (
		requestErr       *requestError
		configurationErr *qmp.ConfigurationError
		unsupportedErr   *qmp.UnsupportedCommandError
		commandErr       *qmp.CommandError
		communicationErr *qmp.CommunicationError
		hotplugErr       *hotplug.Error
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &requestErr):
		return "invalid"
	case errors.As(err, &configurationErr), errors.Is(err, hotplug.ErrNoFreePCISlot):
		return "not_found"
	case errors.As(err, &unsupportedErr),
		errors.As(err, &hotplugErr),
		errors.Is(err, qmp.ErrDescriptorPassingUnsupported),
		errors.Is(err, tap.ErrUnsupported):
		return "unsupported"
	case errors.As(err, &commandErr):
		return "rejected"
	case errors.As(err, &communicationErr):
		return "transient"
	default:
		return "error"
	}
}

// metricsHandler serves /metrics from registry and a trivial
// /healthz.
func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}
