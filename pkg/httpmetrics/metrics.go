/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package httpmetrics serves Prometheus metrics and instruments inbound HTTP
// handlers for the shardpool binaries.
package httpmetrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CeTypeHeader is the binary-mode CloudEvents type header.
const CeTypeHeader = "ce-type"

// https://cloud.google.com/run/docs/container-contract#services-env-vars
var env = envconfig.MustProcess(context.Background(), &struct {
	KnativeServiceName  string `env:"K_SERVICE, default=unknown"`
	KnativeRevisionName string `env:"K_REVISION, default=unknown"`
}{})

// ServeMetrics serves /metrics on METRICS_PORT until the server fails.
// Setting ENABLE_PPROF also serves the pprof handlers.
func ServeMetrics(ctx context.Context) {
	logger := clog.FromContext(ctx)

	var cfg struct {
		MetricsPort int  `env:"METRICS_PORT, default=2112"`
		EnablePprof bool `env:"ENABLE_PPROF, default=false"`
	}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		logger.Errorf("unable to process environment for METRICS_PORT, ENABLE_PPROF: %v", err)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Errorf("listen and serve for http /metrics: %v", err)
	}
}

var (
	inFlightGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "A gauge of requests currently being served by the wrapped handler.",
		},
		[]string{"handler", "service_name", "revision_name"},
	)
	duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method", "service_name", "revision_name"},
	)
	counter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_status",
			Help: "The number of processed events by response code",
		},
		[]string{"handler", "method", "code", "service_name", "revision_name", "ce_type"},
	)
)

// Handler wraps a given http handler in standard metrics and tracing.
func Handler(name string, handler http.Handler) http.Handler {
	labels := prometheus.Labels{
		"handler":       name,
		"service_name":  env.KnativeServiceName,
		"revision_name": env.KnativeRevisionName,
	}
	return promhttp.InstrumentHandlerInFlight(
		inFlightGauge.With(labels),
		promhttp.InstrumentHandlerDuration(
			duration.MustCurryWith(labels),
			instrumentHandlerCounter(
				counter.MustCurryWith(labels),
				otelhttp.NewHandler(handler, name),
			),
		),
	)
}

type delegator struct {
	http.ResponseWriter
	Status int
}

func (d *delegator) WriteHeader(status int) {
	d.Status = status
	d.ResponseWriter.WriteHeader(status)
}

func instrumentHandlerCounter(counter *prometheus.CounterVec, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := &delegator{
			ResponseWriter: w,
			Status:         http.StatusOK,
		}

		next.ServeHTTP(d, r)
		counter.With(prometheus.Labels{
			"method":  r.Method,
			"code":    strconv.Itoa(d.Status),
			"ce_type": r.Header.Get(CeTypeHeader),
		}).Inc()
	}
}
