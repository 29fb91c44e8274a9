/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-envconfig"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	// https://cloud.google.com/run/docs/container-contract#services-env-vars
	KnativeServiceName  string `env:"K_SERVICE, default=unknown"`
	KnativeRevisionName string `env:"K_REVISION, default=unknown"`
}{})

var (
	mWorkersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_workers_created_total",
			Help: "The number of worker slots instantiated.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mWorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_worker_restarts_total",
			Help: "The number of workers replaced after repeated handler faults.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_messages_handled_total",
			Help: "The number of messages handled successfully.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_messages_rejected_total",
			Help: "The number of messages refused by Dispatch, by reason.",
		},
		[]string{"pool", "reason", "service_name", "revision_name"},
	)
	mFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_handler_faults_total",
			Help: "The number of handler errors and panics.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_messages_discarded_total",
			Help: "The number of accepted messages dropped without being handled.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mDeadSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workerpool_dead_slots",
			Help: "The number of slots that exhausted their restarts.",
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mWaitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workerpool_wait_latency_seconds",
			Help:    "The duration from acceptance until a message was handled.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"pool", "service_name", "revision_name"},
	)
	mShutdownMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerpool_shutdown_messages_total",
			Help: "The number of messages drained or aborted during shutdown.",
		},
		[]string{"pool", "outcome", "service_name", "revision_name"},
	)
)

// MetricsObserver exports pool events as Prometheus metrics labelled with
// the pool's name.
type MetricsObserver struct {
	// Pool is the value of the "pool" label.
	Pool string
}

var _ Observer = MetricsObserver{}

func (m MetricsObserver) labels() prometheus.Labels {
	return prometheus.Labels{
		"pool":          m.Pool,
		"service_name":  env.KnativeServiceName,
		"revision_name": env.KnativeRevisionName,
	}
}

// WorkerCreated implements Observer.
func (m MetricsObserver) WorkerCreated(context.Context, int, string) {
	mWorkersCreated.With(m.labels()).Inc()
}

// WorkerRestarted implements Observer.
func (m MetricsObserver) WorkerRestarted(context.Context, int, string) {
	mWorkerRestarts.With(m.labels()).Inc()
}

// MessageHandled implements Observer.
func (m MetricsObserver) MessageHandled(_ context.Context, _ int, _ string, msg Message) {
	mHandled.With(m.labels()).Inc()
	if !msg.Enqueued.IsZero() {
		mWaitLatency.With(m.labels()).Observe(time.Since(msg.Enqueued).Seconds())
	}
}

// MessageRejected implements Observer.
func (m MetricsObserver) MessageRejected(_ context.Context, _ int, _ string, err error) {
	l := m.labels()
	l["reason"] = Reason(err)
	mRejected.With(l).Inc()
}

// WorkerFaulted implements Observer.
func (m MetricsObserver) WorkerFaulted(context.Context, int, string, Message, error) {
	mFaults.With(m.labels()).Inc()
}

// MessagesDiscarded implements Observer.
func (m MetricsObserver) MessagesDiscarded(_ context.Context, _ int, n int, _ error) {
	mDiscarded.With(m.labels()).Add(float64(n))
}

// SlotDead implements Observer.
func (m MetricsObserver) SlotDead(context.Context, int, error) {
	mDeadSlots.With(m.labels()).Inc()
}

// PoolShutdown implements Observer.
func (m MetricsObserver) PoolShutdown(_ context.Context, stats ShutdownStats) {
	drained, aborted := m.labels(), m.labels()
	drained["outcome"], aborted["outcome"] = "drained", "aborted"
	mShutdownMessages.With(drained).Add(float64(stats.Drained))
	mShutdownMessages.With(aborted).Add(float64(stats.Aborted))
}
