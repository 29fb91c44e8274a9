/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"

	"github.com/chainguard-dev/clog"
)

// LogObserver writes pool events to the logger carried by the context.
type LogObserver struct{}

var _ Observer = LogObserver{}

// WorkerCreated implements Observer.
func (LogObserver) WorkerCreated(ctx context.Context, slot int, id string) {
	clog.FromContext(ctx).With("slot", slot, "worker", id).Info("worker created")
}

// WorkerRestarted implements Observer.
func (LogObserver) WorkerRestarted(ctx context.Context, slot int, id string) {
	clog.FromContext(ctx).With("slot", slot, "worker", id).Warn("worker restarted after repeated faults")
}

// MessageHandled implements Observer.
func (LogObserver) MessageHandled(ctx context.Context, slot int, id string, msg Message) {
	clog.FromContext(ctx).With("slot", slot, "worker", id, "key", msg.Key).Debug("message handled")
}

// MessageRejected implements Observer.
func (LogObserver) MessageRejected(ctx context.Context, slot int, key string, err error) {
	clog.FromContext(ctx).With("slot", slot, "key", key, "reason", Reason(err)).Warnf("message rejected: %v", err)
}

// WorkerFaulted implements Observer.
func (LogObserver) WorkerFaulted(ctx context.Context, slot int, id string, msg Message, err error) {
	clog.FromContext(ctx).With("slot", slot, "worker", id, "key", msg.Key).Errorf("handler failed: %v", err)
}

// MessagesDiscarded implements Observer.
func (LogObserver) MessagesDiscarded(ctx context.Context, slot int, n int, reason error) {
	clog.FromContext(ctx).With("slot", slot, "count", n).Warnf("discarded queued messages: %v", reason)
}

// SlotDead implements Observer.
func (LogObserver) SlotDead(ctx context.Context, slot int, err error) {
	clog.FromContext(ctx).With("slot", slot).Errorf("slot is dead: %v", err)
}

// PoolShutdown implements Observer.
func (LogObserver) PoolShutdown(ctx context.Context, stats ShutdownStats) {
	clog.FromContext(ctx).With("drained", stats.Drained, "aborted", stats.Aborted).Info("pool shut down")
}
