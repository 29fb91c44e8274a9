/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by Dispatch when the target worker's queue is
	// at capacity and waiting is disabled. Callers may retry with backoff.
	ErrQueueFull = errors.New("worker queue is full")

	// ErrPoolShuttingDown is returned by Dispatch once Shutdown has begun,
	// and by a second call to Shutdown.
	ErrPoolShuttingDown = errors.New("pool is shutting down")

	// ErrTimeout is returned by Dispatch when it gave up waiting for room in
	// a full queue.
	ErrTimeout = errors.New("timed out waiting for queue capacity")

	// ErrSlotDead is returned by Dispatch for keys whose slot exhausted its
	// restarts.
	ErrSlotDead = errors.New("worker slot is dead")

	// ErrRestartExhausted is reported to the Observer when a slot is marked
	// dead.
	ErrRestartExhausted = errors.New("worker restart limit exhausted")

	// ErrHandlerFault wraps every error or panic coming out of a Handler.
	ErrHandlerFault = errors.New("handler fault")

	// ErrDrainTimeout is returned by Shutdown when workers did not drain
	// before the deadline and the remaining messages were aborted.
	ErrDrainTimeout = errors.New("shutdown drain deadline exceeded")

	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

// Reason returns a short, stable label for a Dispatch error, suitable for
// metric labels and log fields.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrPoolShuttingDown):
		return "shutting_down"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSlotDead):
		return "slot_dead"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
