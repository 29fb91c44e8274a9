/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// worker owns one slot: a bounded queue and the goroutine draining it.
// The queue outlives individual instances of the execution loop, which are
// replaced when the handler keeps faulting.
type worker struct {
	slot       int
	cfg        Config
	queue      chan Message
	newHandler func(slot int) Handler
	observer   Observer
	clock      clockwork.Clock
	tracer     trace.Tracer

	// id names the first instance; later instances are only known to run.
	id string

	// dead is closed when the slot exhausts its restarts. mu is held for
	// reading by every enqueue, so that taking it for writing after closing
	// dead guarantees no message slips into the queue afterwards.
	dead chan struct{}
	mu   sync.RWMutex

	// stop is closed by the pool to begin shutdown.
	stop chan struct{}

	// Written by the worker goroutine, read by the pool once it has exited.
	restarts    int
	drained     int
	aborted     int
	interrupted int
}

func newWorker(slot int, cfg Config, newHandler func(int) Handler, o Observer, clock clockwork.Clock, tracer trace.Tracer) *worker {
	return &worker{
		slot:       slot,
		cfg:        cfg,
		queue:      make(chan Message, cfg.QueueCapacity),
		newHandler: newHandler,
		observer:   o,
		clock:      clock,
		tracer:     tracer,
		id:         uuid.NewString(),
		dead:       make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// enqueue offers msg to the worker's queue. closing is the pool's shutdown
// signal, which releases callers blocked on a full queue.
func (w *worker) enqueue(ctx context.Context, msg Message, closing <-chan struct{}) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	select {
	case <-w.dead:
		return ErrSlotDead
	default:
	}

	// Fast path: there is room.
	select {
	case w.queue <- msg:
		return nil
	default:
	}

	var timeout <-chan time.Time
	switch _, hasDeadline := ctx.Deadline(); {
	case w.cfg.DispatchTimeout > 0:
		t := w.clock.NewTimer(w.cfg.DispatchTimeout)
		defer t.Stop()
		timeout = t.Chan()
	case w.cfg.DispatchTimeout == 0 && !hasDeadline:
		return ErrQueueFull
	}

	select {
	case w.queue <- msg:
		return nil
	case <-timeout:
		return ErrTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	case <-closing:
		return ErrPoolShuttingDown
	case <-w.dead:
		return ErrSlotDead
	}
}

// run is the worker goroutine. It supervises successive instances of the
// execution loop until shutdown or until the slot dies.
func (w *worker) run(ctx context.Context) {
	id := w.id
	for {
		if !w.runInstance(ctx, id) {
			return
		}

		w.restarts++
		if w.cfg.MaxRestarts >= 0 && w.restarts > w.cfg.MaxRestarts {
			w.die(ctx)
			return
		}
		if w.cfg.RestartPolicy == RestartDiscard {
			if n := w.discard(); n > 0 {
				w.observer.MessagesDiscarded(ctx, w.slot, n, ErrHandlerFault)
			}
		}
		id = uuid.NewString()
		w.observer.WorkerRestarted(ctx, w.slot, id)
	}
}

// runInstance drains the queue with a fresh handler until the stop signal,
// or until the handler faults FaultRestartThreshold times in a row, in which
// case it returns true to ask for a restart.
func (w *worker) runInstance(ctx context.Context, id string) (restart bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h := w.newHandler(w.slot)

	faults := 0
	for {
		// Shutdown takes precedence over queued work.
		select {
		case <-w.stop:
			w.shutdown(ctx, h, id)
			return false
		default:
		}

		select {
		case msg := <-w.queue:
			if err := w.handle(ctx, h, id, msg); err == nil {
				faults = 0
				continue
			}
			faults++
			if w.cfg.FaultRestartThreshold > 0 && faults >= w.cfg.FaultRestartThreshold {
				return true
			}

		case <-w.stop:
			w.shutdown(ctx, h, id)
			return false
		}
	}
}

// shutdown handles or discards whatever is left in the queue. No enqueue can
// happen once the pool has closed stop. The pool cancels ctx to abort a
// drain that outlived its deadline.
func (w *worker) shutdown(ctx context.Context, h Handler, id string) {
	if w.cfg.AbortOnShutdown {
		w.aborted += w.discard()
		return
	}
	for {
		if ctx.Err() != nil {
			w.aborted += w.discard()
			return
		}
		select {
		case msg := <-w.queue:
			// Faults are still reported, but no longer restart the worker.
			_ = w.handle(ctx, h, id, msg)
			w.drained++
		default:
			return
		}
	}
}

// handle runs the handler for a single message, turning panics into faults.
func (w *worker) handle(ctx context.Context, h Handler, id string, msg Message) (err error) {
	ctx, span := w.tracer.Start(ctx, "workerpool.handle", trace.WithAttributes(
		attribute.String("workerpool.key", msg.Key),
		attribute.Int("workerpool.slot", w.slot),
		attribute.String("workerpool.worker", id),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFault, r)
		}
		if ctx.Err() != nil {
			// Only the pool cancels a running handler, to abort a drain.
			w.interrupted++
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			w.observer.WorkerFaulted(ctx, w.slot, id, msg, err)
			return
		}
		w.observer.MessageHandled(ctx, w.slot, id, msg)
	}()

	if err := h.Handle(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFault, err)
	}
	return nil
}

// die marks the slot dead and drops its queue.
func (w *worker) die(ctx context.Context) {
	close(w.dead)
	w.mu.Lock()
	n := w.discard()
	w.mu.Unlock()

	w.observer.SlotDead(ctx, w.slot, fmt.Errorf("slot %d after %d restarts: %w", w.slot, w.restarts-1, ErrRestartExhausted))
	if n > 0 {
		w.observer.MessagesDiscarded(ctx, w.slot, n, ErrSlotDead)
	}
}

// discard empties the queue without handling anything and returns how many
// messages were dropped.
func (w *worker) discard() int {
	n := 0
	for {
		select {
		case <-w.queue:
			n++
		default:
			return n
		}
	}
}

func (w *worker) isDead() bool {
	select {
	case <-w.dead:
		return true
	default:
		return false
	}
}
