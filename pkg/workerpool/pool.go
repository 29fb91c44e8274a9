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
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/chainguard-dev/shardpool/pkg/hashring"
)

const tracerName = "github.com/chainguard-dev/shardpool/pkg/workerpool"

// Pool dispatches messages to a fixed number of worker slots chosen by
// hashing the message's routing key.
type Pool struct {
	cfg        Config
	ring       hashring.Ring
	clock      clockwork.Clock
	observer   Observer
	newHandler func(slot int) Handler

	// ctx is the parent of every worker's context. cancel aborts drains.
	ctx    context.Context
	cancel context.CancelFunc

	slots []slot
	eg    errgroup.Group

	// Dispatch holds mu for reading while it touches a worker. Shutdown
	// closes closing to release blocked dispatches, then takes mu for
	// writing to wait out the rest.
	mu       sync.RWMutex
	closing  chan struct{}
	shutdown atomic.Bool
}

// slot guards the lazy creation of a single worker.
type slot struct {
	mu sync.Mutex
	w  atomic.Pointer[worker]
}

// ShutdownStats summarizes what Shutdown did with queued messages.
type ShutdownStats struct {
	// Drained is the number of messages handled after shutdown began.
	Drained int

	// Aborted is the number of queued messages dropped without being handled.
	Aborted int
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	// Workers is the number of slots with an instantiated worker, dead or alive.
	Workers int

	// Dead is the number of slots that exhausted their restarts.
	Dead int

	// Queued is the number of accepted messages waiting in queues.
	Queued int
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRing sets the ring used to map keys to slots. The default is
// hashring.Default.
func WithRing(r hashring.Ring) Option {
	return func(p *Pool) { p.ring = r }
}

// WithClock sets the clock used for dispatch and drain timers.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithObserver sets the sink for lifecycle events.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithHandlerFactory gives every worker instance its own Handler, created
// when the worker starts and again on each restart. It takes precedence over
// the handler passed to New.
func WithHandlerFactory(f func(slot int) Handler) Option {
	return func(p *Pool) { p.newHandler = f }
}

// New creates a Pool. Workers are created on first use unless cfg.Eager is
// set. The context's values (such as its logger) are inherited by workers;
// its cancellation is not, use Shutdown to stop the pool.
func New(ctx context.Context, cfg Config, h Handler, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		cfg:      cfg,
		ring:     hashring.Default,
		clock:    clockwork.NewRealClock(),
		observer: NopObserver{},
		slots:    make([]slot, cfg.PoolSize),
		closing:  make(chan struct{}),
	}
	if h != nil {
		p.newHandler = func(int) Handler { return h }
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newHandler == nil {
		return nil, fmt.Errorf("%w: a handler or handler factory is required", ErrInvalidConfig)
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if cfg.Eager {
		for i := range p.slots {
			p.workerFor(i)
		}
	}
	clog.FromContext(ctx).With("pool_size", cfg.PoolSize, "queue_capacity", cfg.QueueCapacity, "eager", cfg.Eager).
		Debug("worker pool created")
	return p, nil
}

// Dispatch routes payload to the worker owning key. A nil error means the
// message was accepted and will be handled at most once. Otherwise the error
// wraps one of ErrQueueFull, ErrTimeout, ErrPoolShuttingDown, ErrSlotDead, or
// the context's error.
func (p *Pool) Dispatch(ctx context.Context, key string, payload any) error {
	i := p.ring.SlotFor(key, p.cfg.PoolSize)
	msg := Message{
		Key:      key,
		Payload:  payload,
		Enqueued: p.clock.Now(),
	}
	if err := p.dispatch(ctx, i, msg); err != nil {
		p.observer.MessageRejected(ctx, i, key, err)
		return fmt.Errorf("dispatching %q to slot %d: %w", key, i, err)
	}
	return nil
}

func (p *Pool) dispatch(ctx context.Context, i int, msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closing:
		return ErrPoolShuttingDown
	default:
	}
	return p.workerFor(i).enqueue(ctx, msg, p.closing)
}

// workerFor returns the worker of slot i, creating and starting it first if
// needed. Creation is serialized per slot.
func (p *Pool) workerFor(i int) *worker {
	s := &p.slots[i]
	if w := s.w.Load(); w != nil {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.w.Load(); w != nil {
		return w
	}

	w := newWorker(i, p.cfg, p.newHandler, p.observer, p.clock, otel.Tracer(tracerName))
	s.w.Store(w)
	p.eg.Go(func() error {
		w.run(p.ctx)
		return nil
	})
	p.observer.WorkerCreated(p.ctx, i, w.id)
	return w
}

// Shutdown stops accepting messages, signals every worker to stop and waits
// for them. Workers drain their queues unless AbortOnShutdown is set. If the
// drain outlasts ShutdownDrainTimeout or ctx, in-flight handlers see their
// context canceled, what is still queued is dropped, and the returned error
// wraps ErrDrainTimeout. A deadline that cuts nothing short is not an error.
// Handlers are expected to return promptly once their context is canceled.
func (p *Pool) Shutdown(ctx context.Context) (ShutdownStats, error) {
	if !p.shutdown.CompareAndSwap(false, true) {
		return ShutdownStats{}, ErrPoolShuttingDown
	}
	close(p.closing)

	// Wait for in-flight dispatches to finish; none can start after this.
	p.mu.Lock()
	workers := p.live()
	p.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}

	done := make(chan struct{})
	go func() {
		_ = p.eg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if d := p.cfg.ShutdownDrainTimeout; d > 0 {
		t := p.clock.NewTimer(d)
		defer t.Stop()
		timeout = t.Chan()
	}

	var err error
	select {
	case <-done:
	case <-timeout:
		err = ErrDrainTimeout
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", ErrDrainTimeout, ctx.Err())
	}
	p.cancel()
	<-done

	var stats ShutdownStats
	interrupted := 0
	for _, w := range workers {
		stats.Drained += w.drained
		stats.Aborted += w.aborted
		interrupted += w.interrupted
	}
	// The deadline may fire as the last worker finishes, or ctx may have
	// been done from the start. It is only a timeout if work was cut short.
	if stats.Aborted == 0 && interrupted == 0 {
		err = nil
	}
	if errors.Is(err, ErrDrainTimeout) {
		clog.FromContext(ctx).Warnf("shutdown drain aborted, %d messages dropped", stats.Aborted)
	}
	p.observer.PoolShutdown(ctx, stats)
	return stats, err
}

// live returns every instantiated worker.
func (p *Pool) live() []*worker {
	workers := make([]*worker, 0, len(p.slots))
	for i := range p.slots {
		if w := p.slots[i].w.Load(); w != nil {
			workers = append(workers, w)
		}
	}
	return workers
}

// Stats returns a snapshot of the pool's slots.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, w := range p.live() {
		s.Workers++
		s.Queued += len(w.queue)
		if w.isDead() {
			s.Dead++
		}
	}
	return s
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.cfg.PoolSize
}
