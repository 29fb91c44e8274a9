/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import "context"

// Observer receives the pool's lifecycle events. Methods are called from
// dispatching goroutines and worker goroutines alike, so implementations
// must be safe for concurrent use and should not block.
type Observer interface {
	// WorkerCreated fires when a slot's worker is instantiated.
	WorkerCreated(ctx context.Context, slot int, id string)

	// WorkerRestarted fires when a slot's worker is replaced by a fresh
	// instance after repeated faults. id is the new instance.
	WorkerRestarted(ctx context.Context, slot int, id string)

	// MessageHandled fires after a handler returns successfully.
	MessageHandled(ctx context.Context, slot int, id string, msg Message)

	// MessageRejected fires when Dispatch refuses a message.
	MessageRejected(ctx context.Context, slot int, key string, err error)

	// WorkerFaulted fires once per handler error or panic. The message is
	// dropped.
	WorkerFaulted(ctx context.Context, slot int, id string, msg Message, err error)

	// MessagesDiscarded fires when accepted messages are dropped without
	// being handled: on restart with RestartDiscard, or when a slot dies.
	MessagesDiscarded(ctx context.Context, slot int, n int, reason error)

	// SlotDead fires when a slot exhausts its restarts.
	SlotDead(ctx context.Context, slot int, err error)

	// PoolShutdown fires once, after every worker has stopped.
	PoolShutdown(ctx context.Context, stats ShutdownStats)
}

// NopObserver ignores every event. Embed it to implement a subset of
// Observer.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) WorkerCreated(context.Context, int, string)                 {}
func (NopObserver) WorkerRestarted(context.Context, int, string)               {}
func (NopObserver) MessageHandled(context.Context, int, string, Message)       {}
func (NopObserver) MessageRejected(context.Context, int, string, error)        {}
func (NopObserver) WorkerFaulted(context.Context, int, string, Message, error) {}
func (NopObserver) MessagesDiscarded(context.Context, int, int, error)         {}
func (NopObserver) SlotDead(context.Context, int, error)                       {}
func (NopObserver) PoolShutdown(context.Context, ShutdownStats)                {}

// Observers fans every event out to each of obs, in order.
func Observers(obs ...Observer) Observer {
	return multi(obs)
}

type multi []Observer

var _ Observer = multi(nil)

func (m multi) WorkerCreated(ctx context.Context, slot int, id string) {
	for _, o := range m {
		o.WorkerCreated(ctx, slot, id)
	}
}

func (m multi) WorkerRestarted(ctx context.Context, slot int, id string) {
	for _, o := range m {
		o.WorkerRestarted(ctx, slot, id)
	}
}

func (m multi) MessageHandled(ctx context.Context, slot int, id string, msg Message) {
	for _, o := range m {
		o.MessageHandled(ctx, slot, id, msg)
	}
}

func (m multi) MessageRejected(ctx context.Context, slot int, key string, err error) {
	for _, o := range m {
		o.MessageRejected(ctx, slot, key, err)
	}
}

func (m multi) WorkerFaulted(ctx context.Context, slot int, id string, msg Message, err error) {
	for _, o := range m {
		o.WorkerFaulted(ctx, slot, id, msg, err)
	}
}

func (m multi) MessagesDiscarded(ctx context.Context, slot int, n int, reason error) {
	for _, o := range m {
		o.MessagesDiscarded(ctx, slot, n, reason)
	}
}

func (m multi) SlotDead(ctx context.Context, slot int, err error) {
	for _, o := range m {
		o.SlotDead(ctx, slot, err)
	}
}

func (m multi) PoolShutdown(ctx context.Context, stats ShutdownStats) {
	for _, o := range m {
		o.PoolShutdown(ctx, stats)
	}
}
