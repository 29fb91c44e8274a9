/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workerpool routes messages to a fixed set of worker slots so that
// every message carrying the same routing key is handled by the same worker,
// one at a time, in the order it was accepted.
//
// Each slot owns a bounded queue and a single goroutine that drains it. The
// slot for a key is chosen by a hashring.Ring, and its worker is created the
// first time a message resolves to it. Dispatch reports synchronously whether
// a message was accepted; anything that happens after acceptance (handler
// errors, panics, restarts) is only visible through an Observer.
//
//	pool, err := workerpool.New(ctx, workerpool.Config{PoolSize: 10},
//		workerpool.HandlerFunc(func(ctx context.Context, msg workerpool.Message) error {
//			clog.InfoContextf(ctx, "handling %s", msg.Key)
//			return nil
//		}),
//		workerpool.WithObserver(workerpool.LogObserver{}),
//	)
//	if err != nil { ... }
//	if err := pool.Dispatch(ctx, userID, payload); errors.Is(err, workerpool.ErrQueueFull) {
//		// back off and retry
//	}
//	stats, err := pool.Shutdown(ctx)
package workerpool
