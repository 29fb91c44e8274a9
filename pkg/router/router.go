/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package router is the front door of a worker pool: it derives a routing
// key from each inbound message and hands the message to the pool.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/shardpool/pkg/workerpool"
)

// ErrInvalidKey is returned by Submit when no routing key can be extracted
// from a message. Such messages never reach the pool.
var ErrInvalidKey = errors.New("invalid routing key")

// KeyFunc extracts the routing key from a message. It must be deterministic:
// the same message always yields the same key.
type KeyFunc[T any] func(T) (string, error)

// Dispatcher is the subset of workerpool.Pool the router needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, key string, payload any) error
}

var _ Dispatcher = (*workerpool.Pool)(nil)

// Router submits messages of type T to a Dispatcher.
type Router[T any] struct {
	pool Dispatcher
	key  KeyFunc[T]
}

// New returns a Router that routes with key.
func New[T any](pool Dispatcher, key KeyFunc[T]) *Router[T] {
	return &Router[T]{pool: pool, key: key}
}

// Submit extracts msg's routing key and dispatches msg to the pool. The
// result is the pool's verdict; see workerpool.Pool.Dispatch.
func (r *Router[T]) Submit(ctx context.Context, msg T) error {
	key, err := r.key(msg)
	if err != nil {
		if !errors.Is(err, ErrInvalidKey) {
			err = fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return err
	}
	return r.pool.Dispatch(ctx, key, msg)
}
