/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"
	"time"
)

// Message is a unit of work accepted by the pool.
type Message struct {
	// Key is the routing key the message was dispatched with.
	Key string

	// Payload is the opaque value handed to Dispatch.
	Payload any

	// Enqueued is when the pool accepted the message.
	Enqueued time.Time
}

// Handler is the business logic run for each message, on the goroutine of
// the worker that owns the message's key. A Handler is never called
// concurrently by the same worker.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
