/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/shardpool/pkg/httpmetrics"
	mce "github.com/chainguard-dev/shardpool/pkg/httpmetrics/cloudevents"
	"github.com/chainguard-dev/shardpool/pkg/httpratelimit"
	"github.com/chainguard-dev/shardpool/pkg/profiler"
	"github.com/chainguard-dev/shardpool/pkg/router"
	"github.com/chainguard-dev/shardpool/pkg/workerpool"
)

var env = envconfig.MustProcess(context.Background(), &struct {
	Port            int           `env:"PORT, default=8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s"`
	RetryAfter      time.Duration `env:"RETRY_AFTER, default=1s"`
}{})

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profiler.SetupProfiler(ctx, "shardpool-ingress")

	go httpmetrics.ServeMetrics(ctx)
	defer httpmetrics.SetupTracer(ctx)()

	cfg, err := workerpool.LoadConfig(ctx, nil)
	if err != nil {
		clog.FatalContextf(ctx, "failed to load pool config: %v", err)
	}
	pool, err := workerpool.New(ctx, cfg, workerpool.HandlerFunc(handle),
		workerpool.WithObserver(workerpool.Observers(
			workerpool.LogObserver{},
			workerpool.MetricsObserver{Pool: "ingress"},
		)))
	if err != nil {
		clog.FatalContextf(ctx, "failed to create pool: %v", err)
	}
	r := router.New(pool, router.EventKey)

	c, err := mce.NewClientHTTP("ce-ingress", cloudevents.WithPort(env.Port),
		cloudevents.WithMiddleware(httpratelimit.RetryAfter(env.RetryAfter)))
	if err != nil {
		clog.FatalContextf(ctx, "failed to create CE client, %v", err)
	}

	clog.InfoContextf(ctx, "accepting events on port %d across %d slots", env.Port, pool.Size())
	if err := c.StartReceiver(ctx, func(ctx context.Context, event cloudevents.Event) protocol.Result {
		return result(r.Submit(ctx, event))
	}); err != nil {
		clog.ErrorContextf(ctx, "receiver stopped: %v", err)
	}

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), env.ShutdownTimeout)
	defer scancel()
	stats, err := pool.Shutdown(sctx)
	if err != nil {
		clog.ErrorContextf(ctx, "shutdown incomplete: %v", err)
	}
	clog.InfoContextf(ctx, "shut down: %d drained, %d aborted", stats.Drained, stats.Aborted)
}

// handle is the per-key work. Events sharing a partition key arrive here one
// at a time and in the order they were accepted.
func handle(ctx context.Context, msg workerpool.Message) error {
	event, ok := msg.Payload.(cloudevents.Event)
	if !ok {
		return errors.New("payload is not a cloud event")
	}
	clog.FromContext(ctx).With(
		"key", msg.Key,
		"id", event.ID(),
		"type", event.Type(),
		"source", event.Source(),
		"queued", time.Since(msg.Enqueued),
	).Info("processing event")
	return nil
}

// result maps a Submit verdict onto the HTTP response the sender sees.
func result(err error) protocol.Result {
	switch {
	case err == nil:
		return cloudevents.ResultACK
	case errors.Is(err, router.ErrInvalidKey):
		return cloudevents.NewHTTPResult(http.StatusBadRequest, "%v", err)
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrTimeout):
		return cloudevents.NewHTTPResult(http.StatusTooManyRequests, "%v", err)
	case errors.Is(err, workerpool.ErrPoolShuttingDown), errors.Is(err, workerpool.ErrSlotDead):
		return cloudevents.NewHTTPResult(http.StatusServiceUnavailable, "%v", err)
	default:
		return cloudevents.NewHTTPResult(http.StatusInternalServerError, "%v", err)
	}
}
