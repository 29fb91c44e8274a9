/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/shardpool/pkg/httpmetrics"
	"github.com/chainguard-dev/shardpool/pkg/profiler"
	"github.com/chainguard-dev/shardpool/pkg/router"
	"github.com/chainguard-dev/shardpool/pkg/workerpool"
)

type envConfig struct {
	Sessions     int           `env:"SESSIONS, default=100"`
	Messages     int           `env:"MESSAGES, default=500"`
	Rate         float64       `env:"MESSAGES_PER_SECOND, default=0"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF, default=10ms"`
}

// poolDefaults sizes the session manager at ten workers.
var poolDefaults = envconfig.MapLookuper(map[string]string{
	"POOL_SIZE": "10",
})

// Session is a message addressed to a user's session.
type Session struct {
	UserID string
	Data   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := envconfig.MustProcess(ctx, &envConfig{})
	cfg, err := workerpool.LoadConfig(ctx, envconfig.MultiLookuper(envconfig.OsLookuper(), poolDefaults))
	if err != nil {
		clog.FatalContextf(ctx, "failed to load pool config: %v", err)
	}

	profiler.SetupProfiler(ctx, "shardpool-sessions")
	go httpmetrics.ServeMetrics(ctx)
	defer httpmetrics.SetupTracer(ctx)()

	pool, err := workerpool.New(ctx, cfg, workerpool.HandlerFunc(handleSession),
		workerpool.WithObserver(workerpool.Observers(
			workerpool.LogObserver{},
			workerpool.MetricsObserver{Pool: "sessions"},
		)))
	if err != nil {
		clog.FatalContextf(ctx, "failed to create session manager: %v", err)
	}
	r := router.New(pool, func(s Session) (string, error) {
		if s.UserID == "" {
			return "", router.ErrInvalidKey
		}
		return s.UserID, nil
	})

	sent, err := produce(ctx, r, env)
	if err != nil {
		clog.ErrorContextf(ctx, "producer stopped after %d messages: %v", sent, err)
	}

	stats, err := pool.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		clog.ErrorContextf(ctx, "shutdown incomplete: %v", err)
	}
	clog.InfoContextf(ctx, "sent %d messages to %d sessions, %d handled during shutdown", sent, env.Sessions, stats.Drained)
}

// produce sends env.Messages messages, each to a session picked at random,
// retrying with backoff while the target queue is full.
func produce(ctx context.Context, r *router.Router[Session], env *envConfig) (int, error) {
	users := make([]string, env.Sessions)
	for i := range users {
		users[i] = uuid.NewString()
	}

	limit := rate.Inf
	if env.Rate > 0 {
		limit = rate.Limit(env.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range env.Messages {
		if err := limiter.Wait(ctx); err != nil {
			return i, err
		}
		msg := Session{
			UserID: users[rand.IntN(len(users))],
			Data:   "Some data",
		}
		if err := submit(ctx, r, msg, env.RetryBackoff); err != nil {
			return i, err
		}
	}
	return env.Messages, nil
}

func submit(ctx context.Context, r *router.Router[Session], msg Session, backoff time.Duration) error {
	for {
		err := r.Submit(ctx, msg)
		if !errors.Is(err, workerpool.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func handleSession(ctx context.Context, msg workerpool.Message) error {
	s := msg.Payload.(Session)
	clog.FromContext(ctx).With("user", s.UserID).Infof("processing user session: %s", s.Data)
	return nil
}
