/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/shardpool/pkg/httpratelimit"
	"github.com/chainguard-dev/shardpool/pkg/router"
)

const (
	eventType   = "dev.chainguard.shardpool.session"
	eventSource = "github.com/chainguard-dev/shardpool/cmd/send"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	target := flag.String("target", "http://localhost:8080", "The ingress to send events to.")
	requests := flag.Int("requests", 500, "The number of events to send.")
	users := flag.Int("users", 100, "The number of distinct user sessions.")
	qps := flag.Float64("qps", 0, "Steady send rate, unlimited when zero.")
	concurrency := flag.Int("concurrency", 5*runtime.GOMAXPROCS(0), "The number of events in flight.")
	flag.Parse()

	transport := httpratelimit.NewTransport(otelhttp.NewTransport(http.DefaultTransport), time.Second)
	if *qps > 0 {
		transport.SetLimit(rate.Limit(*qps), 1)
	}
	c, err := cloudevents.NewClientHTTP(
		cehttp.WithTarget(*target),
		cehttp.WithClient(http.Client{Transport: transport}),
	)
	if err != nil {
		clog.FatalContextf(ctx, "failed to create CE client, %v", err)
	}

	if err := send(ctx, c, sessions(*users), *requests, *concurrency); err != nil {
		clog.FatalContextf(ctx, "failed to send all events: %v", err)
	}
	clog.InfoContextf(ctx, "sent %d events for %d users to %s", *requests, *users, *target)
}

func sessions(n int) []string {
	users := make([]string, n)
	for i := range users {
		users[i] = uuid.NewString()
	}
	return users
}

// send delivers requests events, each for a user drawn at random.
func send(ctx context.Context, c cloudevents.Client, users []string, requests, concurrency int) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i := range requests {
		user := users[rand.IntN(len(users))]
		eg.Go(func() error {
			event, err := newEvent(i, user)
			if err != nil {
				return err
			}
			if res := c.Send(ctx, event); cloudevents.IsUndelivered(res) || cloudevents.IsNACK(res) {
				return fmt.Errorf("sending event %d for %s: %w", i, user, res)
			}
			clog.DebugContextf(ctx, "sent event %d for %s", i, user)
			return nil
		})
	}
	return eg.Wait()
}

func newEvent(seq int, user string) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(eventType)
	event.SetSource(eventSource)
	event.SetSubject(user)
	event.SetExtension(router.PartitionKeyExtension, user)
	if err := event.SetData(cloudevents.ApplicationJSON, struct {
		User string `json:"user"`
		Seq  int    `json:"seq"`
		Data string `json:"data"`
	}{User: user, Seq: seq, Data: "Some data"}); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encoding event %d: %w", seq, err)
	}
	return event, nil
}
