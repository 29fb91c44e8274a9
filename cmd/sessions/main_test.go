/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/shardpool/pkg/router"
	"github.com/chainguard-dev/shardpool/pkg/workerpool"
)

// counting records which slots handled each user's messages.
type counting struct {
	workerpool.NopObserver

	mu      sync.Mutex
	perUser map[string]int
	workers map[string]map[int]bool
	slots   map[int]bool
}

func (c *counting) MessageHandled(_ context.Context, slot int, _ string, msg workerpool.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := msg.Payload.(Session).UserID
	c.perUser[user]++
	if c.workers[user] == nil {
		c.workers[user] = map[int]bool{}
	}
	c.workers[user][slot] = true
	c.slots[slot] = true
}

func TestProduce(t *testing.T) {
	ctx := slogtest.Context(t)
	env := &envConfig{
		Sessions:     100,
		Messages:     500,
		RetryBackoff: time.Millisecond,
	}
	cfg := workerpool.Config{PoolSize: 10, QueueCapacity: 8}

	c := &counting{
		perUser: map[string]int{},
		workers: map[string]map[int]bool{},
		slots:   map[int]bool{},
	}
	pool, err := workerpool.New(ctx, cfg, workerpool.HandlerFunc(handleSession),
		workerpool.WithObserver(c))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	r := router.New(pool, func(s Session) (string, error) { return s.UserID, nil })

	sent, err := produce(ctx, r, env)
	if err != nil {
		t.Fatalf("produce() = %v", err)
	}
	if sent != env.Messages {
		t.Errorf("sent: want %d, got %d", env.Messages, sent)
	}
	if _, err := pool.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for user, n := range c.perUser {
		total += n
		if len(c.workers[user]) != 1 {
			t.Errorf("user %s was handled by %d slots", user, len(c.workers[user]))
		}
	}
	if total != env.Messages {
		t.Errorf("handled: want %d, got %d", env.Messages, total)
	}
	if len(c.perUser) > env.Sessions {
		t.Errorf("saw %d users, want at most %d", len(c.perUser), env.Sessions)
	}
	if len(c.slots) > cfg.PoolSize {
		t.Errorf("saw %d slots, want at most %d", len(c.slots), cfg.PoolSize)
	}
	if got := pool.Stats().Workers; got > cfg.PoolSize {
		t.Errorf("workers: want at most %d, got %d", cfg.PoolSize, got)
	}
}

func TestPoolDefaults(t *testing.T) {
	ctx := context.Background()

	cfg, err := workerpool.LoadConfig(ctx, poolDefaults)
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if cfg.PoolSize != 10 {
		t.Errorf("pool size: want 10, got %d", cfg.PoolSize)
	}

	cfg, err = workerpool.LoadConfig(ctx, envconfig.MultiLookuper(
		envconfig.MapLookuper(map[string]string{"POOL_SIZE": "3"}), poolDefaults))
	if err != nil {
		t.Fatalf("LoadConfig() = %v", err)
	}
	if cfg.PoolSize != 3 {
		t.Errorf("pool size: want 3, got %d", cfg.PoolSize)
	}
}
