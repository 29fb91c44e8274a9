/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	// DefaultQueueCapacity is used when Config.QueueCapacity is zero.
	DefaultQueueCapacity = 1000

	// DefaultMaxRestarts is the value of Config.MaxRestarts when it is
	// loaded from an environment that does not set POOL_MAX_RESTARTS.
	DefaultMaxRestarts = 3
)

// RestartPolicy controls what happens to a worker's queue when the worker is
// restarted after repeated faults.
type RestartPolicy string

const (
	// RestartPreserve hands the queued messages to the new instance.
	RestartPreserve RestartPolicy = "preserve"

	// RestartDiscard drops the queued messages and reports them as discarded.
	RestartDiscard RestartPolicy = "discard"
)

// Config is the configuration of a Pool. The zero value of every field other
// than PoolSize is usable.
type Config struct {
	// PoolSize is the fixed number of worker slots.
	PoolSize int `env:"POOL_SIZE, required"`

	// QueueCapacity bounds each worker's queue.
	QueueCapacity int `env:"POOL_QUEUE_CAPACITY, default=1000"`

	// DispatchTimeout is how long Dispatch waits for room in a full queue.
	// Zero rejects immediately with ErrQueueFull unless the caller's context
	// carries a deadline. Negative waits for as long as the context allows.
	DispatchTimeout time.Duration `env:"POOL_DISPATCH_TIMEOUT, default=0s"`

	// ShutdownDrainTimeout bounds how long Shutdown waits for workers to
	// drain. Zero waits for as long as the context allows.
	ShutdownDrainTimeout time.Duration `env:"POOL_SHUTDOWN_DRAIN_TIMEOUT, default=0s"`

	// AbortOnShutdown discards queued messages on Shutdown instead of
	// handling them.
	AbortOnShutdown bool `env:"POOL_ABORT_ON_SHUTDOWN, default=false"`

	// FaultRestartThreshold is the number of consecutive handler faults after
	// which a worker is restarted. Zero disables restarts.
	FaultRestartThreshold int `env:"POOL_FAULT_RESTART_THRESHOLD, default=0"`

	// MaxRestarts is the number of restarts a slot may go through before it
	// is marked dead. Zero marks it dead on the first threshold breach,
	// negative never gives up. Only used when FaultRestartThreshold is set.
	MaxRestarts int `env:"POOL_MAX_RESTARTS, default=3"`

	// RestartPolicy decides the fate of queued messages on restart.
	RestartPolicy RestartPolicy `env:"POOL_RESTART_POLICY, default=preserve"`

	// Eager creates every worker up front instead of on first dispatch.
	Eager bool `env:"POOL_EAGER, default=false"`
}

// LoadConfig reads a Config from the environment. A nil lookuper reads the
// process environment.
func LoadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	if l == nil {
		l = envconfig.OsLookuper()
	}
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("processing pool environment: %w", err)
	}
	return cfg, nil
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.RestartPolicy == "" {
		c.RestartPolicy = RestartPreserve
	}
	return c
}

// Validate reports whether c, after defaulting, describes a usable pool.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.PoolSize <= 0:
		return fmt.Errorf("%w: pool size must be positive, got %d", ErrInvalidConfig, c.PoolSize)
	case c.QueueCapacity < 0:
		return fmt.Errorf("%w: queue capacity must not be negative, got %d", ErrInvalidConfig, c.QueueCapacity)
	case c.ShutdownDrainTimeout < 0:
		return fmt.Errorf("%w: shutdown drain timeout must not be negative, got %v", ErrInvalidConfig, c.ShutdownDrainTimeout)
	case c.FaultRestartThreshold < 0:
		return fmt.Errorf("%w: fault restart threshold must not be negative, got %d", ErrInvalidConfig, c.FaultRestartThreshold)
	}
	switch c.RestartPolicy {
	case RestartPreserve, RestartDiscard:
	default:
		return fmt.Errorf("%w: unknown restart policy %q", ErrInvalidConfig, c.RestartPolicy)
	}
	return nil
}
