/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package profiler starts the Cloud Profiler agent when ENABLE_PROFILER is set.
package profiler

import (
	"context"

	"cloud.google.com/go/profiler"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	EnableProfiler bool   `env:"ENABLE_PROFILER, default=false"`
	Service        string `env:"K_SERVICE"`
	Revision       string `env:"K_REVISION"`
}

// SetupProfiler starts the profiler for service. K_SERVICE, when set,
// overrides service.
func SetupProfiler(ctx context.Context, service string) {
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FromContext(ctx).Fatalf("processing profiler environment: %v", err)
	}
	pc, ok := profilerConfig(cfg, service)
	if !ok {
		return
	}
	if err := profiler.Start(pc); err != nil {
		clog.FromContext(ctx).Fatalf("failed to start profiler: %v", err)
	}
}

func profilerConfig(cfg config, service string) (profiler.Config, bool) {
	if !cfg.EnableProfiler {
		return profiler.Config{}, false
	}
	if cfg.Service != "" {
		service = cfg.Service
	}
	return profiler.Config{
		Service:        service,
		ServiceVersion: cfg.Revision,
	}, true
}
