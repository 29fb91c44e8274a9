/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package profiler

import (
	"context"
	"testing"

	"cloud.google.com/go/profiler"
	"github.com/sethvargo/go-envconfig"
)

func TestProfilerConfig(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		want   profiler.Config
		wantOK bool
	}{{
		name: "disabled",
		env:  map[string]string{"K_SERVICE": "ingress"},
	}, {
		name:   "enabled with fallback service",
		env:    map[string]string{"ENABLE_PROFILER": "true"},
		want:   profiler.Config{Service: "sessions"},
		wantOK: true,
	}, {
		name: "enabled on cloud run",
		env: map[string]string{
			"ENABLE_PROFILER": "true",
			"K_SERVICE":       "ingress",
			"K_REVISION":      "ingress-00042",
		},
		want:   profiler.Config{Service: "ingress", ServiceVersion: "ingress-00042"},
		wantOK: true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
				Target:   &cfg,
				Lookuper: envconfig.MapLookuper(tt.env),
			}); err != nil {
				t.Fatalf("ProcessWith() = %v", err)
			}
			got, ok := profilerConfig(cfg, "sessions")
			if ok != tt.wantOK {
				t.Fatalf("enabled: want %v, got %v", tt.wantOK, ok)
			}
			if got.Service != tt.want.Service || got.ServiceVersion != tt.want.ServiceVersion {
				t.Errorf("config: want %s@%s, got %s@%s", tt.want.Service, tt.want.ServiceVersion, got.Service, got.ServiceVersion)
			}
		})
	}
}
