/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package conformance holds the behavioral checks every hashring.Ring
// implementation must pass.
package conformance

import (
	"fmt"
	"testing"

	"github.com/chainguard-dev/shardpool/pkg/hashring"
)

// Tolerance is the allowed relative deviation of any slot's share of keys
// from the uniform share in TestDistribution.
var Tolerance = 0.15

// TestSemantics runs the full conformance suite against r.
func TestSemantics(t *testing.T, r hashring.Ring) {
	t.Run("range", func(t *testing.T) { TestRange(t, r) })
	t.Run("determinism", func(t *testing.T) { TestDeterminism(t, r) })
	t.Run("distribution", func(t *testing.T) { TestDistribution(t, r) })
	t.Run("invalid size", func(t *testing.T) { TestInvalidSize(t, r) })
}

// TestRange checks that every slot is within [0, size), including for the
// empty key.
func TestRange(t *testing.T, r hashring.Ring) {
	keys := []string{"", "a", "user-42", "\x00", "🔑"}
	for i := 0; i < 200; i++ {
		keys = append(keys, fmt.Sprintf("key-%d", i))
	}
	for size := 1; size <= 64; size++ {
		for _, key := range keys {
			if got := r.SlotFor(key, size); got < 0 || got >= size {
				t.Fatalf("SlotFor(%q, %d) = %d, want [0, %d)", key, size, got, size)
			}
		}
	}
}

// TestDeterminism checks that repeated lookups agree.
func TestDeterminism(t *testing.T, r hashring.Ring) {
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("session-%d", i)
		first := r.SlotFor(key, 10)
		for j := 0; j < 3; j++ {
			if got := r.SlotFor(key, 10); got != first {
				t.Fatalf("SlotFor(%q, 10) = %d, previously %d", key, got, first)
			}
		}
	}
}

// TestDistribution checks that keys spread approximately uniformly.
func TestDistribution(t *testing.T, r hashring.Ring) {
	const keys = 10000
	for _, size := range []int{7, 10, 16} {
		counts := make([]int, size)
		for i := 0; i < keys; i++ {
			counts[r.SlotFor(fmt.Sprintf("key-%d", i), size)]++
		}
		want := float64(keys) / float64(size)
		for slot, got := range counts {
			if dev := (float64(got) - want) / want; dev > Tolerance || dev < -Tolerance {
				t.Errorf("size %d: slot %d got %d keys, want %.0f ± %.0f%%", size, slot, got, want, Tolerance*100)
			}
		}
	}
}

// TestInvalidSize checks that a non-positive size panics.
func TestInvalidSize(t *testing.T, r hashring.Ring) {
	for _, size := range []int{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("SlotFor(%q, %d) did not panic", "key", size)
				}
			}()
			r.SlotFor("key", size)
		}()
	}
}
