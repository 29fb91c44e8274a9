/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package hashring_test

import (
	"fmt"
	"testing"

	"github.com/chainguard-dev/shardpool/pkg/hashring"
	"github.com/chainguard-dev/shardpool/pkg/hashring/conformance"
)

func TestFNV(t *testing.T) {
	conformance.TestSemantics(t, hashring.FNV{})
}

func TestJump(t *testing.T) {
	conformance.TestSemantics(t, hashring.Jump{})
}

// Slots must not change between releases or process runs, so pin a few.
func TestGolden(t *testing.T) {
	tests := []struct {
		key  string
		size int
		fnv  int
		jump int
	}{
		{key: "", size: 1, fnv: 0, jump: 0},
		{key: "", size: 10, fnv: 1, jump: 1},
		{key: "", size: 1024, fnv: 453, jump: 266},
		{key: "a", size: 7, fnv: 5, jump: 2},
		{key: "a", size: 10, fnv: 0, jump: 2},
		{key: "user-42", size: 7, fnv: 6, jump: 0},
		{key: "user-42", size: 10, fnv: 9, jump: 9},
		{key: "user-42", size: 1024, fnv: 939, jump: 364},
		{key: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", size: 10, fnv: 6, jump: 4},
		{key: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", size: 1024, fnv: 304, jump: 252},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%d", tt.key, tt.size), func(t *testing.T) {
			if got := (hashring.FNV{}).SlotFor(tt.key, tt.size); got != tt.fnv {
				t.Errorf("FNV.SlotFor(%q, %d) = %d, want %d", tt.key, tt.size, got, tt.fnv)
			}
			if got := (hashring.Jump{}).SlotFor(tt.key, tt.size); got != tt.jump {
				t.Errorf("Jump.SlotFor(%q, %d) = %d, want %d", tt.key, tt.size, got, tt.jump)
			}
		})
	}
}

func TestJumpMinimalRemap(t *testing.T) {
	const keys = 10000
	moved := 0
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("key-%d", i)
		before, after := (hashring.Jump{}).SlotFor(key, 10), (hashring.Jump{}).SlotFor(key, 11)
		if before != after {
			moved++
			if after != 10 {
				t.Fatalf("key %q moved from %d to %d, keys may only move to the new slot", key, before, after)
			}
		}
	}
	// Roughly 1/11th of the keys should move.
	if moved < keys/15 || moved > keys/8 {
		t.Errorf("moved %d of %d keys growing 10 -> 11, want about %d", moved, keys, keys/11)
	}
}

func TestDefault(t *testing.T) {
	if _, ok := hashring.Default.(hashring.FNV); !ok {
		t.Errorf("Default = %T, want hashring.FNV", hashring.Default)
	}
}
