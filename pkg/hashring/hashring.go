/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package hashring

import (
	"fmt"
	"hash/fnv"
)

// Ring resolves a routing key to a slot in [0, size).
type Ring interface {
	// SlotFor returns the slot owning key in a ring of the given size.
	// It panics if size is not positive.
	SlotFor(key string, size int) int
}

// Default is the ring used when none is configured.
var Default Ring = FNV{}

// FNV hashes keys with FNV-1a and reduces the hash modulo the ring size.
type FNV struct{}

var _ Ring = FNV{}

// SlotFor implements Ring.
func (FNV) SlotFor(key string, size int) int {
	checkSize(size)
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(size))
}

// Jump implements the jump consistent hash of Lamping and Veach over an
// FNV-1a 64-bit hash of the key.
type Jump struct{}

var _ Ring = Jump{}

// SlotFor implements Ring.
func (Jump) SlotFor(key string, size int) int {
	checkSize(size)
	h := fnv.New64a()
	h.Write([]byte(key))
	k := h.Sum64()

	b, j := int64(-1), int64(0)
	for j < int64(size) {
		b = j
		k = k*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((k>>33)+1)))
	}
	return int(b)
}

func checkSize(size int) {
	if size <= 0 {
		panic(fmt.Sprintf("hashring: ring size must be positive, got %d", size))
	}
}
