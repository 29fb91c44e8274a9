/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package hashring maps routing keys onto a fixed number of worker slots.
//
// A Ring is a pure function of (key, size): the same key and size always
// produce the same slot, within a process and across processes, so callers
// get stable affinity between a key and the worker that owns it.
//
// Two rings are provided:
//
//	FNV:  fnv32a(key) % size -> slot index
//	Jump: jump consistent hash seeded with fnv64a(key)
//
// FNV is the default. Jump gives the same affinity guarantees but moves only
// about 1/(size+1) of the keys when the size grows by one, which makes it the
// building block for pools that resize at runtime. Pools in this module are
// fixed-size, so nothing resizes today.
package hashring
