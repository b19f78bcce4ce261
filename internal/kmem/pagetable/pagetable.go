// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pagetable implements the sparse, lazily-allocated 4-level guest
// page table of spec §4.A.
//
// It is the direct descendant of the teacher's nested page-table arrays in
// core/mapping.go (pageTable0..pageTable4, findMapping, addMapping): the
// teacher hard-codes *Mapping as the leaf payload and never releases empty
// subtrees (a debugger's address space only grows). Here the payload is a
// type parameter, and unmap has to release empty interior nodes — the
// spec's eviction-on-empty invariant the teacher's read-only use case never
// needed.
package pagetable

import "github.com/otterforge/guestkernel/internal/kmem"

const slotsPerLevel = 1 << 9 // 512 = 2^9, one 9-bit index level

// level1 is the leaf array: 512 page descriptors, one per 4 KiB page.
type level1[T any] [slotsPerLevel]T

// level2, level3, level4 are interior arrays of 512 owning pointers to the
// next level down (or nil, the "unmapped sentinel" for a subtree).
type level2[T any] [slotsPerLevel]*level1[T]
type level3[T any] [slotsPerLevel]*level2[T]
type level4[T any] [slotsPerLevel]*level3[T]

// Table is a sparse 48-bit guest-VA page table mapping addresses to a
// fixed-size, bit-pattern-copyable descriptor T. The zero value of T is
// the "unmapped" sentinel (spec §3).
//
// Table is not safe for concurrent map/unmap on overlapping addresses; the
// caller is responsible for serializing those (spec §4.A).
type Table[T comparable] struct {
	root *level4[T]
}

// New returns an empty page table.
func New[T comparable]() *Table[T] {
	return &Table[T]{}
}

func index(va kmem.Address, level int) int {
	return kmem.VAIndex(va, level)
}

// Read returns the descriptor mapped at va, or the zero value of T if va
// is unmapped. O(1): at most 4 array dereferences, branching out early on
// the first absent ancestor.
func (t *Table[T]) Read(va kmem.Address) T {
	var zero T
	if t.root == nil {
		return zero
	}
	l3 := t.root[index(va, 3)]
	if l3 == nil {
		return zero
	}
	l2 := l3[index(va, 2)]
	if l2 == nil {
		return zero
	}
	l1 := l2[index(va, 1)]
	if l1 == nil {
		return zero
	}
	return l1[index(va, 0)]
}

// Map writes v at va, allocating any missing intermediate level. Repeated
// maps of the same va are last-write-wins.
func (t *Table[T]) Map(va kmem.Address, v T) {
	if t.root == nil {
		t.root = &level4[T]{}
	}
	i3 := index(va, 3)
	l3 := t.root[i3]
	if l3 == nil {
		l3 = &level3[T]{}
		t.root[i3] = l3
	}
	i2 := index(va, 2)
	l2 := l3[i2]
	if l2 == nil {
		l2 = &level2[T]{}
		l3[i2] = l2
	}
	i1 := index(va, 1)
	l1 := l2[i1]
	if l1 == nil {
		l1 = &level1[T]{}
		l2[i1] = l1
	}
	l1[index(va, 0)] = v
}

// Unmap clears the descriptor at va and releases any interior node that
// becomes entirely empty as a result. If va was never mapped, or any
// ancestor is already absent, Unmap returns silently (spec §4.A).
func (t *Table[T]) Unmap(va kmem.Address) {
	if t.root == nil {
		return
	}
	i3 := index(va, 3)
	l3 := t.root[i3]
	if l3 == nil {
		return
	}
	i2 := index(va, 2)
	l2 := l3[i2]
	if l2 == nil {
		return
	}
	i1 := index(va, 1)
	l1 := l2[i1]
	if l1 == nil {
		return
	}

	var zero T
	l1[index(va, 0)] = zero

	if !anyNonDefault(l1[:]) {
		l2[i1] = nil
	} else {
		return
	}

	if !anyNonNil(l2[:]) {
		l3[i2] = nil
	} else {
		return
	}

	if !anyNonNil(l3[:]) {
		t.root[i3] = nil
	} else {
		return
	}

	if !anyNonNil(t.root[:]) {
		t.root = nil
	}
}

func anyNonDefault[T comparable](s []T) bool {
	var zero T
	for _, v := range s {
		if v != zero {
			return true
		}
	}
	return false
}

func anyNonNil[T any](s []*T) bool {
	for _, v := range s {
		if v != nil {
			return true
		}
	}
	return false
}

// Size reports how many interior nodes are currently allocated at each
// level (root first), for tests that need to verify the no-empty-interior-
// node invariant by measuring the tree rather than peeking at it directly.
func (t *Table[T]) Size() (l4, l3, l2, l1 int) {
	if t.root == nil {
		return 0, 0, 0, 0
	}
	l4 = 1
	for _, a := range t.root {
		if a == nil {
			continue
		}
		l3++
		for _, b := range a {
			if b == nil {
				continue
			}
			l2++
			for _, c := range b {
				if c != nil {
					l1++
				}
			}
		}
	}
	return
}
