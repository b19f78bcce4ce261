// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pageheap

import (
	"math/rand"
	"testing"

	"github.com/otterforge/guestkernel/internal/klog"
	"github.com/otterforge/guestkernel/internal/kmem"
)

const oneGiB = 0x4000_0000

func newTestHeap(t *testing.T) *PageHeap {
	t.Helper()
	return New(kmem.Address(0x8000_0000), oneGiB, kmem.GranularityLadder, klog.Discard)
}

// TestScenario1 is spec §8's first worked scenario: two tier-0 (4 KiB)
// allocations from a fresh 1 GiB heap land at the base and base+4KiB, and
// freeing both restores the full page count.
func TestScenario1(t *testing.T) {
	h := newTestHeap(t)
	full := h.FreePageCount()

	a, ok := h.AllocateBlock(0, false)
	if !ok || a != kmem.Address(0x8000_0000) {
		t.Fatalf("first allocate(tier0) = %#x,%v want 0x80000000,true", a, ok)
	}
	b, ok := h.AllocateBlock(0, false)
	if !ok || b != kmem.Address(0x8000_1000) {
		t.Fatalf("second allocate(tier0) = %#x,%v want 0x80001000,true", b, ok)
	}

	h.Free(a, 1)
	h.Free(b, 1)
	if got := h.FreePageCount(); got != full {
		t.Fatalf("FreePageCount after round trip = %#x, want %#x", got, full)
	}
}

// TestScenario2 is spec §8's second worked scenario: a tier-2 (2 MiB)
// allocation followed by a tier-0 (4 KiB) allocation places the second
// block at base+2MiB, since the first block consumed the lowest 2 MiB
// naturally-aligned region entirely.
func TestScenario2(t *testing.T) {
	h := newTestHeap(t)
	full := h.FreePageCount()

	a, ok := h.AllocateBlock(2, false)
	if !ok || a != kmem.Address(0x8000_0000) {
		t.Fatalf("allocate(tier2) = %#x,%v want 0x80000000,true", a, ok)
	}
	b, ok := h.AllocateBlock(0, false)
	if !ok || b != kmem.Address(0x8020_0000) {
		t.Fatalf("allocate(tier0) = %#x,%v want 0x80200000,true", b, ok)
	}

	h.Free(a, (1<<21)/kmem.PageSize)
	h.Free(b, 1)
	if got := h.FreePageCount(); got != full {
		t.Fatalf("FreePageCount after round trip = %#x, want %#x", got, full)
	}
}

func TestAllocateLowestAddressFirst(t *testing.T) {
	h := newTestHeap(t)
	var addrs []kmem.Address
	for i := 0; i < 4; i++ {
		a, ok := h.AllocateBlock(0, false)
		if !ok {
			t.Fatalf("allocate %d failed", i)
		}
		addrs = append(addrs, a)
	}
	for i := 1; i < len(addrs); i++ {
		if addrs[i] <= addrs[i-1] {
			t.Fatalf("allocate(tier0, linear) not monotonically increasing: %v", addrs)
		}
	}
}

func TestFreeRoundTripAnyTier(t *testing.T) {
	for tierIdx, shift := range kmem.GranularityLadder {
		h := newTestHeap(t)
		full := h.FreePageCount()
		pages := uint64(1) << (shift - kmem.GranularityLadder[0])

		a, ok := h.AllocateBlock(tierIdx, false)
		if !ok {
			t.Fatalf("tier %d: allocate failed", tierIdx)
		}
		h.Free(a, pages)
		if got := h.FreePageCount(); got != full {
			t.Fatalf("tier %d: FreePageCount after round trip = %#x, want %#x", tierIdx, got, full)
		}
	}
}

// TestFreePartialRangeDecomposesAcrossTiers frees a misaligned sub-range
// of a single large allocation instead of either one tier-0 page or an
// exact full-tier round trip, driving Free's before/after residual loops
// — the bigIndex-1 start spec §9 flags as intentional. It checks that the
// residual blocks land at the tiers the decomposition is supposed to
// produce: one 64 KiB block in the middle, plus 4 KiB fragments on each
// side that must not have coalesced upward (their neighboring tier-1
// groups are still partly allocated).
func TestFreePartialRangeDecomposesAcrossTiers(t *testing.T) {
	base := kmem.Address(0x8000_0000)
	const size = 1 << 22 // 4 MiB: exactly one tier-3 (4 MiB) block.
	h := New(base, size, kmem.GranularityLadder, klog.Discard)

	whole, ok := h.AllocateBlock(3, false)
	if !ok || whole != base {
		t.Fatalf("allocate(tier3) = %s,%v want %s,true", whole, ok, base)
	}
	if got := h.FreePageCount(); got != 0 {
		t.Fatalf("FreePageCount after consuming the whole region = %d, want 0", got)
	}

	// [base+0x4000, base+0x24000): a 64 KiB-aligned block in the middle
	// (bigTier=1) plus a 12-page fragment before it and a 4-page fragment
	// after it, neither of which is itself 64 KiB-aligned.
	start := base.Add(0x4000)
	const freedBytes = 0x20000
	h.Free(start, freedBytes/kmem.PageSize)

	if got, want := h.FreePageCount(), uint64(freedBytes/kmem.PageSize); got != want {
		t.Fatalf("FreePageCount after partial free = %d, want %d", got, want)
	}

	mid, ok := h.AllocateBlock(1, false)
	if !ok || mid != base.Add(0x10000) {
		t.Fatalf("allocate(tier1) after partial free = %s,%v want %s,true", mid, ok, base.Add(0x10000))
	}

	for i := 0; i < 12; i++ {
		want := start.Add(int64(i * kmem.PageSize))
		got, ok := h.AllocateBlock(0, false)
		if !ok || got != want {
			t.Fatalf("before-fragment page %d = %s,%v want %s,true", i, got, ok, want)
		}
	}

	for i := 0; i < 4; i++ {
		want := base.Add(0x20000 + int64(i*kmem.PageSize))
		got, ok := h.AllocateBlock(0, false)
		if !ok || got != want {
			t.Fatalf("after-fragment page %d = %s,%v want %s,true", i, got, ok, want)
		}
	}

	if got := h.FreePageCount(); got != 0 {
		t.Fatalf("FreePageCount after reallocating every fragment = %d, want 0", got)
	}
}

// TestRandomAllocFreeRoundTrip is the heap-side counterpart to bitmap's
// seeded math/rand property loop (bitmap_test.go's
// TestSelectRandomBitOnlyPicksSetBits): a seeded sequence of random-tier
// allocations, freed back in a shuffled order, must restore the heap to
// its starting free-page count.
func TestRandomAllocFreeRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	full := h.FreePageCount()

	rng := rand.New(rand.NewSource(1))
	type outstanding struct {
		addr  kmem.Address
		pages uint64
	}
	var live []outstanding

	for i := 0; i < 200; i++ {
		tierIdx := rng.Intn(len(kmem.GranularityLadder))
		addr, ok := h.AllocateBlock(tierIdx, rng.Intn(2) == 0)
		if !ok {
			continue
		}
		pages := uint64(1) << (kmem.GranularityLadder[tierIdx] - kmem.GranularityLadder[0])
		live = append(live, outstanding{addr, pages})
	}

	rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, o := range live {
		h.Free(o.addr, o.pages)
	}

	if got := h.FreePageCount(); got != full {
		t.Fatalf("FreePageCount after randomized round trip = %#x, want %#x", got, full)
	}
}

func TestOutOfMemoryAboveTopTier(t *testing.T) {
	h := New(kmem.Address(0x8000_0000), 1<<21, kmem.GranularityLadder, klog.Discard)
	// Exhaust the only 2 MiB block.
	if _, ok := h.AllocateBlock(2, false); !ok {
		t.Fatalf("expected first 2 MiB allocation to succeed")
	}
	if _, ok := h.AllocateBlock(2, false); ok {
		t.Fatalf("expected second 2 MiB allocation to fail (out of memory)")
	}
}
