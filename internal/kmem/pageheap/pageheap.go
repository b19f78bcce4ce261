// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pageheap implements the multi-granularity buddy allocator of
// spec §4.C: a ladder of tiers, each a bitmap.Bitmap of free cells at one
// power-of-two block size, with coalescing push/pop between adjacent
// tiers.
//
// The per-tier free/reserve/scan shape is grounded on the bitmap
// allocator in other_examples' pmm.BitmapAllocator (pool-based bitmap
// scan, full-word skip, popcount bookkeeping); the tier ladder and
// cross-tier coalescing on top of that is spec-only.
package pageheap

import (
	"github.com/otterforge/guestkernel/internal/kerr"
	"github.com/otterforge/guestkernel/internal/klog"
	"github.com/otterforge/guestkernel/internal/kmem"
	"github.com/otterforge/guestkernel/internal/kmem/bitmap"
)

// tier is one granularity level of the ladder: block size 2^shift, with
// nextShift the shift of the tier above (0 if this is the top tier).
type tier struct {
	shift     uint
	nextShift uint // 0 if top

	regionBase kmem.Address // tier's bitmap-covered region, aligned outward
	nBits      uint64

	bm *bitmap.Bitmap
}

func (t *tier) blockSize() uint64 { return uint64(1) << t.shift }

// PageHeap is a buddy allocator over one contiguous DRAM region (spec
// §4.C). Not safe for concurrent use — callers serialize access via the
// kernel's critical section (spec §5).
type PageHeap struct {
	base kmem.Address
	size uint64

	tiers   []tier
	storage []uint64

	log *klog.Logger
}

// New builds a PageHeap over [base, base+size) with the given tier shift
// ladder (ascending, e.g. kmem.GranularityLadder). size need not be a
// multiple of any tier's block size; tiers whose bitmap would need to
// cover a region wider than the available storage still get one (storage
// is sized to fit exactly).
func New(base kmem.Address, size uint64, shiftLadder []uint, log *klog.Logger) *PageHeap {
	h := &PageHeap{base: base, size: size, log: log}
	h.tiers = make([]tier, len(shiftLadder))

	var totalWords uint64
	regions := make([]struct {
		regionBase kmem.Address
		nBits      uint64
	}, len(shiftLadder))

	for i, s := range shiftLadder {
		var alignShift uint
		var nextShift uint
		if i+1 < len(shiftLadder) {
			nextShift = shiftLadder[i+1]
			alignShift = nextShift
		} else {
			alignShift = s
		}
		alignSize := uint64(1) << alignShift
		regionBase := base.AlignDown(alignSize)
		regionEnd := base.Add(int64(size)).AlignUp(alignSize)
		nBits := uint64(regionEnd.Sub(regionBase)) >> s

		h.tiers[i] = tier{shift: s, nextShift: nextShift, regionBase: regionBase, nBits: nBits}
		regions[i].regionBase = regionBase
		regions[i].nBits = nBits
		totalWords += bitmap.WordsNeeded(nBits)
	}

	h.storage = make([]uint64, totalWords)
	rest := h.storage
	for i := range h.tiers {
		var bm *bitmap.Bitmap
		bm, rest = bitmap.Init(rest, regions[i].nBits)
		h.tiers[i].bm = bm
	}

	if size > 0 {
		h.Free(base, size/kmem.PageSize)
	}
	return h
}

func (h *PageHeap) tierOffset(t int, addr kmem.Address) uint64 {
	return uint64(addr.Sub(h.tiers[t].regionBase)) >> h.tiers[t].shift
}

// AllocateBlock allocates one block of tier tierIndex's size, or larger if
// that tier is exhausted (scanning tiers upward). Any excess beyond the
// requested tier's size is freed back. Returns (0, false) if every tier
// from tierIndex up is exhausted (spec's OutOfMemory condition).
func (h *PageHeap) AllocateBlock(tierIndex int, random bool) (kmem.Address, bool) {
	mode := bitmap.Linear
	if random {
		mode = bitmap.Random
	}
	needed := h.tiers[tierIndex].blockSize()
	for t := tierIndex; t < len(h.tiers); t++ {
		addr, ok := h.popBlock(t, mode)
		if !ok {
			continue
		}
		allocated := h.tiers[t].blockSize()
		if allocated > needed {
			tailAddr := addr.Add(int64(needed))
			tailPages := (allocated - needed) / kmem.PageSize
			h.Free(tailAddr, tailPages)
		}
		return addr, true
	}
	return 0, false
}

func (h *PageHeap) popBlock(t int, mode bitmap.Mode) (kmem.Address, bool) {
	off := h.tiers[t].bm.FindFreeBlock(mode)
	if off == bitmap.NoFreeBlock {
		return 0, false
	}
	h.tiers[t].bm.ClearBit(off)
	addr := h.tiers[t].regionBase.Add(int64(off << h.tiers[t].shift))
	return addr, true
}

// pushBlock marks the block at address free on tier t and, if doing so
// completes a wholly-free group at the next tier up, clears that group's
// bits and returns the address of the promoted larger block (for the
// caller to re-push at t+1). Returns 0 if no promotion happened.
func (h *PageHeap) pushBlock(addr kmem.Address, t int) kmem.Address {
	tr := &h.tiers[t]
	off := h.tierOffset(t, addr)
	tr.bm.SetBit(off)

	if tr.nextShift == 0 {
		return 0
	}
	span := uint64(1) << (tr.nextShift - tr.shift)
	alignedOff := off &^ (span - 1)
	if !tr.bm.ClearRange(alignedOff, span) {
		return 0
	}
	return tr.regionBase.Add(int64(alignedOff << tr.shift))
}

// freeBlock frees one block at tier t, chasing the coalescing chain
// upward through successively larger tiers as long as pushBlock keeps
// reporting a promoted address.
func (h *PageHeap) freeBlock(addr kmem.Address, t int) {
	for {
		promoted := h.pushBlock(addr, t)
		if promoted == 0 {
			return
		}
		addr = promoted
		t++
		if t >= len(h.tiers) {
			return
		}
	}
}

// Free returns pageCount pages starting at addr to the allocator,
// decomposing the range into the unique naturally-aligned blocks that
// cover it (spec §4.C, the hardest operation in the component).
//
// Ryujinx's KPageHeap.Free starts its before/after scans at bigIndex-1,
// not bigIndex, for both runs — spec §9 flags this as intentional (the
// bigIndex tier is already fully covered by the big-block loop) and asks
// implementers to preserve it exactly; this does.
func (h *PageHeap) Free(addr kmem.Address, pageCount uint64) {
	if pageCount == 0 {
		return
	}
	start := addr
	end := addr.Add(int64(pageCount * kmem.PageSize))

	bigTier := -1
	var beforeEnd, afterStart kmem.Address
	for t := len(h.tiers) - 1; t >= 0; t-- {
		blockSize := h.tiers[t].blockSize()
		bigStart := start.AlignUp(blockSize)
		bigStop := end.AlignDown(blockSize)
		if bigStart < bigStop {
			bigTier = t
			for a := bigStart; a < bigStop; a = a.Add(int64(blockSize)) {
				h.freeBlock(a, t)
			}
			beforeEnd = bigStart
			afterStart = bigStop
			break
		}
	}
	if bigTier == -1 {
		// No tier's block fits wholly inside [start, end); with a
		// smallest tier of one page this only happens for pageCount==0,
		// already handled above.
		return
	}

	for t := bigTier - 1; t >= 0; t-- {
		tierSize := h.tiers[t].blockSize()
		for start.Add(int64(tierSize)) <= beforeEnd {
			h.freeBlock(beforeEnd.Add(-int64(tierSize)), t)
			beforeEnd = beforeEnd.Add(-int64(tierSize))
		}
	}

	for t := bigTier - 1; t >= 0; t-- {
		tierSize := h.tiers[t].blockSize()
		for afterStart.Add(int64(tierSize)) <= end {
			h.freeBlock(afterStart, t)
			afterStart = afterStart.Add(int64(tierSize))
		}
	}
}

// FreePageCount returns the total number of free 4 KiB pages across every
// tier — i.e. bottom-layer BitsCount summed with each tier's contribution
// expressed in pages, used by tests verifying the round-trip properties
// of spec §8.
func (h *PageHeap) FreePageCount() uint64 {
	var total uint64
	pageShift := h.tiers[0].shift
	for i := range h.tiers {
		pagesPerBlock := uint64(1) << (h.tiers[i].shift - pageShift)
		total += h.tiers[i].bm.BitsCount() * pagesPerBlock
	}
	return total
}

// BlockIndexFor returns the largest tier whose block size fits entirely
// within pageCount pages (i.e. the biggest block that a run of pageCount
// pages could be carved into), or -1 if even the smallest tier's block
// exceeds pageCount pages.
func (h *PageHeap) BlockIndexFor(pageCount uint64) int {
	best := -1
	for i := range h.tiers {
		blockPages := uint64(1) << (h.tiers[i].shift - h.tiers[0].shift)
		if blockPages <= pageCount {
			best = i
		}
	}
	return best
}

// AlignedBlockIndex returns the smallest tier whose block size covers
// max(pageCount, alignPages) pages, or -1 if no tier is large enough.
func (h *PageHeap) AlignedBlockIndex(pageCount, alignPages uint64) int {
	need := pageCount
	if alignPages > need {
		need = alignPages
	}
	for i := range h.tiers {
		blockPages := uint64(1) << (h.tiers[i].shift - h.tiers[0].shift)
		if blockPages >= need {
			return i
		}
	}
	return -1
}

// Base and Size report the region the heap was constructed over.
func (h *PageHeap) Base() kmem.Address { return h.base }
func (h *PageHeap) Size() uint64       { return h.size }

// errOutOfMemory is the Result a caller should surface when AllocateBlock
// exhausts every tier (spec §7).
var errOutOfMemory = kerr.OutOfMemory
