// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksched

import (
	"math"
	"sync/atomic"

	"github.com/otterforge/guestkernel/internal/hosttime"
	"github.com/otterforge/guestkernel/internal/klog"
)

// Waitable is the callback a scheduled deadline fires: TimeUp is invoked
// under the critical section when the deadline elapses and the entry is
// still present (spec §4.F).
type Waitable interface {
	TimeUp()
}

type timeEntry struct {
	obj      Waitable
	deadline int64 // host ticks
}

// TimeManager orders future wake-ups on a monotonic clock and drives one
// host worker goroutine running the precise-sleep/spin-wait hybrid of
// spec §4.F. The entry list has no lock of its own: every access happens
// under the shared CriticalSection, the same "only one lock in the core"
// invariant spec §5 calls out.
type TimeManager struct {
	cs      *CriticalSection
	worker  *Thread
	counter *hosttime.Counter
	sleeper *hosttime.SleepEvent
	log     *klog.Logger

	entries []timeEntry

	enforceWakeupFromSpinWait atomic.Bool
	keepRunning               atomic.Bool
	done                      chan struct{}
}

// NewTimeManager builds a TimeManager sharing cs as its scheduling gate.
// worker is the Thread identity the worker loop presents to cs.Enter/Leave
// — it is never itself made schedulable by the guest scheduler (spec
// §4.H's "not schedulable" note applies equally here).
func NewTimeManager(cs *CriticalSection, counter *hosttime.Counter, sleeper *hosttime.SleepEvent, log *klog.Logger) *TimeManager {
	tm := &TimeManager{
		cs:      cs,
		worker:  NewThread(),
		counter: counter,
		sleeper: sleeper,
		log:     log,
		done:    make(chan struct{}),
	}
	tm.worker.SetSchedulable(false)
	tm.keepRunning.Store(true)
	return tm
}

// ScheduleFutureInvocation arms obj to fire TimeUp at now+timeoutNs,
// converted to host ticks and saturated on overflow. caller must already
// hold the critical section (spec §4.G's wait path calls this from inside
// its own Enter/Leave span); this only appends to the list and signals the
// worker.
func (tm *TimeManager) ScheduleFutureInvocation(caller *Thread, obj Waitable, timeoutNs int64) {
	now := tm.counter.ElapsedTicks()
	delta := tm.counter.NanosToHostTicks(timeoutNs)
	deadline := now + delta
	if delta > 0 && deadline < now {
		deadline = math.MaxInt64 // overflow: saturate to max
	}
	deadline = tm.sleeper.AdjustTimePoint(deadline, timeoutNs)

	tm.entries = append(tm.entries, timeEntry{obj: obj, deadline: deadline})
	if timeoutNs < 1_000_000 {
		tm.enforceWakeupFromSpinWait.Store(true)
	}
	_ = caller
	tm.sleeper.Signal()
}

// UnscheduleFutureInvocation removes every entry whose callback is obj.
// Like ScheduleFutureInvocation, it assumes caller already holds the
// critical section.
func (tm *TimeManager) UnscheduleFutureInvocation(caller *Thread, obj Waitable) {
	out := tm.entries[:0]
	for i := len(tm.entries) - 1; i >= 0; i-- {
		if tm.entries[i].obj == obj {
			continue
		}
		out = append(out, tm.entries[i])
	}
	// out was built end-to-start; restore insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	tm.entries = out
	_ = caller
}

// getNextWaitingObject implements spec §9's selection rule exactly: scan
// last-to-first, keep the entry whose deadline is <= the lowest seen so
// far. The <= (not <) means that, among entries with an identical
// deadline, each one visited later in the reverse scan (i.e. inserted
// earlier) displaces the one kept so far, which nets out to
// earliest-inserted-among-equals winning — preserve this, do not simplify
// to a forward scan with <.
func (tm *TimeManager) getNextWaitingObject() int {
	if len(tm.entries) == 0 {
		return -1
	}
	lowest := int64(math.MaxInt64)
	idx := -1
	for i := len(tm.entries) - 1; i >= 0; i-- {
		if tm.entries[i].deadline <= lowest {
			lowest = tm.entries[i].deadline
			idx = i
		}
	}
	return idx
}

// Run executes the worker loop of spec §4.F until Stop is called. Callers
// start it with `go tm.Run()`.
func (tm *TimeManager) Run() {
	defer close(tm.done)
	for tm.keepRunning.Load() {
		tm.cs.Enter(tm.worker)
		tm.enforceWakeupFromSpinWait.Store(false)
		idx := tm.getNextWaitingObject()
		var (have bool
			deadline int64
			obj      Waitable
		)
		if idx >= 0 {
			have = true
			deadline = tm.entries[idx].deadline
			obj = tm.entries[idx].obj
		}
		tm.cs.Leave(tm.worker)

		if !have {
			tm.sleeper.Sleep()
			continue
		}

		if tm.counter.ElapsedTicks() < deadline {
			if !tm.sleeper.SleepUntil(deadline) {
				for tm.counter.ElapsedTicks() < deadline {
					if tm.enforceWakeupFromSpinWait.Load() {
						break
					}
				}
			}
		}

		if tm.counter.ElapsedTicks() < deadline {
			continue
		}

		tm.cs.Enter(tm.worker)
		for i, e := range tm.entries {
			if e.obj == obj && e.deadline == deadline {
				tm.entries = append(tm.entries[:i], tm.entries[i+1:]...)
				obj.TimeUp()
				break
			}
		}
		tm.cs.Leave(tm.worker)
	}
}

// Stop signals the worker to exit its loop and waits for it to do so.
func (tm *TimeManager) Stop() {
	tm.keepRunning.Store(false)
	tm.sleeper.Signal()
	<-tm.done
}
