// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksched

import (
	"sync"

	"github.com/otterforge/guestkernel/internal/klog"
)

// Scheduler is the capability CriticalSection calls into when the
// outermost Leave releases the lock (spec §4.E). Implementations decide
// which cores get a chance to run next; the critical section itself knows
// nothing about core affinity or run queues.
type Scheduler interface {
	// SelectThreads computes the set of cores whose scheduling state
	// changed while the lock was held, returning an opaque mask that
	// Enable{Scheduling,SchedulingFromForeignThread} consume. It runs
	// while the lock is still held, so it observes a consistent view of
	// every thread touched during this critical section.
	SelectThreads() uint64

	// EnableScheduling is called after the lock is released, from the
	// same host thread that held it, when that thread's own guest
	// context is schedulable.
	EnableScheduling(mask uint64)

	// EnableSchedulingFromForeignThread is called instead of
	// EnableScheduling when the releasing host thread's guest context is
	// not itself schedulable (e.g. a service thread finishing on behalf
	// of a guest thread that is blocked).
	EnableSchedulingFromForeignThread(mask uint64)
}

// CriticalSection is the recursive process-wide lock that doubles as the
// guest kernel's sole scheduling gate (spec §4.E). Depth is tracked per
// holder: nested Enter calls from the same caller increment depth without
// blocking, and only the matching outermost Leave runs the scheduler
// callback and releases the underlying lock.
//
// Grounded on the teacher's single-OS-thread-owns-the-target model
// (internal/core/process.go locks every ptrace call to one OS thread via
// runtime.LockOSThread); here that "only one actor touches kernel state at
// a time" invariant is generalized from one fixed thread to a recursive
// lock any registered Thread can hold.
type CriticalSection struct {
	mu   sync.Mutex
	cond *sync.Cond

	owner *Thread
	depth int

	scheduler Scheduler
	log       *klog.Logger
}

// NewCriticalSection builds a CriticalSection that calls back into s when
// the lock is released. s is a capability injected at construction, never
// looked up from a global (spec §9).
func NewCriticalSection(s Scheduler, log *klog.Logger) *CriticalSection {
	cs := &CriticalSection{scheduler: s, log: log}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// Enter acquires the critical section on behalf of caller, blocking if a
// different Thread currently holds it. Calling Enter again for the same
// caller while already held just increments the recursion depth.
func (cs *CriticalSection) Enter(caller *Thread) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for cs.owner != nil && cs.owner != caller {
		cs.cond.Wait()
	}
	cs.owner = caller
	cs.depth++
}

// Leave releases one level of recursion for caller. At depth 1 (the
// outermost Leave), it runs the scheduler's SelectThreads while still
// holding the lock, then releases the lock, then dispatches to
// EnableScheduling or EnableSchedulingFromForeignThread depending on
// whether caller's own guest context is schedulable. If caller is Paused,
// it then parks on caller's wake event after dispatch — never while
// holding the lock (spec §5, §9).
//
// Leave on a Thread that does not currently hold the section, or past
// depth 0, is a silent no-op: it can only happen from a caller bug, and
// the spec does not ask this primitive to detect that case.
func (cs *CriticalSection) Leave(caller *Thread) {
	cs.mu.Lock()
	if cs.owner != caller || cs.depth == 0 {
		cs.mu.Unlock()
		return
	}
	cs.depth--
	if cs.depth > 0 {
		cs.mu.Unlock()
		return
	}

	mask := cs.scheduler.SelectThreads()
	cs.owner = nil
	cs.cond.Signal()
	cs.mu.Unlock()

	if caller.IsSchedulable() {
		cs.scheduler.EnableScheduling(mask)
		return
	}
	cs.scheduler.EnableSchedulingFromForeignThread(mask)
	// Block only when caller itself just entered the wait protocol
	// (Paused by waitFor, to be woken by a matching Reschedule(Running)).
	// A permanently non-schedulable host worker (ServerLoop, the
	// TimeManager's own Enter/Leave around list edits) is never Paused by
	// this protocol and falls straight through instead of blocking on a
	// wake nobody will ever send.
	if caller.State() == Paused {
		caller.Wait()
	}
}

// Depth reports the current recursion depth (0 if unheld), for tests and
// diagnostics.
func (cs *CriticalSection) Depth() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.depth
}

// Owner reports the Thread currently holding the section, or nil.
func (cs *CriticalSection) Owner() *Thread {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.owner
}
