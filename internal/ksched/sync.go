// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksched

import "github.com/otterforge/guestkernel/internal/kerr"

// SynchronizationObject is a multi-object wait target: a level-triggered
// signaled flag plus a FIFO list of threads parked in WaitFor (spec
// §4.G). All access happens under the owning Synchronizer's critical
// section.
type SynchronizationObject struct {
	name     string
	signaled bool
	waiters  []*Thread
}

// NewSynchronizationObject returns an unsignaled object. name is for
// diagnostics only.
func NewSynchronizationObject(name string) *SynchronizationObject {
	return &SynchronizationObject{name: name}
}

func (o *SynchronizationObject) String() string { return o.name }

// IsSignaled reports the object's signaled flag. Must only be called
// under the Synchronizer's critical section (spec §5).
func (o *SynchronizationObject) IsSignaled() bool { return o.signaled }

// SetSignaled sets the object's level-triggered flag directly; it does
// not itself wake anyone. Call Synchronizer.SignalObject to both set the
// flag and wake eligible waiters in one step. Exposed for objects whose
// signaled state flows from something other than SignalObject (e.g. a
// counting primitive layered on top).
func (o *SynchronizationObject) SetSignaled(v bool) { o.signaled = v }

func (o *SynchronizationObject) addWaiter(t *Thread) {
	o.waiters = append(o.waiters, t)
}

func (o *SynchronizationObject) removeWaiter(t *Thread) {
	for i, w := range o.waiters {
		if w == t {
			o.waiters = append(o.waiters[:i], o.waiters[i+1:]...)
			return
		}
	}
}

// Synchronizer implements spec §4.G's waitFor/signalObject pair over a
// shared CriticalSection and TimeManager. Grounded on the teacher's
// ptrace wait-status dispatch (internal/core/thread.go's Wait/stopped
// bookkeeping): a host-side wait-for-any-of-N-events loop with explicit
// thread state, generalized here from "wait for one ptrace stop" to "wait
// for any of N signaled objects with a timeout."
type Synchronizer struct {
	cs *CriticalSection
	tm *TimeManager
}

// NewSynchronizer builds a Synchronizer sharing cs and tm with the rest
// of the kernel.
func NewSynchronizer(cs *CriticalSection, tm *TimeManager) *Synchronizer {
	return &Synchronizer{cs: cs, tm: tm}
}

// WaitFor blocks caller until one of objects becomes signaled, timeoutNs
// elapses, or caller's termination/cancel flag is observed, per the
// eight-step wait path of spec §4.G. index is -1 when result is not
// Success.
func (s *Synchronizer) WaitFor(caller *Thread, objects []*SynchronizationObject, timeoutNs int64) (result kerr.Result, index int) {
	s.cs.Enter(caller)

	for i, o := range objects {
		if o.IsSignaled() {
			s.cs.Leave(caller)
			return kerr.Success, i
		}
	}

	if timeoutNs == 0 {
		s.cs.Leave(caller)
		return kerr.TimedOut, -1
	}

	if caller.TerminationPending() {
		s.cs.Leave(caller)
		return kerr.ThreadTerminating, -1
	}
	if caller.TakeSyncCancelled() {
		s.cs.Leave(caller)
		return kerr.Cancelled, -1
	}

	for _, o := range objects {
		o.addWaiter(caller)
	}
	caller.SetWaitingSync(true)
	caller.SetSignaledObj(nil)
	caller.SetObjSyncResult(kerr.TimedOut)
	caller.Reschedule(Paused)

	timerArmed := timeoutNs > 0
	if timerArmed {
		s.tm.ScheduleFutureInvocation(caller, caller, timeoutNs)
	}

	// Leave blocks here until something reschedules caller to Running:
	// either SignalObject (a matching object fired) or caller.TimeUp (the
	// armed timer elapsed first).
	s.cs.Leave(caller)

	s.cs.Enter(caller)
	if timerArmed {
		s.tm.UnscheduleFutureInvocation(caller, caller)
	}

	result = caller.ObjSyncResult()
	index = -1
	signaled := caller.SignaledObj()
	for i, o := range objects {
		o.removeWaiter(caller)
		if signaled != nil && o == signaled {
			index = i
		}
	}
	caller.SetWaitingSync(false)

	s.cs.Leave(caller)
	return result, index
}

// SignalObject sets obj signaled and wakes every thread currently parked
// on it (broadcast), walking its waiting list head-to-tail (spec §4.G).
// Threads that raced onto a different state (e.g. the timeout already
// fired and moved them to Running) are left alone.
func (s *Synchronizer) SignalObject(caller *Thread, obj *SynchronizationObject) {
	s.cs.Enter(caller)
	obj.SetSignaled(true)
	if obj.IsSignaled() {
		for _, w := range obj.waiters {
			if w.State() != Paused {
				continue
			}
			w.SetSignaledObj(obj)
			w.SetObjSyncResult(kerr.Success)
			w.Reschedule(Running)
		}
	}
	s.cs.Leave(caller)
}
