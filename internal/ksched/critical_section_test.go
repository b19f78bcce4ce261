// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otterforge/guestkernel/internal/klog"
)

type countingScheduler struct {
	selects  atomic.Int64
	enables  atomic.Int64
	foreigns atomic.Int64
}

func (s *countingScheduler) SelectThreads() uint64 {
	s.selects.Add(1)
	return 0xFF
}
func (s *countingScheduler) EnableScheduling(mask uint64)             { s.enables.Add(1) }
func (s *countingScheduler) EnableSchedulingFromForeignThread(uint64) { s.foreigns.Add(1) }

func TestCriticalSectionRecursiveReentry(t *testing.T) {
	sched := &countingScheduler{}
	cs := NewCriticalSection(sched, klog.Discard)
	th := NewThread()

	cs.Enter(th)
	cs.Enter(th)
	cs.Enter(th)
	if got := cs.Depth(); got != 3 {
		t.Fatalf("Depth = %d, want 3", got)
	}
	cs.Leave(th)
	cs.Leave(th)
	if got := cs.Depth(); got != 1 {
		t.Fatalf("Depth after two Leaves = %d, want 1", got)
	}
	if sched.selects.Load() != 0 {
		t.Fatalf("SelectThreads called before outermost Leave")
	}
	cs.Leave(th)
	if got := cs.Depth(); got != 0 {
		t.Fatalf("Depth after outermost Leave = %d, want 0", got)
	}
	if sched.selects.Load() != 1 {
		t.Fatalf("SelectThreads calls = %d, want 1", sched.selects.Load())
	}
	if sched.enables.Load() != 1 {
		t.Fatalf("EnableScheduling calls = %d, want 1 (caller stayed Running/schedulable)", sched.enables.Load())
	}
}

func TestCriticalSectionLeaveOnNonOwnerIsNoop(t *testing.T) {
	sched := &countingScheduler{}
	cs := NewCriticalSection(sched, klog.Discard)
	a, b := NewThread(), NewThread()
	cs.Enter(a)
	cs.Leave(b) // not the owner: must not panic and must not release a's hold
	if cs.Owner() != a {
		t.Fatalf("Leave from non-owner released the section")
	}
	cs.Leave(a)
}

func TestCriticalSectionMutualExclusion(t *testing.T) {
	sched := &countingScheduler{}
	cs := NewCriticalSection(sched, klog.Discard)

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := NewThread()
			for j := 0; j < 20; j++ {
				cs.Enter(th)
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Microsecond)
				mu.Lock()
				inside--
				mu.Unlock()
				cs.Leave(th)
			}
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders observed = %d, want 1", maxInside)
	}
}

func TestCriticalSectionBlocksPausedCallerUntilSignaled(t *testing.T) {
	sched := &countingScheduler{}
	cs := NewCriticalSection(sched, klog.Discard)
	th := NewThread()

	cs.Enter(th)
	th.Reschedule(Paused)

	left := make(chan struct{})
	go func() {
		cs.Leave(th)
		close(left)
	}()

	select {
	case <-left:
		t.Fatalf("Leave returned before the paused thread was rescheduled to Running")
	case <-time.After(20 * time.Millisecond):
	}

	th.Reschedule(Running)
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatalf("Leave never returned after Reschedule(Running) signaled the thread")
	}
}
