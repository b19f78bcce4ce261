// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ksched

import (
	"sync"
	"testing"
	"time"

	"github.com/otterforge/guestkernel/internal/hosttime"
	"github.com/otterforge/guestkernel/internal/klog"
)

type nullScheduler struct{}

func (nullScheduler) SelectThreads() uint64                    { return 0 }
func (nullScheduler) EnableScheduling(uint64)                   {}
func (nullScheduler) EnableSchedulingFromForeignThread(uint64)  {}

func newTestTimeManager() *TimeManager {
	cs := NewCriticalSection(nullScheduler{}, klog.Discard)
	counter := hosttime.NewCounter()
	sleeper := hosttime.NewSleepEvent(counter)
	return NewTimeManager(cs, counter, sleeper, klog.Discard)
}

type recordingWaitable struct {
	mu   sync.Mutex
	name string
	firedAt time.Time
	order   *[]string
	orderMu *sync.Mutex
}

func (r *recordingWaitable) TimeUp() {
	r.mu.Lock()
	r.firedAt = time.Now()
	r.mu.Unlock()
	r.orderMu.Lock()
	*r.order = append(*r.order, r.name)
	r.orderMu.Unlock()
}

// TestTimeManagerFiresInDeadlineOrder is spec §8's scenario 3: schedule A
// at +10ms, B at +5ms, C at +20ms and expect invocation order B, A, C.
func TestTimeManagerFiresInDeadlineOrder(t *testing.T) {
	tm := newTestTimeManager()
	go tm.Run()
	defer tm.Stop()

	var order []string
	var orderMu sync.Mutex
	a := &recordingWaitable{name: "A", order: &order, orderMu: &orderMu}
	b := &recordingWaitable{name: "B", order: &order, orderMu: &orderMu}
	c := &recordingWaitable{name: "C", order: &order, orderMu: &orderMu}

	caller := NewThread()
	tm.cs.Enter(caller)
	tm.ScheduleFutureInvocation(caller, a, 10*time.Millisecond.Nanoseconds())
	tm.ScheduleFutureInvocation(caller, b, 5*time.Millisecond.Nanoseconds())
	tm.ScheduleFutureInvocation(caller, c, 20*time.Millisecond.Nanoseconds())
	tm.cs.Leave(caller)

	deadline := time.After(2 * time.Second)
	for {
		orderMu.Lock()
		n := len(order)
		orderMu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timers did not all fire in time, order so far: %v", order)
		case <-time.After(time.Millisecond):
		}
	}

	orderMu.Lock()
	got := append([]string(nil), order...)
	orderMu.Unlock()
	want := []string{"B", "A", "C"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestUnscheduleFutureInvocationRemovesEntry(t *testing.T) {
	tm := newTestTimeManager()
	caller := NewThread()
	// Unschedule matches entries with ==, so the Waitable must be a
	// comparable value (a pointer), not a func.
	w := &recordingWaitable{name: "w", order: &[]string{}, orderMu: &sync.Mutex{}}

	tm.cs.Enter(caller)
	tm.ScheduleFutureInvocation(caller, w, time.Hour.Nanoseconds())
	if len(tm.entries) != 1 {
		t.Fatalf("entries after schedule = %d, want 1", len(tm.entries))
	}
	tm.UnscheduleFutureInvocation(caller, w)
	if len(tm.entries) != 0 {
		t.Fatalf("entries after unschedule = %d, want 0", len(tm.entries))
	}
	tm.cs.Leave(caller)
}

type waitableFunc func()

func (f waitableFunc) TimeUp() { f() }

func TestGetNextWaitingObjectTieBreak(t *testing.T) {
	tm := newTestTimeManager()
	a := waitableFunc(func() {})
	b := waitableFunc(func() {})
	c := waitableFunc(func() {})
	// Inserted in order a, b, c, all with the same deadline: the <=
	// reverse-scan rule must pick a (earliest-inserted-among-equals).
	tm.entries = []timeEntry{
		{obj: a, deadline: 100},
		{obj: b, deadline: 100},
		{obj: c, deadline: 100},
	}
	idx := tm.getNextWaitingObject()
	if idx != 0 {
		t.Fatalf("getNextWaitingObject tie-break index = %d, want 0 (first-inserted)", idx)
	}
}
