// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hosttime implements the external time collaborators of spec §6:
// a monotonic performance counter, a precise-sleep primitive with a
// spin-wait tail, and the guest/host tick conversions this core exports.
//
// Grounded on the teacher's direct golang.org/x/sys/unix use for OS
// interaction (internal/gocore/gocore_test.go pulls in unix for rlimit and
// process control); CLOCK_MONOTONIC via unix.ClockGettime is the same
// family of syscall, used here for the performance counter instead.
package hosttime

import (
	"time"

	"golang.org/x/sys/unix"
)

// guestTicksPerSecond is the fixed guest clock rate spec §6 converts
// against (19.2 MHz, the Switch's system counter frequency).
const guestTicksPerSecond = 19_200_000

// Counter is a monotonic tick source (spec §6's "Performance counter"
// collaborator).
type Counter struct {
	ticksPerSecond int64
}

// NewCounter returns a Counter driven by CLOCK_MONOTONIC, scaled to
// nanosecond ticks (ticksPerSecond == 1e9), which keeps every conversion
// in this package exact integer arithmetic.
func NewCounter() *Counter {
	return &Counter{ticksPerSecond: 1_000_000_000}
}

// TicksPerSecond returns the counter's tick rate.
func (c *Counter) TicksPerSecond() int64 { return c.ticksPerSecond }

// ElapsedTicks returns the current reading of CLOCK_MONOTONIC in the
// counter's tick units.
func (c *Counter) ElapsedTicks() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return int64(time.Now().UnixNano())
	}
	return ts.Nano()
}

// NanosToHostTicks converts a nanosecond duration to this counter's ticks,
// splitting into whole seconds and a sub-second remainder so precision
// survives counters whose rate isn't a clean multiple of 1e9 (spec §6).
func (c *Counter) NanosToHostTicks(ns int64) int64 {
	const nsPerSec = 1_000_000_000
	sec := ns / nsPerSec
	rem := ns % nsPerSec
	return sec*c.ticksPerSecond + rem*c.ticksPerSecond/nsPerSec
}

// GuestTicksToNanos converts a guest (19.2 MHz) tick count to nanoseconds,
// rounding up (spec §6).
func GuestTicksToNanos(t int64) int64 {
	const nsPerSec = 1_000_000_000
	num := t*nsPerSec + (guestTicksPerSecond - 1)
	return num / guestTicksPerSecond
}

// HostTicksToGuestTicks converts a host tick count (at ticksPerSecond) to
// guest (19.2 MHz) ticks. Double precision is permitted here per spec §6.
func HostTicksToGuestTicks(t, ticksPerSecond int64) int64 {
	return int64(float64(t) * guestTicksPerSecond / float64(ticksPerSecond))
}

// NanosToMillis converts nanoseconds to milliseconds, saturating at
// 2^31-1 (spec §6).
func NanosToMillis(ns int64) int32 {
	const maxInt31 = 1<<31 - 1
	ms := ns / 1_000_000
	if ms > maxInt31 {
		return maxInt31
	}
	if ms < 0 {
		return 0
	}
	return int32(ms)
}

// SleepEvent is the precise-sleep primitive of spec §6: sleepUntil blocks
// until deadlineTicks (in Counter tick units), returning true if it
// believes it landed on the deadline precisely, false if the caller
// should finish with a spin-wait. signal wakes a blocked sleep() early,
// level-triggered until the next sleep call consumes it.
type SleepEvent struct {
	counter *Counter
	wake    chan struct{}
}

// NewSleepEvent creates a precise-sleep primitive bound to counter.
func NewSleepEvent(counter *Counter) *SleepEvent {
	return &SleepEvent{counter: counter, wake: make(chan struct{}, 1)}
}

// coarseThreshold is how close to the deadline time.Sleep is trusted to
// land within on this host; closer than this, the caller should finish
// with a spin-wait instead (Go's runtime timer granularity is typically a
// few hundred microseconds to a couple milliseconds depending on OS).
const coarseThreshold = 2 * time.Millisecond

// SleepUntil blocks until deadlineTicks or until Signal is called,
// whichever comes first. It returns true only if the deadline had already
// passed on entry. Otherwise it sleeps on the OS timer until
// coarseThreshold before the deadline (or not at all when less than that
// remains), or until Signal, and returns false: the caller finishes the
// final stretch with a spin-wait.
func (e *SleepEvent) SleepUntil(deadlineTicks int64) bool {
	now := e.counter.ElapsedTicks()
	remaining := deadlineTicks - now
	if remaining <= 0 {
		return true
	}
	d := time.Duration(remaining) // Counter ticks are nanoseconds.
	if d <= coarseThreshold {
		return false
	}
	sleepFor := d - coarseThreshold
	timer := time.NewTimer(sleepFor)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-e.wake:
		return false
	}
}

// Sleep blocks until Signal is called.
func (e *SleepEvent) Sleep() {
	<-e.wake
}

// Signal wakes a blocked SleepUntil/Sleep call. Level-triggered: if
// nobody is currently sleeping, the next sleep call returns immediately.
func (e *SleepEvent) Signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// AdjustTimePoint lets the primitive round a requested deadline; this
// implementation has no rounding to apply and returns deadline unchanged.
func (e *SleepEvent) AdjustTimePoint(deadline int64, timeoutNs int64) int64 {
	return deadline
}
