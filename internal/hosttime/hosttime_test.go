// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hosttime

import (
	"testing"
	"time"
)

func TestGuestTicksToNanosRoundsUp(t *testing.T) {
	// 19,200,000 guest ticks is exactly one second.
	if got := GuestTicksToNanos(19_200_000); got != 1_000_000_000 {
		t.Fatalf("GuestTicksToNanos(19.2M) = %d, want 1e9", got)
	}
	if got := GuestTicksToNanos(1); got == 0 {
		t.Fatalf("GuestTicksToNanos(1) = 0, want a rounded-up positive value")
	}
}

func TestHostTicksToGuestTicks(t *testing.T) {
	// A host counter at 1e9 ticks/sec (nanosecond ticks): one second of
	// host ticks should convert to 19.2M guest ticks.
	got := HostTicksToGuestTicks(1_000_000_000, 1_000_000_000)
	if got != 19_200_000 {
		t.Fatalf("HostTicksToGuestTicks = %d, want 19200000", got)
	}
}

func TestNanosToMillisSaturates(t *testing.T) {
	const maxInt31 = 1<<31 - 1
	if got := NanosToMillis(int64(maxInt31) * 1_000_000 * 2); got != maxInt31 {
		t.Fatalf("NanosToMillis did not saturate: got %d, want %d", got, maxInt31)
	}
	if got := NanosToMillis(5_000_000); got != 5 {
		t.Fatalf("NanosToMillis(5ms) = %d, want 5", got)
	}
}

func TestNanosToHostTicksExactSeconds(t *testing.T) {
	c := NewCounter() // ticksPerSecond == 1e9
	if got := c.NanosToHostTicks(2_500_000_000); got != 2_500_000_000 {
		t.Fatalf("NanosToHostTicks(2.5s) = %d, want 2500000000", got)
	}
}

func TestSleepEventSignalInterruptsSleepUntil(t *testing.T) {
	c := NewCounter()
	e := NewSleepEvent(c)
	deadline := c.ElapsedTicks() + int64(5e9) // 5 seconds out, should be interrupted well before then

	done := make(chan bool, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		done <- e.SleepUntil(deadline)
	}()
	<-started
	e.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SleepUntil did not return after Signal")
	}
}
