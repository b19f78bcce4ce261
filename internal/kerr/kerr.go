// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kerr carries the result-code vocabulary every guestkernel
// component returns (spec §7). Results are plain values, never unwound:
// nothing in the core uses panic/recover to propagate a result to a
// caller. panic is reserved for programmer-bug assertions (Fatalf).
package kerr

import "fmt"

// Result is the outcome of a kernel-core operation. The zero value is
// Success so that a freshly zeroed Result reads as "nothing went wrong" —
// callers that forget to set it don't accidentally signal a timeout.
type Result int

const (
	Success Result = iota
	TimedOut
	Cancelled
	ThreadTerminating
	OutOfMemory
	InvalidArgument
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case TimedOut:
		return "TimedOut"
	case Cancelled:
		return "Cancelled"
	case ThreadTerminating:
		return "ThreadTerminating"
	case OutOfMemory:
		return "OutOfMemory"
	case InvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Err wraps a non-Success Result as an error, or returns nil for Success.
// Callers that want the bare code (e.g. to branch on TimedOut vs Cancelled)
// should compare the Result directly instead of round-tripping through
// error; Err exists for call sites that just want to propagate "it failed".
func (r Result) Err() error {
	if r == Success {
		return nil
	}
	return &KernelError{Code: r}
}

// KernelError is the error type that carries a Result. Comparing against
// a Result is done via errors.As, never by matching error strings.
// Errors that carry no Result (e.g. pageheap.NewRegionSet's size checks)
// are plain fmt.Errorf values.
type KernelError struct {
	Code Result
	Op   string // optional: which operation raised it
}

func (e *KernelError) Error() string {
	if e.Op == "" {
		return e.Code.String()
	}
	return e.Op + ": " + e.Code.String()
}

// Fatalf reports a programmer-bug invariant violation. These are never
// returned to a caller as a Result — they indicate the implementation
// itself is broken (double-free, BitsCount underflow, popping an empty
// bitmap), mirroring the teacher's panic(fmt.Sprintf(...)) idiom in
// program/server/server.go and bltree-go-for-embedding's panic on
// corrupted buffer-pool state.
func Fatalf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
