// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kipc implements the ServerLoop primitive of spec §4.H: a
// long-lived host thread, not schedulable by the guest scheduler, that
// blocks on replyAndReceive and dispatches incoming session requests.
//
// Grounded on program/server/ptrace.go's ptraceRun: a dedicated goroutine
// draining a channel of closures on a single OS thread, replying to each
// on a paired channel. Here the "channel of closures" becomes the fixed
// three-way ReplyAndReceive/Dispatch/Accept protocol spec §4.H names, but
// the shape — one goroutine, one blocking receive, one paired reply — is
// the same.
package kipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/otterforge/guestkernel/internal/klog"
)

// Handle is an opaque kernel object handle (port or session).
type Handle uint32

// replyAndReceiveTimeoutNs is the fixed poll interval of spec §4.H.
const replyAndReceiveTimeoutNs = 1_000_000

// ReplyReceiver is the blocking collaborator ServerLoop parks on. It is
// expected to route down into Synchronizer.WaitFor internally; ServerLoop
// itself knows nothing about critical sections or wake events.
type ReplyReceiver interface {
	// ReplyAndReceive sends a reply to replyTarget (if nonzero) and then
	// blocks up to timeoutNs for one of handles to signal. ok is false on
	// timeout; index is the position in handles that fired.
	ReplyAndReceive(handles []Handle, replyTarget Handle, timeoutNs int64) (index int, ok bool, err error)
}

// Dispatcher handles one signaled session request.
type Dispatcher interface {
	Dispatch(session Handle) error
}

// Acceptor accepts a new session on a signaled port, returning the new
// session handle.
type Acceptor interface {
	Accept(port Handle) (Handle, error)
}

// ServerLoop runs the spec §4.H main loop: snapshot handles under a lock,
// block in ReplyAndReceive, then either dispatch a session request or
// accept a new session depending on whether the signaled index falls
// inside or outside the port range.
type ServerLoop struct {
	mu             sync.Mutex
	portHandles    []Handle
	sessionHandles []Handle

	receiver   ReplyReceiver
	dispatcher Dispatcher
	acceptor   Acceptor
	log        *klog.Logger
}

// NewServerLoop builds a ServerLoop over the given collaborators.
func NewServerLoop(receiver ReplyReceiver, dispatcher Dispatcher, acceptor Acceptor, log *klog.Logger) *ServerLoop {
	return &ServerLoop{receiver: receiver, dispatcher: dispatcher, acceptor: acceptor, log: log}
}

// AddPort registers a port handle this loop should accept new sessions
// on.
func (sl *ServerLoop) AddPort(h Handle) {
	sl.mu.Lock()
	sl.portHandles = append(sl.portHandles, h)
	sl.mu.Unlock()
}

// AddSession registers a session handle this loop should service
// requests on.
func (sl *ServerLoop) AddSession(h Handle) {
	sl.mu.Lock()
	sl.sessionHandles = append(sl.sessionHandles, h)
	sl.mu.Unlock()
}

// RemoveSession drops a session handle, e.g. after the client closes it.
func (sl *ServerLoop) RemoveSession(h Handle) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for i, s := range sl.sessionHandles {
		if s == h {
			sl.sessionHandles = append(sl.sessionHandles[:i], sl.sessionHandles[i+1:]...)
			return
		}
	}
}

// snapshot returns ports followed by sessions, and the port count, under
// handleLock (spec §4.H step 1).
func (sl *ServerLoop) snapshot() ([]Handle, int) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	portCount := len(sl.portHandles)
	handles := make([]Handle, 0, portCount+len(sl.sessionHandles))
	handles = append(handles, sl.portHandles...)
	handles = append(handles, sl.sessionHandles...)
	return handles, portCount
}

// Run executes the main loop until ctx is cancelled. An IPC reply is
// always paired with the handle that delivered the preceding request
// (replyTarget == the handle that last signaled a dispatch); no reply is
// sent on a loop iteration that didn't receive one, and none is sent
// after an Accept (spec §4.H's ordering guarantee).
func (sl *ServerLoop) Run(ctx context.Context) error {
	var replyTarget Handle
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		handles, portCount := sl.snapshot()
		idx, ok, err := sl.receiver.ReplyAndReceive(handles, replyTarget, replyAndReceiveTimeoutNs)
		if err != nil {
			return fmt.Errorf("kipc: replyAndReceive: %w", err)
		}
		if !ok {
			replyTarget = 0
			continue
		}

		signaled := handles[idx]
		if idx >= portCount {
			if err := sl.dispatcher.Dispatch(signaled); err != nil {
				sl.log.Warnf("kipc: dispatch %d: %v", signaled, err)
			}
			replyTarget = signaled
			continue
		}

		session, err := sl.acceptor.Accept(signaled)
		if err != nil {
			sl.log.Warnf("kipc: accept on port %d: %v", signaled, err)
			replyTarget = 0
			continue
		}
		sl.AddSession(session)
		replyTarget = 0
	}
}
