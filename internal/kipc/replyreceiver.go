// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kipc

import (
	"sync"

	"github.com/otterforge/guestkernel/internal/kerr"
	"github.com/otterforge/guestkernel/internal/ksched"
)

// SyncReplyReceiver implements ReplyReceiver on top of a
// ksched.Synchronizer: each registered Handle maps to a
// SynchronizationObject, and ReplyAndReceive is a thin wrapper around
// Synchronizer.WaitFor using the ServerLoop's own (never schedulable)
// Thread identity (spec §4.H: "not schedulable by the guest scheduler").
type SyncReplyReceiver struct {
	sync   *ksched.Synchronizer
	self   *ksched.Thread
	reply  func(target Handle) error
	mu     sync.Mutex
	byHand map[Handle]*ksched.SynchronizationObject
}

// NewSyncReplyReceiver builds a receiver bound to synchronizer. replyFn
// performs whatever side effect actually constitutes "sending a reply" to
// target (marshalling a response into the session's message buffer); it
// is only called when target != 0.
func NewSyncReplyReceiver(synchronizer *ksched.Synchronizer, replyFn func(target Handle) error) *SyncReplyReceiver {
	r := &SyncReplyReceiver{
		sync:   synchronizer,
		self:   ksched.NewThread(),
		reply:  replyFn,
		byHand: make(map[Handle]*ksched.SynchronizationObject),
	}
	r.self.SetSchedulable(false)
	return r
}

// Register associates h with the SynchronizationObject that becomes
// signaled when h has a pending request.
func (r *SyncReplyReceiver) Register(h Handle, obj *ksched.SynchronizationObject) {
	r.mu.Lock()
	r.byHand[h] = obj
	r.mu.Unlock()
}

// Unregister drops h's association.
func (r *SyncReplyReceiver) Unregister(h Handle) {
	r.mu.Lock()
	delete(r.byHand, h)
	r.mu.Unlock()
}

func (r *SyncReplyReceiver) ReplyAndReceive(handles []Handle, replyTarget Handle, timeoutNs int64) (int, bool, error) {
	if replyTarget != 0 {
		if err := r.reply(replyTarget); err != nil {
			return 0, false, err
		}
	}

	// Every handle ServerLoop snapshots must already be Registered; an
	// unregistered handle here is a wiring bug in the caller, not a
	// runtime condition this receiver recovers from.
	r.mu.Lock()
	objs := make([]*ksched.SynchronizationObject, len(handles))
	for i, h := range handles {
		objs[i] = r.byHand[h]
	}
	r.mu.Unlock()

	result, index := r.sync.WaitFor(r.self, objs, timeoutNs)
	switch result {
	case kerr.Success:
		return index, true, nil
	case kerr.TimedOut:
		return 0, false, nil
	default:
		return 0, false, result.Err()
	}
}
