// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel assembles one instance of every guestkernel component
// into a single struct, the way cmd/viewcore's gocore.Core ties together
// a *core.Process with the various analysis passes on top of it. It has
// no spec meaning of its own — it exists so cmd/kcorectl has one object
// to construct and inspect instead of wiring six packages by hand at
// every call site.
package kernel

import (
	"github.com/otterforge/guestkernel/internal/hosttime"
	"github.com/otterforge/guestkernel/internal/kerr"
	"github.com/otterforge/guestkernel/internal/kipc"
	"github.com/otterforge/guestkernel/internal/klog"
	"github.com/otterforge/guestkernel/internal/kmem"
	"github.com/otterforge/guestkernel/internal/kmem/pageheap"
	"github.com/otterforge/guestkernel/internal/kmem/pagetable"
	"github.com/otterforge/guestkernel/internal/ksched"
)

// Kernel is a demo instantiation: a DRAM region set, a guest page table, and
// the synchronization trio (critical section, time manager, synchronizer).
type Kernel struct {
	Log     *klog.Logger
	Regions *pageheap.RegionSet
	Table   *pagetable.Table[kmem.Address]

	cs   *ksched.CriticalSection
	TM   *ksched.TimeManager
	Sync *ksched.Synchronizer
}

// roundRobinScheduler is the minimal Scheduler implementation a
// command-line inspector needs: it has no cores of its own, so
// SelectThreads is a no-op mask and the enable callbacks just log.
type roundRobinScheduler struct {
	log *klog.Logger
}

func (s *roundRobinScheduler) SelectThreads() uint64 { return 0 }
func (s *roundRobinScheduler) EnableScheduling(mask uint64) {
	s.log.Debugf("kernel: enableScheduling(mask=%#x)", mask)
}
func (s *roundRobinScheduler) EnableSchedulingFromForeignThread(mask uint64) {
	s.log.Debugf("kernel: enableSchedulingFromForeignThread(mask=%#x)", mask)
}

// New builds a Kernel over a memorySize-byte DRAM image partitioned per
// arr. log may be klog.Discard.
func New(memorySize uint64, arr pageheap.Arrangement, log *klog.Logger) (*Kernel, error) {
	regions, err := pageheap.NewRegionSet(memorySize, arr, log)
	if err != nil {
		return nil, err
	}

	cs := ksched.NewCriticalSection(&roundRobinScheduler{log: log}, log)
	counter := hosttime.NewCounter()
	sleeper := hosttime.NewSleepEvent(counter)
	tm := ksched.NewTimeManager(cs, counter, sleeper, log)
	go tm.Run()

	return &Kernel{
		Log:     log,
		Regions: regions,
		Table:   pagetable.New[kmem.Address](),
		cs:      cs,
		TM:      tm,
		Sync:    ksched.NewSynchronizer(cs, tm),
	}, nil
}

// Close stops the time manager's worker goroutine.
func (k *Kernel) Close() { k.TM.Stop() }

// Pool resolves a pool name to one of the region set's four heaps.
func (k *Kernel) Pool(name string) (*pageheap.PageHeap, error) {
	switch name {
	case "application":
		return k.Regions.Application, nil
	case "applet":
		return k.Regions.Applet, nil
	case "nvservices":
		return k.Regions.NvServices, nil
	case "service":
		return k.Regions.Service, nil
	default:
		return nil, &kerr.KernelError{Code: kerr.InvalidArgument, Op: "pool " + name}
	}
}

// NewServerLoop builds a ServerLoop sharing this kernel's synchronizer, for
// commands that want to demonstrate the IPC dispatch primitive.
func (k *Kernel) NewServerLoop(dispatcher kipc.Dispatcher, acceptor kipc.Acceptor) (*kipc.ServerLoop, *kipc.SyncReplyReceiver) {
	receiver := kipc.NewSyncReplyReceiver(k.Sync, func(kipc.Handle) error { return nil })
	return kipc.NewServerLoop(receiver, dispatcher, acceptor, k.Log), receiver
}

// NewThread returns a fresh schedulable guest thread identity for demo
// commands to use with CriticalSection/Synchronizer calls.
func (k *Kernel) NewThread() *ksched.Thread { return ksched.NewThread() }

// Synchronizer exposes the shared wait/signal primitive for commands that
// need a *ksched.Synchronizer directly.
func (k *Kernel) Synchronizer() *ksched.Synchronizer { return k.Sync }

// NewSyncObject builds a named SynchronizationObject for demo waits.
func (k *Kernel) NewSyncObject(name string) *ksched.SynchronizationObject {
	return ksched.NewSynchronizationObject(name)
}
