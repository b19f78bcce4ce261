// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/otterforge/guestkernel/internal/ksched"
	"github.com/spf13/cobra"
)

var (
	waiterCount   int
	signalDelayMs int
)

func newWaitersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waiters",
		Short: "Spawn N threads waiting on one synchronization object, then signal it",
		RunE:  runWaiters,
	}
	cmd.Flags().IntVar(&waiterCount, "count", 3, "number of waiting threads")
	cmd.Flags().IntVar(&signalDelayMs, "delay-ms", 10, "delay before signalObject is called")
	return cmd
}

func runWaiters(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	obj := k.NewSyncObject("cli-demo")

	var wg sync.WaitGroup
	var mu sync.Mutex
	out := cmd.OutOrStdout()
	for i := 0; i < waiterCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := k.NewThread()
			result, index := k.Synchronizer().WaitFor(caller, []*ksched.SynchronizationObject{obj}, time.Second.Nanoseconds())
			mu.Lock()
			fmt.Fprintf(out, "waiter %d woke: result=%s index=%d\n", i, result, index)
			mu.Unlock()
		}(i)
	}

	time.Sleep(time.Duration(signalDelayMs) * time.Millisecond)
	signaler := k.NewThread()
	k.Synchronizer().SignalObject(signaler, obj)

	wg.Wait()
	return nil
}
