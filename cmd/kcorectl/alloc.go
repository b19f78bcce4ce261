// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var allocRandom bool

func newAllocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alloc <pool> <tier>",
		Short: "Allocate one block of the given tier index from a pool (application, applet, nvservices, service)",
		Args:  cobra.ExactArgs(2),
		RunE:  runAlloc,
	}
	cmd.Flags().BoolVar(&allocRandom, "random", false, "use randomized free-block selection instead of lowest-address")
	return cmd
}

func runAlloc(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	pool, err := k.Pool(args[0])
	if err != nil {
		return err
	}
	tier, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid tier %q: %w", args[1], err)
	}

	addr, ok := pool.AllocateBlock(tier, allocRandom)
	if !ok {
		return fmt.Errorf("pool %q: out of memory at tier %d", args[0], tier)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "allocated %s\n", addr)
	return nil
}
