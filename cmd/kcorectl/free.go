// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newFreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free <pool> <addr> <pageCount>",
		Short: "Return pageCount pages starting at addr to a pool",
		Args:  cobra.ExactArgs(3),
		RunE:  runFree,
	}
}

func runFree(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	pool, err := k.Pool(args[0])
	if err != nil {
		return err
	}
	addr, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	pages, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid page count %q: %w", args[2], err)
	}

	pool.Free(addr, pages)
	fmt.Fprintf(cmd.OutOrStdout(), "freed %d pages at %s, pool free page count now %d\n", pages, addr, pool.FreePageCount())
	return nil
}
