// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"

	"github.com/otterforge/guestkernel/internal/kmem"
	"github.com/spf13/cobra"
)

func newMappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Exercise the guest page table: map, read, unmap",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "map <va> <value>",
		Short: "Map a guest virtual address to a physical address value",
		Args:  cobra.ExactArgs(2),
		RunE:  runMappingsMap,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read <va>",
		Short: "Read the value mapped at a guest virtual address",
		Args:  cobra.ExactArgs(1),
		RunE:  runMappingsRead,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unmap <va>",
		Short: "Unmap a guest virtual address",
		Args:  cobra.ExactArgs(1),
		RunE:  runMappingsUnmap,
	})
	return cmd
}

func parseAddress(s string) (kmem.Address, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return kmem.Address(v), nil
}

func runMappingsMap(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	va, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	val, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	k.Table.Map(va, val)
	l4, l3, l2, l1 := k.Table.Size()
	fmt.Fprintf(cmd.OutOrStdout(), "mapped %s -> %s (tree: L0=%d L1=%d L2=%d L3=%d)\n", va, val, l4, l3, l2, l1)
	return nil
}

func runMappingsRead(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	va, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", va, k.Table.Read(va))
	return nil
}

func runMappingsUnmap(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	va, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	k.Table.Unmap(va)
	fmt.Fprintf(cmd.OutOrStdout(), "unmapped %s\n", va)
	return nil
}
