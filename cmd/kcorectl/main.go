// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The kcorectl tool is a command-line inspector for the guestkernel
// memory and scheduling core: it builds one in-process Kernel (a DRAM
// region set, a guest page table, and the critical-section/time-manager/
// synchronizer trio) and lets a caller poke at it one command at a time,
// or interactively via "kcorectl repl".
//
// Grounded on cmd/viewcore/main.go (a single-binary inspector over one
// constructed core.Process/gocore.Process), rebuilt on cobra instead of
// viewcore's hand-rolled flag.String/switch dispatch — cobra is already a
// direct dependency of this module (golang-debug's go.mod) but viewcore's
// own main never uses it as a full command tree, only objref.go's single
// leftover cobra.Command-shaped function signature. This gives cobra an
// actual root command and subcommand tree to serve.
package main

import (
	"fmt"
	"os"

	"github.com/otterforge/guestkernel/internal/klog"
	"github.com/spf13/cobra"
)

var (
	memorySizeMiB   uint64
	applicationMiB  uint64
	appletMiB       uint64
	nvservicesMiB   uint64
	verbose         bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kcorectl",
		Short: "Inspect a guestkernel memory/scheduling core",
		Long: `kcorectl builds one in-process guest kernel core (DRAM region set,
page table, critical section, time manager, synchronizer) and exposes its
operations as subcommands, for exploring the component designs described
in this repository's design documents.`,
	}
	root.PersistentFlags().Uint64Var(&memorySizeMiB, "memory-mib", 512, "total DRAM image size, in MiB")
	root.PersistentFlags().Uint64Var(&applicationMiB, "application-mib", 256, "application pool size, in MiB")
	root.PersistentFlags().Uint64Var(&appletMiB, "applet-mib", 64, "applet pool size, in MiB")
	root.PersistentFlags().Uint64Var(&nvservicesMiB, "nvservices-mib", 32, "nvservices pool minimum, in MiB")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newMappingsCmd())
	root.AddCommand(newAllocCmd())
	root.AddCommand(newFreeCmd())
	root.AddCommand(newWaitersCmd())
	root.AddCommand(newReplCmd())
	return root
}

func newLogger() *klog.Logger {
	if verbose {
		return klog.Default("kcorectl: ")
	}
	return klog.Discard
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
