// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/otterforge/guestkernel/internal/kernel"
	"github.com/spf13/cobra"
)

// newReplCmd wires up chzyer/readline — declared in go.mod but, unlike
// the rest of that dependency list, never actually called anywhere in
// the teacher tree (cmd/ogle's own REPL-ish bits build their own line
// reading) — into an actual interactive line-editing session over one
// persistent Kernel, so commands like map/alloc/free compose across
// lines the way a one-shot cobra invocation can't.
func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session over one persistent kernel instance",
		RunE:  runRepl,
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kcorectl> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("repl: initializing readline: %w", err)
	}
	defer rl.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "kcorectl interactive session. Type 'help' for commands, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "help" {
			fmt.Fprintln(out, replHelp)
			continue
		}
		if err := dispatchReplLine(k, out, line); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

const replHelp = `commands:
  map <va> <value>          map a guest virtual address
  read <va>                 read a mapped address
  unmap <va>                unmap an address
  alloc <pool> <tier>       allocate one block from a pool
  free <pool> <addr> <n>    free n pages at addr in a pool
  pools                     list pool base/size/free-page-count
  exit                      leave the session`

func dispatchReplLine(k *kernel.Kernel, out io.Writer, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "map":
		if len(fields) != 3 {
			return fmt.Errorf("usage: map <va> <value>")
		}
		va, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		val, err := parseAddress(fields[2])
		if err != nil {
			return err
		}
		k.Table.Map(va, val)
		fmt.Fprintf(out, "mapped %s -> %s\n", va, val)
	case "read":
		if len(fields) != 2 {
			return fmt.Errorf("usage: read <va>")
		}
		va, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s -> %s\n", va, k.Table.Read(va))
	case "unmap":
		if len(fields) != 2 {
			return fmt.Errorf("usage: unmap <va>")
		}
		va, err := parseAddress(fields[1])
		if err != nil {
			return err
		}
		k.Table.Unmap(va)
		fmt.Fprintf(out, "unmapped %s\n", va)
	case "alloc":
		if len(fields) != 3 {
			return fmt.Errorf("usage: alloc <pool> <tier>")
		}
		pool, err := k.Pool(fields[1])
		if err != nil {
			return err
		}
		tier, err := strconv.Atoi(fields[2])
		if err != nil {
			return err
		}
		addr, ok := pool.AllocateBlock(tier, false)
		if !ok {
			return fmt.Errorf("pool %q out of memory at tier %d", fields[1], tier)
		}
		fmt.Fprintf(out, "allocated %s\n", addr)
	case "free":
		if len(fields) != 4 {
			return fmt.Errorf("usage: free <pool> <addr> <pageCount>")
		}
		pool, err := k.Pool(fields[1])
		if err != nil {
			return err
		}
		addr, err := parseAddress(fields[2])
		if err != nil {
			return err
		}
		pages, err := strconv.ParseUint(fields[3], 0, 64)
		if err != nil {
			return err
		}
		pool.Free(addr, pages)
		fmt.Fprintf(out, "freed %d pages at %s\n", pages, addr)
	case "pools":
		for _, name := range []string{"application", "applet", "nvservices", "service"} {
			pool, _ := k.Pool(name)
			fmt.Fprintf(out, "%-12s base=%s size=%#x free_pages=%d\n", name, pool.Base(), pool.Size(), pool.FreePageCount())
		}
	default:
		return fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
	return nil
}
