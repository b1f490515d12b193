// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/embedscript/tsvm"
)

var (
	verbose     bool
	gcThreshold int
	timeoutMs   int64
)

func runScript(cmd *cobra.Command, args []string) {
	path := args[0]

	var logger tsvm.Logger
	if verbose {
		logger = tsvm.NewStdLogger(os.Stderr)
	}
	rt := tsvm.New(tsvm.Options{
		GCThreshold:   gcThreshold,
		TimeoutMillis: timeoutMs,
		Logger:        logger,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	})

	completion, err := rt.EvaluateFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tsvmrun: %s: %v\n", path, err)
		os.Exit(1)
	}

	if completion.Kind == tsvm.CompletePromise {
		fmt.Println("<pending promise>")
	}

	stats := rt.GCStats()
	if verbose {
		fmt.Fprintf(os.Stderr, "gc: alive=%d free=%d roots=%d allocs_since_gc=%d threshold=%d\n",
			stats.AliveCount, stats.FreeCount, stats.RootsCount, stats.AllocsSinceGC, stats.GCThreshold)
	}
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "tsvmrun",
		Short: "A TypeScript-flavored script engine",
		Long:  "tsvmrun lexes, compiles, and executes a script file against the embedded runtime.",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tsvmrun version 0.1.0")
		},
	}

	var runCmd = &cobra.Command{
		Use:   "run [file]",
		Short: "Evaluate a script file",
		Args:  cobra.ExactArgs(1),
		Run:   runScript,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics")
	runCmd.Flags().IntVar(&gcThreshold, "gc-threshold", 0, "allocation count that triggers automatic collection (0 disables)")
	runCmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "execution budget in milliseconds (0 disables)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
