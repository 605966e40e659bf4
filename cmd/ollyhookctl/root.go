// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"os"
	"time"

	"github.com/mbeema/ollyhook/pkg/control"
	"github.com/spf13/cobra"
)

const defaultAddr = "127.0.0.1:8787"

// newRootCmd builds the ollyhookctl command tree.
func newRootCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:   "ollyhookctl",
		Short: "Control a running ollyhook agent.",
		Long: `ollyhookctl installs method hooks in a running ollyhook agent, ` +
			`switches event capture on and off, and listens for the events ` +
			`hooked methods report.`,
		SilenceUsage: true,
	}

	envAddr := os.Getenv("OLLYHOOK_CONTROL_ADDR")
	if envAddr == "" {
		envAddr = defaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envAddr, "agent control address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	clientFn := func() *control.Client { return control.NewClient(addr) }
	timeoutFn := func() time.Duration { return timeout }

	rootCmd.AddCommand(
		newHookCmd(clientFn, timeoutFn),
		newHooksCmd(clientFn, timeoutFn),
		newStatusCmd(clientFn, timeoutFn),
		newTracingCmd(clientFn, timeoutFn),
		newListenCmd(),
	)
	return rootCmd
}
