// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mbeema/ollyhook/pkg/control"
	"github.com/mbeema/ollyhook/pkg/hook"
	"github.com/spf13/cobra"
)

type clientFunc func() *control.Client

type timeoutFunc func() time.Duration

var errHookNotFound = errors.New("hook not found")

func newHookCmd(client clientFunc, timeout timeoutFunc) *cobra.Command {
	var (
		overload   string
		descriptor string
		printArgs  bool
	)

	cmd := &cobra.Command{
		Use:   "hook METHOD",
		Short: "Hook every overload of METHOD, or one with --overload",
		Long: `hook installs a hook on METHOD. METHOD is either a dotted name or a
smali reference such as "Lcom/example/Task;->run(Ljava/lang/String;)Z", in
which case the descriptor selects the overload.`,
		Example: `  ollyhookctl hook com.google.progress.WifiCheckTask.checkWifiCanOrNotConnectServer --print-args
  ollyhookctl hook demo.Inventory.Reserve --overload "string,int"
  ollyhookctl hook com.google.progress.WifiCheckTask.checkWifiCanOrNotConnectServer --descriptor "(Ljava/lang/String;)Z"
  ollyhookctl hook "Lcom/google/progress/WifiCheckTask;->checkWifiCanOrNotConnectServer(Ljava/lang/String;)Z"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout())
			defer cancel()

			req, err := hookRequest(cmd, args[0], overload, descriptor, printArgs)
			if err != nil {
				return err
			}

			resp, err := client().HookMethod(ctx, req.Method, req.Overload, req.CaptureArgs)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s: %w", req.Method, errHookNotFound)
			}
			if resp.Installed == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no overload of %s matched %q\n", req.Method, req.FilterString())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hooked %d overload(s) of %s\n", resp.Installed, req.Method)
			return nil
		},
	}

	cmd.Flags().StringVar(&overload, "overload", "", "comma-joined parameter types, e.g. \"int,java.lang.String\"")
	cmd.Flags().StringVar(&descriptor, "descriptor", "", "JVM method descriptor selecting the overload, e.g. \"(Ljava/lang/String;)Z\"")
	cmd.Flags().BoolVar(&printArgs, "print-args", false, "record argument values in events")
	cmd.MarkFlagsMutuallyExclusive("overload", "descriptor")
	return cmd
}

// hookRequest builds the request for the hook command from its argument
// and flags.
func hookRequest(cmd *cobra.Command, method, overload, descriptor string, printArgs bool) (hook.Request, error) {
	if strings.Contains(method, "->") {
		if cmd.Flags().Changed("overload") || cmd.Flags().Changed("descriptor") {
			return hook.Request{}, errors.New("a smali reference already selects the overload")
		}
		ref, err := hook.ParseMethodRef(method)
		if err != nil {
			return hook.Request{}, err
		}
		return ref.Request(printArgs)
	}

	req := hook.Request{Method: method, CaptureArgs: printArgs}
	switch {
	case cmd.Flags().Changed("descriptor"):
		filter, err := hook.DescriptorFilter(descriptor)
		if err != nil {
			return hook.Request{}, err
		}
		req.Overload = &filter
	case cmd.Flags().Changed("overload"):
		req.Overload = hook.OverloadFilter(overload)
	}
	return req, nil
}

func newHooksCmd(client clientFunc, timeout timeoutFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "hooks [METHOD]",
		Short: "List installed hooks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout())
			defer cancel()

			method := ""
			if len(args) == 1 {
				method = args[0]
			}
			hooks, err := client().Hooks(ctx, method)
			if err != nil {
				return err
			}
			if len(hooks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no hooks installed")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tSIGNATURE\tARGS\tCALLS\tINSTALLED")
			for _, h := range hooks {
				fmt.Fprintf(tw, "%s\t(%s)\t%v\t%d\t%s\n",
					h.Method, h.Signature, h.CaptureArgs, h.Calls, h.Installed.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newStatusCmd(client clientFunc, timeout timeoutFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent health and tracing state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout())
			defer cancel()

			c := client()
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			st, err := c.Tracing(ctx)
			if err != nil {
				return err
			}
			hooks, err := c.Hooks(ctx, "")
			if err != nil {
				return err
			}

			state := "ACTIVE"
			if !st.Enabled {
				state = "DORMANT"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:   %s\n", h.Status)
			fmt.Fprintf(out, "Version:  %s\n", h.Version)
			fmt.Fprintf(out, "Session:  %s\n", h.SessionID)
			fmt.Fprintf(out, "Uptime:   %s\n", h.Uptime)
			fmt.Fprintf(out, "Tracing:  %s\n", state)
			fmt.Fprintf(out, "Hooks:    %d\n", len(hooks))
			return nil
		},
	}
}

func newTracingCmd(client clientFunc, timeout timeoutFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracing",
		Short: "Switch event capture on or off without removing hooks",
	}

	set := func(enabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout())
			defer cancel()

			if _, err := client().SetTracing(ctx, enabled); err != nil {
				return err
			}
			if enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "tracing enabled")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "tracing disabled (hooks dormant)")
			}
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "enable", Short: "Start emitting events", Args: cobra.NoArgs, RunE: set(true)},
		&cobra.Command{Use: "disable", Short: "Make hooks pass-through", Args: cobra.NoArgs, RunE: set(false)},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether hooks emit events",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout())
				defer cancel()

				st, err := client().Tracing(ctx)
				if err != nil {
					return err
				}
				if st.Enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "ACTIVE")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "DORMANT")
				}
				return nil
			},
		},
	)
	return cmd
}
