// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mbeema/ollyhook/pkg/hook"
	"github.com/mbeema/ollyhook/pkg/report"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultSocket = "/var/run/ollyhook/events.sock"

func newListenCmd() *cobra.Command {
	var (
		socketPath string
		format     string
		method     string
		overload   string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive events from agents reporting to a Unix socket",
		Long: `listen binds the observer socket that agents with report.socket ` +
			`enabled send to, and prints each event until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
				defer logger.Sync()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var only *methodFilter
			if method != "" {
				only = &methodFilter{method: method}
				if cmd.Flags().Changed("overload") {
					only.overload = hook.OverloadFilter(overload)
				}
			}
			return listen(ctx, socketPath, only, report.NewStream(cmd.OutOrStdout(), format), logger)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", defaultSocket, "Unix DGRAM socket to bind")
	cmd.Flags().StringVar(&format, "format", "text", "output format: json or text")
	cmd.Flags().StringVar(&method, "method", "", "only print events for this qualified method")
	cmd.Flags().StringVar(&overload, "overload", "", "with --method, only print this overload")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log listener activity to stderr")
	return cmd
}

// methodFilter restricts listen output to one method's events.
type methodFilter struct {
	method   string
	overload *string
}

// listen prints events through out until ctx is done. With only set, just
// the events of that method are printed.
func listen(ctx context.Context, socketPath string, only *methodFilter, out hook.Reporter, logger *zap.Logger) error {
	emit := func(ev *hook.Event) {
		if err := out.Report(ev); err != nil {
			logger.Debug("print event", zap.Error(err))
		}
	}

	var cb hook.Callbacks
	if only == nil {
		cb = hook.Callbacks{OnCapture: emit, OnHookFailed: emit}
	}
	l := hook.NewListener(socketPath, cb, logger)
	if only != nil {
		l.Handle(only.method, only.overload, emit)
	}
	if err := l.Start(ctx); err != nil {
		return err
	}
	defer l.Stop()

	<-ctx.Done()
	return nil
}
