// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/passy/passy/internal/bridge"
	"github.com/passy/passy/internal/config"
)

// invokeArgs holds the parsed invoke arguments.
type invokeArgs struct {
	plugin  string
	command string
	data    json.RawMessage
	states  []string
}

// NewInvokeCmd creates the invoke subcommand.
func NewInvokeCmd() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "invoke <plugin> <command> [json]",
		Short: "Invoke one plugin command and print its result",
		Long: `Invoke a plugin command and print the JSON value it returns.

With the memory transport an in-process host serving the built-in plugins
answers the call; with the postgres transport a running "passy host" must.`,
		Example: `  passy invoke echo echo '{"key":"x"}'
  passy invoke echo states --state AppdataPath`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := parseInvokeArgs(args, states)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, "passy-invoke")
			if err != nil {
				return oops.Wrapf(err, "invalid configuration")
			}
			return runInvokeWithDeps(cmd.Context(), cfg, cmd, inv, nil)
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "host state to pass to the command (repeatable)")
	return cmd
}

func parseInvokeArgs(args, states []string) (invokeArgs, error) {
	inv := invokeArgs{plugin: args[0], command: args[1], states: states}
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return invokeArgs{}, oops.With("data", args[2]).Errorf("data must be valid JSON")
		}
		inv.data = json.RawMessage(args[2])
	}
	return inv, nil
}

// runInvokeWithDeps performs one call with injectable dependencies.
// If deps is nil, default implementations are used.
func runInvokeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, inv invokeArgs, deps *Deps) error {
	deps = deps.withDefaults()

	t, release, err := deps.TransportFactory(ctx, cfg.Transport)
	if err != nil {
		return oops.Wrapf(err, "open transport")
	}
	defer release()

	if cfg.Transport.Kind == config.TransportMemory {
		responder, err := startResponder(ctx, cfg, deps, t)
		if err != nil {
			return err
		}
		defer responder.Stop()
	}

	b, err := bridge.New(t,
		bridge.WithRequestTopic(cfg.Bridge.RequestTopic),
		bridge.WithResponseTopic(cfg.Bridge.ResponseTopic),
		bridge.WithDefaultTimeout(cfg.Bridge.Timeout),
		bridge.WithLogger(slog.Default()),
	)
	if err != nil {
		return oops.Wrapf(err, "create bridge")
	}
	defer func() { _ = b.Close() }()

	opts := make([]bridge.InvokeOption, 0, 1)
	if len(inv.states) > 0 {
		states := make([]bridge.AppState, len(inv.states))
		for i, s := range inv.states {
			states[i] = bridge.AppState(s)
		}
		opts = append(opts, bridge.WithStates(states...))
	}

	var data any
	if inv.data != nil {
		data = inv.data
	}
	value, err := b.Call(ctx, inv.plugin, inv.command, data, opts...)
	if err != nil {
		return err //nolint:wrapcheck // the host's message is the error
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(value))
	return err //nolint:wrapcheck // stdout write failure
}
