// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/passy/passy/internal/config"
	"github.com/passy/passy/internal/logging"
	"github.com/passy/passy/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the passy CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passy",
		Short: "Passy - plugin commands over a broadcast bus",
		Long: `Passy runs plugin commands owned by a host process on behalf of a
front-end, correlating requests and responses over a pub/sub transport.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/passy/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewHostCmd())
	cmd.AddCommand(NewInvokeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig resolves, loads, and validates configuration for cmd, then
// installs the default logger. An explicit --config must exist; the
// default file is optional.
func loadConfig(cmd *cobra.Command, service string) (*config.Config, error) {
	path, required := configFile, true
	if path == "" {
		required = false
		defaultPath, err := xdg.ConfigFile()
		if err == nil {
			path = defaultPath
		}
	}

	cfg, err := config.Load(path, required, cmd.Flags())
	if err != nil {
		return nil, err //nolint:wrapcheck // config errors carry their own context
	}
	if err := cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // validation errors carry their own context
	}

	logging.SetDefault(service, version, cfg.Log.Format, cfg.LogLevel())
	return cfg, nil
}
