// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("passy %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
