// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the goalbridge command line: the HTTP bridge server, the
// one-shot envelope handler and the goal transition ledger.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	appName    = "goalbridge"
	appVersion = "0.1.0-alpha"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   appName,
		Short: "Message bridge between the automation runtime and build goals",
		Long: `goalbridge receives pub/sub push messages and routes them:

  commands and events   run on the automation runtime, responses are published
  build status          updates the matching goal and streams its build log`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newHandleCommand(&configPath),
		newTransitionsCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, appVersion)
		},
	}
}

// Execute runs the CLI application
func Execute() error {
	return NewRootCommand().Execute()
}
