// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/noldarim/goalbridge/internal/database"
	"github.com/spf13/cobra"
)

func newTransitionsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <goal-set-id> <unique-name>",
		Short: "List the build states recorded for a goal",
		Long: `Lists the builds reconciled into a goal and the last state each one applied,
newest first. Requires database.dsn.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return transitions(cmd.Context(), *configPath, args[0]+"/"+args[1], cmd.OutOrStdout())
		},
	}
}

type transitionLister interface {
	TransitionsForGoal(ctx context.Context, goalKey string) ([]database.GoalTransition, error)
}

func transitions(ctx context.Context, configPath, goalKey string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, cleanup, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required to list transitions")
	}

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ValidateSchema(); err != nil {
		return err
	}
	return printTransitions(ctx, db, goalKey, out)
}

func printTransitions(ctx context.Context, l transitionLister, goalKey string, out io.Writer) error {
	list, err := l.TransitionsForGoal(ctx, goalKey)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(out, "No builds recorded for %s\n", goalKey)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BUILD\tSTATE\tUPDATED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.BuildID, t.State, t.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
