// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/runtime"
	"github.com/noldarim/goalbridge/internal/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge for pub/sub push deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg, cleanup, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Str("transport", cfg.PubSub.Transport).Msg("Starting goalbridge server")

	app, err := NewApp(ctx, cfg)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error composing bridge")
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			mainLog.Error().Err(err).Msg("Error closing bridge")
		}
	}()

	srv := server.New(&cfg.Server, app.Bridge, app.Broadcaster)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case runErr = <-serverErrChan:
		if runErr != nil {
			mainLog.Error().Err(runErr).Msg("Server error")
		}
	case <-ctx.Done():
	}

	// Fresh context: in-flight deliveries get the full timeout to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}
	cancel()

	reportInvocations(&mainLog, app.Invocations)
	mainLog.Info().Msg("goalbridge server shut down")
	return runErr
}

// reportInvocations logs how many invocations this process ran.
func reportInvocations(l *zerolog.Logger, c *runtime.InvocationCounter) {
	started, succeeded, failed := c.Totals()
	l.Info().
		Int64("started", started).
		Int64("succeeded", succeeded).
		Int64("failed", failed).
		Msg("Invocation totals")
}
