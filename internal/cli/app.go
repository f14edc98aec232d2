// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/noldarim/goalbridge/internal/bridge"
	"github.com/noldarim/goalbridge/internal/config"
	"github.com/noldarim/goalbridge/internal/database"
	"github.com/noldarim/goalbridge/internal/dispatch"
	"github.com/noldarim/goalbridge/internal/goals"
	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/progress"
	"github.com/noldarim/goalbridge/internal/publisher"
	"github.com/noldarim/goalbridge/internal/runtime"
	"github.com/noldarim/goalbridge/internal/server"
	"github.com/noldarim/goalbridge/internal/tracing"
)

// App holds the composed bridge and everything that must be closed with it.
type App struct {
	Bridge      *bridge.Bridge
	Broadcaster *server.Broadcaster
	Runtimes    *runtime.Manager
	Invocations *runtime.InvocationCounter

	finder  *goals.GraphFinder
	closers []io.Closer
}

// NewApp wires the bridge from cfg.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{}

	topic, err := app.newTopic(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fetcher, err := app.newFetcher(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	var reconcilerOpts []goals.Option
	reconcilerOpts = append(reconcilerOpts, goals.WithIdentity(cfg.Runtime.Name, cfg.Runtime.Version))
	if cfg.Database.DSN != "" {
		db, err := database.NewGormDB(&cfg.Database)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, db)
		if err := db.AutoMigrate(); err != nil {
			app.Close()
			return nil, err
		}
		reconcilerOpts = append(reconcilerOpts, goals.WithLocker(db), goals.WithHistory(db))
	}

	var remote *progress.RemoteLogs
	var dispatchOpts []dispatch.Option
	if cfg.Dashboard.RolarURL != "" {
		remote = &progress.RemoteLogs{RolarURL: cfg.Dashboard.RolarURL, DashboardURL: cfg.Dashboard.URL}
		dispatchOpts = append(dispatchOpts,
			dispatch.WithExecutionLogs(dispatch.NewExecutionLogs(remote, cfg.Runtime.Name, cfg.Runtime.Version)))
	}

	app.finder = goals.NewGraphFinder(nil, cfg.Graph.Endpoint, cfg.Graph.Timeout)
	reconciler := goals.NewReconciler(
		app.finder,
		goals.NewPublishingUpdater(topic),
		fetcher,
		goals.NewGoalLogs(remote),
		reconcilerOpts...,
	)

	app.Invocations = &runtime.InvocationCounter{}
	app.Runtimes = runtime.NewManager(runtime.NewTemporalFactory(), runtime.NewSettingsLoader(cfg),
		runtime.WithListeners(app.Invocations))
	app.closers = append(app.closers, app.Runtimes)

	app.Bridge = bridge.New(app.Runtimes, dispatch.NewDispatcher(topic, dispatchOpts...), reconciler)
	return app, nil
}

// newTopic selects the outbound transport.
func (a *App) newTopic(ctx context.Context, cfg *config.AppConfig) (publisher.Topic, error) {
	switch cfg.PubSub.Transport {
	case "pubsub":
		topic, err := publisher.NewPubSubTopic(ctx, cfg.PubSub.Endpoint, cfg.PubSub.Project, cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create pub/sub topic: %w", err)
		}
		a.closers = append(a.closers, topic)
		return topic, nil
	case "websocket":
		a.Broadcaster = server.NewBroadcaster()
		return a.Broadcaster, nil
	case "log":
		return publisher.LogTopic{}, nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.PubSub.Transport)
	}
}

// newFetcher selects where finished build logs are read from.
func (a *App) newFetcher(cfg *config.AppConfig) (goals.LogFetcher, error) {
	bl := cfg.BuildLogs
	switch bl.Source {
	case "gcloud":
		return &goals.GCloudFetcher{Path: bl.GCloudPath, Timeout: bl.Timeout}, nil
	case "docker":
		runner, err := goals.NewDockerRunner(bl.DockerHost)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, runner)
		return &goals.ContainerFetcher{
			Runner:         runner,
			Image:          bl.Image,
			CredentialsDir: bl.CredentialsDir,
			Timeout:        bl.Timeout,
		}, nil
	case "none":
		return goals.NoopFetcher{}, nil
	default:
		return nil, fmt.Errorf("unknown build log source: %s", bl.Source)
	}
}

// Close releases the runtime, the database, the docker client and the
// pub/sub client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// bootstrap loads configuration and initializes logging and tracing.
func bootstrap(ctx context.Context, configPath string) (*config.AppConfig, func(), error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return nil, nil, fmt.Errorf("error initializing logger: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.CloseGlobal()
		return nil, nil, err
	}

	cleanup := func() {
		if err := shutdownTracing(context.Background()); err != nil {
			mainLog := logger.GetLogger("main")
			mainLog.Warn().Err(err).Msg("Error shutting down tracing")
		}
		logger.CloseGlobal()
	}
	return cfg, cleanup, nil
}
