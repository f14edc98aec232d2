// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package goals reconciles build system status notifications into goal
// state transitions.
package goals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/progress"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Operation names reconciliation in provenance and routing metadata.
const Operation = "CloudBuildEvent"

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetGoalsLogger()
		log = &l
	})
	return log
}

// invocationID reuses the id of the envelope being handled, if any.
func invocationID(ctx context.Context) string {
	if id := logger.InvocationID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// LogFactory opens the progress log of a goal.
type LogFactory func(goal *Goal, gc Context) progress.Log

// NewGoalLogs returns a LogFactory writing to the application log and, when
// remote is not nil, to a remote dashboard log.
func NewGoalLogs(remote *progress.RemoteLogs) LogFactory {
	return func(goal *Goal, gc Context) progress.Log {
		logs := []progress.Log{progress.NewLoggingLog(goal.Name, zerolog.DebugLevel)}
		if remote != nil {
			logs = append(logs, remote.New(goal.Name, progress.Key{
				WorkspaceID:  gc.WorkspaceID,
				Owner:        goal.Repo.Owner,
				Repo:         goal.Repo.Name,
				Sha:          goal.Sha,
				Environment:  goal.Environment,
				UniqueName:   goal.UniqueName,
				GoalSetID:    goal.GoalSetID,
				InvocationID: gc.InvocationID,
			}))
		}
		return progress.NewWriteToAll(goal.Name, logs...)
	}
}

// Reconciler applies build status notifications to goals.
type Reconciler struct {
	finder  Finder
	updater Updater
	fetcher LogFetcher
	logs    LogFactory
	locker  Locker
	history History
	now     func() time.Time
	name    string
	version string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLocker replaces the in-process per-goal lock.
func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithHistory replaces the in-process build history.
func WithHistory(h History) Option {
	return func(r *Reconciler) { r.history = h }
}

// WithClock sets the clock used for footers.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIdentity sets the name and version recorded in goal provenance.
func WithIdentity(name, version string) Option {
	return func(r *Reconciler) {
		r.name = name
		r.version = version
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(finder Finder, updater Updater, fetcher LogFetcher, logs LogFactory, opts ...Option) *Reconciler {
	r := &Reconciler{
		finder:  finder,
		updater: updater,
		fetcher: fetcher,
		logs:    logs,
		locker:  NewKeyedMutex(),
		history: NewMemoryHistory(DefaultHistorySize, DefaultHistoryTTL),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = NoopFetcher{}
	}
	if r.logs == nil {
		r.logs = NewGoalLogs(nil)
	}
	return r
}

// Reconcile moves the goal addressed by n to the state matching its build
// status. A goal that cannot be found is not an error.
func (r *Reconciler) Reconcile(ctx context.Context, n *protocol.StatusNotification) (err error) {
	ctx, span := otel.Tracer("goalbridge/goals").Start(ctx, "goals.Reconcile")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sub := n.Substitutions
	span.SetAttributes(
		attribute.String("build.id", n.ID),
		attribute.String("build.status", string(n.Status)),
		attribute.String("goal.set_id", sub.GoalSetID),
		attribute.String("goal.unique_name", sub.GoalName),
	)

	goalKey := sub.GoalSetID + "/" + sub.GoalName
	unlock, err := r.locker.Lock(ctx, goalKey)
	if err != nil {
		return fmt.Errorf("failed to lock goal %s: %w", goalKey, err)
	}
	defer unlock()

	session := Session{WorkspaceID: sub.WorkspaceID, APIKey: sub.APIKey}
	goal, err := r.finder.FindGoal(ctx, session, sub.GoalSetID, sub.GoalName)
	if err != nil {
		return fmt.Errorf("failed to look up goal %s: %w", goalKey, err)
	}
	if goal == nil {
		logger.Ctx(ctx, getLog()).Debug().Str("goal", goalKey).Str("build_id", n.ID).Msg("No goal found for build")
		return nil
	}

	correlationID, err := goal.RequestCorrelationID()
	if err != nil {
		logger.Ctx(ctx, getLog()).Warn().Err(err).Str("goal", goalKey).Msg("Using build id as correlation id")
		correlationID = n.ID
	}

	state := StateFor(n.Status)
	if last, ok, err := r.history.LastState(ctx, n.ID); err != nil {
		return fmt.Errorf("failed to read build history: %w", err)
	} else if ok && last.Terminal() && !state.Terminal() {
		logger.Ctx(ctx, getLog()).Info().
			Str("build_id", n.ID).
			Msgf("Ignoring '%s' status for build already in state '%s'", n.Status, last)
		return nil
	}

	gc := Context{
		InvocationID:   invocationID(ctx),
		CorrelationID:  correlationID,
		WorkspaceID:    sub.WorkspaceID,
		Operation:      Operation,
		Name:           r.name,
		Version:        r.version,
		NotificationID: n.ID,
	}

	if state.Terminal() {
		r.finishLog(ctx, goal, gc, n.ID)
	}

	logger.Ctx(ctx, getLog()).Info().Msgf("Updating goal '%s' with state '%s'", goal.UniqueName, state)

	if err := r.updater.UpdateGoal(ctx, gc, goal, Update{State: state, Description: goal.Descriptions.For(state)}); err != nil {
		return err
	}

	if err := r.history.RecordState(ctx, n.ID, goalKey, state); err != nil {
		logger.Ctx(ctx, getLog()).Warn().Err(err).Str("build_id", n.ID).Msg("Failed to record build state")
	}
	return nil
}

// finishLog copies the build's step output into the goal log and closes it.
// Fetch failures leave the log with only its footer.
func (r *Reconciler) finishLog(ctx context.Context, goal *Goal, gc Context, buildID string) {
	l := r.logs(goal, gc)

	raw, err := r.fetcher.FetchLog(ctx, buildID)
	if err != nil {
		logger.Ctx(ctx, getLog()).Warn().Msgf("Error retrieving build logs: %v", err)
	} else {
		for _, line := range StepLines(raw) {
			l.Write(line)
		}
		if err := l.Flush(ctx); err != nil {
			logger.Ctx(ctx, getLog()).Warn().Err(err).Msg("Failed to flush goal log")
		}
	}

	progress.WriteFooter(l, r.now())

	if err := l.Close(ctx); err != nil {
		logger.Ctx(ctx, getLog()).Warn().Err(err).Msg("Failed to close goal log")
	}
}
