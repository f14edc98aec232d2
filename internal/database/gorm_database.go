// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package database stores goal transitions in Postgres and serializes goal
// reconciliation across processes with advisory locks.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/goalbridge/internal/config"
	"github.com/noldarim/goalbridge/internal/goals"
	applog "github.com/noldarim/goalbridge/internal/logger"
	"github.com/rs/zerolog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := applog.GetDatabaseLogger()
		log = &l
	})
	return log
}

// GoalTransition is the last state applied for a build.
type GoalTransition struct {
	BuildID   string `gorm:"primaryKey;size:128"`
	GoalKey   string `gorm:"index;size:512;not null"`
	State     string `gorm:"size:32;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

var (
	_ goals.Locker  = (*GormDB)(nil)
	_ goals.History = (*GormDB)(nil)
)

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(&GoalTransition{})
}

// ValidateSchema checks that migrations have created the transition ledger.
func (db *GormDB) ValidateSchema() error {
	m := db.db.Migrator()
	if !m.HasTable(&GoalTransition{}) {
		return fmt.Errorf("missing tables: [goal_transitions]\n\nRun the migrate command to create the required tables")
	}

	var missingColumns []string
	for _, col := range []string{"build_id", "goal_key", "state", "created_at", "updated_at"} {
		if !m.HasColumn(&GoalTransition{}, col) {
			missingColumns = append(missingColumns, "goal_transitions."+col)
		}
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("missing columns: %v", missingColumns)
	}
	return nil
}

// Close closes the underlying connection pool
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Lock takes a transaction-scoped advisory lock on key. The lock is released
// when the returned func commits the transaction, or when the connection dies.
func (db *GormDB) Lock(ctx context.Context, key string) (func(), error) {
	tx := db.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin lock transaction: %w", tx.Error)
	}

	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to acquire advisory lock for %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := tx.Commit().Error; err != nil {
				getLog().Warn().Err(err).Str("key", key).Msg("Failed to release advisory lock")
			}
		})
	}, nil
}

// LastState returns the last recorded state of a build.
func (db *GormDB) LastState(ctx context.Context, buildID string) (goals.State, bool, error) {
	var t GoalTransition
	err := db.db.WithContext(ctx).First(&t, "build_id = ?", buildID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read transition for build %s: %w", buildID, err)
	}
	return goals.State(t.State), true, nil
}

// RecordState upserts the state of a build.
func (db *GormDB) RecordState(ctx context.Context, buildID, goalKey string, state goals.State) error {
	t := GoalTransition{BuildID: buildID, GoalKey: goalKey, State: string(state)}
	err := db.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "build_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"goal_key", "state", "updated_at"}),
		}).
		Create(&t).Error
	if err != nil {
		return fmt.Errorf("failed to record transition for build %s: %w", buildID, err)
	}

	getLog().Debug().Str("build_id", buildID).Str("state", string(state)).Msg("Recorded goal transition")
	return nil
}

// TransitionsForGoal lists the builds recorded for a goal, newest first.
func (db *GormDB) TransitionsForGoal(ctx context.Context, goalKey string) ([]GoalTransition, error) {
	var out []GoalTransition
	if err := db.db.WithContext(ctx).
		Where("goal_key = ?", goalKey).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions for %s: %w", goalKey, err)
	}
	return out, nil
}
