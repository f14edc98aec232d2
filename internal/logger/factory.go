// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetBridgeLogger returns a logger for envelope routing
func GetBridgeLogger() zerolog.Logger {
	return GetLogger("bridge")
}

// GetRuntimeLogger returns a logger for runtime lifecycle and dispatch
func GetRuntimeLogger() zerolog.Logger {
	return GetLogger("runtime")
}

// GetPublisherLogger returns a logger for outbound messages
func GetPublisherLogger() zerolog.Logger {
	return GetLogger("publisher")
}

// GetGoalsLogger returns a logger for goal reconciliation
func GetGoalsLogger() zerolog.Logger {
	return GetLogger("goals")
}

// GetTemporalLogger returns a logger for Temporal components
func GetTemporalLogger() zerolog.Logger {
	return GetLogger("temporal")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}
