// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// InvocationField tags log events with the invocation that produced them.
const InvocationField = "invocation_id"

type invocationKey struct{}

// WithInvocation binds an invocation id to ctx.
func WithInvocation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the invocation bound to ctx, or "".
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// Ctx returns base tagged with the invocation bound to ctx. Only tagged
// events reach an invocation's execution log.
func Ctx(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	id := InvocationID(ctx)
	if id == "" {
		return base
	}
	l := base.With().Str(InvocationField, id).Logger()
	return &l
}
