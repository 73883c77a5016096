// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

import (
	"context"
	"log/slog"
)

// LoggerKey is the context key type for a request- or cycle-scoped logger.
// The HTTP middleware stores one with request_id, the decision loop one with
// cycle_id.
type LoggerKey struct{}

// Logger returns the logger stored in ctx, or fallback if there is none.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
