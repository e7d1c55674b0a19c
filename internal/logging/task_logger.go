package logging

import (
	"context"

	"github.com/rs/zerolog"
	"litqa/internal/observability"
)

type taskLoggerKey struct{}

// WithTaskLogger attaches a zerolog.Logger scoped to taskID/stage onto ctx,
// layered on top of any trace correlation observability.LoggerWithTrace
// would already add.
func WithTaskLogger(ctx context.Context, taskID string, stage string) context.Context {
	l := observability.LoggerWithTrace(ctx).With().
		Str("task_id", taskID).
		Str("stage", stage).
		Logger()
	return context.WithValue(ctx, taskLoggerKey{}, &l)
}

// TaskLogger returns the task-scoped logger attached by WithTaskLogger, or
// falls back to the trace-correlated global logger if none was attached.
func TaskLogger(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(taskLoggerKey{}).(*zerolog.Logger); ok {
		return l
	}
	return observability.LoggerWithTrace(ctx)
}
