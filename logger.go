package cargoapk

import (
	"context"
	"io"
	"log/slog"

	"github.com/go-logr/logr"
)

func WithLogger(ctx context.Context, logger logr.Logger) context.Context {
	return logr.NewContext(ctx, logger)
}

func LoggerFrom(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

// NewLogger returns a logr.Logger that writes text to w. At verbosity 0
// only errors are written, 1 adds warnings, 2 info and 3 debug.
func NewLogger(w io.Writer, verbosity int) logr.Logger {
	return logr.FromSlogHandler(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level(verbosity),
	}))
}

// NewJSONLogger is NewLogger, but writes a JSON object per line.
func NewJSONLogger(w io.Writer, verbosity int) logr.Logger {
	return logr.FromSlogHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level(verbosity),
	}))
}

func level(verbosity int) slog.Level {
	return slog.Level(int(slog.LevelError) - 4*verbosity)
}
