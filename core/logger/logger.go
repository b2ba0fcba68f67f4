// Package logger provides a context-scoped slog.Logger.
package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// NewContext returns a context carrying the given logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the Logger in ctx, or the default Logger if there is
// none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// LevelFilterHandler is a slog.Handler that drops records below a level.
type LevelFilterHandler struct {
	level slog.Level
	h     slog.Handler
}

// NewLevelFilterHandler wraps h so that only records at or above level pass.
func NewLevelFilterHandler(level slog.Level, h slog.Handler) *LevelFilterHandler {
	return &LevelFilterHandler{level: level, h: h}
}

func (h *LevelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *LevelFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.h.Handle(ctx, r)
}

func (h *LevelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelFilterHandler{level: h.level, h: h.h.WithAttrs(attrs)}
}

func (h *LevelFilterHandler) WithGroup(name string) slog.Handler {
	return &LevelFilterHandler{level: h.level, h: h.h.WithGroup(name)}
}
