package isoskin

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards all records. Enabled returns false so callers skip formatting.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger shared by isoskin and its sub-packages.
// By default nothing is logged. Passing nil restores the silent default.
// It is safe to call concurrently with running passes.
//
// Levels used:
//   - [slog.LevelDebug]: per-pass summaries (active vertices, status counts, residuals)
//   - [slog.LevelInfo]: host lifecycle events (rest pose captured, fit finished)
//   - [slog.LevelWarn]: recoverable host misuse (empty selections, skipped bones)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the logger set by SetLogger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
