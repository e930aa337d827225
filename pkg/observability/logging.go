package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for webprobe components.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stderr, component, level)
}

// NewLoggerTo creates a JSON logger writing to w.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "webprobe"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the trace and span IDs of ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithRun returns a logger with run-specific fields
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("run_id", runID),
		),
	}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithCheck returns a logger with check-specific fields
func (l *Logger) WithCheck(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("check", name),
		),
	}
}

// RunStarted logs the start of a run
func (l *Logger) RunStarted(runID, baseURL string, checks int) {
	l.Info("run started",
		slog.String("run_id", runID),
		slog.String("base_url", baseURL),
		slog.Int("checks", checks),
	)
}

// RunFinished logs the end of a run
func (l *Logger) RunFinished(runID string, passed, failed, rating int, duration time.Duration) {
	l.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("passed", passed),
		slog.Int("failed", failed),
		slog.Int("rating", rating),
		slog.Float64("duration_s", duration.Seconds()),
	)
}

// CheckFinished logs a check outcome
func (l *Logger) CheckFinished(name string, passed bool, duration time.Duration) {
	l.Info("check finished",
		slog.String("check", name),
		slog.Bool("passed", passed),
		slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
	)
}

// CheckErrored logs a check that aborted with an error
func (l *Logger) CheckErrored(name string, err error) {
	l.Error("check errored",
		slog.String("check", name),
		slog.String("error", err.Error()),
	)
}

// EventMalformed logs an event that could not be decoded or applied
func (l *Logger) EventMalformed(source string, line int, err error) {
	l.Warn("malformed event",
		slog.String("source", source),
		slog.Int("line", line),
		slog.String("error", err.Error()),
	)
}

// ReportWritten logs where the report artifact went
func (l *Logger) ReportWritten(path string, bytes int) {
	l.Info("report written",
		slog.String("path", path),
		slog.Int("bytes", bytes),
	)
}
