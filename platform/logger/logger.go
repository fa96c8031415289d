// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests use it to capture output.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") || strings.EqualFold(env, "test") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs a rejected request. key names the bucket, either
// "ip:<addr>" or "org:<id>".
func (l *Logger) RateLimitExceeded(key, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("limit_key", key),
		slog.String("path", path),
	)
}

// PipelineTransition logs a committed pipeline change on a contact.
func (l *Logger) PipelineTransition(operation, contactID, from, to string) {
	l.Info("pipeline_transition",
		slog.String("operation", operation),
		slog.String("contact_id", contactID),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// RecomputeWarning logs a derived-schedule failure after a successful primary write.
func (l *Logger) RecomputeWarning(contactID string, err error) {
	l.Warn("pipeline_recompute_warning",
		slog.String("contact_id", contactID),
		slog.String("error", err.Error()),
	)
}

// BulkOutcome logs the batch-level result of a bulk pipeline change.
func (l *Logger) BulkOutcome(requested, matched, recomputed, warnings int) {
	l.Info("pipeline_bulk_outcome",
		slog.Int("requested", requested),
		slog.Int("matched", matched),
		slog.Int("recomputed", recomputed),
		slog.Int("warnings", warnings),
	)
}

// RulesReloaded logs a rule catalog (re)load.
func (l *Logger) RulesReloaded(source string, rules int, err error) {
	if err != nil {
		l.Error("pipeline_rules_reload_failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Info("pipeline_rules_reloaded",
		slog.String("source", source),
		slog.Int("rules", rules),
	)
}
