// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package logging provides structured logging with severity filtering and
// OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Severity is the log level vocabulary used across the runtime and exposed
// to language modules. It is ordered: a sink configured at severity S drops
// every record below S.
type Severity int

// Severities, lowest to highest.
const (
	SeverityNone Severity = iota
	SeverityVerbose
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityFatal
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "verbose"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "none"
	}
}

// ParseSeverity maps a config string onto a Severity. Unknown values fall
// back to SeverityInfo.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "verbose":
		return SeverityVerbose
	case "debug":
		return SeverityDebug
	case "info":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "error":
		return SeverityError
	case "fatal":
		return SeverityFatal
	case "none", "":
		return SeverityNone
	default:
		return SeverityInfo
	}
}

// Level converts a Severity to its slog level. Verbose sits below Debug and
// Fatal above Error so filtering composes with standard slog handlers.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityVerbose:
		return slog.LevelDebug - 4
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	case SeverityFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelDebug - 8
	}
}

// traceHandler wraps a slog.Handler to add service identity and trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds service identity and trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// Setup creates a configured slog.Logger.
// format: "json" or "text" (defaults to "json" if empty)
// If w is nil, writes to os.Stderr.
func Setup(service, version, format string, min Severity, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: min.Level(),
	}

	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	handler := &traceHandler{
		handler: baseHandler,
		service: service,
		version: version,
	}

	return slog.New(handler)
}

// SetDefault sets up and configures the default logger.
func SetDefault(service, version, format string, min Severity) {
	logger := Setup(service, version, format, min, nil)
	slog.SetDefault(logger)
}

// Log emits msg at the given severity on logger, mapping Severity onto slog
// levels. Used by the provider facade to forward language-module messages.
func Log(logger *slog.Logger, s Severity, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), s.Level(), msg, args...)
}
