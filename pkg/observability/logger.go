// Package observability provides structured logging, metrics collection and
// timing helpers for bulkreg.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogFormat specifies the output format for logs.
type LogFormat string

const (
	// LogFormatText outputs human-readable text logs.
	LogFormatText LogFormat = "text"
	// LogFormatJSON outputs JSON logs, suited to collecting runs from automation.
	LogFormatJSON LogFormat = "json"
)

// LogLevel represents logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig configures the logger.
type LogConfig struct {
	// Level sets the minimum log level.
	Level LogLevel
	// Format specifies the output format (text or json).
	Format LogFormat
	// Output is the writer for logs. Defaults to os.Stderr so that
	// progress output on stdout stays clean.
	Output io.Writer
	// AddSource adds source code location to logs.
	AddSource bool
	// ServiceName is included in all log entries.
	ServiceName string
	// ServiceVersion is included in all log entries.
	ServiceVersion string
	// LevelVar, when set, is initialized to Level and used by the handler so
	// the level can be raised after the logger is built.
	LevelVar *slog.LevelVar
}

// DefaultLogConfig returns defaults for interactive use.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelWarn,
		Format:         LogFormatText,
		Output:         os.Stderr,
		ServiceName:    "bulkreg",
		ServiceVersion: "dev",
	}
}

// ProductionLogConfig returns settings for unattended runs.
func ProductionLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelInfo,
		Format:         LogFormatJSON,
		Output:         os.Stderr,
		AddSource:      true,
		ServiceName:    "bulkreg",
		ServiceVersion: "unknown",
	}
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var level slog.Leveler = ParseLevel(string(cfg.Level))
	if cfg.LevelVar != nil {
		cfg.LevelVar.Set(level.Level())
		level = cfg.LevelVar
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	attrs := []slog.Attr{}
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", cfg.ServiceVersion))
	}
	return slog.New(&attributeHandler{handler: handler, attrs: attrs})
}

// LoggerFromEnv creates a logger based on environment variables.
// BULKREG_LOG_LEVEL: debug, info, warn, error
// BULKREG_LOG_FORMAT: text, json
// BULKREG_ENV: production enables JSON format by default
func LoggerFromEnv() *slog.Logger {
	cfg := DefaultLogConfig()

	if env := os.Getenv("BULKREG_ENV"); env == "production" {
		cfg = ProductionLogConfig()
	}
	if level := os.Getenv("BULKREG_LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if format := os.Getenv("BULKREG_LOG_FORMAT"); format != "" {
		cfg.Format = LogFormat(format)
	}
	if version := os.Getenv("BULKREG_VERSION"); version != "" {
		cfg.ServiceVersion = version
	}

	return NewLogger(cfg)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// attributeHandler adds default attributes and context-carried ids.
type attributeHandler struct {
	handler slog.Handler
	attrs   []slog.Attr
}

func (h *attributeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *attributeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, attr := range h.attrs {
		r.AddAttrs(attr)
	}
	if corrID := CorrelationIDFromContext(ctx); corrID != "" {
		r.AddAttrs(slog.String(CorrelationIDKey, corrID))
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		r.AddAttrs(slog.String(RunIDKey, runID))
	}
	return h.handler.Handle(ctx, r)
}

func (h *attributeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attributeHandler{handler: h.handler.WithAttrs(attrs), attrs: h.attrs}
}

func (h *attributeHandler) WithGroup(name string) slog.Handler {
	return &attributeHandler{handler: h.handler.WithGroup(name), attrs: h.attrs}
}
