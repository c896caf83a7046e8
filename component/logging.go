package component

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// LogLevel is the severity of a published log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is a structured log entry published to NATS so operators can
// follow a running search remotely (nats sub 'logs.>').
type LogEntry struct {
	Timestamp string   `json:"timestamp"` // RFC3339Nano
	Level     LogLevel `json:"level"`
	Component string   `json:"component"`
	Platform  string   `json:"platform"`
	Message   string   `json:"message"`
	Stack     string   `json:"stack,omitempty"` // error detail on ERROR entries
}

// Logger pairs local slog output with remote publication on
// logs.{platform}.{component}. A pipeline always logs locally; remote
// publication is on whenever a connection is supplied.
type Logger struct {
	componentName string
	platform      string
	nc            *nats.Conn
	logger        *slog.Logger
	enabled       bool
}

// NewLogger creates a component logger. A nil connection disables
// remote publication without disabling local logging.
func NewLogger(componentName, platform string, nc *nats.Conn, logger *slog.Logger) *Logger {
	return &Logger{
		componentName: componentName,
		platform:      platform,
		nc:            nc,
		logger:        logger,
		enabled:       nc != nil,
	}
}

// Debug logs a debug-level message.
func (cl *Logger) Debug(msg string) {
	cl.DebugContext(context.Background(), msg)
}

// Info logs an info-level message.
func (cl *Logger) Info(msg string) {
	cl.InfoContext(context.Background(), msg)
}

// Warn logs a warning-level message.
func (cl *Logger) Warn(msg string) {
	cl.WarnContext(context.Background(), msg)
}

// Error logs an error-level message with error details.
func (cl *Logger) Error(msg string, err error) {
	cl.ErrorContext(context.Background(), msg, err)
}

// DebugContext logs a debug-level message with context.
func (cl *Logger) DebugContext(ctx context.Context, msg string) {
	cl.logWithContext(ctx, LogLevelDebug, msg, "")
	if cl.logger != nil {
		cl.logger.Debug(msg, "component", cl.componentName)
	}
}

// InfoContext logs an info-level message with context.
func (cl *Logger) InfoContext(ctx context.Context, msg string) {
	cl.logWithContext(ctx, LogLevelInfo, msg, "")
	if cl.logger != nil {
		cl.logger.Info(msg, "component", cl.componentName)
	}
}

// WarnContext logs a warning-level message with context.
func (cl *Logger) WarnContext(ctx context.Context, msg string) {
	cl.logWithContext(ctx, LogLevelWarn, msg, "")
	if cl.logger != nil {
		cl.logger.Warn(msg, "component", cl.componentName)
	}
}

// ErrorContext logs an error-level message. The error's expanded form
// rides the entry's Stack field.
func (cl *Logger) ErrorContext(ctx context.Context, msg string, err error) {
	stack := ""
	if err != nil {
		stack = fmt.Sprintf("%+v", err)
	}
	cl.logWithContext(ctx, LogLevelError, msg, stack)
	if cl.logger != nil {
		cl.logger.Error(msg, "component", cl.componentName, "error", err)
	}
}

// logWithContext publishes one entry. Publication failures degrade to
// local logging only; a broken log path must never fail the pipeline
// operation that produced the entry.
func (cl *Logger) logWithContext(ctx context.Context, level LogLevel, message, stack string) {
	if !cl.enabled {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: cl.componentName,
		Platform:  cl.platform,
		Message:   message,
		Stack:     stack,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		if cl.logger != nil {
			cl.logger.Error("Failed to marshal log entry", "error", err)
		}
		return
	}

	// Re-read the connection since enabled was checked; nc can be set to
	// nil during shutdown.
	nc := cl.nc
	if nc == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	subject := fmt.Sprintf("logs.%s.%s", cl.platform, cl.componentName)
	if err := nc.Publish(subject, data); err != nil {
		if cl.logger != nil {
			cl.logger.Error("Failed to publish log to NATS", "error", err, "subject", subject)
		}
	}
}
