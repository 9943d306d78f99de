// Package logger provides leveled, component-tagged logging for
// chatvault services. Output is structured JSON on stderr.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// Level mirrors slog levels with package-local names.
type Level = slog.Level

const (
	DEBUG Level = slog.LevelDebug
	INFO  Level = slog.LevelInfo
	WARN  Level = slog.LevelWarn
	ERROR Level = slog.LevelError
)

var (
	levelVar slog.LevelVar
	base     = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))
)

// SetLevel changes the minimum emitted level at runtime.
func SetLevel(l Level) {
	levelVar.Set(l)
}

// SetOutput replaces the backing logger. Intended for tests.
func SetOutput(l *slog.Logger) {
	base = l
}

func logCF(level Level, component, msg string, fields map[string]any) {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	base.Log(context.Background(), level, msg, attrs...)
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { logCF(DEBUG, component, msg, nil) }

// DebugCF logs a debug message with extra fields.
func DebugCF(component, msg string, fields map[string]any) { logCF(DEBUG, component, msg, fields) }

// InfoC logs an info message for a component.
func InfoC(component, msg string) { logCF(INFO, component, msg, nil) }

// InfoCF logs an info message with extra fields.
func InfoCF(component, msg string, fields map[string]any) { logCF(INFO, component, msg, fields) }

// WarnC logs a warning for a component.
func WarnC(component, msg string) { logCF(WARN, component, msg, nil) }

// WarnCF logs a warning with extra fields.
func WarnCF(component, msg string, fields map[string]any) { logCF(WARN, component, msg, fields) }

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { logCF(ERROR, component, msg, nil) }

// ErrorCF logs an error with extra fields.
func ErrorCF(component, msg string, fields map[string]any) { logCF(ERROR, component, msg, fields) }
