// Package logger provides component-scoped structured logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu       sync.RWMutex
	level              = new(slog.LevelVar)
	format             = "json"
	output   io.Writer = os.Stderr
	instance           = newLogger()
)

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(output, opts))
	}
	return slog.New(slog.NewJSONHandler(output, opts))
}

// SetLevel sets the minimum level. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetFormat switches between "json" and "text" output.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = strings.ToLower(strings.TrimSpace(f))
	instance = newLogger()
}

// SetOutput redirects log output. nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
	instance = newLogger()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

func log(l slog.Level, component, message string, fields map[string]interface{}) {
	attrs := make([]any, 0, len(fields)*2+2)
	if component != "" {
		attrs = append(attrs, "component", component)
	}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	get().Log(context.Background(), l, message, attrs...)
}

func Debug(message string) { log(slog.LevelDebug, "", message, nil) }
func Info(message string)  { log(slog.LevelInfo, "", message, nil) }
func Warn(message string)  { log(slog.LevelWarn, "", message, nil) }
func Error(message string) { log(slog.LevelError, "", message, nil) }

func DebugC(component, message string) { log(slog.LevelDebug, component, message, nil) }
func InfoC(component, message string)  { log(slog.LevelInfo, component, message, nil) }
func WarnC(component, message string)  { log(slog.LevelWarn, component, message, nil) }
func ErrorC(component, message string) { log(slog.LevelError, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	log(slog.LevelDebug, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	log(slog.LevelInfo, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	log(slog.LevelWarn, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	log(slog.LevelError, component, message, fields)
}
