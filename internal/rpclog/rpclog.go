// Package rpclog adapts Go's structured log/slog to the rpcrt.Logger
// interface, extending slog's four levels to the eight Priority values
// rpcrt.Error and the client/server runtime report against (Fatal down to
// Trace): package-level level/format knobs, a colored text handler, a JSON
// handler, wrapped behind rpcrt.Logger instead of a global package API,
// since a binding handle's Logger is supplied by its caller, not reached
// for as a singleton.
package rpclog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openrpcrt/rpcrt/pkg/rpcrt"
)

// Level offsets mirror slog's own spacing (4 per standard level) so the
// four extra Priority values interleave without colliding: Trace sits
// below Debug, Notice between Info and Warning, Critical and Fatal above
// Error.
const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelNotice   = slog.Level(2)
	LevelWarning  = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
	LevelFatal    = slog.Level(16)
)

// toSlogLevel maps a Priority onto its Level constant above.
func toSlogLevel(p rpcrt.Priority) slog.Level {
	switch p {
	case rpcrt.PriorityTrace:
		return LevelTrace
	case rpcrt.PriorityDebug:
		return LevelDebug
	case rpcrt.PriorityInformation:
		return LevelInfo
	case rpcrt.PriorityNotice:
		return LevelNotice
	case rpcrt.PriorityWarning:
		return LevelWarning
	case rpcrt.PriorityError:
		return LevelError
	case rpcrt.PriorityCritical:
		return LevelCritical
	case rpcrt.PriorityFatal:
		return LevelFatal
	default:
		return LevelInfo
	}
}

// levelString names a Level for handler output, including the four levels
// slog itself has no name for.
func levelString(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelNotice:
		return "INFO"
	case level < LevelWarning:
		return "NOTICE"
	case level < LevelError:
		return "WARNING"
	case level < LevelCritical:
		return "ERROR"
	case level < LevelFatal:
		return "CRITICAL"
	default:
		return "FATAL"
	}
}

// Config selects output destination and format: a Level/Format/Output
// triple, naming the minimum Priority instead of a four-value level string.
type Config struct {
	MinPriority rpcrt.Priority
	Format      string // "text" or "json"
	Output      string // "stdout", "stderr", or a file path
}

// Logger wraps a *slog.Logger and implements rpcrt.Logger.
type Logger struct {
	slog *slog.Logger
	min  slog.Level
	file *os.File
}

var _ rpcrt.Logger = (*Logger)(nil)

// New builds a Logger per cfg. Callers that open a file destination must
// call Close when finished.
func New(cfg Config) (*Logger, error) {
	var w io.Writer
	var useColor bool
	var file *os.File

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
		useColor = isTerminal(os.Stdout.Fd())
	case "stderr":
		w = os.Stderr
		useColor = isTerminal(os.Stderr.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("rpclog: open %q: %w", cfg.Output, err)
		}
		w = f
		file = f
	}

	min := toSlogLevel(cfg.MinPriority)
	levelVar := new(slog.LevelVar)
	levelVar.Set(min)
	opts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = newColorTextHandler(w, opts, useColor)
	}

	return &Logger{slog: slog.New(handler), min: min, file: file}, nil
}

// Write implements rpcrt.Logger.
func (l *Logger) Write(message string, priority rpcrt.Priority, fields ...any) {
	level := toSlogLevel(priority)
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	l.slog.Log(ctx, level, message, fields...)
}

// Close releases the underlying file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
