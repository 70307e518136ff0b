// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It keeps a printf-style package API and writes through zerolog, emitting JSON lines or a
// human-readable console format depending on configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// callerSkip points zerolog's caller field at the code that called Debug/Info/Warn/Error.
const callerSkip = 3

var (
	// Global logger instance. Nil until Init is called; logging before Init is a no-op.
	defaultLogger *zerolog.Logger

	exit = os.Exit
)

// ParseLevel converts a level name into a Level. Unknown names map to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer, level string, format string) {
	out := w
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: true}
	}

	l := zerolog.New(out).
		Level(ParseLevel(level).zerolog()).
		With().
		Timestamp().
		CallerWithSkipFrameCount(callerSkip).
		Logger()
	zerolog.TimeFieldFormat = time.RFC3339Nano
	defaultLogger = &l
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug().Msgf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info().Msgf(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn().Msgf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error().Msgf(format, args...)
	}
}

// Fatal logs a message at FatalLevel and exits with status 1.
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	exit(1)
}
