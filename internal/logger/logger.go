// Package logger wraps zerolog with the service's level and format settings.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	JSONFormat    = "json"
	ConsoleFormat = "console"

	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarn    = "warn"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Logger is a zerolog.Logger with request-scoped helpers.
type Logger struct {
	zerolog.Logger
}

// New writes to stdout.
func New(level, format string) Logger {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter builds a logger writing console or JSON lines to w.
func NewWithWriter(level, format string, w io.Writer) Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	if strings.ToLower(format) == JSONFormat {
		out = w
	}

	l := zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
	return Logger{Logger: l}
}

// Nop discards everything; used by tests and optional collaborators.
func Nop() Logger {
	return Logger{Logger: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn, LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithContext adds the chi request id and the active span to the logger.
func (l Logger) WithContext(ctx context.Context) zerolog.Logger {
	logger := l.Logger

	if requestID := middleware.GetReqID(ctx); requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		logger = logger.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}

	return logger
}

// Component returns a child logger tagged with a component name.
func (l Logger) Component(name string) Logger {
	return Logger{Logger: l.With().Str("component", name).Logger()}
}
