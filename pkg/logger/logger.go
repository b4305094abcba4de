// Package logger provides structured logging for the service registry.
// It wraps zerolog behind a small chained API so call sites stay decoupled
// from the underlying library.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string // debug, info, warn, error (default info)
	Format string // json or console (default json)
	Output string // stdout, stderr, or a file path (default stdout)
	Name   string // component name attached to every entry
}

// Logger is a structured logger with a chained field API.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from the provided configuration.
func New(cfg LoggingConfig) *Logger {
	level := parseLevel(cfg.Level)

	var out io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out = os.Stdout
		} else {
			out = f
		}
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Name != "" {
		zl = zl.Str("component", cfg.Name)
	}
	return &Logger{zl: zl.Logger()}
}

// NewDefault returns a JSON logger at info level tagged with the given
// component name.
func NewDefault(name string) *Logger {
	return New(LoggingConfig{Name: name})
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithField returns a logger with an additional field attached.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().AnErr("error", err).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

func (l *Logger) Info(msg string) { l.zl.Info().Msg(msg) }

func (l *Logger) Infof(format string, args ...any) { l.zl.Info().Msgf(format, args...) }

func (l *Logger) Warn(msg string) { l.zl.Warn().Msg(msg) }

func (l *Logger) Warnf(format string, args ...any) { l.zl.Warn().Msgf(format, args...) }

func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

func (l *Logger) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

func (l *Logger) Fatalf(format string, args ...any) { l.zl.Fatal().Msgf(format, args...) }
