// logger.go - Structured logging for the ledger daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes human-readable console output and, optionally, JSON lines to a
// log file and warnings plus audit events to an audit file.
type Logger struct {
	zl    zerolog.Logger
	audit *zerolog.Logger
	files []*os.File
}

// NewLogger creates a logger at level. Unknown levels fall back to info.
func NewLogger(level, logFile, auditFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	l := &Logger{}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	if auditFile != "" {
		f, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		audit := zerolog.New(f).With().Timestamp().Str("stream", "audit").Logger()
		l.audit = &audit
		writers = append(writers, warnOnly{f})
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return l, nil
}

// warnOnly forwards WARN and above to the audit file.
type warnOnly struct{ io.Writer }

func (w warnOnly) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.Write(p)
}

// Zerolog exposes the underlying logger for components that take one.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

func (l *Logger) Debug(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(format string, args ...any) {
	l.zl.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	l.Close()
	os.Exit(1)
}

// Audit records an event in the audit stream when one is configured.
func (l *Logger) Audit(event string, details map[string]any) {
	if l.audit == nil {
		return
	}
	l.audit.Log().Str("event", event).Fields(details).Send()
}
