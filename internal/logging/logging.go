// Package logging provides the leveled line logger used by every component.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes "<RFC3339> <LEVEL> <component>: <message>" lines.
// A nil *Logger discards everything.
type Logger struct {
	logger    *log.Logger
	level     LogLevel
	component string
	closer    io.Closer
}

func New(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		level:  level,
	}
}

// Discard returns a logger that drops every line.
func Discard() *Logger {
	return New(io.Discard, LogLevelError+1)
}

// OpenFile appends to path, creating parent directories as needed.
func OpenFile(path string, level LogLevel) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	l := New(f, level)
	l.closer = f
	return l, nil
}

// With returns a logger sharing the same sink, tagged with component.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		logger:    l.logger,
		level:     l.level,
		component: component,
	}
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	component := l.component
	if component == "" {
		component = "validator"
	}
	l.logger.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, component, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Log(LogLevelError, format, args...) }

// Close releases the log file opened by OpenFile.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
