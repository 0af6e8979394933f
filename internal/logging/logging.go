// Package logging provides the leveled line logger shared by the engine and the daemon.
package logging

import (
	"fmt"
	"io"
	"log"
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

// Logger prefixes every line with a timestamp, the level and a component name.
// The zero value and a nil *Logger discard everything.
type Logger struct {
	out       *log.Logger
	level     LogLevel
	component string
}

func New(w io.Writer, level LogLevel, component string) *Logger {
	return &Logger{
		out:       log.New(w, "", 0),
		level:     level,
		component: component,
	}
}

// Discard returns a logger that drops every line.
func Discard() *Logger {
	return &Logger{}
}

// With returns a logger writing to the same sink under another component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{out: l.out, level: l.level, component: component}
}

func (l *Logger) Enabled(level LogLevel) bool {
	return l != nil && l.out != nil && level >= l.level
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debugf(format string, args ...any) { l.Log(LogLevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Log(LogLevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Log(LogLevelError, format, args...) }
