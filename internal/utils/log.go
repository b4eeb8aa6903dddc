package utils

import (
	"fmt"
	"io"
	"log"
	"time"
)

// LogLevel controls the verbosity of a Logger.
type LogLevel uint8

const (
	LogLevelNothing LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Logger is a leveled logging facade. Unlike a process-wide logger, every
// connection is handed its own Logger instance at construction time; there
// is no package-level logging state.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithPrefix(prefix string) Logger
	Debug() bool
}

type defaultLogger struct {
	*log.Logger
	level      LogLevel
	prefix     string
	timeFormat string
}

// NewDefaultLogger returns a Logger writing to w at the given level.
func NewDefaultLogger(w io.Writer, level LogLevel) Logger {
	return &defaultLogger{Logger: log.New(w, "", 0), level: level}
}

func (l *defaultLogger) WithPrefix(prefix string) Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + " " + prefix
	}
	return &defaultLogger{Logger: l.Logger, level: l.level, prefix: newPrefix, timeFormat: l.timeFormat}
}

func (l *defaultLogger) Debug() bool { return l.level == LogLevelDebug }

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.logMessage(format, args...)
	}
}

func (l *defaultLogger) logMessage(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}
	if l.timeFormat != "" {
		msg = time.Now().Format(l.timeFormat) + " " + msg
	}
	l.Logger.Print(msg)
}

// NopLogger discards everything. Used as the default when no Logger is
// configured.
var NopLogger Logger = &defaultLogger{Logger: log.New(io.Discard, "", 0), level: LogLevelNothing}
