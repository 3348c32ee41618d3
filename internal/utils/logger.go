// internal/utils/logger.go

package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) zerolog() zerolog.Level {
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

// base is swapped by SetupLogging; component loggers created at package init
// resolve it on every call so they pick up the configured output.
var base atomic.Pointer[zerolog.Logger]

func init() {
	zl := newZerolog(os.Stderr, "console", zerolog.InfoLevel)
	base.Store(&zl)
}

func newZerolog(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// SetupLogging configures the process-wide log sink. Format is "console" or "json".
func SetupLogging(level, format string, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		if err != nil {
			err = fmt.Errorf("unknown log level %q, using info", level)
		}
	}
	if out == nil {
		out = os.Stderr
	}

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	zl := newZerolog(out, format, lvl)
	base.Store(&zl)
	return err
}

// zeroLogger implements Logger on top of the shared zerolog sink.
type zeroLogger struct {
	level  LogLevel
	fields map[string]interface{}
}

// NewLogger creates a new logger instance.
func NewLogger() Logger {
	return &zeroLogger{level: DebugLevel, fields: map[string]interface{}{}}
}

// NewLoggerWithLevel creates a logger that drops messages below level.
func NewLoggerWithLevel(level LogLevel) Logger {
	return &zeroLogger{level: level, fields: map[string]interface{}{}}
}

// NewComponentLogger creates a logger tagged with the component name.
func NewComponentLogger(name string) Logger {
	return &zeroLogger{level: DebugLevel, fields: map[string]interface{}{"component": name}}
}

func (l *zeroLogger) Debug(msg string) { l.log(DebugLevel, msg) }

func (l *zeroLogger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Info(msg string) { l.log(InfoLevel, msg) }

func (l *zeroLogger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Warn(msg string) { l.log(WarnLevel, msg) }

func (l *zeroLogger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}

func (l *zeroLogger) Error(msg string) { l.log(ErrorLevel, msg) }

func (l *zeroLogger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

func (l *zeroLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *zeroLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zeroLogger{level: l.level, fields: merged}
}

func (l *zeroLogger) log(level LogLevel, msg string) {
	if level < l.level {
		return
	}
	zl := base.Load()
	event := zl.WithLevel(level.zerolog())
	if event == nil {
		return
	}
	if len(l.fields) > 0 {
		event = event.Fields(l.fields)
	}
	event.Msg(msg)
}
