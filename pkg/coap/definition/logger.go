package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging collaborator used throughout the module: level
// queried before formatting, accepting already-formatted strings.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	// IsDebug reports whether debug-level messages will actually be emitted,
	// so callers can skip building an expensive formatted string.
	IsDebug() bool
}

// DefaultLogger is the logger used if the caller does not provide its own
// implementation. It wraps a *logrus.Logger behind the Logger interface.
type DefaultLogger struct {
	*logrus.Logger
}

// NewDefaultLogger builds a DefaultLogger writing to stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{Logger: l}
}

func (l *DefaultLogger) Debug(v ...interface{})                 { l.Logger.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.Logger.Debugf(format, v...) }
func (l *DefaultLogger) Info(v ...interface{})                  { l.Logger.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.Logger.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                  { l.Logger.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.Logger.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                 { l.Logger.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.Logger.Errorf(format, v...) }

// ToggleDebug switches the logger between info and debug level, matching the
// teacher's ToggleDebug(bool) bool signature.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return value
}

func (l *DefaultLogger) IsDebug() bool {
	return l.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// NoopLogger discards everything; useful for tests that don't want log noise
// but still need a Logger to satisfy the interface.
type NoopLogger struct{}

func (NoopLogger) Debug(v ...interface{})                 {}
func (NoopLogger) Debugf(format string, v ...interface{}) {}
func (NoopLogger) Info(v ...interface{})                  {}
func (NoopLogger) Infof(format string, v ...interface{})  {}
func (NoopLogger) Warn(v ...interface{})                  {}
func (NoopLogger) Warnf(format string, v ...interface{})  {}
func (NoopLogger) Error(v ...interface{})                 {}
func (NoopLogger) Errorf(format string, v ...interface{}) {}
func (NoopLogger) IsDebug() bool                          { return false }
