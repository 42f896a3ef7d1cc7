package logging

import (
	"github.com/sirupsen/logrus"
)

// DefaultLog provides a default implementation of the Logger interface.
type DefaultLog struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// Logger instances provide custom logging.
type Logger interface {

	// Log with level ERROR
	Error(...interface{})

	// Log formatted messages with level ERROR
	Errorf(string, ...interface{})

	// Log with level WARN
	Warn(...interface{})

	// Log formatted messages with level WARN
	Warnf(string, ...interface{})

	// Log with level INFO
	Info(...interface{})

	// Log formatted messages with level INFO
	Infof(string, ...interface{})

	// Log with level DEBUG
	Debug(...interface{})

	// Log formatted messages with level DEBUG
	Debugf(string, ...interface{})

	// WithFields returns a logger adding the fields to every entry.
	WithFields(map[string]interface{}) Logger
}

// New returns a logger writing to the application log.
func New() *DefaultLog {
	return &DefaultLog{logger: logrus.StandardLogger()}
}

func (dl *DefaultLog) entry() *logrus.Entry {
	l := dl.logger
	if l == nil {
		l = logrus.StandardLogger()
	}

	return l.WithFields(dl.fields)
}

func (dl *DefaultLog) Error(a ...interface{})            { dl.entry().Error(a...) }
func (dl *DefaultLog) Errorf(f string, a ...interface{}) { dl.entry().Errorf(f, a...) }
func (dl *DefaultLog) Warn(a ...interface{})             { dl.entry().Warn(a...) }
func (dl *DefaultLog) Warnf(f string, a ...interface{})  { dl.entry().Warnf(f, a...) }
func (dl *DefaultLog) Info(a ...interface{})             { dl.entry().Info(a...) }
func (dl *DefaultLog) Infof(f string, a ...interface{})  { dl.entry().Infof(f, a...) }
func (dl *DefaultLog) Debug(a ...interface{})            { dl.entry().Debug(a...) }
func (dl *DefaultLog) Debugf(f string, a ...interface{}) { dl.entry().Debugf(f, a...) }

// WithFields returns a new logger with the fields added to the fields of
// the current one.
func (dl *DefaultLog) WithFields(fields map[string]interface{}) Logger {
	merged := make(logrus.Fields, len(dl.fields)+len(fields))
	for k, v := range dl.fields {
		merged[k] = v
	}

	for k, v := range fields {
		merged[k] = v
	}

	return &DefaultLog{logger: dl.logger, fields: merged}
}
