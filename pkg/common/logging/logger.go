/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logging provides module-scoped loggers for the SDK. Each package
// creates its logger once with NewLogger; output goes through a shared
// logrus logger that may be replaced with Initialize before first use.
package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a leveled logger bound to a module name.
type Logger struct {
	module string
}

var (
	loggerInstance *logrus.Logger
	loggerOnce     sync.Once
	initOnce       sync.Once
)

// NewLogger creates and returns a Logger object based on the module name.
func NewLogger(module string) *Logger {
	return &Logger{module: module}
}

// Initialize sets the logrus logger which takes over logging operations.
// It must be called before any log output is produced; otherwise the
// standard logrus logger is used.
func Initialize(l *logrus.Logger) {
	initOnce.Do(func() {
		loggerInstance = l
	})
}

// SetLevel sets the log level of the underlying logger.
func SetLevel(level logrus.Level) {
	provider().SetLevel(level)
}

func provider() *logrus.Logger {
	loggerOnce.Do(func() {
		if loggerInstance == nil {
			loggerInstance = logrus.StandardLogger()
		}
	})
	return loggerInstance
}

func (l *Logger) entry() *logrus.Entry {
	return provider().WithField("module", l.module)
}

// Debug logs a message at level Debug.
func (l *Logger) Debug(args ...interface{}) {
	l.entry().Debug(args...)
}

// Debugf logs a formatted message at level Debug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

// Info logs a message at level Info.
func (l *Logger) Info(args ...interface{}) {
	l.entry().Info(args...)
}

// Infof logs a formatted message at level Info.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Warn logs a message at level Warn.
func (l *Logger) Warn(args ...interface{}) {
	l.entry().Warn(args...)
}

// Warnf logs a formatted message at level Warn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

// Error logs a message at level Error.
func (l *Logger) Error(args ...interface{}) {
	l.entry().Error(args...)
}

// Errorf logs a formatted message at level Error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}
