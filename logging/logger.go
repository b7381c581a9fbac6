package logging

import (
	"github.com/sirupsen/logrus"

	"sourcewatch/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// Level represents a log level
type Level = logrus.Level

// Log levels
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// NewLogger creates a new configured logger instance
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithComponent creates a logger tagged with a client component name
// (facade, reconnector, dispatcher, ...) so interleaved flows can be told apart.
func NewLoggerWithComponent(component string) *logrus.Logger {
	logger := NewLogger()
	logger = logger.WithField("component", component).Logger
	return logger
}
