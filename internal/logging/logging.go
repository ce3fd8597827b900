// Package logging configures the process-wide structured logger.
package logging

import (
	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger used by both the gateway and the worker
// binaries: human-readable text when env is "development", structured
// JSON otherwise.
func New(env string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if env == "development" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log.SetLevel(logrus.InfoLevel)
	return log
}
