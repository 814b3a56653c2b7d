// Package logging builds the process logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a production JSON logger for environment "production" and a development console
// logger otherwise.
func New(environment string) (*zap.Logger, error) {
	if strings.EqualFold(environment, "production") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Must is New for main packages.
func Must(environment string) *zap.Logger {
	logger, err := New(environment)
	if err != nil {
		panic(err)
	}
	return logger
}
