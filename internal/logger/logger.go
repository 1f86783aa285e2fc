package logger

import "go.uber.org/zap"

// New returns a development logger for "development" and a JSON production
// logger for every other environment.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
