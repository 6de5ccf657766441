package logging

import (
	"go.uber.org/zap"
)

// New builds the service logger for the given environment. Production gets
// JSON output at info level; everything else gets the console encoder at
// debug level.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
