package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/cryptolctl/internal/logging"
)

// InitLogger configures the runtime log profile and tags every line with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Component derives a logger for one subsystem from the global logger.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
