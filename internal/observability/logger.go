package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/webuictl/internal/logging"
)

// InitLogger derives the serve-mode logger from the process-wide logging
// profile, so WEBUICTL_LOG_* overrides keep applying, and tags every line
// with the app name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
