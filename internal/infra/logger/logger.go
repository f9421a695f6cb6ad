// internal/infra/logger/logger.go
package logger

import (
	"os"
	"strings"

	"event_digest_service/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Init must run before anything that depends
// on the configured level or format.
var Log = logrus.New()

// Init applies level and format from configuration. Production and staging
// emit JSON for the log pipeline; everything else gets readable text.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		Log.Warnf("Unknown log level %q, falling back to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	Log.Infof("Logger ready: level=%s environment=%s", Log.GetLevel(), cfg.Environment)
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}
