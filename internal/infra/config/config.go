package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL     string
	CronAuthToken   string // shared secret for the HTTP trigger endpoints
	HTTPListenAddr  string
	LogLevel        string
	Environment     string
	CronSpecDaily   string // in-process trigger for the DAILY digest run
	CronSpecWeekly  string // in-process trigger for the WEEKLY digest run
	RunTimeout      time.Duration
	LookaheadDays   int
	MatchTopK       int
	MatchWorkers    int // CPU-bound matching pool
	DispatchWorkers int // I/O-bound delivery pool, sized for the provider's rate limit
	StaleReserveAge time.Duration
	DeliveryDriver  string // "telegram" or "smtp"
	TelegramToken   string
	SMTPAddr        string
	SMTPFrom        string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.CronAuthToken = os.Getenv("CRON_AUTH_TOKEN")
	if cfg.CronAuthToken == "" {
		return nil, fmt.Errorf("CRON_AUTH_TOKEN is not set")
	}

	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecDaily = os.Getenv("CRON_SPEC_DAILY")
	if cfg.CronSpecDaily == "" {
		cfg.CronSpecDaily = "0 9 * * *" // Default: 9:00 AM daily
	}
	cfg.CronSpecWeekly = os.Getenv("CRON_SPEC_WEEKLY")
	if cfg.CronSpecWeekly == "" {
		cfg.CronSpecWeekly = "0 9 * * 1" // Default: 9:00 AM on Mondays
	}

	cfg.RunTimeout, err = durationEnv("RUN_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.StaleReserveAge, err = durationEnv("STALE_RESERVATION_AGE", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.LookaheadDays, err = intEnv("LOOKAHEAD_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.MatchTopK, err = intEnv("MATCH_TOP_K", 10)
	if err != nil {
		return nil, err
	}
	cfg.MatchWorkers, err = intEnv("MATCH_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	cfg.DispatchWorkers, err = intEnv("DISPATCH_WORKERS", 10)
	if err != nil {
		return nil, err
	}

	cfg.DeliveryDriver = strings.ToLower(os.Getenv("DELIVERY_DRIVER"))
	if cfg.DeliveryDriver == "" {
		cfg.DeliveryDriver = "telegram"
	}
	switch cfg.DeliveryDriver {
	case "telegram":
		cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("TELEGRAM_TOKEN is not set (required for DELIVERY_DRIVER=telegram)")
		}
	case "smtp":
		cfg.SMTPAddr = os.Getenv("SMTP_ADDR")
		if cfg.SMTPAddr == "" {
			return nil, fmt.Errorf("SMTP_ADDR is not set (required for DELIVERY_DRIVER=smtp)")
		}
		cfg.SMTPFrom = os.Getenv("SMTP_FROM")
		if cfg.SMTPFrom == "" {
			return nil, fmt.Errorf("SMTP_FROM is not set (required for DELIVERY_DRIVER=smtp)")
		}
	default:
		return nil, fmt.Errorf("invalid DELIVERY_DRIVER: %s", cfg.DeliveryDriver)
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, v)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, v)
	}
	return v, nil
}
