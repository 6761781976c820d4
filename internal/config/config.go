package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the application
type Config struct {
	DatabaseURL    string
	MigrationsPath string
	LogLevel       string
	LogFormat      string
	Port           string
	PrometheusPort string

	ReminderCron  string
	DigestCron    string
	Location      *time.Location
	SweepWorkers  int
	SweepTimeout  time.Duration
	ReminderDedup bool

	SendGridAPIKey string
	MailFrom       mail.Address
	FrontendURL    string

	TelegramToken       string
	TelegramAlertChatID int64
}

// Load reads a .env file when one is present, then builds the configuration
// from environment variables. Every invalid or missing value is reported.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration using getenv as the variable source
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var result *multierror.Error

	cfg := &Config{
		DatabaseURL:    env("DATABASE_URL", ""),
		MigrationsPath: env("MIGRATIONS_PATH", "migrations"),
		LogLevel:       env("LOG_LEVEL", "info"),
		LogFormat:      env("LOG_FORMAT", "text"),
		Port:           env("PORT", "8080"),
		PrometheusPort: env("PROMETHEUS_PORT", "9090"),
		ReminderCron:   env("REMINDER_CRON", "0 * * * *"),
		DigestCron:     env("DIGEST_CRON", "0 8 * * *"),
		SendGridAPIKey: env("SENDGRID_API_KEY", ""),
		FrontendURL:    strings.TrimRight(env("FRONTEND_URL", ""), "/"),
		TelegramToken:  env("TELEGRAM_TOKEN", ""),
		MailFrom: mail.Address{
			Name:    env("MAIL_FROM_NAME", "StudyTrack"),
			Address: env("MAIL_FROM_ADDRESS", "noreply@localhost"),
		},
	}

	if cfg.DatabaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("DATABASE_URL environment variable is required"))
	}

	for key, spec := range map[string]string{"REMINDER_CRON": cfg.ReminderCron, "DIGEST_CRON": cfg.DigestCron} {
		if _, err := cron.ParseStandard(spec); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
		}
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat))
	}

	cfg.Location = time.Local
	if tz := env("TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("TIMEZONE: %w", err))
		} else {
			cfg.Location = loc
		}
	}

	workers, err := strconv.Atoi(env("SWEEP_WORKERS", "1"))
	if err != nil || workers < 1 {
		result = multierror.Append(result, fmt.Errorf("SWEEP_WORKERS must be a positive integer"))
	}
	cfg.SweepWorkers = workers

	timeout, err := time.ParseDuration(env("SWEEP_TIMEOUT", "30m"))
	if err != nil || timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("SWEEP_TIMEOUT must be a positive duration"))
	}
	cfg.SweepTimeout = timeout

	dedup, err := strconv.ParseBool(env("REMINDER_DEDUP", "true"))
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("REMINDER_DEDUP: %w", err))
	}
	cfg.ReminderDedup = dedup

	if _, err := mail.ParseAddress(cfg.MailFrom.Address); err != nil {
		result = multierror.Append(result, fmt.Errorf("MAIL_FROM_ADDRESS: %w", err))
	}

	if raw := env("TELEGRAM_ALERT_CHAT_ID", ""); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("TELEGRAM_ALERT_CHAT_ID must be an integer"))
		}
		cfg.TelegramAlertChatID = chatID
	}
	if (cfg.TelegramToken == "") != (cfg.TelegramAlertChatID == 0) {
		result = multierror.Append(result, fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_ALERT_CHAT_ID must be set together"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AlertsEnabled reports whether sweep alerts should be posted to Telegram
func (c *Config) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramAlertChatID != 0
}
