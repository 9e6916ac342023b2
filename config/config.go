package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/adscout/adscout/lib/models"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"adscout.sqlite"`

	MaxKeywords     int `env:"MAX_KEYWORDS" envDefault:"10"`
	IntervalMinutes int `env:"SCHEDULE_INTERVAL_MINUTES" envDefault:"30"`

	UnseenSweepDays int `env:"UNSEEN_SWEEP_DAYS" envDefault:"7"`
	RetentionDays   int `env:"RETENTION_DAYS" envDefault:"30"`

	Scrapers struct {
		OLXCommand      []string      `env:"SCRAPER_OLX_CMD" envSeparator:" "`
		FacebookCommand []string      `env:"SCRAPER_FACEBOOK_CMD" envSeparator:" "`
		OLXTimeout      time.Duration `env:"SCRAPER_OLX_TIMEOUT" envDefault:"5m"`
		// Facebook is slower, so it gets a bigger budget.
		FacebookTimeout time.Duration `env:"SCRAPER_FACEBOOK_TIMEOUT" envDefault:"10m"`
	}

	Notify struct {
		Platform   string `env:"NOTIFY_PLATFORM" envDefault:"telegram"`
		BatchLimit int    `env:"NOTIFY_BATCH_LIMIT" envDefault:"0"`
	}
	Telegram struct {
		BotToken    string `env:"TELEGRAM_BOT_TOKEN"`
		ChatID      string `env:"TELEGRAM_CHAT_ID"`
		TimeoutSecs int    `env:"TELEGRAM_TIMEOUT_SECS" envDefault:"10"`
	}
	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		Recipient   string `env:"MAILGUN_RECIPIENT"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	CredentialsKey string `env:"CREDENTIALS_KEY"`

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Panicf("failed to parse environment: %v", err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env != "production" {
			cfg.log.Sugar().Infof("%s (operator API auth disabled outside production)", err)
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

// GetCreds returns the basic-auth user/password pairs for the operator API.
func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar is not populated")
	}

	result := make(map[string]string)
	for _, cred := range strings.Split(cfg.BasicAuthCreds, ",") {
		user, pass, ok := strings.Cut(cred, ":")
		if !ok {
			return nil, fmt.Errorf("failed to parse '%s', expected comma-separated user:pass pairs", cred)
		}
		result[strings.TrimSpace(user)] = strings.TrimSpace(pass)
	}

	return result, nil
}

// ScraperCommand returns the external scraper command line for a source; the
// executor appends the search term and optional credential flags.
func (cfg *Config) ScraperCommand(source string) []string {
	switch source {
	case models.SourceOLX:
		return cfg.Scrapers.OLXCommand
	case models.SourceFacebook:
		return cfg.Scrapers.FacebookCommand
	}
	return nil
}

// ScrapeTimeout is the hard wall-clock budget for one scraper invocation.
func (cfg *Config) ScrapeTimeout(source string) time.Duration {
	if source == models.SourceFacebook {
		return cfg.Scrapers.FacebookTimeout
	}
	return cfg.Scrapers.OLXTimeout
}
