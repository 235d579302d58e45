package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	TransportSMTP    = "smtp"
	TransportWebhook = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	EventsURL   string `env:"EVENTS_AMQP_URL"`

	MailTransport          string `env:"MAIL_TRANSPORT,default=smtp"`
	SMTPHost               string `env:"SMTP_HOST"`
	SMTPPort               int    `env:"SMTP_PORT,default=587"`
	SMTPUser               string `env:"SMTP_USER"`
	SMTPPassword           string `env:"SMTP_PASSWORD"`
	SMTPFrom               string `env:"SMTP_FROM"`
	SMTPFromName           string `env:"SMTP_FROM_NAME"`
	SMTPInsecureSkipVerify bool   `env:"SMTP_INSECURE_SKIP_VERIFY,default=false"`
	MailWebhookURL         string `env:"MAIL_WEBHOOK_URL"`

	PollIntervalRaw      string `env:"POLL_INTERVAL,default=60s"`
	PollBatchSize        int    `env:"POLL_BATCH_SIZE,default=10"`
	MaxAttempts          int    `env:"MAX_ATTEMPTS,default=3"`
	DispatchConcurrency  int    `env:"DISPATCH_CONCURRENCY,default=1"`
	SendTimeoutRaw       string `env:"SEND_TIMEOUT,default=30s"`
	StaleSendingAfterRaw string `env:"STALE_SENDING_AFTER,default=10m"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=10"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	PollInterval      time.Duration
	SendTimeout       time.Duration
	StaleSendingAfter time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN must not be empty")
	}

	var err error
	if c.PollInterval, err = parsePositiveDuration("POLL_INTERVAL", c.PollIntervalRaw); err != nil {
		return err
	}
	if c.SendTimeout, err = parsePositiveDuration("SEND_TIMEOUT", c.SendTimeoutRaw); err != nil {
		return err
	}
	if c.StaleSendingAfter, err = parsePositiveDuration("STALE_SENDING_AFTER", c.StaleSendingAfterRaw); err != nil {
		return err
	}

	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))
	switch c.MailTransport {
	case TransportSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" || strings.TrimSpace(c.SMTPFrom) == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when MAIL_TRANSPORT=smtp")
		}
	case TransportWebhook:
		if strings.TrimSpace(c.MailWebhookURL) == "" {
			return fmt.Errorf("MAIL_WEBHOOK_URL is required when MAIL_TRANSPORT=webhook")
		}
	default:
		return fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.PollBatchSize <= 0 {
		return fmt.Errorf("POLL_BATCH_SIZE must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive")
	}
	if c.DispatchConcurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive")
	}
	return nil
}

func parsePositiveDuration(name string, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
