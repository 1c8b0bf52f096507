package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                     int    `env:"PORT" envDefault:"8080"`
	DatabaseURL              string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL                 string `env:"REDIS_URL,required,notEmpty"`
	AMQPURL                  string `env:"AMQP_URL,required,notEmpty"`
	GatewayBaseURL           string `env:"GATEWAY_BASE_URL,required,notEmpty"`
	GatewayAPIKey            string `env:"GATEWAY_API_KEY"`
	WebhookSignatureSecret   string `env:"WEBHOOK_SIGNATURE_SECRET"`
	PollIntervalSeconds      int    `env:"POLL_INTERVAL_SECONDS" envDefault:"10"`
	PollLookbackSeconds      int    `env:"POLL_LOOKBACK_SECONDS" envDefault:"120"`
	ProcessedEventRetentionD int    `env:"PROCESSED_EVENT_RETENTION_DAYS" envDefault:"30"`
	LogLevel                 string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) PollLookback() time.Duration {
	return time.Duration(c.PollLookbackSeconds) * time.Second
}

func (c *Config) ProcessedEventRetention() time.Duration {
	return time.Duration(c.ProcessedEventRetentionD) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1")
	}
	if !strings.HasPrefix(c.GatewayBaseURL, "http://") && !strings.HasPrefix(c.GatewayBaseURL, "https://") {
		return fmt.Errorf("GATEWAY_BASE_URL must be an http(s) URL")
	}

	if isProduction {
		if c.WebhookSignatureSecret == "" {
			log.Warn().Msg("WEBHOOK_SIGNATURE_SECRET is empty in production: webhook signature verification disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if strings.HasPrefix(c.GatewayBaseURL, "http://") {
			log.Warn().Msg("GATEWAY_BASE_URL is not https in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
