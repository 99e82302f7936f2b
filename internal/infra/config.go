package infra

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`
	Port   string `envconfig:"PORT" default:"8080"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimitPerMin    int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"`

	DcconBaseURL      string `envconfig:"DCCON_BASE_URL" default:""`
	DcconImageBaseURL string `envconfig:"DCCON_IMAGE_BASE_URL" default:""`
	DcconUserAgent    string `envconfig:"DCCON_USER_AGENT" default:""`

	JobRetention  time.Duration `envconfig:"JOB_RETENTION" default:"30m"`
	SessionJobCap int           `envconfig:"SESSION_JOB_CAP" default:"15"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if cfg.JobRetention <= 0 {
		return nil, fmt.Errorf("JOB_RETENTION must be positive")
	}
	if cfg.SessionJobCap <= 0 {
		return nil, fmt.Errorf("SESSION_JOB_CAP must be positive")
	}
	if cfg.RateLimitPerMin < 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}

	return cfg, nil
}
