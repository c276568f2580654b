package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	DialTimeout time.Duration `envconfig:"SMTP_DIAL_TIMEOUT" default:"30s"`

	// ----------------------------
	// Sending
	// ----------------------------
	SendDelay   time.Duration `envconfig:"SEND_DELAY" default:"1500ms"`
	HourlyLimit int           `envconfig:"HOURLY_LIMIT" default:"0"` // 0 disables the shared cap
	MaxUploadMB int64         `envconfig:"MAX_UPLOAD_MB" default:"16"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
