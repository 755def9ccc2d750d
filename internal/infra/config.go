package infra

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents static application configuration loaded from environment
// variables. Operational knobs that must change without a restart (per-type
// coin costs, queue retry policy, poll cadence) are not here; they live in
// the settings store.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`
	Port   string `envconfig:"PORT" default:"8080"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	ProviderBaseURL string `envconfig:"PROVIDER_BASE_URL" default:"https://api.artforge.example/v1"`
	ProviderAPIKey  string `envconfig:"PROVIDER_API_KEY"`

	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"3"`
	QueuePurgeSpec    string        `envconfig:"QUEUE_PURGE_SPEC" default:"0 * * * *"`
	QueueRetention    time.Duration `envconfig:"QUEUE_RETENTION" default:"72h"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	AllowedOrigins   []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
