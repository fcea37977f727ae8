// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	ScopeAll          = "all"
	ScopeParticipants = "participants"
)

type Config struct {
	HTTPAddr string `env:"DM_HTTP_ADDR,default=:8080" validate:"required"`

	// Empty DB_DSN runs the server on in-memory stores.
	DatabaseURL string `env:"DB_DSN"`
	DBMaxConns  int    `env:"DM_DB_MAX_CONNS,default=25" validate:"gt=0"`

	// Empty REDIS_ADDR keeps fan-out local to this instance.
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"DM_REDIS_CHANNEL,default=dm-events" validate:"required"`

	LogLevel  string `env:"DM_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogPretty bool   `env:"DM_LOG_PRETTY,default=false"`

	BroadcastScope string `env:"DM_BROADCAST_SCOPE,default=all" validate:"oneof=all participants"`
	SendQueueSize  int    `env:"DM_SEND_QUEUE_SIZE,default=256" validate:"gt=0"`

	ShutdownTimeoutSeconds int `env:"DM_SHUTDOWN_TIMEOUT_SECONDS,default=10" validate:"gt=0"`
}

var validate = validator.New()

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, check(cfg)
}

// LoadFrom reads an explicit variable set.
func LoadFrom(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, check(cfg)
}

func check(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
