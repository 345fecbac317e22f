// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Addr string `env:"ADDR" envDefault:":8080"`

	// DatabaseURL is a Postgres DSN. The server refuses to start
	// without one; the realtime relay alone has no meaning if sessions
	// cannot be created.
	DatabaseURL string `env:"DATABASE_URL,required"`

	// NATSURL enables the cross-node relay bridge when set. Empty
	// means single-node.
	NATSURL string `env:"NATS_URL"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) IsDevelopment() bool { return c.Env == "development" }
