package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v7"
	"github.com/joho/godotenv"
)

// Config is the process configuration, loaded from the environment with an
// optional .env overlay for local development.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	JWT   JWTConfig
	Kafka KafkaConfig

	RateLimitRPS   float64       `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"40"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	Version string `env:"APP_VERSION" envDefault:"dev"`
	Commit  string `env:"APP_COMMIT" envDefault:"none"`
}

type JWTConfig struct {
	Secret string        `env:"JWT_SECRET"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"amexing-admin"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"12h"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_ACCOUNT_TOPIC" envDefault:"account-lifecycle"`
}

// Enabled reports whether lifecycle publishing is configured at all.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// New loads configuration. A missing .env file is fine; a malformed one is
// not.
func New(envPath string) (Config, error) {
	var c Config

	if envPath != "" {
		err := godotenv.Load(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}

	if c.JWT.Secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	return c, nil
}
