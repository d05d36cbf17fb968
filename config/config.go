// Package config loads the service configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLX     = "postgres-sqlx"
	StoreDriverMemory   = "memory"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":4000"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	BooksTable  string `env:"BOOKS_TABLE" envDefault:"books"`

	NatsURL        string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	QueueName      string        `env:"QUEUE_NAME" envDefault:"messages"`
	ConsumerName   string        `env:"CONSUMER_NAME" envDefault:"catalog-service"`
	Concurrency    int           `env:"CONSUMER_CONCURRENCY" envDefault:"1"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
	FetchWait      time.Duration `env:"FETCH_WAIT" envDefault:"5s"`
	AckWait        time.Duration `env:"ACK_WAIT" envDefault:"30s"`
	MaxDeliver     int           `env:"MAX_DELIVER" envDefault:"-1"`

	JWTSecret   string `env:"JWT_SECRET"`
	ListAllCap  int    `env:"LIST_ALL_CAP" envDefault:"1000"`
	MaxPageSize int    `env:"MAX_PAGE_SIZE" envDefault:"100"`

	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	APMEnabled bool   `env:"APM_ENABLED" envDefault:"false"`
}

// ParseEnv fills target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return errors.Wrap(err, "parse env")
	}

	return nil
}

// Load parses and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLX:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.Newf("POSTGRES_DSN is required for store driver %s", c.StoreDriver)
		}
	case StoreDriverMemory:
	default:
		return errors.Newf("unknown store driver %q", c.StoreDriver)
	}

	if strings.TrimSpace(c.QueueName) == "" {
		return errors.New("QUEUE_NAME must not be empty")
	}

	if c.Concurrency < 1 {
		return errors.Newf("CONSUMER_CONCURRENCY must be positive, got %d", c.Concurrency)
	}

	if c.ListAllCap < 1 || c.MaxPageSize < 1 {
		return errors.New("LIST_ALL_CAP and MAX_PAGE_SIZE must be positive")
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "LOG_LEVEL %q", c.LogLevel)
	}

	return level, nil
}
