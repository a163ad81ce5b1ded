// Package config loads runtime settings from the environment, with an optional
// .env file overlaid first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mahaj/chatwithme/pkg/common"
)

const (
	StoreBadger = "badger"
	StoreScylla = "scylla"
)

// Config holds the settings shared by the api, gateway and migrate binaries.
// ACCESS_SECRET_KEY is the only required value.
type Config struct {
	Port        int    `env:"PORT,default=3000"`
	GatewayPort int    `env:"GATEWAY_PORT,default=8080"`
	Environment string `env:"ENV,default=dev"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`

	SecretKey   string        `env:"ACCESS_SECRET_KEY"`
	TokenTTL    time.Duration `env:"ACCESS_SECRET_TIME,default=15m"`
	TokenIssuer string        `env:"TOKEN_ISSUER,default=chatwithme"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerPath     string `env:"BADGER_PATH,default=data/chat"`
	ScyllaHosts    string `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace string `env:"SCYLLA_KEYSPACE,default=chat"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=chat-messages"`
	RedisAddr    string `env:"REDIS_ADDR"`

	AllowedOrigin string `env:"ALLOWED_ORIGIN,default=http://localhost:3001"`
	SnowflakeNode int64  `env:"SNOWFLAKE_NODE,default=1"`

	AdminName     string `env:"ADMIN_NAME,default=admin1"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !isMissingFile(err) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return &cfg, nil
}

// Validate reports configuration errors that must stop the process.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, common.ErrorSigningKeyMissing)
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_SECRET_TIME must be positive, got %s", c.TokenTTL))
	}
	switch c.StoreDriver {
	case StoreBadger, StoreScylla:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", common.ErrorUnknownStoreDriver, c.StoreDriver))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool { return c.Environment == "production" }

func (c *Config) Brokers() []string { return splitList(c.KafkaBrokers) }

func (c *Config) Scylla() []string { return splitList(c.ScyllaHosts) }

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func (c *Config) GatewayAddr() string { return fmt.Sprintf(":%d", c.GatewayPort) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
