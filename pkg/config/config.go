package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the settings shared by the gateway, the API and the client.
type Config struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092" validate:"required_if=LogBackend kafka"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"chat-messages"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required"`

	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042" validate:"required_if=LogBackend scylla"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`

	PebbleDir string `env:"PEBBLE_DIR" envDefault:"data/log"`

	// LogBackend selects the durable append log behind the gateway.
	LogBackend string `env:"LOG_BACKEND" envDefault:"kafka" validate:"oneof=kafka scylla pebble memory"`

	GatewayAddr string `env:"GATEWAY_ADDR" envDefault:":8080"`
	APIAddr     string `env:"API_ADDR" envDefault:":8081"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"my_secret_key" validate:"required"`

	MediaDir        string `env:"MEDIA_DIR" envDefault:"media"`
	MediaBaseURL    string `env:"MEDIA_BASE_URL" envDefault:"http://localhost:8081/media" validate:"url"`
	UploadRoot      string `env:"UPLOAD_ROOT" envDefault:"chat"`
	UploadChunkSize int64  `env:"UPLOAD_CHUNK_SIZE" envDefault:"262144" validate:"gt=0"`

	TypingTTL time.Duration `env:"TYPING_TTL" envDefault:"10s" validate:"gt=0"`
	EmojiFile string        `env:"EMOJI_FILE"`

	NodeID int64 `env:"NODE_ID" envDefault:"1" validate:"gte=0,lte=1023"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		slog.Debug("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// TypingRefresh is how often an active typing entry is rewritten so it
// outlives its TTL while the user keeps typing.
func (c *Config) TypingRefresh() time.Duration {
	return c.TypingTTL / 2
}
