// internal/util/util.go
// Configuration loading: defaults, then an optional JSON file, then environment variables.
package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/erilali/relay/internal/logger"
	"github.com/nats-io/nats.go"
)

// Config is the relay's runtime configuration.
type Config struct {
	Port             int      `json:"port" env:"PORT"`
	NatsURL          string   `json:"nats_url" env:"NATS_URL"`
	AllowedOrigins   []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AllowCredentials bool     `json:"allow_credentials" env:"ALLOW_CREDENTIALS"`
	JWTSecret        string   `json:"jwt_secret" env:"JWT_SECRET"`
	SendBuffer       int      `json:"send_buffer" env:"SEND_BUFFER_SIZE"`
	MaxMessageSize   int64    `json:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	// StreamRetention is how long JetStream keeps presence events.
	StreamRetention time.Duration    `json:"-" env:"STREAM_RETENTION"`
	Logger          logger.LogConfig `json:"logger"`
}

func DefaultConfig() Config {
	return Config{
		Port:    10000,
		NatsURL: nats.DefaultURL,
		AllowedOrigins: []string{
			"https://alokikpalghar.com",
			"http://localhost:5173",
		},
		AllowCredentials: true,
		SendBuffer:       256,
		MaxMessageSize:   64 * 1024,
		StreamRetention:  30 * time.Minute,
		Logger:           logger.DefaultLogConfig(),
	}
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("invalid send buffer size %d", c.SendBuffer)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size %d", c.MaxMessageSize)
	}
	return nil
}

// LoadConfig builds the configuration. A missing file is not an error;
// environment variables override file values.
func LoadConfig(filePath string) (Config, error) {
	config := DefaultConfig()
	if filePath != "" {
		if err := decodeFile(filePath, &config); err != nil {
			return config, err
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// LoadLoggerConfig loads the logger configuration from a JSON file
func LoadLoggerConfig(filePath string) (logger.LogConfig, error) {
	config := logger.DefaultLogConfig()
	if err := decodeFile(filePath, &config); err != nil {
		return config, err
	}
	return config, nil
}

func decodeFile(filePath string, target interface{}) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config %s: %w", filePath, err)
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode config %s: %w", filePath, err)
	}
	return nil
}
