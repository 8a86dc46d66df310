package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// AppURL is used to derive the allowed WebSocket origin. Empty allows
	// same-origin and non-browser clients only.
	AppURL string `env:"APP_URL"`

	Room string `env:"CHAT_ROOM" default:"chat_room"`

	MaxConnections      int64   `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`
	MaxClientsPerRoom   int     `env:"MAX_CLIENTS_PER_ROOM" default:"500"`

	HistoryReplayLimit int `env:"HISTORY_REPLAY_LIMIT" default:"50"`
	RecorderBufferSize int `env:"RECORDER_BUFFER_SIZE" default:"1024"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.Room == "" {
		return fmt.Errorf("CHAT_ROOM must not be empty")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", cfg.MaxConnectionsPerIP)
	}
	if cfg.ConnectionRate <= 0 {
		return fmt.Errorf("CONNECTION_RATE_PER_SECOND must be positive, got %f", cfg.ConnectionRate)
	}
	if cfg.MaxClientsPerRoom <= 0 {
		return fmt.Errorf("MAX_CLIENTS_PER_ROOM must be positive, got %d", cfg.MaxClientsPerRoom)
	}
	if cfg.HistoryReplayLimit < 0 {
		return fmt.Errorf("HISTORY_REPLAY_LIMIT must not be negative, got %d", cfg.HistoryReplayLimit)
	}

	return nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv != "production"
}
