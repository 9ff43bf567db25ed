// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Sandbox backends.
const (
	BackendCLI = "cli"
	BackendAPI = "api"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	SandboxBackend string `env:"SANDBOX_BACKEND" envDefault:"cli"`
	DockerBinary   string `env:"DOCKER_BINARY" envDefault:"docker"`
	ProfilesPath   string `env:"PROFILES_PATH"`
	EnsureImages   bool   `env:"ENSURE_IMAGES" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"` // empty keeps events in-process
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"codebox:events"`

	TSCPath          string        `env:"TSC_PATH" envDefault:"tsc"`
	TypeCheckTimeout time.Duration `env:"TYPECHECK_TIMEOUT" envDefault:"15s"`

	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"2s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"2"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// DirectConcurrency bounds synchronous compilations that bypass the queue.
	DirectConcurrency int `env:"DIRECT_CONCURRENCY" envDefault:"4"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.SandboxBackend {
	case BackendCLI, BackendAPI:
	default:
		return fmt.Errorf("SANDBOX_BACKEND must be %q or %q, got %q", BackendCLI, BackendAPI, c.SandboxBackend)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be positive, got %s", c.ShutdownGrace)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.DirectConcurrency < 1 {
		return fmt.Errorf("DIRECT_CONCURRENCY must be at least 1, got %d", c.DirectConcurrency)
	}
	return nil
}

// Logger builds the root logger. Console output is used unless LogJSON is set.
func (c *Config) Logger() zerolog.Logger {
	return NewLogger(os.Stderr, c.LogLevel, c.LogJSON)
}

func NewLogger(out io.Writer, level string, json bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if !json {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
