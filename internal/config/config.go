// Package config loads livetalk configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey       = "GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
	EnvTransport    = "LIVETALK_TRANSPORT"
	EnvAddr         = "LIVETALK_ADDR"
	EnvLogLevel     = "LOG_LEVEL"
)

// ErrMissingAPIKey is returned by Validate when no key was configured.
var ErrMissingAPIKey = errors.New("config: api key is required (set GEMINI_API_KEY)")

// Config represents the complete livetalk configuration
type Config struct {
	// APIKey normally comes from the environment rather than the file.
	APIKey string `yaml:"api_key"`

	// Transport selects the session backend: "websocket" or "genai".
	Transport string `yaml:"transport"`

	// Endpoint overrides the Live API endpoint.
	Endpoint string `yaml:"endpoint"`

	Session transport.SessionConfig `yaml:"session"`

	Input  audioio.Config `yaml:"input"`
	Output audioio.Config `yaml:"output"`

	HTTP HTTPConfig `yaml:"http"`
	Log  LogConfig  `yaml:"log"`

	// CloseTimeout bounds how long stop waits for the remote release.
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// HTTPConfig contains dashboard server configuration
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport:    transport.BackendWebSocket,
		Session:      transport.DefaultSessionConfig(),
		Input:        audioio.DefaultConfig(),
		Output:       audioio.DefaultOutputConfig(),
		HTTP:         HTTPConfig{Addr: ":8080"},
		Log:          LogConfig{Level: "info"},
		CloseTimeout: 2 * time.Second,
	}
}

// Load reads the configuration file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.APIKey = envOr(EnvAPIKey, envOr(EnvGoogleAPIKey, c.APIKey))
	c.Transport = envOr(EnvTransport, c.Transport)
	c.HTTP.Addr = envOr(EnvAddr, c.HTTP.Addr)
	c.Log.Level = envOr(EnvLogLevel, c.Log.Level)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the complete configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}

	switch c.Transport {
	case transport.BackendWebSocket, transport.BackendGenAI:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q",
			transport.BackendWebSocket, transport.BackendGenAI, c.Transport)
	}

	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input config: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if c.HTTP.Addr == "" {
		return errors.New("http addr cannot be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("close_timeout must be positive, got %v", c.CloseTimeout)
	}
	return nil
}
