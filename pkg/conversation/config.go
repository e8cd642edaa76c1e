package conversation

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/metrics"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// Config holds configuration for a Controller.
type Config struct {
	// Session is passed to the transport on every start.
	Session transport.SessionConfig

	// CloseTimeout bounds how long Stop waits for the remote release.
	// A slower close continues in the background.
	CloseTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Metrics receives instrumentation. Nil disables it.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session:      transport.DefaultSessionConfig(),
		CloseTimeout: 2 * time.Second,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.CloseTimeout <= 0 {
		return errors.New("conversation: close timeout must be positive")
	}
	return nil
}

// Option is a functional option for configuring a Controller.
type Option func(*Config)

// WithSessionConfig sets the session configuration.
func WithSessionConfig(sc transport.SessionConfig) Option {
	return func(c *Config) {
		c.Session = sc
	}
}

// WithCloseTimeout sets the close timeout.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CloseTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}
