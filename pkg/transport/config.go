package transport

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

const (
	// DefaultEndpoint is the Gemini Live bidirectional streaming endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultModel is a native-audio Live model.
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt synthesis voice.
	DefaultVoice = "Zephyr"

	// DefaultSystemInstruction is the persona used when none is configured.
	DefaultSystemInstruction = "You are a friendly and helpful conversational assistant. Keep replies short and natural for speech."
)

// Config holds configuration for transport backends.
type Config struct {
	// APIKey authenticates with the Gemini API.
	APIKey string

	// Endpoint overrides the WebSocket URL (GeminiLive) or API base URL (GenAI).
	Endpoint string

	// HandshakeTimeout bounds the WebSocket upgrade. Session setup itself is
	// bounded only by the Open context.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outbound frame and the close handshake.
	WriteTimeout time.Duration

	// SendQueueSize is the number of chunks buffered for the write pump.
	SendQueueSize int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:         DefaultEndpoint,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendQueueSize:    8,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.SendQueueSize <= 0 {
		return errors.New("transport: send queue size must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("transport: write timeout must be positive")
	}
	return nil
}

// Option is a functional option for configuring transports.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithEndpoint overrides the service endpoint.
func WithEndpoint(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.Endpoint = url
		}
	}
}

// WithHandshakeTimeout sets the WebSocket handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithWriteTimeout sets the per-write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithSendQueueSize sets the outbound queue depth.
func WithSendQueueSize(n int) Option {
	return func(c *Config) {
		c.SendQueueSize = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// SessionConfig is the fixed configuration sent when a session opens.
// Response modality is always audio and transcription is always enabled in
// both directions.
type SessionConfig struct {
	// Model is the Live model name, with or without the "models/" prefix.
	Model string `yaml:"model" json:"model"`

	// Voice is the prebuilt synthesis voice.
	Voice string `yaml:"voice" json:"voice"`

	// SystemInstruction is the persona prompt.
	SystemInstruction string `yaml:"system_instruction" json:"system_instruction"`

	// InputSampleRate is the rate of outbound audio.
	InputSampleRate int `yaml:"input_sample_rate" json:"input_sample_rate"`

	// OutputSampleRate is assumed for inbound audio whose MIME type has no rate.
	OutputSampleRate int `yaml:"output_sample_rate" json:"output_sample_rate"`
}

// DefaultSessionConfig returns the standard session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:             DefaultModel,
		Voice:             DefaultVoice,
		SystemInstruction: DefaultSystemInstruction,
		InputSampleRate:   pcm.InputSampleRate,
		OutputSampleRate:  pcm.OutputSampleRate,
	}
}

// withDefaults fills unset fields.
func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = d.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = d.OutputSampleRate
	}
	return c
}
