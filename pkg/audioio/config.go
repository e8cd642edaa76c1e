// Package audioio provides the audio device boundary: microphone capture
// and clock-scheduled speaker output.
//
// This package supports multiple backends:
//   - PortAudio - real devices on Linux and macOS (build with -tags portaudio)
//   - Timer - a silent output driven by the wall clock
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on build tags, or can be
// explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendTimer plays nothing but keeps a real-time output clock.
	BackendTimer Backend = "timer"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration for one direction (input or output).
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (PortAudio when compiled in, mock otherwise)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 for input, 24000 for output.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameSize is the number of samples per channel in one device frame.
	// Default: 4096
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// Device is the platform-specific device name.
	// Empty selects the system default device.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns the capture configuration: 16 kHz mono, 4096-sample frames.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  4096,
	}
}

// DefaultOutputConfig returns the playback configuration: 24 kHz mono.
func DefaultOutputConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: 24000,
		Channels:   1,
		FrameSize:  1024,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	switch c.Backend {
	case "", BackendAuto, BackendPortAudio, BackendTimer, BackendMock:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	return nil
}

// FrameDuration returns the wall-clock length of one device frame.
func (c *Config) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}
