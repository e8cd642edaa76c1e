//go:build !portaudio

package audioio

import (
	"errors"
	"log/slog"
)

const portAudioAvailable = false

var errNoPortAudio = errors.New("PortAudio support not compiled in (build with -tags portaudio)")

// newPortAudioSource returns an error when built without the portaudio tag.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, errNoPortAudio
}

// newPortAudioOutput returns an error when built without the portaudio tag.
func newPortAudioOutput(cfg Config, logger *slog.Logger) (Output, error) {
	return nil, errNoPortAudio
}
