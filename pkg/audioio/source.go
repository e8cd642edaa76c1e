package audioio

import (
	"context"
	"io"
)

// Source captures audio from a microphone or other input device.
//
// Implementations deliver frames through a channel with room for a single
// in-flight frame. The device callback never waits on the consumer: when the
// previous frame has not been taken yet, the new one is dropped and counted
// as an overrun.
type Source interface {
	// Start begins audio capture.
	// After calling Start, frames will be available via Read or Frames.
	Start(ctx context.Context) error

	// Stop halts audio capture and closes the Frames channel.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next frame, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioFrame, error)

	// Frames returns the channel that receives captured frames.
	// The channel is closed when the source is stopped.
	Frames() <-chan AudioFrame

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close stops capture and releases the device.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// FramesRead is the total number of frames delivered.
	FramesRead int64 `json:"frames_read"`

	// SamplesRead is the total number of samples delivered.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of frames dropped because the consumer lagged.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}
