package audioio

import (
	"io"
	"time"
)

// Output schedules audio buffers against a monotonically advancing device clock.
type Output interface {
	// Now returns the current position of the output clock.
	// The clock starts at zero when the device is opened.
	Now() time.Duration

	// Schedule arranges for frame to start playing exactly at the given clock
	// time. onEnded fires once the frame has played to completion; it is never
	// called from inside Schedule, never while the output holds its own locks,
	// and never for a voice that was stopped.
	Schedule(frame AudioFrame, at time.Duration, onEnded func()) (Voice, error)

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "timer", "mock").
	Name() string

	// Close releases the output device.
	io.Closer
}

// Voice is one scheduled buffer on an Output.
type Voice interface {
	// Stop silences the voice immediately. It is safe to call more than once
	// and after the voice has ended.
	Stop()
}

// OutputStats contains statistics about an output.
type OutputStats struct {
	// Scheduled is the total number of buffers scheduled.
	Scheduled int64 `json:"scheduled"`

	// Ended is the number of buffers that played to completion.
	Ended int64 `json:"ended"`

	// Stopped is the number of buffers force-stopped.
	Stopped int64 `json:"stopped"`

	// Pending is the number of buffers still scheduled or playing.
	Pending int `json:"pending"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// OutputWithStats extends Output with statistics.
type OutputWithStats interface {
	Output
	Stats() OutputStats
}
