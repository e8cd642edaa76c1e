package audioio

import (
	"errors"
	"time"
)

// Sentinel errors for the audioio package.
var (
	// ErrPermissionDenied indicates the input device could not be acquired.
	ErrPermissionDenied = errors.New("audioio: input device unavailable")

	// ErrClosed indicates the device has been released.
	ErrClosed = errors.New("audioio: device closed")
)

// AudioFrame is a fixed-length run of interleaved float samples in [-1, 1].
// A frame is immutable once produced and is handed from stage to stage
// rather than shared.
type AudioFrame struct {
	// Samples contains interleaved float samples.
	Samples []float32

	// SampleRate is the sample rate of this frame in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int
}

// Len returns the number of samples per channel.
func (f AudioFrame) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback length of this frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(f.SampleRate)
}
