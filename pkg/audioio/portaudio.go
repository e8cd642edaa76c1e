//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// openStream opens a callback-driven stream on the configured or default device.
func openStream(cfg Config, input bool, callback any) (*portaudio.Stream, error) {
	if cfg.Device == "" {
		in, out := 0, cfg.Channels
		if input {
			in, out = cfg.Channels, 0
		}
		return portaudio.OpenDefaultStream(in, out, float64(cfg.SampleRate), cfg.FrameSize, callback)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name != cfg.Device {
			continue
		}
		var params portaudio.StreamParameters
		if input {
			params = portaudio.LowLatencyParameters(d, nil)
			params.Input.Channels = cfg.Channels
		} else {
			params = portaudio.LowLatencyParameters(nil, d)
			params.Output.Channels = cfg.Channels
		}
		params.SampleRate = float64(cfg.SampleRate)
		params.FramesPerBuffer = cfg.FrameSize
		return portaudio.OpenStream(params, callback)
	}
	return nil, fmt.Errorf("device %q not found", cfg.Device)
}

// PortAudioSource captures microphone audio through PortAudio.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger
	stream *portaudio.Stream

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioFrame

	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// newPortAudioSource opens the input device. Capture begins on Start.
func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	s := &PortAudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioFrame, 1),
	}

	stream, err := openStream(cfg, true, s.process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	s.stream = stream

	logger.Info("portaudio source opened",
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"frame_size", cfg.FrameSize,
	)

	return s, nil
}

// process runs on the PortAudio callback thread and must not block.
func (s *PortAudioSource) process(in []float32) {
	frame := AudioFrame{
		Samples:    append([]float32(nil), in...),
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.streamCh <- frame:
		s.framesRead.Add(1)
		s.samplesRead.Add(int64(len(frame.Samples)))
	default:
		s.overruns.Add(1)
	}
}

// Start begins audio capture.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.streamCh = make(chan AudioFrame, 1)
	s.mu.Unlock()

	if err := s.stream.Start(); err != nil {
		s.mu.Lock()
		s.running = false
		close(s.streamCh)
		s.mu.Unlock()
		return fmt.Errorf("start input stream: %w", err)
	}

	s.logger.Info("portaudio source started")
	return nil
}

// Stop halts audio capture.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.streamCh)
	s.mu.Unlock()

	// Stop waits for the callback to return, so it runs without s.mu held.
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop input stream: %w", err)
	}
	s.logger.Info("portaudio source stopped")
	return nil
}

// Read reads the next audio frame.
func (s *PortAudioSource) Read(ctx context.Context) (AudioFrame, error) {
	ch := s.Frames()
	select {
	case <-ctx.Done():
		return AudioFrame{}, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return AudioFrame{}, io.EOF
		}
		return frame, nil
	}
}

// Frames returns the audio frame channel.
func (s *PortAudioSource) Frames() <-chan AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSource) Name() string {
	return "portaudio"
}

// Close stops capture and releases the device.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	stopErr := s.Stop()
	closeErr := s.stream.Close()
	portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

// PortAudioOutput mixes scheduled voices into a PortAudio output stream.
// Its clock is the number of frames rendered so far.
type PortAudioOutput struct {
	cfg    Config
	logger *slog.Logger
	stream *portaudio.Stream

	mu       sync.Mutex
	position int64
	tail     int64
	tailAt   time.Duration
	voices   []*portAudioVoice
	closed   bool

	scheduled atomic.Int64
	ended     atomic.Int64
	stopped   atomic.Int64
}

type portAudioVoice struct {
	out     *PortAudioOutput
	start   int64
	samples []float32
	onEnded func()
	done    bool
}

// Stop implements Voice.
func (v *portAudioVoice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	if v.done {
		return
	}
	v.done = true
	v.out.stopped.Add(1)
}

// newPortAudioOutput opens and starts the output device.
func newPortAudioOutput(cfg Config, logger *slog.Logger) (Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	o := &PortAudioOutput{cfg: cfg, logger: logger}

	stream, err := openStream(cfg, false, o.render)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	o.stream = stream

	logger.Info("portaudio output started",
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
	)

	return o, nil
}

// render runs on the PortAudio callback thread.
func (o *PortAudioOutput) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	channels := int64(o.cfg.Channels)
	n := int64(len(out)) / channels

	var finished []func()

	o.mu.Lock()
	pos := o.position
	live := o.voices[:0]
	for _, v := range o.voices {
		if v.done {
			continue
		}
		length := int64(len(v.samples)) / channels
		for i := int64(0); i < n; i++ {
			idx := pos + i - v.start
			if idx < 0 {
				continue
			}
			if idx >= length {
				break
			}
			for ch := int64(0); ch < channels; ch++ {
				out[i*channels+ch] += v.samples[idx*channels+ch]
			}
		}
		if v.start+length <= pos+n {
			v.done = true
			finished = append(finished, v.onEnded)
			continue
		}
		live = append(live, v)
	}
	o.voices = live
	o.position = pos + n
	o.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}

	for _, fn := range finished {
		o.ended.Add(1)
		if fn != nil {
			go fn()
		}
	}
}

// Now implements Output.
func (o *PortAudioOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SampleTime(o.position, o.cfg.SampleRate)
}

// Schedule implements Output.
func (o *PortAudioOutput) Schedule(frame AudioFrame, at time.Duration, onEnded func()) (Voice, error) {
	converted := ConvertChannels(ResampleFrame(frame, o.cfg.SampleRate), o.cfg.Channels)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	start := chainStart(at, o.tailAt, o.tail, o.cfg.SampleRate)
	o.tail = start + int64(converted.Len())
	o.tailAt = at + frame.Duration()

	v := &portAudioVoice{out: o, start: start, samples: converted.Samples, onEnded: onEnded}
	o.voices = append(o.voices, v)
	o.scheduled.Add(1)
	return v, nil
}

// Config returns the audio configuration.
func (o *PortAudioOutput) Config() Config {
	return o.cfg
}

// Name returns "portaudio".
func (o *PortAudioOutput) Name() string {
	return "portaudio"
}

// Close stops the stream and releases the device.
func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, v := range o.voices {
		v.done = true
	}
	o.voices = nil
	o.mu.Unlock()

	err := o.stream.Stop()
	if cerr := o.stream.Close(); err == nil {
		err = cerr
	}
	portaudio.Terminate()
	return err
}

// Stats returns output statistics.
func (o *PortAudioOutput) Stats() OutputStats {
	o.mu.Lock()
	pending := len(o.voices)
	o.mu.Unlock()

	return OutputStats{
		Scheduled: o.scheduled.Load(),
		Ended:     o.ended.Load(),
		Stopped:   o.stopped.Load(),
		Pending:   pending,
		Backend:   "portaudio",
	}
}

var (
	_ SourceWithStats = (*PortAudioSource)(nil)
	_ OutputWithStats = (*PortAudioOutput)(nil)
)
