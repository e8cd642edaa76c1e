package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), either on a ticker
// matching the frame duration or on demand via Emit.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	manual   bool
	streamCh chan AudioFrame
	stopCh   chan struct{}
	loopDone chan struct{}

	// Stats
	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFrames disables the ticker; frames are produced only by Emit.
func WithManualFrames() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioFrame, 1),
		stopCh:    make(chan struct{}),
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioFrame, 1)

	if !m.manual {
		m.loopDone = make(chan struct{})
		go m.generateLoop(ctx, m.stopCh, m.loopDone)
	}

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"manual", m.manual,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.running {
				m.deliverLocked(m.generateFrame())
			}
			m.mu.Unlock()
		}
	}
}

// Emit generates one frame and offers it to the consumer.
// It returns false if the source is not running or the frame was dropped
// because the previous one has not been consumed.
func (m *MockSource) Emit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	return m.deliverLocked(m.generateFrame())
}

// deliverLocked must hold m.mu so Stop cannot close the channel mid-send.
func (m *MockSource) deliverLocked(frame AudioFrame) bool {
	select {
	case m.streamCh <- frame:
		m.framesRead.Add(1)
		m.samplesRead.Add(int64(len(frame.Samples)))
		return true
	default:
		// Consumer still holds the previous frame (overrun)
		m.overruns.Add(1)
		m.logger.Debug("mock source: frame in flight, dropping frame")
		return false
	}
}

func (m *MockSource) generateFrame() AudioFrame {
	frameSize := m.cfg.FrameSize
	samples := make([]float32, frameSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frameSize; i++ {
			sample := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))

			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sample
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	// else: samples are already zero (silence)

	return AudioFrame{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.loopDone
	m.loopDone = nil
	close(m.streamCh)
	m.mu.Unlock()

	if done != nil {
		<-done
	}

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read reads the next audio frame.
func (m *MockSource) Read(ctx context.Context) (AudioFrame, error) {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

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
func (m *MockSource) Frames() <-chan AudioFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Closed reports whether Close has been called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		FramesRead:  m.framesRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// ScheduledBuffer records one Schedule call on a MockOutput.
type ScheduledBuffer struct {
	Frame    AudioFrame
	Start    time.Duration
	Duration time.Duration
}

// MockOutput is a mock audio output with a manually advanced clock.
// Tests move time forward with Advance; voices whose end time has been
// reached fire their completion callbacks in end-time order.
type MockOutput struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	now       time.Duration
	closed    bool
	voices    []*mockVoice
	scheduled []ScheduledBuffer
	failNext  error

	ended   atomic.Int64
	stopped atomic.Int64
}

type mockVoice struct {
	out     *MockOutput
	end     time.Duration
	onEnded func()
	done    bool
}

// Stop implements Voice.
func (v *mockVoice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	if v.done {
		return
	}
	v.done = true
	v.out.stopped.Add(1)
}

// NewMockOutput creates a new mock output with its clock at zero.
func NewMockOutput(cfg Config, logger *slog.Logger) *MockOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockOutput{cfg: cfg, logger: logger}
}

// Now implements Output.
func (m *MockOutput) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Schedule implements Output.
func (m *MockOutput) Schedule(frame AudioFrame, at time.Duration, onEnded func()) (Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}

	d := frame.Duration()
	v := &mockVoice{out: m, end: at + d, onEnded: onEnded}
	m.voices = append(m.voices, v)
	m.scheduled = append(m.scheduled, ScheduledBuffer{Frame: frame, Start: at, Duration: d})
	return v, nil
}

// Advance moves the clock forward and fires completions for every voice
// that has finished by the new time.
func (m *MockOutput) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	now := m.now

	var fire []*mockVoice
	remaining := m.voices[:0]
	for _, v := range m.voices {
		switch {
		case v.done:
		case v.end <= now:
			v.done = true
			fire = append(fire, v)
		default:
			remaining = append(remaining, v)
		}
	}
	m.voices = remaining
	m.mu.Unlock()

	sortVoicesByEnd(fire)
	for _, v := range fire {
		m.ended.Add(1)
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}

func sortVoicesByEnd(vs []*mockVoice) {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j].end < vs[j-1].end; j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}

// FailNext makes the next Schedule call return err.
func (m *MockOutput) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Scheduled returns every buffer scheduled so far.
func (m *MockOutput) Scheduled() []ScheduledBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ScheduledBuffer(nil), m.scheduled...)
}

// Config returns the audio configuration.
func (m *MockOutput) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockOutput) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stats returns output statistics.
func (m *MockOutput) Stats() OutputStats {
	m.mu.Lock()
	pending := 0
	for _, v := range m.voices {
		if !v.done {
			pending++
		}
	}
	scheduled := int64(len(m.scheduled))
	m.mu.Unlock()

	return OutputStats{
		Scheduled: scheduled,
		Ended:     m.ended.Load(),
		Stopped:   m.stopped.Load(),
		Pending:   pending,
		Backend:   "mock",
	}
}

// Ensure MockOutput implements OutputWithStats.
var _ OutputWithStats = (*MockOutput)(nil)
