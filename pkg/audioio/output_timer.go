package audioio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TimerOutput is a silent output whose clock follows the wall clock.
// Completion callbacks fire from timers at each buffer's end time, which
// makes it a stand-in speaker for headless runs.
type TimerOutput struct {
	cfg    Config
	logger *slog.Logger
	origin time.Time

	mu     sync.Mutex
	closed bool
	voices map[*timerVoice]struct{}

	scheduled atomic.Int64
	ended     atomic.Int64
	stopped   atomic.Int64
}

type timerVoice struct {
	out   *TimerOutput
	timer *time.Timer
	done  atomic.Bool
}

// Stop implements Voice.
func (v *timerVoice) Stop() {
	if !v.done.CompareAndSwap(false, true) {
		return
	}
	v.timer.Stop()
	v.out.forget(v)
	v.out.stopped.Add(1)
}

// NewTimerOutput creates a timer-driven output whose clock starts now.
func NewTimerOutput(cfg Config, logger *slog.Logger) *TimerOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerOutput{
		cfg:    cfg,
		logger: logger,
		origin: time.Now(),
		voices: make(map[*timerVoice]struct{}),
	}
}

// Now implements Output.
func (t *TimerOutput) Now() time.Duration {
	return time.Since(t.origin)
}

// Schedule implements Output.
func (t *TimerOutput) Schedule(frame AudioFrame, at time.Duration, onEnded func()) (Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	v := &timerVoice{out: t}
	wait := at + frame.Duration() - t.Now()
	v.timer = time.AfterFunc(wait, func() {
		if !v.done.CompareAndSwap(false, true) {
			return
		}
		t.forget(v)
		t.ended.Add(1)
		if onEnded != nil {
			onEnded()
		}
	})
	t.voices[v] = struct{}{}
	t.scheduled.Add(1)
	return v, nil
}

func (t *TimerOutput) forget(v *timerVoice) {
	t.mu.Lock()
	delete(t.voices, v)
	t.mu.Unlock()
}

// Config returns the audio configuration.
func (t *TimerOutput) Config() Config {
	return t.cfg
}

// Name returns "timer".
func (t *TimerOutput) Name() string {
	return "timer"
}

// Close stops every pending voice and rejects further scheduling.
func (t *TimerOutput) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := make([]*timerVoice, 0, len(t.voices))
	for v := range t.voices {
		pending = append(pending, v)
	}
	t.mu.Unlock()

	for _, v := range pending {
		v.Stop()
	}
	return nil
}

// Stats returns output statistics.
func (t *TimerOutput) Stats() OutputStats {
	t.mu.Lock()
	pending := len(t.voices)
	t.mu.Unlock()

	return OutputStats{
		Scheduled: t.scheduled.Load(),
		Ended:     t.ended.Load(),
		Stopped:   t.stopped.Load(),
		Pending:   pending,
		Backend:   "timer",
	}
}

// Ensure TimerOutput implements OutputWithStats.
var _ OutputWithStats = (*TimerOutput)(nil)
