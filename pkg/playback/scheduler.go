// Package playback queues decoded response audio on an output clock so that
// consecutive buffers play back-to-back with no gap or overlap, and can be
// hard-stopped when the user barges in.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
)

// ErrScheduleFailed is returned when the output refuses a buffer.
// Other scheduled buffers are unaffected.
var ErrScheduleFailed = errors.New("playback: schedule failed")

// Handle is one scheduled buffer. It leaves the active set when it ends
// or is force-stopped.
type Handle struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration

	voice audioio.Voice
	done  chan struct{}
}

// End returns the clock time at which the buffer finishes.
func (h *Handle) End() time.Duration {
	return h.Start + h.Duration
}

// Done is closed when the buffer ends or is stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Scheduler owns the next-start cursor and the active set.
type Scheduler struct {
	out     audioio.Output
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	next   time.Duration
	seq    uint64
	active map[uint64]*Handle
	onIdle func()
}

// New creates a scheduler on out. logger and m may be nil.
func New(out audioio.Output, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:     out,
		logger:  logger.With("component", "playback"),
		metrics: m,
		active:  make(map[uint64]*Handle),
	}
}

// OnIdle sets the callback fired whenever the active set becomes empty.
// It runs outside the scheduler lock.
func (s *Scheduler) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// Enqueue schedules frame to start at max(cursor, now) and advances the
// cursor by its duration. On failure the cursor is left unchanged.
func (s *Scheduler) Enqueue(frame audioio.AudioFrame) (*Handle, error) {
	dur := frame.Duration()
	if dur <= 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrScheduleFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.out.Now()
	if s.next > start {
		start = s.next
	}

	s.seq++
	h := &Handle{
		ID:       s.seq,
		Start:    start,
		Duration: dur,
		done:     make(chan struct{}),
	}

	// The completion callback takes s.mu, so it waits until h is registered.
	voice, err := s.out.Schedule(frame, start, func() { s.finish(h) })
	if err != nil {
		s.metrics.BufferFailed()
		s.logger.Warn("buffer schedule failed", "start", start, "duration", dur, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrScheduleFailed, err)
	}

	h.voice = voice
	s.active[h.ID] = h
	s.next = start + dur
	s.metrics.BufferScheduled(len(s.active))
	return h, nil
}

func (s *Scheduler) finish(h *Handle) {
	s.mu.Lock()
	if _, ok := s.active[h.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, h.ID)
	close(h.done)
	remaining := len(s.active)
	fn := s.onIdle
	s.mu.Unlock()

	s.metrics.BufferCompleted(remaining)
	if remaining == 0 && fn != nil {
		fn()
	}
}

// Interrupt force-stops every active buffer, clears the set and resets the
// cursor to zero. It returns the number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopped := s.active
	s.active = make(map[uint64]*Handle)
	s.next = 0
	fn := s.onIdle
	s.mu.Unlock()

	for _, h := range stopped {
		h.voice.Stop()
		close(h.done)
	}

	if len(stopped) > 0 {
		s.metrics.BuffersInterrupted(len(stopped))
		s.logger.Debug("playback interrupted", "buffers", len(stopped))
		if fn != nil {
			fn()
		}
	}
	return len(stopped)
}

// IsIdle reports whether no buffer is scheduled or playing.
func (s *Scheduler) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) == 0
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the cursor: where the next buffer would start if the
// clock has not passed it.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
