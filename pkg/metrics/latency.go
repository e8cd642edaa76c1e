package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn is the latency record of one conversation turn.
// Durations are measured from the user's final transcript.
type Turn struct {
	UserFinalTime    time.Time `json:"user_final_time"`
	FirstAudioTime   time.Time `json:"first_audio_time"`
	ResponseDoneTime time.Time `json:"response_done_time"`

	FirstAudio   time.Duration `json:"first_audio"`
	TotalLatency time.Duration `json:"total_latency"`

	AudioChunks int `json:"audio_chunks"`
}

// LatencyTracker measures per-turn response latency.
// It is goroutine-safe; a nil tracker ignores all calls.
type LatencyTracker struct {
	mu      sync.Mutex
	current Turn
	history []Turn // recent turns for averaging
	hist    prometheus.Observer

	onUpdate func(Turn)
}

const maxTurnHistory = 100

// NewLatencyTracker creates a tracker that also observes first-audio latency
// into hist, if non-nil.
func NewLatencyTracker(hist prometheus.Observer) *LatencyTracker {
	return &LatencyTracker{
		history: make([]Turn, 0, maxTurnHistory),
		hist:    hist,
	}
}

// OnUpdate sets a callback that fires whenever a turn is archived.
func (t *LatencyTracker) OnUpdate(fn func(Turn)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// MarkUserFinal starts a new turn at the user's final transcript.
func (t *LatencyTracker) MarkUserFinal() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Turn{UserFinalTime: time.Now()}
}

// MarkFirstAudio records the first response audio of the turn.
// Later calls in the same turn only count chunks.
func (t *LatencyTracker) MarkFirstAudio() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current.AudioChunks++
	if !t.current.FirstAudioTime.IsZero() {
		return
	}
	t.current.FirstAudioTime = time.Now()
	if !t.current.UserFinalTime.IsZero() {
		t.current.FirstAudio = t.current.FirstAudioTime.Sub(t.current.UserFinalTime)
		if t.hist != nil {
			t.hist.Observe(t.current.FirstAudio.Seconds())
		}
	}
}

// MarkTurnComplete closes and archives the current turn.
func (t *LatencyTracker) MarkTurnComplete() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current.ResponseDoneTime = time.Now()
	if !t.current.UserFinalTime.IsZero() {
		t.current.TotalLatency = t.current.ResponseDoneTime.Sub(t.current.UserFinalTime)
	}

	t.history = append(t.history, t.current)
	if len(t.history) > maxTurnHistory {
		t.history = t.history[1:]
	}
	if t.onUpdate != nil {
		turn := t.current
		go t.onUpdate(turn)
	}
	t.current = Turn{}
}

// Current returns the in-progress turn.
func (t *LatencyTracker) Current() Turn {
	if t == nil {
		return Turn{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Average returns average latencies over recent turns.
func (t *LatencyTracker) Average() Turn {
	if t == nil {
		return Turn{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return Turn{}
	}

	var avg Turn
	for _, h := range t.history {
		avg.FirstAudio += h.FirstAudio
		avg.TotalLatency += h.TotalLatency
		avg.AudioChunks += h.AudioChunks
	}

	n := len(t.history)
	avg.FirstAudio /= time.Duration(n)
	avg.TotalLatency /= time.Duration(n)
	avg.AudioChunks /= n
	return avg
}

// Turns returns how many turns have been archived.
func (t *LatencyTracker) Turns() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// FormatLatency returns a one-line summary of a turn.
func (t Turn) FormatLatency() string {
	return formatDuration(t.FirstAudio) + " first audio | " +
		formatDuration(t.TotalLatency) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
