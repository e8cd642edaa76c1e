// Package transcript merges a stream of partial and final transcription
// updates into an ordered chat log.
//
// A non-final update replaces the text of the last message when that
// message belongs to the same speaker and is still open. Anything else
// appends a new message. A final update closes the message for good.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who said a message.
type Speaker string

const (
	User Speaker = "user"
	AI   Speaker = "ai"
)

// Message is one entry of the log.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reconciler holds the message log. It is goroutine-safe.
type Reconciler struct {
	mu       sync.Mutex
	messages []Message
	onChange func([]Message)
}

// New creates an empty reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// OnChange sets a callback that receives a snapshot after every mutation.
func (r *Reconciler) OnChange(fn func([]Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Apply merges one update into the log and returns the message it touched.
func (r *Reconciler) Apply(speaker Speaker, text string, final bool) Message {
	r.mu.Lock()
	now := time.Now()

	var msg Message
	if n := len(r.messages); n > 0 && r.messages[n-1].Speaker == speaker && !r.messages[n-1].Final {
		last := &r.messages[n-1]
		last.Text = text
		last.Final = final
		last.UpdatedAt = now
		msg = *last
	} else {
		msg = Message{
			ID:        uuid.NewString(),
			Speaker:   speaker,
			Text:      text,
			Final:     final,
			UpdatedAt: now,
		}
		r.messages = append(r.messages, msg)
	}

	fn := r.onChange
	var snap []Message
	if fn != nil {
		snap = r.snapshot()
	}
	r.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return msg
}

// Messages returns a copy of the log.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Len returns the number of messages.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Reset empties the log.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.messages = nil
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn([]Message{})
	}
}

func (r *Reconciler) snapshot() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
