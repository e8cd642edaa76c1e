package transport

import "github.com/teslashibe/go-livetalk/pkg/pcm"

// Kind identifies the active variant of an Event.
type Kind int

const (
	KindAudioDelta Kind = iota + 1
	KindInputTranscript
	KindOutputTranscript
	KindTurnComplete
	KindInterrupted
	KindError
	KindClosed
)

// String returns a human-readable kind, also used as a metrics label.
func (k Kind) String() string {
	switch k {
	case KindAudioDelta:
		return "audio_delta"
	case KindInputTranscript:
		return "input_transcript"
	case KindOutputTranscript:
		return "output_transcript"
	case KindTurnComplete:
		return "turn_complete"
	case KindInterrupted:
		return "interrupted"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one inbound unit from the remote service. Exactly one of the
// concrete types below is delivered per event.
type Event interface {
	Kind() Kind
}

// AudioDelta carries one chunk of synthesized speech.
type AudioDelta struct {
	Payload pcm.Chunk
}

// InputTranscript is the cumulative transcription of the user's utterance.
type InputTranscript struct {
	Text  string
	Final bool
}

// OutputTranscript is the cumulative transcription of the model's utterance.
type OutputTranscript struct {
	Text  string
	Final bool
}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

// Interrupted signals the user spoke over the model (barge-in).
type Interrupted struct{}

// Error reports a fatal session error. The session is unusable afterwards.
type Error struct {
	Err error
}

// Message returns the error text suitable for display.
func (e Error) Message() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// Closed reports the remote ended the session.
type Closed struct {
	Reason string
}

func (AudioDelta) Kind() Kind       { return KindAudioDelta }
func (InputTranscript) Kind() Kind  { return KindInputTranscript }
func (OutputTranscript) Kind() Kind { return KindOutputTranscript }
func (TurnComplete) Kind() Kind     { return KindTurnComplete }
func (Interrupted) Kind() Kind      { return KindInterrupted }
func (Error) Kind() Kind            { return KindError }
func (Closed) Kind() Kind           { return KindClosed }
