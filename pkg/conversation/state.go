package conversation

import "github.com/teslashibe/go-livetalk/pkg/transcript"

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateListening
	StateClosing
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the projection published to the UI.
type Status struct {
	State State `json:"state"`

	// Processing is set when an input transcript arrived since the last
	// turn completed.
	Processing bool `json:"processing"`

	// Speaking is set while response audio is scheduled or playing.
	Speaking bool `json:"speaking"`

	PermissionDenied bool   `json:"permission_denied"`
	Error            string `json:"error,omitempty"`
	SessionID        string `json:"session_id,omitempty"`

	Transcript []transcript.Message `json:"transcript"`
}
