// Package transport owns the bidirectional session with the remote speech
// model. It sends encoded microphone audio and delivers typed server events
// (audio, transcripts, turn signals, errors) to a single consumer.
//
// Two backends talk to the Gemini Live API: GeminiLive speaks the raw
// WebSocket protocol, GenAI goes through the official SDK. Mock is provided
// for tests.
//
// Example usage:
//
//	t, err := transport.NewGeminiLive(transport.WithAPIKey(key))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := t.Open(ctx, transport.DefaultSessionConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(context.Background())
//
//	sess.OnEvent(func(ev transport.Event) {
//	    switch ev := ev.(type) {
//	    case transport.AudioDelta:
//	        // decode and schedule ev.Payload
//	    case transport.OutputTranscript:
//	        // update chat
//	    }
//	})
//
//	for frame := range mic.Frames() {
//	    sess.Send(pcm.EncodeFrame(frame))
//	}
package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// Transport opens sessions with the remote service.
type Transport interface {
	// Open establishes a session and returns once the remote has
	// acknowledged the setup. A concurrent Open while one is pending
	// fails with ErrAlreadyConnecting.
	Open(ctx context.Context, cfg SessionConfig) (Session, error)

	// Name identifies the backend.
	Name() string
}

// Session is one open conversation with the remote service.
type Session interface {
	// ID is a locally generated identifier for logs and status.
	ID() string

	// Send queues a chunk for transmission. Sends are written in call order.
	// After Close, or after the remote ended the session, it returns
	// ErrNotConnected.
	Send(chunk pcm.Chunk) error

	// OnEvent registers the single consumer of server events. Events are
	// delivered in arrival order, one at a time, on a dedicated goroutine.
	// Events that arrive before a handler is set are buffered.
	OnEvent(fn func(Event))

	// Close is idempotent. It stops event delivery, then releases the
	// remote connection, returning *CloseError if that fails.
	Close(ctx context.Context) error
}

// Names of the built-in backends.
const (
	BackendWebSocket = "websocket"
	BackendGenAI     = "genai"
)

// New creates a transport by backend name.
func New(backend string, opts ...Option) (Transport, error) {
	switch backend {
	case BackendWebSocket, "":
		return NewGeminiLive(opts...)
	case BackendGenAI:
		return NewGenAI(opts...)
	default:
		return nil, fmt.Errorf("transport: unknown backend %q", backend)
	}
}

// openGuard rejects concurrent Open calls.
type openGuard struct {
	busy atomic.Bool
}

func (g *openGuard) acquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *openGuard) release() {
	g.busy.Store(false)
}
