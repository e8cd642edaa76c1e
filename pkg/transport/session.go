package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// link is the backend-specific half of a session: one reader, one writer.
type link interface {
	// writeAudio sends one chunk. Only the write pump calls it.
	writeAudio(chunk pcm.Chunk) error

	// readEvents blocks for the next server message and translates it.
	// Only the read loop calls it.
	readEvents(asm *transcriptAssembler) ([]Event, error)

	// release shuts the connection down. readDone closes when the read
	// loop has exited.
	release(ctx context.Context, readDone <-chan struct{}) error
}

// session runs the write pump, read loop and event dispatcher shared by
// every network backend.
type session struct {
	id     string
	link   link
	logger *slog.Logger

	dispatch *dispatcher
	asm      transcriptAssembler

	mu     sync.Mutex
	out    chan pcm.Chunk
	closed bool // out is closed; Send fails
	local  bool // Close was called
	ended  bool // a terminal event was emitted

	closeOnce sync.Once
	closeErr  error

	readDone chan struct{}
}

func newSession(l link, queueSize int, logger *slog.Logger) *session {
	id := uuid.NewString()
	s := &session{
		id:       id,
		link:     l,
		logger:   logger.With("session_id", id),
		dispatch: newDispatcher(),
		out:      make(chan pcm.Chunk, queueSize),
		readDone: make(chan struct{}),
	}
	go s.writePump()
	go s.readLoop()
	return s
}

// ID implements Session.
func (s *session) ID() string {
	return s.id
}

// Send implements Session.
func (s *session) Send(chunk pcm.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotConnected
	}
	select {
	case s.out <- chunk:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// OnEvent implements Session.
func (s *session) OnEvent(fn func(Event)) {
	s.dispatch.setHandler(fn)
}

// Close implements Session.
func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.local = true
		if !s.closed {
			s.closed = true
			close(s.out)
		}
		s.mu.Unlock()

		s.dispatch.stop()

		if err := s.link.release(ctx, s.readDone); err != nil {
			var ce *CloseError
			if !errors.As(err, &ce) {
				err = &CloseError{Cause: err}
			}
			s.closeErr = err
		}
		s.logger.Debug("session closed", "error", s.closeErr)
	})
	return s.closeErr
}

// fail emits a terminal event and stops accepting sends.
func (s *session) fail(ev Event) {
	s.mu.Lock()
	if s.local || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()

	s.dispatch.push(ev)
	s.dispatch.drain()
}

func (s *session) isLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *session) writePump() {
	for chunk := range s.out {
		if err := s.link.writeAudio(chunk); err != nil {
			if s.isLocal() {
				return
			}
			s.logger.Warn("audio write failed", "error", err)
			s.fail(Error{Err: fmt.Errorf("%w: write: %v", ErrTransport, err)})
			return
		}
	}
}

func (s *session) readLoop() {
	defer close(s.readDone)

	for {
		evs, err := s.link.readEvents(&s.asm)
		if err != nil {
			if s.isLocal() {
				return
			}
			ev := classifyReadError(err)
			s.logger.Info("session ended by remote", "kind", ev.Kind(), "error", err)
			s.fail(ev)
			return
		}
		s.dispatch.push(evs...)
	}
}

// classifyReadError maps a terminal read error to Closed (normal shutdown)
// or Error (anything else).
func classifyReadError(err error) Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return Closed{Reason: ce.Text}
		default:
			return Error{Err: NewServerError(ce.Code, ce.Text)}
		}
	}
	return Error{Err: fmt.Errorf("%w: read: %v", ErrTransport, err)}
}

// waitOrTimeout waits for done, ctx, or d, whichever comes first.
func waitOrTimeout(ctx context.Context, done <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
