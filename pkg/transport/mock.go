package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// Mock is a mock implementation of Transport for testing.
type Mock struct {
	mu    sync.Mutex
	guard openGuard

	// OpenFunc, if set, runs before a session is created. Returning an error
	// fails Open. Blocking in it holds the open slot.
	OpenFunc func(ctx context.Context, cfg SessionConfig) error

	sessions []*MockSession
}

// NewMock creates a new Mock transport.
func NewMock() *Mock {
	return &Mock{}
}

// Name implements Transport.
func (m *Mock) Name() string {
	return "mock"
}

// Open implements Transport.
func (m *Mock) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	if !m.guard.acquire() {
		return nil, ErrAlreadyConnecting
	}
	defer m.guard.release()

	if m.OpenFunc != nil {
		if err := m.OpenFunc(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &MockSession{id: uuid.NewString(), Config: cfg.withDefaults()}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (m *Mock) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// Last returns the most recently opened session, or nil.
func (m *Mock) Last() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// MockSession is a Session whose events are injected by tests.
// Simulate* helpers deliver synchronously on the caller's goroutine.
type MockSession struct {
	id string

	// Config is the session configuration passed to Open.
	Config SessionConfig

	// SendFunc and CloseFunc override default behavior.
	SendFunc  func(chunk pcm.Chunk) error
	CloseFunc func(ctx context.Context) error

	mu         sync.Mutex
	handler    func(Event)
	closed     bool
	closeCount int
	sent       []pcm.Chunk
}

// ID implements Session.
func (s *MockSession) ID() string {
	return s.id
}

// Send implements Session.
func (s *MockSession) Send(chunk pcm.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	if s.SendFunc != nil {
		if err := s.SendFunc(chunk); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, chunk)
	return nil
}

// OnEvent implements Session.
func (s *MockSession) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Close implements Session.
func (s *MockSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closeCount++
	first := !s.closed
	s.closed = true
	fn := s.CloseFunc
	s.mu.Unlock()

	if first && fn != nil {
		return fn(ctx)
	}
	return nil
}

// Test helpers

// Sent returns every chunk accepted by Send.
func (s *MockSession) Sent() []pcm.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pcm.Chunk(nil), s.sent...)
}

// CloseCount returns how many times Close was called.
func (s *MockSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Simulate delivers ev to the handler unless the session is closed.
func (s *MockSession) Simulate(ev Event) {
	s.mu.Lock()
	fn := s.handler
	closed := s.closed
	s.mu.Unlock()
	if fn != nil && !closed {
		fn(ev)
	}
}

// SimulateAudio delivers an AudioDelta.
func (s *MockSession) SimulateAudio(chunk pcm.Chunk) {
	s.Simulate(AudioDelta{Payload: chunk})
}

// SimulateInputTranscript delivers an InputTranscript.
func (s *MockSession) SimulateInputTranscript(text string, final bool) {
	s.Simulate(InputTranscript{Text: text, Final: final})
}

// SimulateOutputTranscript delivers an OutputTranscript.
func (s *MockSession) SimulateOutputTranscript(text string, final bool) {
	s.Simulate(OutputTranscript{Text: text, Final: final})
}

// SimulateTurnComplete delivers a TurnComplete.
func (s *MockSession) SimulateTurnComplete() {
	s.Simulate(TurnComplete{})
}

// SimulateInterrupted delivers an Interrupted.
func (s *MockSession) SimulateInterrupted() {
	s.Simulate(Interrupted{})
}

// SimulateError delivers an Error.
func (s *MockSession) SimulateError(err error) {
	s.Simulate(Error{Err: err})
}

// SimulateClosed delivers a Closed.
func (s *MockSession) SimulateClosed(reason string) {
	s.Simulate(Closed{Reason: reason})
}

// Ensure Mock implements Transport.
var (
	_ Transport = (*Mock)(nil)
	_ Session   = (*MockSession)(nil)
)
