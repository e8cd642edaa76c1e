package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

func TestMockTransport(t *testing.T) {
	t.Run("open and send", func(t *testing.T) {
		m := NewMock()

		sess, err := m.Open(context.Background(), SessionConfig{Voice: "Puck"})
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}

		if err := sess.Send(pcm.Chunk{Data: "AAA=", SampleRate: 16000, Channels: 1}); err != nil {
			t.Errorf("send failed: %v", err)
		}

		ms := m.Last()
		if len(ms.Sent()) != 1 {
			t.Errorf("expected 1 chunk sent, got %d", len(ms.Sent()))
		}
		if ms.Config.Voice != "Puck" || ms.Config.Model != DefaultModel {
			t.Errorf("config not recorded with defaults: %+v", ms.Config)
		}
	})

	t.Run("send after close", func(t *testing.T) {
		m := NewMock()
		sess, _ := m.Open(context.Background(), DefaultSessionConfig())

		if err := sess.Close(context.Background()); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := sess.Close(context.Background()); err != nil {
			t.Fatalf("second close failed: %v", err)
		}

		if err := sess.Send(pcm.Chunk{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if m.Last().CloseCount() != 2 {
			t.Errorf("expected 2 close calls, got %d", m.Last().CloseCount())
		}
	})

	t.Run("simulate events", func(t *testing.T) {
		m := NewMock()
		sess, _ := m.Open(context.Background(), DefaultSessionConfig())

		var got []Event
		sess.OnEvent(func(ev Event) { got = append(got, ev) })

		ms := m.Last()
		ms.SimulateInputTranscript("hi", true)
		ms.SimulateTurnComplete()
		ms.SimulateError(errors.New("boom"))

		if len(got) != 3 {
			t.Fatalf("expected 3 events, got %d", len(got))
		}
		if got[2].Kind() != KindError {
			t.Errorf("expected error event, got %s", got[2].Kind())
		}

		sess.Close(context.Background())
		ms.SimulateTurnComplete()
		if len(got) != 3 {
			t.Error("events must not be delivered after close")
		}
	})

	t.Run("concurrent open rejected", func(t *testing.T) {
		m := NewMock()
		entered := make(chan struct{})
		release := make(chan struct{})
		m.OpenFunc = func(ctx context.Context, cfg SessionConfig) error {
			close(entered)
			<-release
			return nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := m.Open(context.Background(), DefaultSessionConfig())
			done <- err
		}()
		<-entered

		if _, err := m.Open(context.Background(), DefaultSessionConfig()); !errors.Is(err, ErrAlreadyConnecting) {
			t.Errorf("expected ErrAlreadyConnecting, got %v", err)
		}

		close(release)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("first open failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("first open never returned")
		}
	})
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notConnected bool
		droppable    bool
		retryable    bool
	}{
		{"not connected", ErrNotConnected, true, true, false},
		{"queue full", ErrSendQueueFull, false, true, false},
		{"wrapped transport", errors.Join(errors.New("x"), ErrTransport), false, false, true},
		{"policy violation", NewServerError(1008, "bad key"), false, false, false},
		{"server overloaded", NewServerError(1011, "overloaded"), false, false, true},
		{"close error", &CloseError{Cause: context.DeadlineExceeded}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotConnected(tt.err); got != tt.notConnected {
				t.Errorf("IsNotConnected = %v, want %v", got, tt.notConnected)
			}
			if got := IsDroppable(tt.err); got != tt.droppable {
				t.Errorf("IsDroppable = %v, want %v", got, tt.droppable)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}

	var ce *CloseError
	if !errors.As(&CloseError{Cause: context.Canceled}, &ce) || !errors.Is(ce, context.Canceled) {
		t.Error("CloseError should unwrap to its cause")
	}
}
