package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// fakeLive is an in-process Gemini Live server.
type fakeLive struct {
	ackSetup   bool
	rejectCode int

	mu      sync.Mutex
	keys    []string
	setups  chan setupMessage
	inbound chan realtimeInputMessage
	conns   chan *websocket.Conn
}

func newFakeLive(t *testing.T) (*fakeLive, string) {
	t.Helper()

	f := &fakeLive{
		ackSetup: true,
		setups:   make(chan setupMessage, 4),
		inbound:  make(chan realtimeInputMessage, 64),
		conns:    make(chan *websocket.Conn, 4),
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.keys = append(f.keys, r.URL.Query().Get("key"))
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup setupMessage
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		f.setups <- setup

		if f.rejectCode != 0 {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(f.rejectCode, "invalid model"))
			return
		}
		if f.ackSetup {
			conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		}
		f.conns <- conn

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg realtimeInputMessage
			if json.Unmarshal(data, &msg) == nil {
				f.inbound <- msg
			}
		}
	}))
	t.Cleanup(srv.Close)

	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeLive) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never got a connection")
		return nil
	}
}

func openTestSession(t *testing.T, endpoint string) Session {
	t.Helper()

	tr, err := NewGeminiLive(WithAPIKey("test-key"), WithEndpoint(endpoint))
	if err != nil {
		t.Fatalf("NewGeminiLive failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := tr.Open(ctx, DefaultSessionConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess
}

func collectEvents(sess Session) <-chan Event {
	ch := make(chan Event, 64)
	sess.OnEvent(func(ev Event) { ch <- ev })
	return ch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestGeminiLive_MissingAPIKey(t *testing.T) {
	if _, err := NewGeminiLive(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGeminiLive_OpenSendsSetup(t *testing.T) {
	f, endpoint := newFakeLive(t)
	openTestSession(t, endpoint)

	setup := <-f.setups
	s := setup.Setup

	if s.Model != DefaultModel {
		t.Errorf("model = %q, want %q", s.Model, DefaultModel)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("unexpected modalities %v", s.GenerationConfig.ResponseModalities)
	}
	if v := s.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != DefaultVoice {
		t.Errorf("voice = %q, want %q", v, DefaultVoice)
	}
	if s.InputAudioTranscription == nil || s.OutputAudioTranscription == nil {
		t.Error("transcription must be enabled in both directions")
	}
	if s.SystemInstruction == nil || s.SystemInstruction.Parts[0].Text != DefaultSystemInstruction {
		t.Error("system instruction missing")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.keys) != 1 || f.keys[0] != "test-key" {
		t.Errorf("api key not passed in query: %v", f.keys)
	}
}

func TestGeminiLive_SendPreservesOrder(t *testing.T) {
	f, endpoint := newFakeLive(t)
	sess := openTestSession(t, endpoint)
	f.conn(t)

	payloads := []string{pcm.Encode([]float32{0.1}), pcm.Encode([]float32{0.2}), pcm.Encode([]float32{0.3})}
	for _, p := range payloads {
		if err := sess.Send(pcm.Chunk{Data: p, SampleRate: 16000, Channels: 1}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for i, want := range payloads {
		select {
		case msg := <-f.inbound:
			audio := msg.RealtimeInput.Audio
			if audio == nil {
				t.Fatalf("message %d has no audio", i)
			}
			if audio.Data != want {
				t.Errorf("message %d out of order", i)
			}
			if audio.MIMEType != "audio/pcm;rate=16000" {
				t.Errorf("unexpected MIME type %q", audio.MIMEType)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func TestGeminiLive_EventTranslation(t *testing.T) {
	f, endpoint := newFakeLive(t)
	sess := openTestSession(t, endpoint)
	events := collectEvents(sess)
	conn := f.conn(t)

	audio := pcm.EncodeRaw(make([]byte, 480))
	messages := []string{
		`{"serverContent":{"inputTranscription":{"text":"Hel"}}}`,
		`{"serverContent":{"inputTranscription":{"text":"lo"}}}`,
		`{"serverContent":{"outputTranscription":{"text":"Hi"},"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}}]}}}`,
		`{"goAway":{"timeLeft":"10s"}}`,
		`{"serverContent":{"turnComplete":true}}`,
	}
	for _, m := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	want := []Event{
		InputTranscript{Text: "Hel"},
		InputTranscript{Text: "Hello"},
		InputTranscript{Text: "Hello", Final: true},
		OutputTranscript{Text: "Hi"},
		AudioDelta{Payload: pcm.Chunk{Data: audio, SampleRate: 24000, Channels: 1}},
		OutputTranscript{Text: "Hi", Final: true},
		TurnComplete{},
	}
	for i, w := range want {
		if got := nextEvent(t, events); got != w {
			t.Errorf("event %d: got %#v, want %#v", i, got, w)
		}
	}
}

func TestGeminiLive_Interrupted(t *testing.T) {
	f, endpoint := newFakeLive(t)
	sess := openTestSession(t, endpoint)
	events := collectEvents(sess)
	conn := f.conn(t)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"outputTranscription":{"text":"Let me"}}}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"interrupted":true}}`))

	want := []Event{
		OutputTranscript{Text: "Let me"},
		OutputTranscript{Text: "Let me", Final: true},
		Interrupted{},
	}
	for i, w := range want {
		if got := nextEvent(t, events); got != w {
			t.Errorf("event %d: got %#v, want %#v", i, got, w)
		}
	}
}

func TestGeminiLive_RemoteClose(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantKind  Kind
		retryable bool
	}{
		{"normal", websocket.CloseNormalClosure, KindClosed, false},
		{"going away", websocket.CloseGoingAway, KindClosed, false},
		{"policy violation", websocket.ClosePolicyViolation, KindError, false},
		{"internal error", websocket.CloseInternalServerErr, KindError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, endpoint := newFakeLive(t)
			sess := openTestSession(t, endpoint)
			events := collectEvents(sess)
			conn := f.conn(t)

			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(tt.code, "bye"))

			ev := nextEvent(t, events)
			if ev.Kind() != tt.wantKind {
				t.Fatalf("got %s, want %s", ev.Kind(), tt.wantKind)
			}
			if e, ok := ev.(Error); ok {
				if IsRetryable(e.Err) != tt.retryable {
					t.Errorf("retryable = %v, want %v (%v)", IsRetryable(e.Err), tt.retryable, e.Err)
				}
			}

			if err := sess.Send(pcm.Chunk{Data: "AAA=", SampleRate: 16000, Channels: 1}); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Send after remote close: got %v, want ErrNotConnected", err)
			}
		})
	}
}

func TestGeminiLive_CloseIsIdempotent(t *testing.T) {
	f, endpoint := newFakeLive(t)
	sess := openTestSession(t, endpoint)
	events := collectEvents(sess)
	conn := f.conn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sess.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := sess.Send(pcm.Chunk{Data: "AAA=", SampleRate: 16000, Channels: 1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close: got %v, want ErrNotConnected", err)
	}

	// Nothing is delivered after a local close.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"turnComplete":true}}`))
	select {
	case ev := <-events:
		t.Errorf("unexpected event after Close: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGeminiLive_SetupRejected(t *testing.T) {
	f, endpoint := newFakeLive(t)
	f.rejectCode = websocket.CloseInvalidFramePayloadData

	tr, _ := NewGeminiLive(WithAPIKey("k"), WithEndpoint(endpoint))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := tr.Open(ctx, DefaultSessionConfig())
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("expected ErrSetupFailed, got %v", err)
	}
	var srvErr *ServerError
	if !errors.As(err, &srvErr) || srvErr.Code != websocket.CloseInvalidFramePayloadData {
		t.Errorf("expected ServerError with close code, got %v", err)
	}
}

func TestGeminiLive_OpenCancelled(t *testing.T) {
	f, endpoint := newFakeLive(t)
	f.ackSetup = false

	tr, _ := NewGeminiLive(WithAPIKey("k"), WithEndpoint(endpoint))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := tr.Open(ctx, DefaultSessionConfig())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGeminiLive_AlreadyConnecting(t *testing.T) {
	f, endpoint := newFakeLive(t)
	f.ackSetup = false

	tr, _ := NewGeminiLive(WithAPIKey("k"), WithEndpoint(endpoint))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Open(ctx, DefaultSessionConfig())
		done <- err
	}()

	// Wait until the first Open is parked waiting for setupComplete.
	select {
	case <-f.setups:
	case <-time.After(2 * time.Second):
		t.Fatal("first Open never sent setup")
	}

	if _, err := tr.Open(context.Background(), DefaultSessionConfig()); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("expected ErrAlreadyConnecting, got %v", err)
	}

	cancel()
	if err := <-done; err == nil {
		t.Error("cancelled Open should fail")
	}
}

func TestNewSetupMessage_ModelPrefix(t *testing.T) {
	sc := DefaultSessionConfig()
	sc.Model = "gemini-live-2.5-flash-preview"
	sc.SystemInstruction = ""

	msg := newSetupMessage(sc)
	if msg.Setup.Model != "models/gemini-live-2.5-flash-preview" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if msg.Setup.SystemInstruction != nil {
		t.Error("empty system instruction should be omitted")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"inputAudioTranscription":{}`) {
		t.Errorf("transcription config must serialize as an empty object: %s", data)
	}
}
