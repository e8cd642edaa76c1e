package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/conversation"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// fakeEngine records calls and flips state like the controller does.
type fakeEngine struct {
	mu      sync.Mutex
	state   conversation.State
	starts  int
	stops   int
	started chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan struct{}, 4)}
}

func (f *fakeEngine) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	f.state = conversation.StateListening
	f.mu.Unlock()
	f.started <- struct{}{}
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = conversation.StateIdle
}

func (f *fakeEngine) Status() conversation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conversation.Status{State: f.state}
}

func (f *fakeEngine) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("engine was not started")
	}
}

func do(t *testing.T, s *Server, method, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealthAndStatus(t *testing.T) {
	s := NewServer(newFakeEngine(), Config{})

	resp, _ := do(t, s, "GET", "/healthz")
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	resp, body := do(t, s, "GET", "/api/status")
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if st["state"] != "idle" {
		t.Errorf("state = %v, want idle", st["state"])
	}
}

func TestStartStop(t *testing.T) {
	eng := newFakeEngine()
	s := NewServer(eng, Config{})

	resp, _ := do(t, s, "POST", "/api/start")
	if resp.StatusCode != 202 {
		t.Errorf("Status = %d, want 202", resp.StatusCode)
	}
	eng.waitStarted(t)

	resp, body := do(t, s, "POST", "/api/start")
	if resp.StatusCode != 409 {
		t.Errorf("Status = %d, want 409", resp.StatusCode)
	}
	if !strings.Contains(body, "already started") {
		t.Errorf("unexpected body %s", body)
	}

	resp, body = do(t, s, "POST", "/api/stop")
	if resp.StatusCode != 200 || !strings.Contains(body, `"state":"idle"`) {
		t.Errorf("stop returned %d %s", resp.StatusCode, body)
	}

	// Stop while idle is fine.
	resp, _ = do(t, s, "POST", "/api/stop")
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	if eng.starts != 1 || eng.stops != 2 {
		t.Errorf("starts=%d stops=%d", eng.starts, eng.stops)
	}
}

func TestToggle(t *testing.T) {
	eng := newFakeEngine()
	s := NewServer(eng, Config{})

	resp, _ := do(t, s, "POST", "/api/toggle")
	if resp.StatusCode != 202 {
		t.Errorf("Status = %d, want 202", resp.StatusCode)
	}
	eng.waitStarted(t)

	resp, body := do(t, s, "POST", "/api/toggle")
	if resp.StatusCode != 200 || !strings.Contains(body, `"state":"idle"`) {
		t.Errorf("toggle off returned %d %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SessionStarted()

	s := NewServer(newFakeEngine(), Config{Gatherer: reg})

	resp, body := do(t, s, "GET", "/metrics")
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "livetalk_session_starts_total 1") {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}

func TestLatencyEndpoint(t *testing.T) {
	s := NewServer(newFakeEngine(), Config{})
	resp, _ := do(t, s, "GET", "/api/latency")
	if resp.StatusCode != 404 {
		t.Errorf("Status = %d, want 404 without a tracker", resp.StatusCode)
	}

	tr := metrics.NewLatencyTracker(nil)
	tr.MarkUserFinal()
	tr.MarkFirstAudio()
	tr.MarkTurnComplete()

	s = NewServer(newFakeEngine(), Config{Turns: tr})
	resp, body := do(t, s, "GET", "/api/latency")
	if resp.StatusCode != 200 || !strings.Contains(body, `"turns":1`) {
		t.Errorf("latency returned %d %s", resp.StatusCode, body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := NewServer(newFakeEngine(), Config{})
	resp, _ := do(t, s, "GET", "/ws/status")
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestWithController(t *testing.T) {
	inCfg := audioio.DefaultConfig()
	inCfg.Backend = audioio.BackendMock
	tr := transport.NewMock()

	ctrl, err := conversation.New(
		audioio.NewAcquirer(inCfg, nil),
		tr,
		audioio.NewMockOutput(audioio.DefaultOutputConfig(), nil),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer ctrl.Stop()

	s := NewServer(ctrl, Config{})
	ctrl.OnStatus(s.PublishStatus)

	resp, _ := do(t, s, "POST", "/api/start")
	if resp.StatusCode != 202 {
		t.Fatalf("Status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.State() != conversation.StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("controller never reached listening, state %s", ctrl.State())
		}
		time.Sleep(time.Millisecond)
	}

	tr.Last().SimulateInputTranscript("hello", true)

	_, body := do(t, s, "GET", "/api/transcript")
	if !strings.Contains(body, `"text":"hello"`) {
		t.Errorf("transcript missing message: %s", body)
	}

	do(t, s, "POST", "/api/stop")
	if ctrl.State() != conversation.StateIdle {
		t.Errorf("Expected idle, got %s", ctrl.State())
	}
}
