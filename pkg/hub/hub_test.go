package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func addClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := newClient(h, nil)
	if err := h.add(c); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	return c
}

func recv(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.send:
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h, _ := startHub(t)
	a := addClient(t, h)
	b := addClient(t, h)

	if a.ID == b.ID || a.ID == "" {
		t.Errorf("client ids should be unique, got %q and %q", a.ID, b.ID)
	}
	if n := h.ClientCount(); n != 2 {
		t.Fatalf("Expected 2 clients, got %d", n)
	}

	if err := h.BroadcastEvent("status", map[string]string{"state": "listening"}); err != nil {
		t.Fatalf("BroadcastEvent failed: %v", err)
	}

	for _, c := range []*Client{a, b} {
		m, ok := recv(t, c)
		if !ok || m.Type != JSONMessage {
			t.Fatalf("unexpected message %+v (ok=%v)", m, ok)
		}
		var env struct {
			Type string            `json:"type"`
			Data map[string]string `json:"data"`
		}
		if err := json.Unmarshal(m.Data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Type != "status" || env.Data["state"] != "listening" {
			t.Errorf("unexpected envelope %+v", env)
		}
	}
}

func TestNewClientReceivesLastMessage(t *testing.T) {
	h, _ := startHub(t)
	first := addClient(t, h)

	h.BroadcastJSON(map[string]int{"n": 1})
	recv(t, first)

	late := addClient(t, h)
	m, ok := recv(t, late)
	if !ok || string(m.Data) != `{"n":1}` {
		t.Errorf("late client got %q", m.Data)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h, _ := startHub(t)
	c := addClient(t, h)

	h.remove(c)

	if _, ok := recv(t, c); ok {
		t.Error("send channel should be closed")
	}
	if n := h.ClientCount(); n != 0 {
		t.Errorf("Expected 0 clients, got %d", n)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h, _ := startHub(t)
	c := addClient(t, h)

	for i := 0; i < sendBuffer*2; i++ {
		h.BroadcastBinary([]byte{byte(i)})
		time.Sleep(10 * time.Microsecond)
	}

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(time.Millisecond)
	}

	// Drain: the channel must end closed.
	for range c.send {
	}
}

func TestStoppedHub(t *testing.T) {
	h, cancel := startHub(t)
	c := addClient(t, h)

	cancel()

	if _, ok := recv(t, c); ok {
		t.Error("clients should be closed when the hub stops")
	}
	if err := h.add(newClient(h, nil)); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if h.IsRunning() {
		t.Error("hub should not be running")
	}
	h.remove(c) // must not block
}
