package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_BuffersUntilHandler(t *testing.T) {
	d := newDispatcher()
	defer d.stop()

	d.push(InputTranscript{Text: "a"}, InputTranscript{Text: "b"})
	d.push(TurnComplete{})

	got := make(chan Event, 3)
	d.setHandler(func(ev Event) { got <- ev })

	want := []Event{InputTranscript{Text: "a"}, InputTranscript{Text: "b"}, TurnComplete{}}
	for i, w := range want {
		select {
		case ev := <-got:
			if ev != w {
				t.Errorf("event %d: got %#v, want %#v", i, ev, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestDispatcher_OneAtATime(t *testing.T) {
	d := newDispatcher()
	defer d.stop()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(50)
	d.setHandler(func(Event) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
		wg.Done()
	})

	var pushers sync.WaitGroup
	for i := 0; i < 5; i++ {
		pushers.Add(1)
		go func() {
			defer pushers.Done()
			for j := 0; j < 10; j++ {
				d.push(TurnComplete{})
			}
		}()
	}
	pushers.Wait()
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("handler ran concurrently: max in flight %d", maxInFlight.Load())
	}
}

func TestDispatcher_StopDropsPending(t *testing.T) {
	d := newDispatcher()

	release := make(chan struct{})
	var delivered atomic.Int32
	d.setHandler(func(Event) {
		delivered.Add(1)
		<-release
	})

	d.push(TurnComplete{}, TurnComplete{}, TurnComplete{})

	// Wait for the first event to be in flight.
	deadline := time.Now().Add(time.Second)
	for delivered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	d.stop()
	d.push(TurnComplete{})
	close(release)

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit after stop")
	}
	if n := delivered.Load(); n != 1 {
		t.Errorf("expected only the in-flight event, got %d deliveries", n)
	}
}

func TestDispatcher_StopFromHandler(t *testing.T) {
	d := newDispatcher()
	d.setHandler(func(Event) { d.stop() })
	d.push(Closed{})

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("stop inside handler deadlocked")
	}
}

func TestDispatcher_DrainDeliversRemaining(t *testing.T) {
	d := newDispatcher()

	var delivered atomic.Int32
	d.push(TurnComplete{}, Closed{})
	d.drain()
	d.push(TurnComplete{}) // ignored after drain
	d.setHandler(func(Event) { delivered.Add(1) })

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not exit after drain")
	}
	if n := delivered.Load(); n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
}
