package transport

import "sync"

// dispatcher delivers events to one handler, in order, on its own goroutine.
// The queue is unbounded so the network reader never waits on the consumer.
type dispatcher struct {
	mu       sync.Mutex
	queue    []Event
	handler  func(Event)
	stopped  bool
	draining bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) setHandler(fn func(Event)) {
	d.mu.Lock()
	d.handler = fn
	d.mu.Unlock()
	d.signal()
}

// push enqueues ev. It is a no-op once the dispatcher is stopped or draining.
func (d *dispatcher) push(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	d.mu.Lock()
	if d.stopped || d.draining {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, evs...)
	d.mu.Unlock()
	d.signal()
}

// drain delivers what is queued, then exits.
func (d *dispatcher) drain() {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()
	d.signal()
}

// stop discards pending events and exits after the event in flight, if any.
// It does not wait, so it is safe to call from inside the handler.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if d.stopped || (d.draining && len(d.queue) == 0) {
			d.mu.Unlock()
			return
		}
		if d.handler == nil || len(d.queue) == 0 {
			d.mu.Unlock()
			<-d.wake
			continue
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		fn := d.handler
		d.mu.Unlock()

		fn(ev)
	}
}
