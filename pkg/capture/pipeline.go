// Package capture pumps microphone frames into the session transport.
//
// Each frame is encoded to a wire chunk and handed to the sender as soon as
// it is produced, in frame order. Nothing is queued here: when the sender is
// not connected or its queue is full, the chunk is dropped.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
	"github.com/teslashibe/go-livetalk/pkg/pcm"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// ErrRunning is returned by Start when the pipeline is already running.
var ErrRunning = errors.New("capture: already running")

// Sender accepts encoded chunks. transport.Session implements it.
type Sender interface {
	Send(chunk pcm.Chunk) error
}

// Stats reports pipeline counters.
type Stats struct {
	Frames  int64 `json:"frames"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Running bool  `json:"running"`
}

// Pipeline forwards frames from a Source to a Sender.
type Pipeline struct {
	src     audioio.Source
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	frames  atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// New creates a pipeline. logger and m may be nil.
func New(src audioio.Source, sender Sender, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		src:     src,
		sender:  sender,
		logger:  logger.With("component", "capture"),
		metrics: m,
	}
}

// Start starts the source and the forwarding goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrRunning
	}
	if err := p.src.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, p.src.Frames(), p.done)

	p.logger.Info("capture started",
		"backend", p.src.Name(),
		"sample_rate", p.src.Config().SampleRate,
		"frame_size", p.src.Config().FrameSize,
	)
	return nil
}

func (p *Pipeline) run(ctx context.Context, frames <-chan audioio.AudioFrame, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.forward(frame)
		}
	}
}

func (p *Pipeline) forward(frame audioio.AudioFrame) {
	p.frames.Add(1)
	p.metrics.FrameCaptured(audioio.CalculateRMS(frame.Samples))

	err := p.sender.Send(pcm.EncodeFrame(frame))
	switch {
	case err == nil:
		p.sent.Add(1)
		p.metrics.ChunkSent()
	case transport.IsDroppable(err):
		p.dropped.Add(1)
		p.metrics.ChunkDropped(dropReason(err))
	default:
		p.failed.Add(1)
		p.metrics.ChunkDropped("error")
		p.logger.Warn("send failed", "error", err)
	}
}

func dropReason(err error) string {
	if transport.IsNotConnected(err) {
		return "not_connected"
	}
	return "queue_full"
}

// Stop stops the source and waits for the forwarding goroutine to exit.
// It is safe to call more than once.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	err := p.src.Stop()
	<-done

	p.logger.Info("capture stopped",
		"frames", p.frames.Load(),
		"sent", p.sent.Load(),
		"dropped", p.dropped.Load(),
	)
	return err
}

// Running reports whether the pipeline is forwarding frames.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:  p.frames.Load(),
		Sent:    p.sent.Load(),
		Dropped: p.dropped.Load(),
		Failed:  p.failed.Load(),
		Running: p.Running(),
	}
}
