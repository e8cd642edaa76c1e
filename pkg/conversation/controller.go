// Package conversation runs one live voice conversation at a time.
//
// The Controller acquires the microphone, opens a transport session, pumps
// captured audio out through the capture pipeline and routes inbound events
// to the playback scheduler and the transcript reconciler. It exposes a
// start/stop lifecycle and publishes a Status projection on every change.
//
// Example usage:
//
//	ctrl, err := conversation.New(acquirer, tr, out,
//	    conversation.WithLogger(logger),
//	    conversation.WithMetrics(m),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctrl.OnStatus(func(s conversation.Status) {
//	    hub.BroadcastStatus(s)
//	})
//
//	if err := ctrl.Start(ctx); err != nil {
//	    log.Printf("start failed: %v", err)
//	}
//	defer ctrl.Stop()
//
// There is no automatic reconnect: after a transport error or remote close
// the controller returns to Idle and waits for the next Start.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/capture"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
	"github.com/teslashibe/go-livetalk/pkg/pcm"
	"github.com/teslashibe/go-livetalk/pkg/playback"
	"github.com/teslashibe/go-livetalk/pkg/transcript"
	"github.com/teslashibe/go-livetalk/pkg/transport"
)

// InputAcquirer opens the input device. audioio.Acquirer implements it.
type InputAcquirer interface {
	AcquireInput(ctx context.Context) (audioio.Source, error)
}

// Controller is the conversation state machine.
type Controller struct {
	acquirer  InputAcquirer
	transport transport.Transport
	output    audioio.Output
	cfg       *Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	scheduler  *playback.Scheduler
	transcript *transcript.Reconciler

	mu               sync.Mutex
	state            State
	acquiring        bool
	gen              uint64
	cancelOpen       context.CancelFunc
	processing       bool
	permissionDenied bool
	errMsg           string
	source           audioio.Source
	session          transport.Session
	pipeline         *capture.Pipeline
	onStatus         func(Status)

	// eventMu is held while one inbound event is applied. Teardown takes it
	// after bumping gen so no event that passed its check outlives Stop.
	eventMu sync.Mutex

	// notifyMu keeps status callbacks ordered.
	notifyMu sync.Mutex
}

// New creates a controller. The output device stays open across
// conversations and is owned by the caller.
func New(acquirer InputAcquirer, tr transport.Transport, out audioio.Output, opts ...Option) (*Controller, error) {
	if acquirer == nil || tr == nil || out == nil {
		return nil, errors.New("conversation: acquirer, transport and output are required")
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("component", "conversation")

	c := &Controller{
		acquirer:   acquirer,
		transport:  tr,
		output:     out,
		cfg:        cfg,
		logger:     logger,
		metrics:    cfg.Metrics,
		scheduler:  playback.New(out, cfg.Logger, cfg.Metrics),
		transcript: transcript.New(),
	}
	c.scheduler.OnIdle(c.notify)
	c.transcript.OnChange(func([]transcript.Message) { c.notify() })
	c.metrics.SetState(StateIdle.String())
	return c, nil
}

// OnStatus sets the status callback. It is called after every relevant
// transition, one call at a time, and must not call Start or Stop.
func (c *Controller) OnStatus(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// Start acquires the microphone, opens a session and begins streaming.
// It is only valid from Idle. A device failure sets PermissionDenied and
// returns a StartError wrapping audioio.ErrPermissionDenied.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.acquiring || c.state == StateInitializing:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	case c.state != StateIdle:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.acquiring = true
	c.gen++
	gen := c.gen
	c.errMsg = ""
	c.permissionDenied = false
	c.mu.Unlock()

	c.metrics.SessionStarted()

	src, err := c.acquirer.AcquireInput(ctx)

	c.mu.Lock()
	c.acquiring = false
	if err != nil {
		if !errors.Is(err, audioio.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", audioio.ErrPermissionDenied, err)
		}
		c.permissionDenied = true
		c.errMsg = "microphone unavailable"
		c.mu.Unlock()

		c.metrics.SessionError("permission_denied")
		c.logger.Warn("input device acquisition failed", "error", err)
		c.notify()
		return &StartError{Stage: "acquire", Err: err}
	}
	if c.gen != gen {
		c.mu.Unlock()
		src.Close()
		return ErrStopped
	}

	openCtx, cancel := context.WithCancel(ctx)
	c.cancelOpen = cancel
	c.source = src
	c.setStateLocked(StateInitializing)
	c.mu.Unlock()

	c.transcript.Reset()
	c.logger.Info("opening session", "transport", c.transport.Name(), "model", c.cfg.Session.Model)

	sess, err := c.transport.Open(openCtx, c.cfg.Session)
	cancel()

	c.mu.Lock()
	c.cancelOpen = nil
	if c.gen != gen {
		c.mu.Unlock()
		if sess != nil {
			go c.closeSession(sess)
		}
		return ErrStopped
	}
	if err != nil {
		c.source = nil
		c.errMsg = err.Error()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()

		src.Close()
		c.metrics.SessionError("open")
		c.logger.Error("session open failed", "error", err)
		c.notify()
		return &StartError{Stage: "open", Err: err}
	}

	pipeline := capture.New(src, sess, c.cfg.Logger, c.metrics)
	c.session = sess
	c.pipeline = pipeline
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	// Sessions queue events until a handler is registered.
	sess.OnEvent(func(ev transport.Event) { c.handleEvent(gen, ev) })

	// Capture outlives the caller's context; Stop ends it.
	if err := pipeline.Start(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("capture start failed", "error", err)
		c.teardown(gen, "capture failed: "+err.Error(), "capture")
		return &StartError{Stage: "capture", Err: err}
	}

	c.logger.Info("conversation started", "session_id", sess.ID())
	c.notify()
	return nil
}

// Stop tears the conversation down and returns to Idle. It is a no-op in
// Idle and never waits longer than the close timeout on the network.
func (c *Controller) Stop() {
	c.teardown(0, "", "")
}

// Toggle starts when Idle and stops otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.state == StateIdle && !c.acquiring
	c.mu.Unlock()

	if idle {
		return c.Start(ctx)
	}
	c.Stop()
	return nil
}

// teardown releases every session resource. A non-zero gen limits the
// teardown to that conversation; errMsg is surfaced in Status.
func (c *Controller) teardown(gen uint64, errMsg, reason string) {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.state == StateIdle {
		if c.acquiring {
			// Start discards the device when acquisition returns.
			c.gen++
		}
		c.mu.Unlock()
		return
	}
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}

	c.gen++
	if c.cancelOpen != nil {
		c.cancelOpen()
		c.cancelOpen = nil
	}
	src, sess, pipeline := c.source, c.session, c.pipeline
	c.source, c.session, c.pipeline = nil, nil, nil
	c.processing = false
	if errMsg != "" {
		c.errMsg = errMsg
	}
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	if reason != "" {
		c.metrics.SessionError(reason)
		c.logger.Error("conversation ended", "reason", reason, "error", errMsg)
	}
	c.notify()

	c.eventMu.Lock()
	c.eventMu.Unlock()

	if pipeline != nil {
		if err := pipeline.Stop(); err != nil {
			c.logger.Warn("capture stop failed", "error", err)
		}
	}
	c.scheduler.Interrupt()
	if src != nil {
		if err := src.Close(); err != nil {
			c.logger.Warn("input release failed", "error", err)
		}
	}
	if sess != nil {
		c.closeSession(sess)
	}

	c.mu.Lock()
	c.processing = false
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	c.logger.Info("conversation stopped")
	c.notify()
}

// closeSession waits at most CloseTimeout for the remote release.
func (c *Controller) closeSession(sess transport.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- sess.Close(ctx)
	}()

	logErr := func(err error) {
		if err != nil {
			c.logger.Warn("session close failed", "session_id", sess.ID(), "error", err)
		}
	}

	select {
	case err := <-done:
		logErr(err)
	case <-time.After(c.cfg.CloseTimeout):
		c.logger.Warn("session close still pending, continuing in background", "session_id", sess.ID())
		go func() { logErr(<-done) }()
	}
}

func (c *Controller) handleEvent(gen uint64, ev transport.Event) {
	c.eventMu.Lock()
	c.mu.Lock()
	active := c.gen == gen && c.state == StateListening
	c.mu.Unlock()
	if !active {
		c.eventMu.Unlock()
		return
	}

	c.metrics.EventReceived(ev.Kind().String())

	// Teardown waits on eventMu, so release it first.
	switch e := ev.(type) {
	case transport.Error:
		c.eventMu.Unlock()
		c.teardown(gen, e.Message(), "transport")
		return

	case transport.Closed:
		c.eventMu.Unlock()
		msg := "session closed by remote"
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		c.teardown(gen, msg, "closed")
		return
	}
	defer c.eventMu.Unlock()

	switch e := ev.(type) {
	case transport.AudioDelta:
		c.playAudio(e.Payload)

	case transport.Interrupted:
		if n := c.scheduler.Interrupt(); n > 0 {
			c.logger.Debug("barge-in", "stopped_buffers", n)
		}

	case transport.InputTranscript:
		c.mu.Lock()
		c.processing = true
		c.mu.Unlock()
		if e.Final {
			c.metrics.TurnTracker().MarkUserFinal()
		}
		c.transcript.Apply(transcript.User, e.Text, e.Final)

	case transport.OutputTranscript:
		c.transcript.Apply(transcript.AI, e.Text, e.Final)

	case transport.TurnComplete:
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
		c.metrics.TurnTracker().MarkTurnComplete()
		c.notify()
	}
}

func (c *Controller) playAudio(chunk pcm.Chunk) {
	frame, err := pcm.DecodeChunk(chunk)
	if err != nil {
		c.metrics.MalformedChunk()
		c.logger.Debug("skipping malformed audio chunk", "error", err)
		return
	}

	outCfg := c.output.Config()
	if frame.Channels != outCfg.Channels {
		frame = audioio.ConvertChannels(frame, outCfg.Channels)
	}
	if frame.SampleRate != outCfg.SampleRate {
		frame = audioio.ResampleFrame(frame, outCfg.SampleRate)
	}

	wasIdle := c.scheduler.IsIdle()
	if _, err := c.scheduler.Enqueue(frame); err != nil {
		c.logger.Warn("audio chunk not scheduled", "error", err)
		return
	}
	c.metrics.TurnTracker().MarkFirstAudio()
	if wasIdle {
		c.notify()
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.metrics.SetState(s.String())
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current status projection.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:            c.state,
		Processing:       c.processing,
		PermissionDenied: c.permissionDenied,
		Error:            c.errMsg,
	}
	if c.session != nil {
		st.SessionID = c.session.ID()
	}
	c.mu.Unlock()

	st.Speaking = !c.scheduler.IsIdle()
	st.Transcript = c.transcript.Messages()
	return st
}

// Transcript returns a copy of the current message log.
func (c *Controller) Transcript() []transcript.Message {
	return c.transcript.Messages()
}

// Scheduler returns the playback scheduler.
func (c *Controller) Scheduler() *playback.Scheduler {
	return c.scheduler
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	if fn == nil {
		return
	}
	fn(c.Status())
}
