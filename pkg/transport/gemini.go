package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-livetalk/internal/httpc"
	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// GeminiLive implements Transport over the raw Gemini Live WebSocket protocol.
type GeminiLive struct {
	cfg    *Config
	logger *slog.Logger
	dialer *websocket.Dialer
	guard  openGuard
}

// NewGeminiLive creates a Gemini Live WebSocket transport.
func NewGeminiLive(opts ...Option) (*GeminiLive, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &GeminiLive{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport", "backend", "gemini-live"),
		dialer: httpc.NewDialer(cfg.HandshakeTimeout),
	}, nil
}

// Name implements Transport.
func (g *GeminiLive) Name() string {
	return "gemini-live"
}

// Open implements Transport.
func (g *GeminiLive) Open(ctx context.Context, sc SessionConfig) (Session, error) {
	if !g.guard.acquire() {
		return nil, ErrAlreadyConnecting
	}
	defer g.guard.release()

	sc = sc.withDefaults()

	u, err := url.Parse(g.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", g.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := g.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (HTTP %d)", ErrTransport, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}

	// Setup is bounded only by ctx; closing the conn unblocks the reads below.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	if err := conn.WriteJSON(newSetupMessage(sc)); err != nil {
		stop()
		conn.Close()
		return nil, fmt.Errorf("%w: send setup: %v", ErrTransport, err)
	}

	if err := awaitSetupComplete(conn); err != nil {
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}

	l := &wsLink{
		conn:         conn,
		inputRate:    sc.InputSampleRate,
		outputRate:   sc.OutputSampleRate,
		writeTimeout: g.cfg.WriteTimeout,
		logger:       g.logger,
	}
	s := newSession(l, g.cfg.SendQueueSize, g.logger)

	s.logger.Info("gemini live session open", "model", sc.Model, "voice", sc.Voice)
	return s, nil
}

// awaitSetupComplete reads until the server acknowledges the setup message.
func awaitSetupComplete(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("%w: %w", ErrSetupFailed, NewServerError(ce.Code, ce.Text))
			}
			return fmt.Errorf("%w: %v", ErrSetupFailed, err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if len(msg.SetupComplete) > 0 {
			return nil
		}
	}
}

// wsLink is the gorilla/websocket half of a Gemini Live session.
type wsLink struct {
	conn         *websocket.Conn
	inputRate    int
	outputRate   int
	writeTimeout time.Duration
	logger       *slog.Logger

	releaseOnce sync.Once
}

func (l *wsLink) writeAudio(chunk pcm.Chunk) error {
	if chunk.SampleRate == 0 {
		chunk.SampleRate = l.inputRate
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: &blob{Data: chunk.Data, MIMEType: chunk.MIMEType()},
		},
	}
	l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	return l.conn.WriteJSON(msg)
}

func (l *wsLink) readEvents(asm *transcriptAssembler) ([]Event, error) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Debug("ignoring unparseable server message", "error", err)
			continue
		}

		if msg.GoAway != nil {
			l.logger.Warn("server going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent == nil {
			continue
		}
		if evs := msg.ServerContent.events(asm, l.outputRate); len(evs) > 0 {
			return evs, nil
		}
	}
}

func (l *wsLink) release(ctx context.Context, readDone <-chan struct{}) error {
	var cause error
	l.releaseOnce.Do(func() {
		deadline := time.Now().Add(l.writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := l.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			cause = err
		}

		// Give the server a moment to echo the close frame.
		if cause == nil {
			_ = waitOrTimeout(ctx, readDone, time.Until(deadline))
		}

		if err := l.conn.Close(); err != nil && cause == nil {
			cause = err
		}
	})
	if cause != nil {
		return &CloseError{Cause: cause}
	}
	return nil
}

// Gemini Live wire messages.

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         generationConfig          `json:"generationConfig"`
	SystemInstruction        *content                  `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *audioTranscriptionConfig `json:"inputAudioTranscription"`
	OutputAudioTranscription *audioTranscriptionConfig `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type audioTranscriptionConfig struct{}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	GoAway        *goAway         `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func newSetupMessage(sc SessionConfig) setupMessage {
	model := sc.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	msg := setupMessage{
		Setup: setup{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: sc.Voice},
					},
				},
			},
			InputAudioTranscription:  &audioTranscriptionConfig{},
			OutputAudioTranscription: &audioTranscriptionConfig{},
		},
	}
	if sc.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: sc.SystemInstruction}}}
	}
	return msg
}

// events translates one serverContent message, in the order transcripts,
// audio, interruption, turn completion.
func (sc *serverContent) events(asm *transcriptAssembler, outputRate int) []Event {
	var evs []Event

	if t := sc.InputTranscription; t != nil {
		evs = append(evs, asm.addInput(t.Text, t.Finished)...)
	}
	if t := sc.OutputTranscription; t != nil {
		evs = append(evs, asm.addOutput(t.Text, t.Finished)...)
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") || p.InlineData.Data == "" {
				continue
			}
			evs = append(evs, AudioDelta{Payload: pcm.Chunk{
				Data:       p.InlineData.Data,
				SampleRate: pcm.ParseMIMERate(p.InlineData.MIMEType, outputRate),
				Channels:   1,
			}})
		}
	}

	if sc.Interrupted {
		evs = append(evs, asm.interrupted()...)
		evs = append(evs, Interrupted{})
	}
	if sc.TurnComplete {
		evs = append(evs, asm.turnComplete()...)
		evs = append(evs, TurnComplete{})
	}
	return evs
}

// Ensure GeminiLive implements Transport.
var _ Transport = (*GeminiLive)(nil)
