package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/teslashibe/go-livetalk/internal/httpc"
	"github.com/teslashibe/go-livetalk/pkg/pcm"
)

// GenAI implements Transport through the official Google Gen AI SDK's Live API.
type GenAI struct {
	cfg    *Config
	logger *slog.Logger
	client *genai.Client
	guard  openGuard
}

// NewGenAI creates a transport backed by the Gen AI SDK.
// Endpoint, when set to something other than the WebSocket default, is used
// as the SDK base URL.
func NewGenAI(opts ...Option) (*GenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpc.NewClient(cfg.HandshakeTimeout),
	}
	if cfg.Endpoint != "" && cfg.Endpoint != DefaultEndpoint {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("transport: genai client: %w", err)
	}

	return &GenAI{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "transport", "backend", "genai"),
		client: client,
	}, nil
}

// Name implements Transport.
func (g *GenAI) Name() string {
	return "genai"
}

// Open implements Transport.
func (g *GenAI) Open(ctx context.Context, sc SessionConfig) (Session, error) {
	if !g.guard.acquire() {
		return nil, ErrAlreadyConnecting
	}
	defer g.guard.release()

	sc = sc.withDefaults()

	live, err := g.client.Live.Connect(ctx, sc.Model, liveConnectConfig(sc))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrTransport, err)
	}

	stop := context.AfterFunc(ctx, func() { live.Close() })

	if err := awaitGenAISetup(live); err != nil {
		stop()
		live.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if !stop() {
		live.Close()
		return nil, ctx.Err()
	}

	l := &genaiLink{
		live:       live,
		outputRate: sc.OutputSampleRate,
		grace:      g.cfg.WriteTimeout,
		logger:     g.logger,
	}
	s := newSession(l, g.cfg.SendQueueSize, g.logger)

	s.logger.Info("genai live session open", "model", sc.Model, "voice", sc.Voice)
	return s, nil
}

func liveConnectConfig(sc SessionConfig) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: sc.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if sc.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: sc.SystemInstruction}},
		}
	}
	return cfg
}

func awaitGenAISetup(live *genai.Session) error {
	for {
		msg, err := live.Receive()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSetupFailed, err)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// genaiLink is the SDK half of a Live session.
type genaiLink struct {
	live       *genai.Session
	outputRate int
	grace      time.Duration
	logger     *slog.Logger

	releaseOnce sync.Once
}

func (l *genaiLink) writeAudio(chunk pcm.Chunk) error {
	raw, err := pcm.Decode(chunk.Data)
	if err != nil {
		return err
	}
	return l.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: raw, MIMEType: chunk.MIMEType()},
	})
}

func (l *genaiLink) readEvents(asm *transcriptAssembler) ([]Event, error) {
	for {
		msg, err := l.live.Receive()
		if err != nil {
			return nil, err
		}
		if msg.GoAway != nil {
			l.logger.Warn("server going away")
		}
		if evs := genaiEvents(msg, asm, l.outputRate); len(evs) > 0 {
			return evs, nil
		}
	}
}

func (l *genaiLink) release(ctx context.Context, readDone <-chan struct{}) error {
	var err error
	l.releaseOnce.Do(func() {
		err = l.live.Close()
		_ = waitOrTimeout(ctx, readDone, l.grace)
	})
	if err != nil {
		return &CloseError{Cause: err}
	}
	return nil
}

// genaiEvents maps an SDK server message onto the wire types shared with
// GeminiLive so both backends translate events identically.
func genaiEvents(msg *genai.LiveServerMessage, asm *transcriptAssembler, outputRate int) []Event {
	c := msg.ServerContent
	if c == nil {
		return nil
	}

	sc := serverContent{
		TurnComplete: c.TurnComplete,
		Interrupted:  c.Interrupted,
	}
	if t := c.InputTranscription; t != nil {
		sc.InputTranscription = &transcription{Text: t.Text, Finished: t.Finished}
	}
	if t := c.OutputTranscription; t != nil {
		sc.OutputTranscription = &transcription{Text: t.Text, Finished: t.Finished}
	}
	if c.ModelTurn != nil {
		sc.ModelTurn = &content{}
		for _, p := range c.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
				continue
			}
			sc.ModelTurn.Parts = append(sc.ModelTurn.Parts, part{InlineData: &blob{
				Data:     pcm.EncodeRaw(p.InlineData.Data),
				MIMEType: p.InlineData.MIMEType,
			}})
		}
	}
	return sc.events(asm, outputRate)
}

// Ensure GenAI implements Transport.
var _ Transport = (*GenAI)(nil)
