// livetalk - real-time voice conversation with a Gemini Live model
// Captures the microphone, streams it to the model and plays the spoken reply
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teslashibe/go-livetalk/internal/config"
	livelog "github.com/teslashibe/go-livetalk/internal/log"
	"github.com/teslashibe/go-livetalk/pkg/audioio"
	"github.com/teslashibe/go-livetalk/pkg/conversation"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
	"github.com/teslashibe/go-livetalk/pkg/transport"
	"github.com/teslashibe/go-livetalk/pkg/web"
)

type flags struct {
	configPath string
	debug      bool
	addr       string
	transport  string
	voice      string
	input      string
	output     string
	autostart  bool
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	f := parseFlags()

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := livelog.Init(cfg.Log.Level)
	logger.Info("livetalk starting",
		"transport", cfg.Transport,
		"model", cfg.Session.Model,
		"voice", cfg.Session.Voice,
		"backends", audioio.AvailableBackends(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, f.autostart, logger); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

// parseFlags parses command line flags.
func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	flag.BoolVar(&f.debug, "debug", false, "Enable verbose debug logging")
	flag.StringVar(&f.addr, "addr", "", "Dashboard listen address (overrides config)")
	flag.StringVar(&f.transport, "transport", "", "Session transport: websocket or genai")
	flag.StringVar(&f.voice, "voice", "", "Prebuilt synthesis voice")
	flag.StringVar(&f.input, "input", "", "Input backend: auto, portaudio, mock")
	flag.StringVar(&f.output, "output", "", "Output backend: auto, portaudio, timer")
	flag.BoolVar(&f.autostart, "autostart", false, "Start a conversation immediately")
	flag.Parse()
	return f
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if f.debug {
		cfg.Log.Level = "debug"
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.voice != "" {
		cfg.Session.Voice = f.voice
	}
	if f.input != "" {
		cfg.Input.Backend = audioio.Backend(f.input)
	}
	if f.output != "" {
		cfg.Output.Backend = audioio.Backend(f.output)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, autostart bool, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	tr, err := transport.New(cfg.Transport,
		transport.WithAPIKey(cfg.APIKey),
		transport.WithEndpoint(cfg.Endpoint),
		transport.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	out, err := audioio.NewOutput(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer out.Close()

	ctrl, err := conversation.New(audioio.NewAcquirer(cfg.Input, logger), tr, out,
		conversation.WithSessionConfig(cfg.Session),
		conversation.WithCloseTimeout(cfg.CloseTimeout),
		conversation.WithLogger(logger),
		conversation.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	defer ctrl.Stop()

	srv := web.NewServer(ctrl, web.Config{
		Addr:      cfg.HTTP.Addr,
		StaticDir: cfg.HTTP.StaticDir,
		Gatherer:  reg,
		Turns:     m.TurnTracker(),
		Logger:    logger,
	})
	ctrl.OnStatus(srv.PublishStatus)
	m.TurnTracker().OnUpdate(func(turn metrics.Turn) {
		logger.Info("turn complete", "latency", turn.FormatLatency(), "audio_chunks", turn.AudioChunks)
		srv.PublishTurn(turn)
	})

	if autostart {
		go func() {
			if err := ctrl.Start(ctx); err != nil {
				logger.Error("autostart failed", "error", err)
			}
		}()
	}

	return srv.Run(ctx)
}
