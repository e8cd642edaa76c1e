// Package web serves the conversation dashboard: a small JSON API for the
// start/stop toggle, a websocket that pushes every status change, and the
// Prometheus scrape endpoint.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-livetalk/pkg/conversation"
	"github.com/teslashibe/go-livetalk/pkg/hub"
	"github.com/teslashibe/go-livetalk/pkg/metrics"
)

// Engine is the conversation surface driven by the dashboard.
// conversation.Controller implements it.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Status() conversation.Status
}

// Config configures the dashboard server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// StaticDir is served at "/" when set.
	StaticDir string

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Turns backs /api/latency. May be nil.
	Turns *metrics.LatencyTracker

	Logger *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    Config
	engine Engine
	logger *slog.Logger

	// statusHub pushes status and turn updates to dashboard clients
	statusHub *hub.Hub

	// baseCtx bounds conversations started from the API
	baseCtx context.Context
}

// NewServer creates a new web dashboard server
func NewServer(engine Engine, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		logger:    logger,
		statusHub: hub.New("status", cfg.Logger),
		baseCtx:   context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "livetalk",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/latency", s.handleLatency)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/toggle", s.handleToggle)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the status hub.
func (s *Server) Hub() *hub.Hub {
	return s.statusHub
}

// PublishStatus pushes a status snapshot to every dashboard client.
// It is meant to be registered with Controller.OnStatus.
func (s *Server) PublishStatus(st conversation.Status) {
	if err := s.statusHub.BroadcastEvent("status", st); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}

// PublishTurn pushes a finished turn's latency record.
func (s *Server) PublishTurn(turn metrics.Turn) {
	if err := s.statusHub.BroadcastEvent("turn", turn); err != nil {
		s.logger.Warn("turn encode failed", "error", err)
	}
}

// Run starts the hub and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	go s.statusHub.Run(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown failed", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}
