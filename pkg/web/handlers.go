package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-livetalk/pkg/conversation"
	"github.com/teslashibe/go-livetalk/pkg/hub"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the current status projection
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.engine.Status())
}

// handleTranscript returns the message log of the current conversation
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(s.engine.Status().Transcript)
}

// handleLatency returns the in-progress and average turn latency
func (s *Server) handleLatency(c *fiber.Ctx) error {
	if s.cfg.Turns == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "latency tracking disabled"})
	}
	return c.JSON(fiber.Map{
		"current": s.cfg.Turns.Current(),
		"average": s.cfg.Turns.Average(),
		"turns":   s.cfg.Turns.Turns(),
	})
}

// handleStart begins a conversation. Opening the session can take a while,
// so it runs in the background and progress arrives over /ws/status.
func (s *Server) handleStart(c *fiber.Ctx) error {
	st := s.engine.Status()
	if st.State != conversation.StateIdle {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  conversation.ErrAlreadyStarted.Error(),
			"status": st,
		})
	}

	go s.start()

	return c.Status(fiber.StatusAccepted).JSON(st)
}

func (s *Server) start() {
	if err := s.engine.Start(s.baseCtx); err != nil {
		if conversation.IsAlreadyActive(err) {
			s.logger.Debug("start rejected", "error", err)
			return
		}
		s.logger.Warn("start failed", "error", err)
	}
}

// handleStop ends the conversation; it is a no-op when idle
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.engine.Stop()
	return c.JSON(s.engine.Status())
}

// handleToggle maps the single UI control onto start or stop
func (s *Server) handleToggle(c *fiber.Ctx) error {
	if s.engine.Status().State == conversation.StateIdle {
		go s.start()
		return c.Status(fiber.StatusAccepted).JSON(s.engine.Status())
	}
	return s.handleStop(c)
}

// handleStatusWS streams status updates to a dashboard client
func (s *Server) handleStatusWS(c *websocket.Conn) {
	client, err := hub.NewClient(s.statusHub, c)
	if err != nil {
		s.logger.Debug("status client rejected", "error", err)
		return
	}

	// Send current status first
	if msg, err := hub.NewEnvelope("status", s.engine.Status()); err == nil {
		c.WriteMessage(websocket.TextMessage, msg.Data)
	}

	client.Run()
}
