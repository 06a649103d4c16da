package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the admission pipeline behind the ingress. SubmitSignal is
// synchronous through admission; execution happens after it returns.
type Orchestrator interface {
	SubmitSignal(ctx context.Context, sig Signal) Classification
}

// HealthFunc reports component health for the /health endpoint.
type HealthFunc func() map[string]string

// Server is the HTTP ingress for trade signals.
type Server struct {
	app          *fiber.App
	orchestrator Orchestrator
	health       HealthFunc
	host         string
	port         int
}

func NewServer(host string, port int, orchestrator Orchestrator, health HealthFunc) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{
		app:          app,
		orchestrator: orchestrator,
		health:       health,
		host:         host,
		port:         port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"status": "ok",
			"time":   time.Now().Unix(),
		}
		if s.health != nil {
			components := s.health()
			resp["components"] = components
			for _, state := range components {
				if state != "ok" {
					resp["status"] = "degraded"
				}
			}
		}
		return c.JSON(resp)
	})

	s.app.Post("/signal", s.handleSignal)
}

func (s *Server) handleSignal(c *fiber.Ctx) error {
	var sig Signal
	if err := c.BodyParser(&sig); err != nil {
		log.Warn().Err(err).Msg("malformed signal payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "rejected",
			"code":   "INVALID_SIGNAL_FORMAT",
			"error":  "malformed JSON payload",
		})
	}

	outcome := s.orchestrator.SubmitSignal(c.Context(), sig)
	if !outcome.Accepted {
		log.Info().
			Str("signalId", sig.SignalID).
			Str("symbol", sig.Symbol).
			Str("code", outcome.Code).
			Msg("signal rejected")
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"status": "rejected",
			"code":   outcome.Code,
			"error":  outcome.Message,
		})
	}

	log.Info().
		Str("signalId", sig.SignalID).
		Str("symbol", sig.Symbol).
		Str("tradeId", outcome.TradeID).
		Msg("signal accepted")
	return c.JSON(fiber.Map{
		"status":   "accepted",
		"trade_id": outcome.TradeID,
	})
}

// Start blocks serving the ingress.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting signal server")
	return s.app.Listen(addr)
}

// Shutdown stops accepting new signals and drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
