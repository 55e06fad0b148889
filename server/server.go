// Package server exposes a peer over HTTP: the websocket endpoint other peers connect to, a health check and a few
// read-only debug views of the replicated state.
package server

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/server/handler"
	"pkg.world.dev/world-engine/replicate/transport/ws"
)

const (
	DefaultPort     = "4040"
	shutdownTimeout = 5 * time.Second
)

// Hub is the part of the websocket hub the server needs.
type Hub interface {
	Handler() fiber.Handler
	Close() error
}

var _ Hub = (*ws.Hub)(nil)

type Server struct {
	app          *fiber.App
	provider     handler.Provider
	hub          Hub
	port         string
	disableDebug bool
}

func New(provider handler.Provider, opts ...Option) (*Server, error) {
	if provider == nil {
		return nil, eris.New("server requires a non-nil provider")
	}

	app := fiber.New(fiber.Config{
		Network:               "tcp", // Enable server listening on both ipv4 & ipv6 (default: ipv4 only)
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})
	app.Use(cors.New())

	s := &Server{
		app:      app,
		provider: provider,
		port:     DefaultPort,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) Port() string {
	return s.port
}

// Serve listens on the configured port and blocks until ctx is canceled or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on port %s", s.port)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)

	go func() {
		log.Info().Msgf("Starting HTTP server at %s", ln.Addr())
		if err := s.app.Listener(ln); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return eris.Wrap(err, "server encountered an error")
	case <-ctx.Done():
		if err := s.shutdown(); err != nil {
			return eris.Wrap(err, "error shutting down server")
		}
	}

	return nil
}

// shutdown closes every peer connection, then stops fiber.
func (s *Server) shutdown() error {
	log.Info().Msg("Shutting down server")

	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close peer connections")
		}
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return eris.Wrap(err, "error shutting down server")
	}

	log.Info().Msg("Successfully shut down server")
	return nil
}

func (s *Server) setupRoutes() {
	// Route: /peer
	if s.hub != nil {
		s.app.Use("/peer", ws.Upgrader)
		s.app.Get("/peer", s.hub.Handler())
	}

	// Route: /health
	s.app.Get("/health", handler.GetHealth(s.provider))

	if s.disableDebug {
		return
	}

	// Route: /debug/...
	debug := s.app.Group("/debug")
	debug.Get("/entities", handler.GetDebugEntities(s.provider))
	debug.Get("/entities/:type/:id", handler.GetDebugEntity(s.provider))
	debug.Get("/templates", handler.GetDebugTemplates(s.provider))
}
