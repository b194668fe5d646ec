// Package status serves the controller's operator view over HTTP: a JSON
// snapshot, a health check, Prometheus metrics and a WebSocket stream that
// pushes the snapshot periodically.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/signalsfoundry/rotortrack/internal/controller"
	"github.com/signalsfoundry/rotortrack/internal/logging"
)

// Provider yields the current controller status.
type Provider interface {
	Status() controller.Status
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() controller.Status

func (f ProviderFunc) Status() controller.Status { return f() }

// Config configures the status server.
type Config struct {
	Addr         string
	PushInterval time.Duration
}

// DefaultConfig returns the default listen address and push period.
func DefaultConfig() Config {
	return Config{Addr: ":8090", PushInterval: time.Second}
}

// Server is the fiber application behind the status surface.
type Server struct {
	cfg      Config
	app      *fiber.App
	provider Provider
	log      logging.Logger

	clients  atomic.Int64
	done     chan struct{}
	doneOnce sync.Once
}

// New builds the routes. metrics may be nil, in which case /metrics is not
// mounted.
func New(cfg Config, provider Provider, metrics http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultConfig().PushInterval
	}
	s := &Server{
		cfg:      cfg,
		provider: provider,
		log:      log.With(logging.String("component", "status")),
		done:     make(chan struct{}),
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "antenna-controller",
		}),
	}

	s.app.Use(recover.New())
	s.app.Use(s.requestLogger)

	api := s.app.Group("/api")
	api.Get("/health", s.health)
	api.Get("/status", s.status)

	if metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	s.app.Use("/websocket", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/websocket/status", websocket.New(s.stream))
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int64 { return s.clients.Load() }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info(context.Background(), "status server listening", logging.String("addr", ln.Addr().String()))
	return s.app.Listener(ln)
}

// Run listens on cfg.Addr until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown ends WebSocket streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	if err := s.app.ShutdownWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) health(c *fiber.Ctx) error {
	st := s.provider.Status()
	return c.JSON(fiber.Map{
		"status":  "OK",
		"state":   st.State,
		"faults":  st.Faults,
		"clients": s.clients.Load(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.provider.Status())
}

func (s *Server) stream(c *websocket.Conn) {
	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	s.log.Debug(context.Background(), "status stream opened",
		logging.String("remote", c.RemoteAddr().String()),
		logging.Any("clients", n),
	)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		if err := c.WriteJSON(s.provider.Status()); err != nil {
			s.log.Debug(context.Background(), "status stream write failed", logging.Err(err))
			return
		}
		select {
		case <-closed:
			return
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug(c.UserContext(), "http request",
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", c.Response().StatusCode()),
		logging.Duration("duration", time.Since(start)),
	)
	return err
}
