package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/infrastructure/config"
	"github.com/nerrad567/probebench/internal/infrastructure/logging"
	"github.com/nerrad567/probebench/internal/plugin"
	"github.com/nerrad567/probebench/internal/stream"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// defaultWSPath is used when the WebSocket config leaves the path empty.
const defaultWSPath = "/api/v1/ws"

// Inventory is the read-only view of the console the relay reports on.
// *console.Console satisfies it.
type Inventory interface {
	ListDrivers() []string
	Describe(name string) (plugin.Descriptor, error)
	GetAllDevices() []device.Entry
}

// Deps holds the dependencies for the relay server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Broker    *stream.Broker
	Inventory Inventory // optional; inventory endpoints answer 503 without it
	Version   string
}

// Server is the read-only telemetry relay.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	broker    *stream.Broker
	inventory Inventory
	version   string
	started   time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a relay server. Call Start to begin serving.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("stream broker is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		broker:    deps.Broker,
		inventory: deps.Inventory,
		version:   deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.broker)
	return s, nil
}

// Start binds the listener and serves in the background. The hub and its
// broker tap live until Close or until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.hub.Start(srvCtx)

	s.started = time.Now()
	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("telemetry relay starting", "address", s.server.Addr, "ws_path", s.wsPath())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telemetry relay error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close shuts the server down, waiting up to gracefulShutdownTimeout for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("telemetry relay shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down telemetry relay: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}
