package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/inputemu-core/internal/audit"
	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/config"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/logging"
	"github.com/nerrad567/inputemu-core/internal/ipc"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
)

// DeviceSource is the part of the device registry the API reads.
type DeviceSource interface {
	Devices() []device.Info
	DeviceInfo(index uint32) (device.Info, error)
}

// MotionSource reports compensation state.
type MotionSource interface {
	Status() motion.Status
}

// EventSource delivers driver events to registered listeners.
type EventSource interface {
	AddEventListener(fn func(ipc.Event))
}

// AuditSource lists recorded control-channel changes.
type AuditSource interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds what the server reads from. Devices and Motion are required.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Devices DeviceSource
	Motion  MotionSource
	Events  EventSource
	Audit   AuditSource

	// Checks are reported by /health under their map key.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	devices DeviceSource
	motion  MotionSource
	events  EventSource
	audit   AuditSource
	checks  map[string]HealthChecker
	version string
	hub     *Hub

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates deps. Nothing listens until Start.
//
// Parameters:
//   - deps: Data sources and configuration; Devices and Motion are required
//
// Returns:
//   - *Server: Server ready to Start
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if deps.Motion == nil {
		return nil, fmt.Errorf("motion source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.Component("api")

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  logger,
		devices: deps.Devices,
		motion:  deps.Motion,
		events:  deps.Events,
		audit:   deps.Audit,
		checks:  deps.Checks,
		version: deps.Version,
		hub:     NewHub(deps.WS, logger),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start binds the listener and serves in the background. Driver events are
// relayed to WebSocket clients from here on.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	if s.events != nil {
		s.events.AddEventListener(s.hub.Publish)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.addr = ln.Addr()
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}(s.server, s.done)

	s.logger.Info("api server listening", "address", s.addr.String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, done, cancel := s.server, s.done, s.cancel
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	cancel()
	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()
	err := srv.Shutdown(ctx)
	<-done
	if err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
