package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// DeviceService executes device operations. *device.Registry satisfies it.
type DeviceService interface {
	DeviceInfo(index uint32) (device.Info, error)
	SetDeviceMode(index uint32, mode device.Mode) error
	SetMotionCompensationReference(index uint32, mode motion.Mode) error
}

// MotionService executes compensation configuration. *motion.Engine
// satisfies it.
type MotionService interface {
	SetMode(mode motion.Mode) error
	SetWindow(n int) error
	SetProcessNoise(v float64) error
	SetObservationNoise(v float64) error
	ResetZero() error
	Status() motion.Status
}

// EventInjector queues events for delivery to the runtime.
type EventInjector interface {
	InjectVendorEvent(index uint32, eventType host.EventType, data []byte, offset float64) error
}

// replyTimeout bounds how long the server waits to hand a reply or event
// to a client channel.
const replyTimeout = 2 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	ServerChannel string
	ClientPrefix  string
	Version       uint32
}

// Server is the driver side of the control channel. One reader goroutine
// drains the server-bound channel and executes requests in arrival order.
type Server struct {
	transport Transport
	cfg       ServerConfig
	devices   DeviceService
	motion    MotionService
	events    EventInjector
	logger    Logger

	mu       sync.Mutex
	receiver Receiver
	cancel   context.CancelFunc
	done     chan struct{}
	clients  map[string]Sender
}

// NewServer creates a stopped server. events may be nil, in which case
// vendor event injection is rejected.
//
// Parameters:
//   - t: Transport the channels are opened on
//   - cfg: Channel names and protocol version; zero values use the defaults
//   - devices: Executes device queries and mode changes
//   - motionSvc: Executes compensation settings
//   - events: Queues injected events, may be nil
//
// Returns:
//   - *Server: Stopped server; call Start to serve
func NewServer(t Transport, cfg ServerConfig, devices DeviceService, motionSvc MotionService, events EventInjector) *Server {
	if cfg.ServerChannel == "" {
		cfg.ServerChannel = DefaultServerChannel
	}
	if cfg.ClientPrefix == "" {
		cfg.ClientPrefix = DefaultClientPrefix
	}
	if cfg.Version == 0 {
		cfg.Version = ProtocolVersion
	}
	return &Server{
		transport: t,
		cfg:       cfg,
		devices:   devices,
		motion:    motionSvc,
		events:    events,
		logger:    noopLogger{},
		clients:   make(map[string]Sender),
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Start opens the server-bound channel and starts the reader.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiver != nil {
		return nil
	}

	recv, err := s.transport.OpenReceiver(s.cfg.ServerChannel)
	if err != nil {
		return fmt.Errorf("opening server channel: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.receiver = recv
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, recv, s.done)
	s.logger.Info("ipc server started", "channel", s.cfg.ServerChannel, "version", s.cfg.Version)
	return nil
}

// Stop stops the reader and closes every channel.
//
// The request being executed still gets its reply. Modal requests left
// queued on the server channel are answered with a connection failure, and
// every known client is told the server stopped so it fails its other
// pending calls.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.receiver == nil {
		s.mu.Unlock()
		return
	}
	recv, cancel, done := s.receiver, s.cancel, s.done
	s.receiver, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	recv.Close() //nolint:errcheck // Best effort on shutdown
	<-done
	s.refuseQueued(recv)

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]Sender)
	s.mu.Unlock()

	for id, send := range clients {
		s.notifyShutdown(id, send)
		send.Close() //nolint:errcheck // Best effort on shutdown
	}
	s.logger.Info("ipc server stopped")
}

// refuseQueued answers the modal requests still queued on a closed
// receiver.
func (s *Server) refuseQueued(recv Receiver) {
	d, ok := recv.(drainer)
	if !ok {
		return
	}
	stopped := fmt.Errorf("%w: server stopped", ErrConnection)
	for _, frame := range d.Drain() {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || !env.Modal {
			continue
		}
		out := Envelope{Op: env.Op, ID: env.ID, ClientID: env.ClientID, Error: toWireError(stopped)}
		if err := s.sendTo(context.Background(), env.ClientID, out); err != nil {
			s.logger.Debug("ipc refusal not delivered", "op", env.Op, "client_id", env.ClientID, "error", err)
		}
	}
}

func (s *Server) notifyShutdown(clientID string, send Sender) {
	frame, err := json.Marshal(Envelope{Op: OpShutdown, ClientID: clientID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := send.Send(ctx, frame); err != nil {
		s.logger.Debug("ipc shutdown notice not delivered", "client_id", clientID, "error", err)
	}
}

// Clients returns the number of clients with an open reply channel.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) run(ctx context.Context, recv Receiver, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		frame, err := recv.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("ipc server channel failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Warn("discarding malformed ipc request", "error", err)
			continue
		}
		// Replies outlive Stop so the request in progress is answered.
		s.handle(context.WithoutCancel(ctx), env)
	}
}

func (s *Server) handle(ctx context.Context, env Envelope) {
	result, err := s.execute(env)
	if !env.Modal {
		if err != nil {
			s.logger.Warn("ipc request failed", "op", env.Op, "client_id", env.ClientID, "error", err)
		}
		return
	}

	out := Envelope{Op: env.Op, ID: env.ID, ClientID: env.ClientID, OK: err == nil}
	if err != nil {
		out.Error = toWireError(err)
		s.logger.Debug("ipc request failed", "op", env.Op, "id", env.ID, "kind", out.Error.Kind, "error", err)
	}
	if result != nil {
		body, merr := json.Marshal(result)
		if merr != nil {
			out.OK = false
			out.Error = toWireError(fmt.Errorf("%w: encoding reply: %w", ErrInvalidType, merr))
		} else {
			out.Payload = body
		}
	}

	if err := s.sendTo(ctx, env.ClientID, out); err != nil {
		s.logger.Warn("ipc reply not delivered", "op", env.Op, "client_id", env.ClientID, "error", err)
	}
}

// execute runs one request and returns the reply payload.
func (s *Server) execute(env Envelope) (any, error) {
	switch env.Op {
	case OpPing:
		var req PingRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		reply := PingRequest{Version: s.cfg.Version}
		if req.Version != s.cfg.Version {
			return reply, fmt.Errorf("%w: client %d, server %d", ErrVersionMismatch, req.Version, s.cfg.Version)
		}
		return reply, nil

	case OpGetDeviceInfo:
		var req DeviceRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		info, err := s.devices.DeviceInfo(req.Index)
		if err != nil {
			return nil, err
		}
		return NewDeviceInfo(info), nil

	case OpSetDeviceNormalMode, OpSetDeviceDisabledMode:
		var req DeviceRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		mode := device.ModeNormal
		if env.Op == OpSetDeviceDisabledMode {
			mode = device.ModeDisabled
		}
		return nil, s.devices.SetDeviceMode(req.Index, mode)

	case OpSetDeviceMotionCompensationMode:
		var req DeviceModeRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		mode, err := motion.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		return nil, s.devices.SetMotionCompensationReference(req.Index, mode)

	case OpSetMotionCompensationMode:
		var req ModeRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		mode, err := motion.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		return nil, s.motion.SetMode(mode)

	case OpSetMotionCompensationKalmanProcessNoise:
		var req ValueRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, s.motion.SetProcessNoise(req.Value)

	case OpSetMotionCompensationKalmanObservationNoise:
		var req ValueRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, s.motion.SetObservationNoise(req.Value)

	case OpSetMotionCompensationMovingAverageWindow:
		var req WindowRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		return nil, s.motion.SetWindow(req.Window)

	case OpGetMotionCompensationState:
		return NewMotionState(s.motion.Status()), nil

	case OpResetMotionCompensationZero:
		return nil, s.motion.ResetZero()

	case OpVendorSpecificEvent:
		var req VendorEventRequest
		if err := decode(env, &req); err != nil {
			return nil, err
		}
		if s.events == nil {
			return nil, fmt.Errorf("%w: event injection unavailable", device.ErrNotFound)
		}
		return nil, s.events.InjectVendorEvent(req.Index, host.EventType(req.Type), req.Data, req.Offset)

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidType, env.Op)
	}
}

func decode(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrInvalidType, env.Op)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrInvalidType, env.Op, err)
	}
	return nil
}

// sender returns the reply channel for a client, opening it on first use.
func (s *Server) sender(clientID string) (Sender, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: request without client id", ErrConnection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if send, ok := s.clients[clientID]; ok {
		return send, nil
	}
	send, err := s.transport.OpenSender(ClientChannel(s.cfg.ClientPrefix, clientID))
	if err != nil {
		return nil, err
	}
	s.clients[clientID] = send
	return send, nil
}

// forget drops a client whose channel has gone away.
func (s *Server) forget(clientID string, send Sender) {
	s.mu.Lock()
	if s.clients[clientID] == send {
		delete(s.clients, clientID)
	}
	s.mu.Unlock()
	send.Close() //nolint:errcheck // Channel already failed
}

// sendTo delivers env to a client. A cached channel that fails with
// ErrConnection is reopened once, since the client may have reconnected.
func (s *Server) sendTo(ctx context.Context, clientID string, env Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		send, err := s.sender(clientID)
		if err != nil {
			return err
		}
		err = send.Send(ctx, frame)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConnection) {
			return err
		}
		s.forget(clientID, send)
		if attempt > 0 {
			return err
		}
	}
}

// PublishEvent pushes ev to every client that has talked to the server.
// Clients whose channel has closed are forgotten.
func (s *Server) PublishEvent(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encoding ipc event", "error", err)
		return
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		env := Envelope{Op: OpEvent, ClientID: id, Payload: body}
		if err := s.sendTo(ctx, id, env); err != nil {
			s.logger.Debug("ipc event not delivered", "type", ev.Type, "client_id", id, "error", err)
		}
	}
}
