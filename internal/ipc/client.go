package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/inputemu-core/internal/motion"
)

// Logger defines the logging interface used by clients and servers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// reply is delivered to a pending call exactly once.
type reply struct {
	env Envelope
	err error
}

// Client is the external-application side of the control channel.
//
// Modal calls are correlated with replies by a random 32-bit id that is
// unique among the client's pending calls. A single reader goroutine routes
// replies to the waiting caller; whoever removes a pending entry (the reader,
// Disconnect, or the abandoning caller) is the only one that may complete it.
//
// All methods are safe for concurrent use.
type Client struct {
	transport     Transport
	serverChannel string
	clientPrefix  string
	clientID      string
	version       uint32
	nextID        func() uint32
	logger        Logger

	mu         sync.Mutex
	connected  bool
	sender     Sender
	receiver   Receiver
	cancel     context.CancelFunc
	readerDone chan struct{}

	pendingMu sync.Mutex
	pending   map[uint32]chan reply
	accepting bool

	eventMu sync.RWMutex
	onEvent func(Event)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChannels overrides the server-bound channel name and the prefix of
// the client-bound channel.
func WithChannels(server, clientPrefix string) ClientOption {
	return func(c *Client) {
		c.serverChannel = server
		c.clientPrefix = clientPrefix
	}
}

// WithClientID fixes the client id instead of generating one.
func WithClientID(id string) ClientOption {
	return func(c *Client) { c.clientID = id }
}

// WithProtocolVersion overrides the version sent in pings.
func WithProtocolVersion(v uint32) ClientOption {
	return func(c *Client) { c.version = v }
}

// WithIDSource overrides the request id generator.
func WithIDSource(next func() uint32) ClientOption {
	return func(c *Client) { c.nextID = next }
}

// NewClient creates a disconnected client.
//
// Parameters:
//   - t: Transport shared with the server
//   - opts: Channel names, client id, protocol version or id source
//
// Returns:
//   - *Client: Disconnected client; call Connect before any request
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport:     t,
		serverChannel: DefaultServerChannel,
		clientPrefix:  DefaultClientPrefix,
		clientID:      uuid.NewString(),
		version:       ProtocolVersion,
		nextID:        rand.Uint32,
		logger:        noopLogger{},
		pending:       make(map[uint32]chan reply),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetEventHandler registers fn for server-pushed events. fn runs on the
// reader goroutine and must not call Disconnect.
func (c *Client) SetEventHandler(fn func(Event)) {
	c.eventMu.Lock()
	c.onEvent = fn
	c.eventMu.Unlock()
}

// ID returns the client id.
func (c *Client) ID() string { return c.clientID }

// Connected reports whether the client is connected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect opens both channels, starts the reader and verifies the server's
// protocol version. On a version mismatch the client is disconnected again
// and the error matches ErrVersionMismatch.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	recv, err := c.transport.OpenReceiver(ClientChannel(c.clientPrefix, c.clientID))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("opening client channel: %w", err)
	}
	send, err := c.transport.OpenSender(c.serverChannel)
	if err != nil {
		recv.Close() //nolint:errcheck // Best effort cleanup on error path
		c.mu.Unlock()
		return fmt.Errorf("opening server channel: %w", err)
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	c.sender = send
	c.receiver = recv
	c.cancel = cancel
	c.readerDone = make(chan struct{})
	c.connected = true

	c.pendingMu.Lock()
	c.accepting = true
	c.pendingMu.Unlock()

	go c.readLoop(readerCtx, recv, c.readerDone)
	c.mu.Unlock()

	if _, err := c.Ping(ctx); err != nil {
		c.Disconnect()
		return err
	}
	c.logger.Info("ipc client connected", "client_id", c.clientID)
	return nil
}

// Disconnect stops the reader, closes both channels and fails every
// pending call with ErrConnection. It is a no-op when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	cancel, recv, send, readerDone := c.cancel, c.receiver, c.sender, c.readerDone
	c.sender, c.receiver, c.cancel = nil, nil, nil
	c.mu.Unlock()

	cancel()
	recv.Close() //nolint:errcheck // Best effort, channel is being dropped
	send.Close() //nolint:errcheck // Best effort, channel is being dropped
	<-readerDone

	c.failPending(fmt.Errorf("%w: disconnected", ErrConnection))
	c.logger.Info("ipc client disconnected", "client_id", c.clientID)
}

// lost tears down a connection from the reader side after recv failed or
// the server stopped, so the next Connect opens fresh channels. A connection
// already replaced or dropped by Disconnect is left alone.
func (c *Client) lost(recv Receiver, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.receiver != recv {
		return
	}
	c.connected = false
	c.cancel()
	recv.Close()     //nolint:errcheck // Channel already failed
	c.sender.Close() //nolint:errcheck // Channel already failed
	c.sender, c.receiver, c.cancel = nil, nil, nil
	c.failPending(err)
}

// failPending completes every pending call with err and refuses new ones
// until the next Connect.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	c.accepting = false
	slots := c.pending
	c.pending = make(map[uint32]chan reply)
	c.pendingMu.Unlock()

	for _, slot := range slots {
		slot <- reply{err: err}
	}
}

// register reserves an id that no pending call is using.
func (c *Client) register() (uint32, chan reply, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if !c.accepting {
		return 0, nil, fmt.Errorf("%w: not connected", ErrConnection)
	}
	for {
		id := c.nextID()
		if id == 0 {
			continue
		}
		if _, busy := c.pending[id]; busy {
			continue
		}
		slot := make(chan reply, 1)
		c.pending[id] = slot
		return id, slot, nil
	}
}

// take removes and returns the pending slot for id.
func (c *Client) take(id uint32) (chan reply, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return slot, ok
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Client) readLoop(ctx context.Context, recv Receiver, done chan struct{}) {
	defer close(done)
	for {
		frame, err := recv.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("ipc client channel failed", "client_id", c.clientID, "error", err)
				c.lost(recv, fmt.Errorf("%w: %w", ErrConnection, err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Warn("discarding malformed ipc frame", "error", err)
			continue
		}

		if env.Op == OpEvent {
			c.dispatchEvent(env)
			continue
		}
		if env.Op == OpShutdown {
			c.logger.Info("ipc server stopped", "client_id", c.clientID)
			c.lost(recv, fmt.Errorf("%w: server stopped", ErrConnection))
			return
		}
		if env.ClientID != c.clientID {
			c.logger.Debug("discarding reply for another client", "client_id", env.ClientID, "id", env.ID)
			continue
		}
		slot, ok := c.take(env.ID)
		if !ok {
			c.logger.Debug("discarding reply without pending call", "op", env.Op, "id", env.ID)
			continue
		}
		slot <- reply{env: env}
	}
}

func (c *Client) dispatchEvent(env Envelope) {
	c.eventMu.RLock()
	fn := c.onEvent
	c.eventMu.RUnlock()
	if fn == nil {
		return
	}
	var ev Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		c.logger.Warn("discarding malformed ipc event", "error", err)
		return
	}
	fn(ev)
}

// CallOption modifies a single call.
type CallOption func(*callOptions)

type callOptions struct {
	noWait bool
}

// NoWait sends the request without waiting for, or asking for, a reply.
func NoWait() CallOption {
	return func(o *callOptions) { o.noWait = true }
}

// call sends op with payload and, for modal calls, decodes the reply payload
// into out.
func (c *Client) call(ctx context.Context, op Op, payload, out any, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	env := Envelope{Op: op, ClientID: c.clientID, Modal: !o.noWait}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encoding %s payload: %w", ErrInvalidType, op, err)
		}
		env.Payload = body
	}

	c.mu.Lock()
	send := c.sender
	c.mu.Unlock()
	if send == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}

	if o.noWait {
		return c.send(ctx, send, env)
	}

	id, slot, err := c.register()
	if err != nil {
		return err
	}
	env.ID = id

	if err := c.send(ctx, send, env); err != nil {
		if _, ok := c.take(id); !ok {
			// Completed concurrently (disconnect); drain so the slot is not leaked.
			<-slot
		}
		return err
	}

	select {
	case r := <-slot:
		if r.err != nil {
			return r.err
		}
		if r.env.Error != nil {
			return &RemoteError{Op: op, Kind: r.env.Error.Kind, Message: r.env.Error.Message}
		}
		if out != nil && len(r.env.Payload) > 0 {
			if err := json.Unmarshal(r.env.Payload, out); err != nil {
				return fmt.Errorf("%w: decoding %s reply: %w", ErrInvalidType, op, err)
			}
		}
		return nil
	case <-ctx.Done():
		if _, ok := c.take(id); !ok {
			// The reply won the race; it is discarded with the slot.
			<-slot
		}
		return ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, send Sender, env Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encoding envelope: %w", ErrInvalidType, err)
	}
	if err := send.Send(ctx, frame); err != nil {
		if errors.Is(err, ErrConnection) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

// Ping exchanges protocol versions with the server and returns the
// server's version.
func (c *Client) Ping(ctx context.Context) (uint32, error) {
	var out PingRequest
	if err := c.call(ctx, OpPing, PingRequest{Version: c.version}, &out); err != nil {
		return 0, err
	}
	if out.Version != c.version {
		return out.Version, fmt.Errorf("%w: client %d, server %d", ErrVersionMismatch, c.version, out.Version)
	}
	return out.Version, nil
}

// GetDeviceInfo returns the device at index.
func (c *Client) GetDeviceInfo(ctx context.Context, index uint32, opts ...CallOption) (DeviceInfo, error) {
	var out DeviceInfo
	err := c.call(ctx, OpGetDeviceInfo, DeviceRequest{Index: index}, &out, opts...)
	return out, err
}

// SetDeviceNormalMode delivers the device's poses normally.
func (c *Client) SetDeviceNormalMode(ctx context.Context, index uint32, opts ...CallOption) error {
	return c.call(ctx, OpSetDeviceNormalMode, DeviceRequest{Index: index}, nil, opts...)
}

// SetDeviceDisabledMode suppresses the device's poses.
func (c *Client) SetDeviceDisabledMode(ctx context.Context, index uint32, opts ...CallOption) error {
	return c.call(ctx, OpSetDeviceDisabledMode, DeviceRequest{Index: index}, nil, opts...)
}

// SetDeviceMotionCompensationMode makes the device the compensation
// reference and starts compensating with mode.
func (c *Client) SetDeviceMotionCompensationMode(ctx context.Context, index uint32, mode motion.Mode, opts ...CallOption) error {
	return c.call(ctx, OpSetDeviceMotionCompensationMode, DeviceModeRequest{Index: index, Mode: mode.String()}, nil, opts...)
}

// SetMotionCompensationMode switches the filter mode of the running
// compensation.
func (c *Client) SetMotionCompensationMode(ctx context.Context, mode motion.Mode, opts ...CallOption) error {
	return c.call(ctx, OpSetMotionCompensationMode, ModeRequest{Mode: mode.String()}, nil, opts...)
}

// SetMotionCompensationKalmanProcessNoise sets the Kalman process noise.
func (c *Client) SetMotionCompensationKalmanProcessNoise(ctx context.Context, v float64, opts ...CallOption) error {
	return c.call(ctx, OpSetMotionCompensationKalmanProcessNoise, ValueRequest{Value: v}, nil, opts...)
}

// SetMotionCompensationKalmanObservationNoise sets the Kalman observation noise.
func (c *Client) SetMotionCompensationKalmanObservationNoise(ctx context.Context, v float64, opts ...CallOption) error {
	return c.call(ctx, OpSetMotionCompensationKalmanObservationNoise, ValueRequest{Value: v}, nil, opts...)
}

// SetMotionCompensationMovingAverageWindow sets the moving average window.
func (c *Client) SetMotionCompensationMovingAverageWindow(ctx context.Context, n int, opts ...CallOption) error {
	return c.call(ctx, OpSetMotionCompensationMovingAverageWindow, WindowRequest{Window: n}, nil, opts...)
}

// GetMotionCompensationState returns the compensation engine status.
func (c *Client) GetMotionCompensationState(ctx context.Context, opts ...CallOption) (MotionState, error) {
	var out MotionState
	err := c.call(ctx, OpGetMotionCompensationState, nil, &out, opts...)
	return out, err
}

// ResetMotionCompensationZero recaptures the zero point from the next
// reference pose.
func (c *Client) ResetMotionCompensationZero(ctx context.Context, opts ...CallOption) error {
	return c.call(ctx, OpResetMotionCompensationZero, nil, nil, opts...)
}

// VendorSpecificEvent queues a vendor specific event for the device. The
// request is fire-and-forget.
func (c *Client) VendorSpecificEvent(ctx context.Context, index, eventType uint32, data []byte, offset float64) error {
	req := VendorEventRequest{Index: index, Type: eventType, Data: data, Offset: offset}
	return c.call(ctx, OpVendorSpecificEvent, req, nil, NoWait())
}
