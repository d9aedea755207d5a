package driver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/inputemu-core/internal/audit"
	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/hooks"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/ipc"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// Logger defines the logging interface used by the driver.
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

// Options configures a ServerDriver.
type Options struct {
	// Transport carries the control channel. Nil runs without IPC.
	Transport ipc.Transport
	IPC       ipc.ServerConfig

	// Overrides is used for every settings key the runtime does not set.
	Overrides device.Overrides

	// StaleAfterFrames is passed to the registry; see device.Config.
	StaleAfterFrames int

	// Engine is the compensation engine. Nil creates one with defaults.
	Engine *motion.Engine

	// Store loads compensation settings at Init and saves them after changes.
	Store motion.Store

	// Repository records device sightings from a background worker.
	Repository device.Repository

	// Audit records every control-channel change. Optional.
	Audit audit.Repository

	// EventBuffer bounds events waiting to be published.
	EventBuffer int

	Logger Logger
}

// ServerDriver is the driver the runtime loads. It intercepts the runtime's
// objects, routes their calls through the device registry and serves the
// control channel.
type ServerDriver struct {
	opts     Options
	logger   Logger
	hooks    *hooks.Manager
	engine   *motion.Engine
	queues   *EventQueues
	events   *publisher
	registry *device.Registry
	records  *device.AsyncRepository
	server   *ipc.Server

	mu          sync.Mutex
	initialized bool
	closed      bool
	installPath string
	overrides   device.Overrides
	running     atomic.Bool

	// Runtime objects intercepted through the context, keyed by instance.
	// One object handed out under several identities is hooked once.
	hookedMu sync.Mutex
	hooked   map[host.Ref]*hooks.Handle
}

// New creates a driver. Nothing is intercepted until Init.
//
// Parameters:
//   - opts: Control channel, overrides, persistence and logger; all optional
//
// Returns:
//   - *ServerDriver: Driver ready for Init
func New(opts Options) *ServerDriver {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	engine := opts.Engine
	if engine == nil {
		engine = motion.NewEngine()
	}
	engine.SetLogger(logger)

	d := &ServerDriver{
		opts:   opts,
		logger: logger,
		hooks:  hooks.NewManager(),
		engine: engine,
		queues: NewEventQueues(),
		events: newPublisher(opts.EventBuffer, logger),
		hooked: make(map[host.Ref]*hooks.Handle),
	}
	d.hooks.SetLogger(logger)
	return d
}

// Init brings the driver up inside the runtime.
//
// It reads the install path and the override settings, intercepts the driver
// context and, through it, the server driver host and property service, then
// starts the control channel. Failure to intercept is logged and the runtime
// keeps working unmodified. A driver is initialized at most once.
func (d *ServerDriver) Init(ctx context.Context, dctx *host.DriverContext) error {
	if dctx == nil {
		return fmt.Errorf("%w: nil driver context", ErrNotInitialized)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return ErrAlreadyInitialized
	}
	d.initialized = true

	funcs := dctx.Funcs()
	d.installPath = funcs.GetInstallPath()

	var settings host.Settings
	if iface, err := funcs.GetGenericInterface(host.IVRSettings); err != nil {
		d.logger.Warn("settings store unavailable, using configured overrides", "error", err)
	} else if s, ok := iface.(host.Settings); ok {
		settings = s
	}
	d.overrides = LoadOverrides(settings, d.opts.Overrides, d.logger)

	if d.opts.Store != nil {
		s, ok, err := d.opts.Store.Load(ctx)
		switch {
		case err != nil:
			d.logger.Warn("loading motion compensation settings failed", "error", err)
		case ok:
			if err := d.engine.ApplySettings(s); err != nil {
				d.logger.Warn("ignoring stored motion compensation settings", "error", err)
			}
		}
	}

	d.registry = device.NewRegistry(device.Config{
		Overrides:        d.overrides,
		StaleAfterFrames: d.opts.StaleAfterFrames,
	}, d.engine)
	d.registry.SetLogger(d.logger)
	d.registry.SetInterceptor(d.hooks)
	if d.opts.Repository != nil {
		d.records = device.NewAsyncRepository(d.opts.Repository, 0)
		d.records.SetLogger(d.logger)
		d.registry.SetRepository(d.records)
	}
	d.registry.SetListener(func(ev device.Event) {
		d.events.publish(ipc.NewDeviceEvent(ev))
	})
	d.engine.SetStateListener(func(st motion.Status) {
		d.events.publish(ipc.NewMotionEvent(st))
	})

	d.hooks.RegisterDefaults(hooks.Handlers{
		Context:      handler{d},
		Host:         handler{d},
		DeviceDriver: handler{d},
		Properties:   handler{d},
	})

	if _, err := d.hooks.Hook(dctx, host.IVRDriverContext); err != nil {
		d.logger.Error("driver context interception failed, running pass-through", "error", err)
	} else {
		// Fetch the shared objects through the intercepted context so they
		// are intercepted even if another driver already holds them.
		for _, name := range []string{
			host.IVRServerDriverHostLegacy,
			host.IVRServerDriverHost,
			host.IVRServerDriverHostLatest,
			host.IVRProperties,
		} {
			if _, err := dctx.Funcs().GetGenericInterface(name); err != nil {
				d.logger.Debug("runtime interface not offered", "identity", name)
			}
		}
	}

	d.events.start(ctx)

	if d.opts.Transport != nil {
		ctl := &control{registry: d.registry, engine: d.engine, store: d.opts.Store, audit: d.opts.Audit, logger: d.logger}
		srv := ipc.NewServer(d.opts.Transport, d.opts.IPC, ctl, ctl, d)
		srv.SetLogger(d.logger)
		if err := srv.Start(ctx); err != nil {
			d.teardownLocked()
			d.closed = true
			return fmt.Errorf("starting control channel: %w", err)
		}
		d.server = srv
		d.events.setServer(srv)
	}

	d.running.Store(true)
	d.logger.Info("driver initialized",
		"install_path", d.installPath,
		"intercepted", d.hooks.Active(),
		"disguise_generic_trackers", d.overrides.DisguiseGenericTrackers,
	)
	return nil
}

// interceptInterface hooks an object handed out by the driver context.
func (d *ServerDriver) interceptInterface(name string, iface any) {
	var identity string
	switch obj := iface.(type) {
	case *host.ServerDriverHost:
		if !host.IsServerDriverHost(name) {
			return
		}
		identity = name
	case *host.Properties:
		if name != host.IVRProperties {
			return
		}
		identity = name
		d.registry.SetPropertyService(propertyService{props: obj})
	default:
		return
	}

	ref := iface.(interface{ Ref() host.Ref }).Ref()
	d.hookedMu.Lock()
	defer d.hookedMu.Unlock()
	if _, ok := d.hooked[ref]; ok {
		return
	}
	h, err := d.hooks.Hook(iface, identity)
	if err != nil {
		if !errors.Is(err, hooks.ErrAlreadyIntercepted) {
			d.logger.Warn("runtime interface interception failed, passing through", "identity", identity, "error", err)
		}
		return
	}
	d.hooked[ref] = h
	d.logger.Debug("runtime interface intercepted", "identity", identity)
}

// RunFrame is called once per runtime frame.
func (d *ServerDriver) RunFrame() {
	if !d.running.Load() {
		return
	}
	d.registry.RunFrameTick()
}

// Cleanup stops the control channel and restores every intercepted object.
func (d *ServerDriver) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized || d.closed {
		return
	}
	d.teardownLocked()
	d.closed = true
	d.logger.Info("driver cleaned up")
}

func (d *ServerDriver) teardownLocked() {
	d.running.Store(false)
	if d.server != nil {
		d.server.Stop()
		d.server = nil
		d.events.setServer(nil)
	}
	d.hooks.Close()
	d.hookedMu.Lock()
	clear(d.hooked)
	d.hookedMu.Unlock()
	d.registry.Close()
	d.events.stop()
	if d.records != nil {
		d.records.Close()
	}
	d.queues.Clear()
}

// InjectVendorEvent queues an event for the runtime. It is delivered the
// next time the runtime polls the server driver host the device was added
// through.
func (d *ServerDriver) InjectVendorEvent(index uint32, eventType host.EventType, data []byte, offset float64) error {
	if !d.running.Load() {
		return ErrNotInitialized
	}
	sink, err := d.registry.HostSink(index)
	if err != nil {
		return err
	}
	d.queues.Push(sink, host.Event{
		Type:        eventType,
		DeviceIndex: index,
		AgeSeconds:  offset,
		Data:        slices.Clone(data),
	})
	return nil
}

// AddEventListener registers fn for every device and motion event. fn runs on
// the publisher goroutine and must not block.
func (d *ServerDriver) AddEventListener(fn func(ipc.Event)) {
	d.events.addListener(fn)
}

// Registry returns the device registry, or nil before Init.
func (d *ServerDriver) Registry() *device.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry
}

// Engine returns the compensation engine.
func (d *ServerDriver) Engine() *motion.Engine { return d.engine }

// Hooks returns the interception manager.
func (d *ServerDriver) Hooks() *hooks.Manager { return d.hooks }

// Overrides returns the override policy in effect.
func (d *ServerDriver) Overrides() device.Overrides {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overrides
}

// InstallPath returns the path the runtime reported at Init.
func (d *ServerDriver) InstallPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installPath
}
