package simhost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// DefaultFrameRate is the simulated display refresh rate.
const DefaultFrameRate = 90

// Logger defines the logging interface used by the runtime.
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

// slot is one device as the runtime sees it.
type slot struct {
	dev       *Device
	serial    string
	class     host.DeviceClass
	container host.PropertyContainer
	active    bool

	lastPose  host.DriverPose
	poseCount int
}

// Runtime is a deterministic in-process tracking runtime. It hands out a
// driver context, one server driver host, a property store and a settings
// store, and calls every native object through its function table so
// interceptions installed by a driver take effect.
type Runtime struct {
	mu          sync.Mutex
	installPath string
	settings    *Settings
	slots       []*slot
	properties  map[host.PropertyContainer]map[host.Property]string
	attached    map[host.Ref]*Device
	events      []host.Event
	frame       uint64
	logger      Logger

	ctx         *host.DriverContext
	driverHost  *host.ServerDriverHost
	props       *host.Properties
	hostVersion string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithInstallPath sets the path reported to drivers.
func WithInstallPath(path string) Option {
	return func(r *Runtime) { r.installPath = path }
}

// WithSettings sets the settings store.
func WithSettings(s *Settings) Option {
	return func(r *Runtime) { r.settings = s }
}

// WithHostVersion selects the server driver host interface version the
// runtime hands out.
func WithHostVersion(identity string) Option {
	return func(r *Runtime) { r.hostVersion = identity }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New creates a runtime with no devices.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		installPath: "/opt/inputemu",
		settings:    NewSettings(),
		properties:  make(map[host.PropertyContainer]map[host.Property]string),
		attached:    make(map[host.Ref]*Device),
		logger:      noopLogger{},
		hostVersion: host.IVRServerDriverHost,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.ctx = host.NewObject(&host.DriverContextFuncs{
		GetGenericInterface: r.getGenericInterface,
		GetInstallPath:      func() string { return r.installPath },
	})
	r.driverHost = host.NewObject(&host.ServerDriverHostFuncs{
		TrackedDeviceAdded:       r.trackedDeviceAdded,
		TrackedDevicePoseUpdated: r.trackedDevicePoseUpdated,
		VendorSpecificEvent:      r.vendorSpecificEvent,
		PollNextEvent:            r.pollNextEvent,
	})
	r.props = host.NewObject(&host.PropertiesFuncs{
		WritePropertyBatch:               r.writePropertyBatch,
		TrackedDeviceToPropertyContainer: r.trackedDeviceToPropertyContainer,
	})
	return r
}

// DriverContext returns the context handed to a driver's Init.
func (r *Runtime) DriverContext() *host.DriverContext { return r.ctx }

// ServerDriverHost returns the runtime's server driver host object.
func (r *Runtime) ServerDriverHost() *host.ServerDriverHost { return r.driverHost }

// Properties returns the runtime's property service object.
func (r *Runtime) Properties() *host.Properties { return r.props }

func (r *Runtime) getGenericInterface(name string) (any, error) {
	switch name {
	case r.hostVersion:
		return r.driverHost, nil
	case host.IVRProperties:
		return r.props, nil
	case host.IVRSettings:
		return r.settings, nil
	default:
		return nil, fmt.Errorf("%w: %s", host.ErrInterfaceNotFound, name)
	}
}

func (r *Runtime) trackedDeviceAdded(serial string, class host.DeviceClass, drv *host.DeviceDriver) bool {
	if drv == nil {
		return false
	}
	r.mu.Lock()
	if len(r.slots) >= host.MaxTrackedDeviceCount {
		r.mu.Unlock()
		r.logger.Warn("simulated runtime full", "serial", serial)
		return false
	}
	for _, s := range r.slots {
		if s.serial == serial {
			r.mu.Unlock()
			return false
		}
	}
	index := uint32(len(r.slots))
	s := &slot{
		dev:       r.attached[drv.Ref()],
		serial:    serial,
		class:     class,
		container: containerFor(index),
	}
	r.slots = append(r.slots, s)
	r.properties[s.container] = make(map[host.Property]string)
	r.mu.Unlock()

	r.logger.Debug("simulated device added", "serial", serial, "class", class.String(), "index", index)

	// The runtime activates synchronously through the driver's table.
	if err := drv.Funcs().Activate(index); err != nil {
		r.logger.Warn("simulated device activation failed", "serial", serial, "error", err)
		return false
	}
	r.mu.Lock()
	s.active = true
	r.mu.Unlock()
	return true
}

func containerFor(index uint32) host.PropertyContainer {
	return host.PropertyContainer(0x1000 + uint64(index))
}

func (r *Runtime) trackedDevicePoseUpdated(index uint32, pose *host.DriverPose, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return
	}
	s := r.slots[index]
	s.lastPose = *pose
	s.poseCount++
}

func (r *Runtime) vendorSpecificEvent(index uint32, t host.EventType, data []byte, offset float64) {
	r.mu.Lock()
	r.events = append(r.events, host.Event{
		Type:        t,
		DeviceIndex: index,
		AgeSeconds:  offset,
		Data:        append([]byte(nil), data...),
	})
	r.mu.Unlock()
}

func (r *Runtime) pollNextEvent(ev *host.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return false
	}
	*ev = r.events[0]
	r.events = r.events[1:]
	return true
}

func (r *Runtime) writePropertyBatch(container host.PropertyContainer, batch []host.PropertyWrite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.properties[container]
	if !ok {
		return fmt.Errorf("%w: property container %d", host.ErrInterfaceNotFound, uint64(container))
	}
	for _, w := range batch {
		if w.Tag == host.TagString {
			store[w.Prop] = w.String()
		}
	}
	return nil
}

func (r *Runtime) trackedDeviceToPropertyContainer(index uint32) host.PropertyContainer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return host.InvalidPropertyContainer
	}
	return r.slots[index].container
}

// AddDevice announces dev to the runtime through the server driver host,
// as the device's own driver would. It returns the assigned index.
func (r *Runtime) AddDevice(dev *Device) (uint32, error) {
	r.mu.Lock()
	r.attached[dev.Object().Ref()] = dev
	r.mu.Unlock()
	dev.attach(r)
	if !r.driverHost.Funcs().TrackedDeviceAdded(dev.Serial(), dev.Class(), dev.Object()) {
		return host.IndexInvalid, fmt.Errorf("simhost: device %s rejected", dev.Serial())
	}
	return dev.Index(), nil
}

// DeactivateDevice deactivates the device at index through its driver.
func (r *Runtime) DeactivateDevice(index uint32) error {
	r.mu.Lock()
	if int(index) >= len(r.slots) || !r.slots[index].active {
		r.mu.Unlock()
		return fmt.Errorf("simhost: no active device at %d", index)
	}
	s := r.slots[index]
	s.active = false
	r.mu.Unlock()

	if s.dev != nil {
		s.dev.Object().Funcs().Deactivate()
	}
	return nil
}

// DeviceClass returns the class the runtime observed for index.
func (r *Runtime) DeviceClass(index uint32) (host.DeviceClass, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return host.ClassInvalid, false
	}
	return r.slots[index].class, true
}

// Property returns a string property the runtime stored for index.
func (r *Runtime) Property(index uint32, prop host.Property) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return "", false
	}
	v, ok := r.properties[r.slots[index].container][prop]
	return v, ok
}

// LastPose returns the last pose the runtime received for index and how
// many poses it received in total.
func (r *Runtime) LastPose(index uint32) (host.DriverPose, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return host.DriverPose{}, 0
	}
	s := r.slots[index]
	return s.lastPose, s.poseCount
}

// DrainEvents pops every event a driver delivers through PollNextEvent.
// It calls through the host's table, so injected events come first.
func (r *Runtime) DrainEvents() []host.Event {
	var out []host.Event
	for {
		var ev host.Event
		if !r.driverHost.Funcs().PollNextEvent(&ev) {
			return out
		}
		out = append(out, ev)
	}
}

// Step advances one frame: every active device reports its pose through the
// server driver host, then frame is called.
func (r *Runtime) Step(frame func()) {
	r.mu.Lock()
	r.frame++
	elapsed := time.Duration(r.frame) * time.Second / DefaultFrameRate
	var active []*slot
	var indices []uint32
	for i, s := range r.slots {
		if s.active && s.dev != nil {
			active = append(active, s)
			indices = append(indices, uint32(i))
		}
	}
	r.mu.Unlock()

	for i, s := range active {
		pose := s.dev.Pose(elapsed)
		r.driverHost.Funcs().TrackedDevicePoseUpdated(indices[i], &pose, host.DriverPoseSize)
	}
	if frame != nil {
		frame()
	}
}

// Frames returns the number of frames stepped.
func (r *Runtime) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Run steps the runtime at rate frames per second until ctx is done.
func (r *Runtime) Run(ctx context.Context, rate int, frame func()) error {
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	r.logger.Info("simulated runtime running", "frame_rate", rate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Step(frame)
		}
	}
}
