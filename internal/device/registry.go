package device

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/inputemu-core/internal/hooks"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Interceptor installs interceptions on device driver instances.
// *hooks.Manager satisfies it.
type Interceptor interface {
	Hook(instance any, identity string) (*hooks.Handle, error)
}

// PropertyService resolves device indices to property containers.
type PropertyService interface {
	TrackedDeviceToPropertyContainer(index uint32) host.PropertyContainer
}

// Compensator is the motion compensation engine as seen by the registry.
// *motion.Engine satisfies it.
type Compensator interface {
	Enable(index uint32, mode motion.Mode) error
	Disable()
	ReferenceIndex() (uint32, bool)
	RecordReferencePose(index uint32, pose *host.DriverPose)
	Apply(pose *host.DriverPose)
	RunFrame(refIndex uint32, referenceValid bool) bool
}

// noSlot marks an empty entry in the index table.
const noSlot int32 = -1

// defaultStaleAfterFrames is roughly one second at the runtime's frame rate.
const defaultStaleAfterFrames = 93

// Handle is the manipulation state of one device. Handles are owned by the
// Registry; the mutable fields are guarded by the registry lock.
type Handle struct {
	slot         int32
	native       host.Ref
	serial       string
	sink         host.Ref
	origClass    host.DeviceClass
	class        host.DeviceClass
	discoveredAt time.Time

	index     uint32
	container host.PropertyContainer
	mode      Mode
	valid     bool
	intercept *hooks.Handle
	stale     bool

	framesSincePose atomic.Uint32
}

// Serial returns the device serial number.
func (h *Handle) Serial() string { return h.serial }

// NativeRef returns the runtime's identity for the device driver.
func (h *Handle) NativeRef() host.Ref { return h.native }

// Config configures a Registry.
type Config struct {
	Overrides Overrides

	// StaleAfterFrames marks a device stale after this many frames without a
	// pose. Zero uses the default; negative disables staleness tracking.
	StaleAfterFrames int
}

// Registry routes intercepted runtime calls to per-device handles.
//
// Handles live in an arena and are reachable through three keys: the native
// driver reference, the runtime device index and the property container.
// Once a device is activated all three resolve to the same handle.
//
// The registry never calls out (interceptor, property service, engine,
// repository, listener) while holding its lock, so hook callbacks that
// re-enter the registry cannot deadlock.
//
// All public methods are thread-safe.
type Registry struct {
	mu          sync.RWMutex
	handles     []*Handle
	byIndex     [host.MaxTrackedDeviceCount]int32
	byNative    map[host.Ref]int32
	byContainer map[host.PropertyContainer]int32

	overrides      Overrides
	manufacturer   []byte
	model          []byte
	trackingSystem []byte
	staleAfter     uint32

	engine      Compensator
	interceptor Interceptor
	props       PropertyService
	repo        Repository
	listener    func(Event)
	logger      Logger
	clock       func() time.Time
}

// NewRegistry creates a registry driving engine.
//
// Parameters:
//   - cfg: Override policy and stale threshold
//   - engine: Motion compensation engine fed by reference poses
//
// Returns:
//   - *Registry: Empty registry; attach a property service before use
func NewRegistry(cfg Config, engine Compensator) *Registry {
	r := &Registry{
		byNative:       make(map[host.Ref]int32),
		byContainer:    make(map[host.PropertyContainer]int32),
		overrides:      cfg.Overrides,
		manufacturer:   overrideBytes(cfg.Overrides.Manufacturer),
		model:          overrideBytes(cfg.Overrides.Model),
		trackingSystem: overrideBytes(cfg.Overrides.TrackingSystem),
		engine:         engine,
		logger:         noopLogger{},
		clock:          time.Now,
	}
	for i := range r.byIndex {
		r.byIndex[i] = noSlot
	}
	switch {
	case cfg.StaleAfterFrames == 0:
		r.staleAfter = defaultStaleAfterFrames
	case cfg.StaleAfterFrames > 0:
		r.staleAfter = uint32(cfg.StaleAfterFrames)
	}
	return r
}

// overrideBytes returns s with its terminator, or nil for an empty override.
func overrideBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return append([]byte(s), 0)
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetInterceptor sets the interceptor used to hook device drivers.
func (r *Registry) SetInterceptor(i Interceptor) {
	r.mu.Lock()
	r.interceptor = i
	r.mu.Unlock()
}

// SetPropertyService sets the runtime property service. The driver calls
// this once the runtime hands out its properties interface.
func (r *Registry) SetPropertyService(p PropertyService) {
	r.mu.Lock()
	r.props = p
	r.mu.Unlock()
}

// SetRepository sets the repository that records device sightings.
func (r *Registry) SetRepository(repo Repository) {
	r.mu.Lock()
	r.repo = repo
	r.mu.Unlock()
}

// SetListener registers fn to receive lifecycle events. fn runs outside the
// registry lock on the calling goroutine.
func (r *Registry) SetListener(fn func(Event)) {
	r.mu.Lock()
	r.listener = fn
	r.mu.Unlock()
}

// Overrides returns the configured override policy.
func (r *Registry) Overrides() Overrides {
	return r.overrides
}

// collaborators is a copy of the registry's dependencies taken under lock.
type collaborators struct {
	interceptor Interceptor
	props       PropertyService
	repo        Repository
	listener    func(Event)
	logger      Logger
}

func (r *Registry) deps() collaborators {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.depsLocked()
}

func (r *Registry) depsLocked() collaborators {
	return collaborators{
		interceptor: r.interceptor,
		props:       r.props,
		repo:        r.repo,
		listener:    r.listener,
		logger:      r.logger,
	}
}

func (c collaborators) emit(t EventType, info Info) {
	if c.listener != nil {
		c.listener(Event{Type: t, Device: info})
	}
}

// infoLocked snapshots h. Caller must hold r.mu.
func infoLocked(h *Handle) Info {
	return Info{
		Serial:        h.serial,
		Class:         h.class,
		OriginalClass: h.origClass,
		Index:         h.index,
		Container:     h.container,
		Mode:          h.mode,
		Valid:         h.valid,
		Intercepted:   h.intercept != nil,
		Stale:         h.stale,
		DiscoveredAt:  h.discoveredAt,
	}
}

// OnDeviceDiscovered registers a device the runtime is about to add and
// returns the class the runtime should observe. The device driver is hooked
// so its activation is seen. driver may be nil when the caller has no native
// instance to intercept.
//
// On ErrAlreadyInUse or ErrTooManyDevices the device is not registered and
// the returned class must still be forwarded to the runtime.
func (r *Registry) OnDeviceDiscovered(native host.Ref, serial string, class host.DeviceClass, sink host.Ref, driver any) (host.DeviceClass, error) {
	observed := class
	if r.overrides.DisguiseGenericTrackers && class == host.ClassGenericTracker {
		observed = host.ClassController
	}

	r.mu.Lock()
	d := r.depsLocked()
	if _, exists := r.byNative[native]; exists {
		r.mu.Unlock()
		d.logger.Warn("device discovered twice", "serial", serial, "native", native.String())
		return observed, fmt.Errorf("%w: %s", ErrAlreadyInUse, serial)
	}
	if len(r.handles) >= host.MaxTrackedDeviceCount {
		r.mu.Unlock()
		d.logger.Error("device arena full", "serial", serial, "limit", host.MaxTrackedDeviceCount)
		return observed, fmt.Errorf("%w: limit %d", ErrTooManyDevices, host.MaxTrackedDeviceCount)
	}
	h := &Handle{
		slot:         int32(len(r.handles)),
		native:       native,
		serial:       serial,
		sink:         sink,
		origClass:    class,
		class:        observed,
		discoveredAt: r.clock(),
		index:        host.IndexInvalid,
	}
	r.handles = append(r.handles, h)
	r.byNative[native] = h.slot
	r.mu.Unlock()

	if d.interceptor != nil && driver != nil {
		ih, err := d.interceptor.Hook(driver, host.ITrackedDeviceServerDriver)
		if err != nil {
			d.logger.Warn("device driver interception failed, passing through",
				"serial", serial,
				"error", err,
			)
		} else {
			r.mu.Lock()
			h.intercept = ih
			r.mu.Unlock()
		}
	}

	r.mu.RLock()
	info := infoLocked(h)
	r.mu.RUnlock()

	d.logger.Info("device discovered",
		"serial", serial,
		"class", class.String(),
		"observed_class", observed.String(),
	)
	if d.repo != nil {
		d.repo.RecordDiscovery(info)
	}
	d.emit(EventDiscovered, info)
	return observed, nil
}

// OnDeviceActivated assigns the runtime index to a discovered device and
// registers its property container. Activations of devices this registry
// never saw are logged and ignored.
func (r *Registry) OnDeviceActivated(native host.Ref, index uint32) {
	d := r.deps()
	if index >= host.MaxTrackedDeviceCount {
		d.logger.Warn("activation index out of range", "index", index, "native", native.String())
		return
	}

	r.mu.RLock()
	_, known := r.byNative[native]
	r.mu.RUnlock()
	if !known {
		d.logger.Debug("activation of unknown device ignored", "index", index, "native", native.String())
		return
	}

	container := host.InvalidPropertyContainer
	if d.props != nil {
		container = d.props.TrackedDeviceToPropertyContainer(index)
	}

	r.mu.Lock()
	slot, ok := r.byNative[native]
	if !ok {
		r.mu.Unlock()
		return
	}
	h := r.handles[slot]

	if h.index != host.IndexInvalid && h.index != index && r.byIndex[h.index] == slot {
		r.byIndex[h.index] = noSlot
	}
	if prev := r.byIndex[index]; prev != noSlot && prev != slot {
		other := r.handles[prev]
		other.index = host.IndexInvalid
		other.valid = false
		d.logger.Warn("device index reassigned", "index", index, "previous_serial", other.serial, "serial", h.serial)
	}
	h.index = index
	h.valid = true
	h.framesSincePose.Store(0)
	h.stale = false
	r.byIndex[index] = slot

	if container != host.InvalidPropertyContainer {
		if h.container != host.InvalidPropertyContainer && r.byContainer[h.container] == slot {
			delete(r.byContainer, h.container)
		}
		h.container = container
		r.byContainer[container] = slot
	}
	info := infoLocked(h)
	r.mu.Unlock()

	d.logger.Info("device activated", "serial", info.Serial, "index", index, "container", uint64(container))
	if d.repo != nil {
		d.repo.RecordActivation(info)
	}
	d.emit(EventActivated, info)
}

// OnDeviceDeactivated invalidates the device's handle and drops its index
// and container keys. The native key stays so the device can be activated
// again.
func (r *Registry) OnDeviceDeactivated(native host.Ref) {
	r.mu.Lock()
	d := r.depsLocked()
	slot, ok := r.byNative[native]
	if !ok {
		r.mu.Unlock()
		return
	}
	h := r.handles[slot]
	if h.index != host.IndexInvalid && r.byIndex[h.index] == slot {
		r.byIndex[h.index] = noSlot
	}
	if h.container != host.InvalidPropertyContainer && r.byContainer[h.container] == slot {
		delete(r.byContainer, h.container)
	}
	h.valid = false
	info := infoLocked(h)
	h.index = host.IndexInvalid
	h.container = host.InvalidPropertyContainer
	r.mu.Unlock()

	d.logger.Info("device deactivated", "serial", info.Serial, "index", info.Index)
	d.emit(EventDeactivated, info)
}

// ByNative returns the handle registered under a native reference.
func (r *Registry) ByNative(native host.Ref) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.byNative[native]
	if !ok {
		return nil, false
	}
	return r.handles[slot], true
}

// ByIndex returns the handle registered under a runtime device index.
func (r *Registry) ByIndex(index uint32) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.byIndexLocked(index)
	return h, h != nil
}

// ByContainer returns the handle registered under a property container.
func (r *Registry) ByContainer(c host.PropertyContainer) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.byContainer[c]
	if !ok {
		return nil, false
	}
	return r.handles[slot], true
}

func (r *Registry) byIndexLocked(index uint32) *Handle {
	if index >= host.MaxTrackedDeviceCount {
		return nil
	}
	slot := r.byIndex[index]
	if slot == noSlot {
		return nil
	}
	return r.handles[slot]
}

// activeLocked returns the valid handle at index or ErrInvalidID.
func (r *Registry) activeLocked(index uint32) (*Handle, error) {
	h := r.byIndexLocked(index)
	if h == nil || !h.valid {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, index)
	}
	return h, nil
}

// DeviceInfo returns a snapshot of the active device at index.
func (r *Registry) DeviceInfo(index uint32) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, err := r.activeLocked(index)
	if err != nil {
		return Info{}, err
	}
	return infoLocked(h), nil
}

// Devices returns snapshots of every known device, active devices first in
// index order.
func (r *Registry) Devices() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, infoLocked(h))
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Info) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// HostSink returns the host sink identity the device was added through.
func (r *Registry) HostSink(index uint32) (host.Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, err := r.activeLocked(index)
	if err != nil {
		return host.Ref{}, err
	}
	return h.sink, nil
}

// SetDeviceMode switches a device between ModeNormal and ModeDisabled.
// Use SetMotionCompensationReference to make a device the reference.
// Moving the current reference out of reference mode disables compensation.
func (r *Registry) SetDeviceMode(index uint32, mode Mode) error {
	if mode != ModeNormal && mode != ModeDisabled {
		return fmt.Errorf("%w: %s cannot be set directly", ErrInvalidMode, mode)
	}

	r.mu.Lock()
	d := r.depsLocked()
	h, err := r.activeLocked(index)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	wasReference := h.mode == ModeMotionCompensationReference
	h.mode = mode
	info := infoLocked(h)
	r.mu.Unlock()

	if wasReference {
		r.engine.Disable()
	}
	d.logger.Info("device mode changed", "serial", info.Serial, "index", index, "mode", mode.String())
	d.emit(EventModeChanged, info)
	return nil
}

// SetMotionCompensationReference makes the device at index the motion
// compensation reference using mm, demoting any previous reference to
// ModeNormal. motion.ModeDisabled clears the reference instead.
func (r *Registry) SetMotionCompensationReference(index uint32, mm motion.Mode) error {
	if mm != motion.ModeDisabled && mm != motion.ModeMovingAverage && mm != motion.ModeKalman {
		return fmt.Errorf("%w: %d", motion.ErrInvalidMode, int(mm))
	}

	r.mu.Lock()
	d := r.depsLocked()
	h, err := r.activeLocked(index)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	var changed []Info
	for _, other := range r.handles {
		if other != h && other.mode == ModeMotionCompensationReference {
			other.mode = ModeNormal
			changed = append(changed, infoLocked(other))
		}
	}
	if mm == motion.ModeDisabled {
		if h.mode == ModeMotionCompensationReference {
			h.mode = ModeNormal
		}
	} else {
		h.mode = ModeMotionCompensationReference
	}
	changed = append(changed, infoLocked(h))
	r.mu.Unlock()

	if mm == motion.ModeDisabled {
		r.engine.Disable()
	} else if err := r.engine.Enable(index, mm); err != nil {
		return err
	}

	for _, info := range changed {
		d.emit(EventModeChanged, info)
	}
	d.logger.Info("motion compensation reference set", "index", index, "mode", mm.String())
	return nil
}

// Close releases every device driver interception and invalidates all
// handles.
func (r *Registry) Close() {
	r.mu.Lock()
	var intercepts []*hooks.Handle
	for _, h := range r.handles {
		if h.intercept != nil {
			intercepts = append(intercepts, h.intercept)
			h.intercept = nil
		}
		h.valid = false
	}
	for i := range r.byIndex {
		r.byIndex[i] = noSlot
	}
	clear(r.byContainer)
	r.mu.Unlock()

	for _, ih := range intercepts {
		ih.Unhook()
	}
}
