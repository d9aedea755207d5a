package host

import "sync/atomic"

// Table holds the function table a native object currently dispatches
// through. The runtime loads it on every call, so swapping the pointer
// redirects all subsequent calls.
type Table[T any] struct {
	p atomic.Pointer[T]
}

// Load returns the active function table.
func (t *Table[T]) Load() *T {
	return t.p.Load()
}

// Store replaces the active function table.
func (t *Table[T]) Store(funcs *T) {
	t.p.Store(funcs)
}

// CompareAndSwap replaces the table only if it is still old.
func (t *Table[T]) CompareAndSwap(old, funcs *T) bool {
	return t.p.CompareAndSwap(old, funcs)
}

// Object is a runtime-owned native instance: an identity plus the function
// table the runtime calls through.
type Object[T any] struct {
	ref   Ref
	table *Table[T]
}

// NewObject creates a native instance dispatching through funcs.
func NewObject[T any](funcs *T) *Object[T] {
	t := &Table[T]{}
	t.Store(funcs)
	return &Object[T]{ref: NewRef(), table: t}
}

// Ref returns the instance identity.
func (o *Object[T]) Ref() Ref {
	return o.ref
}

// Table returns the instance's function table slot.
func (o *Object[T]) Table() *Table[T] {
	return o.table
}

// Funcs returns the active function table. Runtime code calls through this.
func (o *Object[T]) Funcs() *T {
	return o.table.Load()
}

// DriverContextFuncs is the function table of IVRDriverContext.
type DriverContextFuncs struct {
	// GetGenericInterface returns the runtime object registered under name:
	// *ServerDriverHost, *Properties or a Settings value.
	GetGenericInterface func(name string) (any, error)

	// GetInstallPath returns the driver's installation directory.
	GetInstallPath func() string
}

// ServerDriverHostFuncs is the function table of IVRServerDriverHost. The
// 004, 005 and 006 interface versions share this logical shape.
type ServerDriverHostFuncs struct {
	// TrackedDeviceAdded announces a new device. The runtime activates the
	// driver before returning.
	TrackedDeviceAdded func(serial string, class DeviceClass, driver *DeviceDriver) bool

	// TrackedDevicePoseUpdated delivers a new pose for the device at index.
	TrackedDevicePoseUpdated func(index uint32, pose *DriverPose, poseSize uint32)

	// VendorSpecificEvent queues a driver event for the runtime.
	VendorSpecificEvent func(index uint32, eventType EventType, data []byte, timeOffset float64)

	// PollNextEvent pops the next pending event for the calling driver.
	PollNextEvent func(ev *Event) bool
}

// TrackedDeviceDriverFuncs is the function table of
// ITrackedDeviceServerDriver, implemented by device drivers and called by the
// runtime.
type TrackedDeviceDriverFuncs struct {
	Activate   func(index uint32) error
	Deactivate func()
	GetPose    func() DriverPose
}

// PropertiesFuncs is the function table of IVRProperties.
type PropertiesFuncs struct {
	WritePropertyBatch               func(container PropertyContainer, batch []PropertyWrite) error
	TrackedDeviceToPropertyContainer func(index uint32) PropertyContainer
}

// Native instance types handed out by the runtime.
type (
	DriverContext    = Object[DriverContextFuncs]
	ServerDriverHost = Object[ServerDriverHostFuncs]
	DeviceDriver     = Object[TrackedDeviceDriverFuncs]
	Properties       = Object[PropertiesFuncs]
)

// Settings is the runtime's read-only settings store.
type Settings interface {
	GetString(section, key string) (string, error)
	GetBool(section, key string) (bool, error)
}
