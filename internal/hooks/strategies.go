package hooks

import (
	"github.com/nerrad567/inputemu-core/internal/host"
)

// ContextHandler receives intercepted IVRDriverContext calls.
type ContextHandler interface {
	GetGenericInterface(ctx host.Ref, name string, orig func(string) (any, error)) (any, error)
}

// HostHandler receives intercepted IVRServerDriverHost calls.
type HostHandler interface {
	TrackedDeviceAdded(sink host.Ref, serial string, class host.DeviceClass, driver *host.DeviceDriver,
		orig func(string, host.DeviceClass, *host.DeviceDriver) bool) bool
	TrackedDevicePoseUpdated(sink host.Ref, index uint32, pose *host.DriverPose, poseSize uint32,
		orig func(uint32, *host.DriverPose, uint32))
	PollNextEvent(sink host.Ref, ev *host.Event, orig func(*host.Event) bool) bool
}

// DeviceDriverHandler receives intercepted ITrackedDeviceServerDriver calls.
type DeviceDriverHandler interface {
	Activate(driver host.Ref, index uint32, orig func(uint32) error) error
	Deactivate(driver host.Ref, orig func())
}

// PropertiesHandler receives intercepted IVRProperties calls.
type PropertiesHandler interface {
	WritePropertyBatch(props host.Ref, container host.PropertyContainer, batch []host.PropertyWrite,
		orig func(host.PropertyContainer, []host.PropertyWrite) error) error
}

// Handlers bundles the handlers for every interface kind. Nil handlers leave
// the corresponding identities unregistered.
type Handlers struct {
	Context      ContextHandler
	Host         HostHandler
	DeviceDriver DeviceDriverHandler
	Properties   PropertiesHandler
}

// RegisterDefaults registers strategies for every interface identity the
// driver intercepts.
func (m *Manager) RegisterDefaults(h Handlers) {
	if h.Context != nil {
		m.mustRegister(host.IVRDriverContext, m.contextStrategy(h.Context))
	}
	if h.Host != nil {
		s := m.hostStrategy(h.Host)
		for _, id := range []string{host.IVRServerDriverHostLegacy, host.IVRServerDriverHost, host.IVRServerDriverHostLatest} {
			m.mustRegister(id, s)
		}
	}
	if h.DeviceDriver != nil {
		m.mustRegister(host.ITrackedDeviceServerDriver, m.deviceDriverStrategy(h.DeviceDriver))
	}
	if h.Properties != nil {
		m.mustRegister(host.IVRProperties, m.propertiesStrategy(h.Properties))
	}
}

func (m *Manager) mustRegister(identity string, s Strategy) {
	if err := m.Register(identity, s); err != nil {
		panic(err)
	}
}

// guard runs fn and recovers any panic so it never unwinds into runtime
// frames. It reports whether fn completed.
//
// Callers fall back to the original entry on a panic only when the handler
// had not reached it yet, so the runtime never sees one call twice.
func (m *Manager) guard(op string, ref host.Ref, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log().Error("hook handler panic recovered",
				"operation", op,
				"instance", ref.String(),
				"panic", r,
			)
			ok = false
		}
	}()
	fn()
	return true
}

func (m *Manager) contextStrategy(h ContextHandler) Strategy {
	return NewStrategy(KindDriverContext, func(ref host.Ref, orig *host.DriverContextFuncs) *host.DriverContextFuncs {
		p := *orig
		p.GetGenericInterface = func(name string) (any, error) {
			var (
				iface any
				err   error
				ran   bool
			)
			call := func(name string) (any, error) {
				ran = true
				iface, err = orig.GetGenericInterface(name)
				return iface, err
			}
			if !m.guard("GetGenericInterface", ref, func() {
				iface, err = h.GetGenericInterface(ref, name, call)
			}) && !ran {
				return orig.GetGenericInterface(name)
			}
			return iface, err
		}
		return &p
	})
}

func (m *Manager) hostStrategy(h HostHandler) Strategy {
	return NewStrategy(KindServerDriverHost, func(ref host.Ref, orig *host.ServerDriverHostFuncs) *host.ServerDriverHostFuncs {
		p := *orig
		p.TrackedDeviceAdded = func(serial string, class host.DeviceClass, driver *host.DeviceDriver) bool {
			var added, ran bool
			call := func(serial string, class host.DeviceClass, driver *host.DeviceDriver) bool {
				ran = true
				added = orig.TrackedDeviceAdded(serial, class, driver)
				return added
			}
			if !m.guard("TrackedDeviceAdded", ref, func() {
				added = h.TrackedDeviceAdded(ref, serial, class, driver, call)
			}) && !ran {
				return orig.TrackedDeviceAdded(serial, class, driver)
			}
			return added
		}
		p.TrackedDevicePoseUpdated = func(index uint32, pose *host.DriverPose, poseSize uint32) {
			var ran bool
			call := func(index uint32, pose *host.DriverPose, poseSize uint32) {
				ran = true
				orig.TrackedDevicePoseUpdated(index, pose, poseSize)
			}
			if !m.guard("TrackedDevicePoseUpdated", ref, func() {
				h.TrackedDevicePoseUpdated(ref, index, pose, poseSize, call)
			}) && !ran {
				orig.TrackedDevicePoseUpdated(index, pose, poseSize)
			}
		}
		p.PollNextEvent = func(ev *host.Event) bool {
			var got, ran bool
			call := func(ev *host.Event) bool {
				ran = true
				got = orig.PollNextEvent(ev)
				return got
			}
			if !m.guard("PollNextEvent", ref, func() {
				got = h.PollNextEvent(ref, ev, call)
			}) && !ran {
				return orig.PollNextEvent(ev)
			}
			return got
		}
		return &p
	})
}

func (m *Manager) deviceDriverStrategy(h DeviceDriverHandler) Strategy {
	return NewStrategy(KindDeviceDriver, func(ref host.Ref, orig *host.TrackedDeviceDriverFuncs) *host.TrackedDeviceDriverFuncs {
		p := *orig
		p.Activate = func(index uint32) error {
			var (
				err error
				ran bool
			)
			call := func(index uint32) error {
				ran = true
				err = orig.Activate(index)
				return err
			}
			if !m.guard("Activate", ref, func() {
				err = h.Activate(ref, index, call)
			}) && !ran {
				return orig.Activate(index)
			}
			return err
		}
		p.Deactivate = func() {
			var ran bool
			call := func() {
				ran = true
				orig.Deactivate()
			}
			if !m.guard("Deactivate", ref, func() {
				h.Deactivate(ref, call)
			}) && !ran {
				orig.Deactivate()
			}
		}
		return &p
	})
}

func (m *Manager) propertiesStrategy(h PropertiesHandler) Strategy {
	return NewStrategy(KindProperties, func(ref host.Ref, orig *host.PropertiesFuncs) *host.PropertiesFuncs {
		p := *orig
		p.WritePropertyBatch = func(container host.PropertyContainer, batch []host.PropertyWrite) error {
			var (
				err error
				ran bool
			)
			call := func(container host.PropertyContainer, batch []host.PropertyWrite) error {
				ran = true
				err = orig.WritePropertyBatch(container, batch)
				return err
			}
			if !m.guard("WritePropertyBatch", ref, func() {
				err = h.WritePropertyBatch(ref, container, batch, call)
			}) && !ran {
				return orig.WritePropertyBatch(container, batch)
			}
			return err
		}
		return &p
	})
}
