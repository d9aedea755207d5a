package driver

import (
	"errors"

	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/hooks"
	"github.com/nerrad567/inputemu-core/internal/host"
)

// handler receives every intercepted runtime call and routes it to the
// registry. It holds no state of its own.
type handler struct {
	d *ServerDriver
}

var (
	_ hooks.ContextHandler      = handler{}
	_ hooks.HostHandler         = handler{}
	_ hooks.DeviceDriverHandler = handler{}
	_ hooks.PropertiesHandler   = handler{}
)

// GetGenericInterface intercepts the objects the runtime hands out so that
// device announcements and property writes of every driver pass through us.
func (h handler) GetGenericInterface(_ host.Ref, name string, orig func(string) (any, error)) (any, error) {
	iface, err := orig(name)
	if err != nil {
		return iface, err
	}
	h.d.interceptInterface(name, iface)
	return iface, nil
}

func (h handler) TrackedDeviceAdded(sink host.Ref, serial string, class host.DeviceClass, drv *host.DeviceDriver,
	orig func(string, host.DeviceClass, *host.DeviceDriver) bool) bool {
	if drv == nil {
		return orig(serial, class, drv)
	}
	observed, err := h.d.registry.OnDeviceDiscovered(drv.Ref(), serial, class, sink, drv)
	if err != nil {
		h.d.logger.Debug("device not managed", "serial", serial, "error", err)
	}
	return orig(serial, observed, drv)
}

func (h handler) TrackedDevicePoseUpdated(_ host.Ref, index uint32, pose *host.DriverPose, poseSize uint32,
	orig func(uint32, *host.DriverPose, uint32)) {
	if h.d.registry.DispatchPoseUpdate(index, pose, poseSize) {
		orig(index, pose, poseSize)
	}
}

// PollNextEvent delivers injected events before the runtime's own.
func (h handler) PollNextEvent(sink host.Ref, ev *host.Event, orig func(*host.Event) bool) bool {
	if h.d.queues.Pop(sink, ev) {
		return true
	}
	return orig(ev)
}

// Activate registers the index before the device's own activation runs, so
// the property writes it makes resolve to the device. A failed activation is
// rolled back.
func (h handler) Activate(drv host.Ref, index uint32, orig func(uint32) error) error {
	h.d.registry.OnDeviceActivated(drv, index)
	if err := orig(index); err != nil {
		h.d.logger.Warn("device activation failed", "index", index, "error", err)
		h.d.registry.OnDeviceDeactivated(drv)
		return err
	}
	return nil
}

func (h handler) Deactivate(drv host.Ref, orig func()) {
	orig()
	h.d.registry.OnDeviceDeactivated(drv)
}

func (h handler) WritePropertyBatch(_ host.Ref, container host.PropertyContainer, batch []host.PropertyWrite,
	orig func(host.PropertyContainer, []host.PropertyWrite) error) error {
	if err := h.d.registry.DispatchPropertyWrite(container, batch); err != nil && !errors.Is(err, device.ErrNotFound) {
		h.d.logger.Debug("property override skipped", "container", uint64(container), "error", err)
	}
	return orig(container, batch)
}

// propertyService resolves containers through the runtime's own table.
type propertyService struct {
	props *host.Properties
}

func (p propertyService) TrackedDeviceToPropertyContainer(index uint32) host.PropertyContainer {
	return p.props.Funcs().TrackedDeviceToPropertyContainer(index)
}
