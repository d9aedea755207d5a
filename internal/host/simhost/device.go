package simhost

import (
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Motion yields a device pose for the time elapsed since the runtime started.
type Motion func(elapsed time.Duration) host.DriverPose

// Static holds a device still at p.
func Static(p r3.Vec) Motion {
	return func(time.Duration) host.DriverPose {
		return host.NewPose(p)
	}
}

// Oscillate moves a device sinusoidally along axis around center.
func Oscillate(center, axis r3.Vec, amplitude float64, period time.Duration) Motion {
	if period <= 0 {
		period = time.Second
	}
	dir := r3.Unit(axis)
	omega := 2 * math.Pi / period.Seconds()
	return func(elapsed time.Duration) host.DriverPose {
		t := elapsed.Seconds()
		pose := host.NewPose(r3.Add(center, r3.Scale(amplitude*math.Sin(omega*t), dir)))
		pose.Velocity = r3.Scale(amplitude*omega*math.Cos(omega*t), dir)
		pose.Acceleration = r3.Scale(-amplitude*omega*omega*math.Sin(omega*t), dir)
		return pose
	}
}

// Device is a simulated tracked device driver. On activation it publishes
// its string properties through the runtime's property service, the way a
// real device driver would.
type Device struct {
	serial string
	class  host.DeviceClass
	motion Motion
	props  map[host.Property]string
	obj    *host.DeviceDriver
	failOn error

	mu          sync.Mutex
	rt          *Runtime
	index       uint32
	active      bool
	activations int
}

// NewDevice creates a device. A nil motion holds the device at the origin.
func NewDevice(serial string, class host.DeviceClass, motion Motion) *Device {
	if motion == nil {
		motion = Static(r3.Vec{})
	}
	d := &Device{
		serial: serial,
		class:  class,
		motion: motion,
		index:  host.IndexInvalid,
		props: map[host.Property]string{
			host.PropManufacturerName:   "Simulated Devices",
			host.PropModelNumber:        "Sim " + class.String(),
			host.PropTrackingSystemName: "simulated",
			host.PropSerialNumber:       serial,
		},
	}
	d.obj = host.NewObject(&host.TrackedDeviceDriverFuncs{
		Activate:   d.activate,
		Deactivate: d.deactivate,
		GetPose:    d.currentPose,
	})
	return d
}

// WithProperty sets a string property the device writes on activation.
func (d *Device) WithProperty(prop host.Property, value string) *Device {
	d.props[prop] = value
	return d
}

// FailActivation makes every activation of the device fail with err.
func (d *Device) FailActivation(err error) *Device {
	d.failOn = err
	return d
}

// Serial returns the device serial number.
func (d *Device) Serial() string { return d.serial }

// Class returns the class the device announces itself as.
func (d *Device) Class() host.DeviceClass { return d.class }

// Object returns the native driver instance handed to the runtime.
func (d *Device) Object() *host.DeviceDriver { return d.obj }

// Index returns the index assigned at activation, or host.IndexInvalid.
func (d *Device) Index() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index
}

// Active reports whether the device is activated.
func (d *Device) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Activations returns how often the runtime activated the device.
func (d *Device) Activations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activations
}

// Pose returns the device pose at elapsed.
func (d *Device) Pose(elapsed time.Duration) host.DriverPose {
	return d.motion(elapsed)
}

func (d *Device) attach(r *Runtime) {
	d.mu.Lock()
	d.rt = r
	d.mu.Unlock()
}

func (d *Device) activate(index uint32) error {
	if d.failOn != nil {
		return d.failOn
	}
	d.mu.Lock()
	d.index = index
	d.active = true
	d.activations++
	rt := d.rt
	d.mu.Unlock()

	if rt == nil {
		return nil
	}

	props := rt.Properties().Funcs()
	container := props.TrackedDeviceToPropertyContainer(index)

	keys := make([]host.Property, 0, len(d.props))
	for k := range d.props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	batch := make([]host.PropertyWrite, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, host.StringWrite(k, d.props[k]))
	}
	return props.WritePropertyBatch(container, batch)
}

func (d *Device) deactivate() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

func (d *Device) currentPose() host.DriverPose {
	return d.motion(0)
}
