package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

func TestDispatchPoseUpdate(t *testing.T) {
	r, eng, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 0, host.ClassHMD, 0)
	addDevice(t, r, props, 1, host.ClassController, 0)
	addDevice(t, r, props, 2, host.ClassController, 0)

	require.NoError(t, r.SetDeviceMode(1, ModeDisabled))
	require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeMovingAverage))

	t.Run("normal device is compensated", func(t *testing.T) {
		pose := host.NewPose(r3.Vec{X: 1})
		assert.True(t, r.DispatchPoseUpdate(0, &pose, host.DriverPoseSize))
		assert.Equal(t, 101.0, pose.Position.X)
	})

	t.Run("disabled device is suppressed", func(t *testing.T) {
		pose := host.NewPose(r3.Vec{X: 1})
		assert.False(t, r.DispatchPoseUpdate(1, &pose, host.DriverPoseSize))
		assert.Equal(t, 1.0, pose.Position.X)
	})

	t.Run("reference feeds engine unchanged", func(t *testing.T) {
		pose := host.NewPose(r3.Vec{X: 1})
		assert.True(t, r.DispatchPoseUpdate(2, &pose, host.DriverPoseSize))
		assert.Equal(t, 1.0, pose.Position.X)
		assert.Equal(t, []uint32{2}, eng.recorded)
	})

	t.Run("unknown index passes through", func(t *testing.T) {
		pose := host.NewPose(r3.Vec{X: 1})
		assert.True(t, r.DispatchPoseUpdate(9, &pose, host.DriverPoseSize))
		assert.Equal(t, 1.0, pose.Position.X)
	})

	t.Run("short pose passes through", func(t *testing.T) {
		pose := host.NewPose(r3.Vec{X: 1})
		assert.True(t, r.DispatchPoseUpdate(1, &pose, host.DriverPoseSize-8))
		assert.Equal(t, 1.0, pose.Position.X)
	})
}

func TestDispatchPropertyWrite_Overrides(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{
		Manufacturer:   "Acme",
		Model:          "Visor 9",
		TrackingSystem: "acme_track",
	})
	addDevice(t, r, props, host.IndexHMD, host.ClassHMD, 10)
	addDevice(t, r, props, 1, host.ClassController, 11)

	batch := func() []host.PropertyWrite {
		return []host.PropertyWrite{
			host.StringWrite(host.PropManufacturerName, "Original Corp"),
			host.StringWrite(host.PropModelNumber, "Model X"),
			host.StringWrite(host.PropTrackingSystemName, "lighthouse"),
			host.StringWrite(host.PropSerialNumber, "SERIAL"),
		}
	}

	hmd := batch()
	require.NoError(t, r.DispatchPropertyWrite(10, hmd))
	assert.Equal(t, []byte("Acme\x00"), hmd[0].Buffer)
	assert.Equal(t, uint32(5), hmd[0].BufferSize)
	assert.Equal(t, host.TagString, hmd[0].Tag)
	assert.Equal(t, "Visor 9", hmd[1].String())
	assert.Equal(t, "acme_track", hmd[2].String())
	assert.Equal(t, "SERIAL", hmd[3].String())

	// Model is rewritten for the head-mounted display only.
	ctrl := batch()
	require.NoError(t, r.DispatchPropertyWrite(11, ctrl))
	assert.Equal(t, "Acme", ctrl[0].String())
	assert.Equal(t, "Model X", ctrl[1].String())
	assert.Equal(t, "acme_track", ctrl[2].String())

	// Applying twice yields the same bytes.
	require.NoError(t, r.DispatchPropertyWrite(11, ctrl))
	assert.Equal(t, []byte("Acme\x00"), ctrl[0].Buffer)
	assert.Equal(t, uint32(5), ctrl[0].BufferSize)
}

func TestDispatchPropertyWrite_BufferNotShared(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{Manufacturer: "Acme"})
	addDevice(t, r, props, 1, host.ClassController, 11)

	a := []host.PropertyWrite{host.StringWrite(host.PropManufacturerName, "x")}
	b := []host.PropertyWrite{host.StringWrite(host.PropManufacturerName, "y")}
	require.NoError(t, r.DispatchPropertyWrite(11, a))
	require.NoError(t, r.DispatchPropertyWrite(11, b))

	a[0].Buffer[0] = 'Z'
	assert.Equal(t, "Acme", b[0].String())
}

func TestDispatchPropertyWrite_NoOverrides(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 1, host.ClassController, 11)

	batch := []host.PropertyWrite{host.StringWrite(host.PropManufacturerName, "Original")}
	require.NoError(t, r.DispatchPropertyWrite(99, batch))
	assert.Equal(t, "Original", batch[0].String())
}

func TestDispatchPropertyWrite_FallbackScan(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{Manufacturer: "Acme"})

	// Activated before the property service knew the container.
	d := addDevice(t, r, props, 3, host.ClassController, host.InvalidPropertyContainer)
	_, ok := r.ByContainer(55)
	require.False(t, ok)

	props.set(3, 55)
	batch := []host.PropertyWrite{host.StringWrite(host.PropManufacturerName, "Original")}
	require.NoError(t, r.DispatchPropertyWrite(55, batch))
	assert.Equal(t, "Acme", batch[0].String())

	// The scan registered the container.
	h, ok := r.ByContainer(55)
	require.True(t, ok)
	assert.Equal(t, d.serial, h.Serial())

	queries := props.queries
	require.NoError(t, r.DispatchPropertyWrite(55, batch))
	assert.Equal(t, queries, props.queries, "second write resolved without scanning")
}

func TestDispatchPropertyWrite_UnknownContainer(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{Manufacturer: "Acme", TrackingSystem: "acme_ts", Model: "Acme HMD"})
	addDevice(t, r, props, 1, host.ClassController, 11)

	batch := []host.PropertyWrite{
		host.StringWrite(host.PropManufacturerName, "Original"),
		host.StringWrite(host.PropTrackingSystemName, "lighthouse"),
		host.StringWrite(host.PropModelNumber, "Vive"),
	}
	err := r.DispatchPropertyWrite(999, batch)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Acme", batch[0].String())
	assert.Equal(t, "acme_ts", batch[1].String())
	assert.Equal(t, "Vive", batch[2].String(), "model needs a resolved HMD owner")
}

func TestRunFrameTick_ReferenceLost(t *testing.T) {
	r, eng, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 1, host.ClassController, 0)
	ref := addDevice(t, r, props, 2, host.ClassGenericTracker, 0)

	require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeKalman))
	r.RunFrameTick()
	assert.Equal(t, []bool{true}, eng.frames)

	r.OnDeviceDeactivated(ref.ref)
	r.RunFrameTick()
	assert.Equal(t, []bool{true, false}, eng.frames)

	_, active := eng.ReferenceIndex()
	assert.False(t, active)

	h, ok := r.ByNative(ref.ref)
	require.True(t, ok)
	r.mu.RLock()
	assert.Equal(t, ModeNormal, h.mode)
	r.mu.RUnlock()

	// Other devices now pass through uncorrected by a disabled engine.
	pose := host.NewPose(r3.Vec{X: 1})
	assert.True(t, r.DispatchPoseUpdate(1, &pose, host.DriverPoseSize))
}

// switchingEngine moves the reference once, right after the registry has
// read it.
type switchingEngine struct {
	*motion.Engine
	once     sync.Once
	afterGet func()
}

func (e *switchingEngine) ReferenceIndex() (uint32, bool) {
	idx, ok := e.Engine.ReferenceIndex()
	e.once.Do(func() {
		if e.afterGet != nil {
			e.afterGet()
		}
	})
	return idx, ok
}

func TestRunFrameTick_ReferenceSwitchedDuringTick(t *testing.T) {
	eng := &switchingEngine{Engine: motion.NewEngine()}
	props := newFakeProperties()
	r := NewRegistry(Config{}, eng)
	r.SetPropertyService(props)

	addDevice(t, r, props, 1, host.ClassGenericTracker, 0)
	addDevice(t, r, props, 2, host.ClassGenericTracker, 0)
	require.NoError(t, r.SetMotionCompensationReference(1, motion.ModeKalman))

	eng.afterGet = func() {
		require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeKalman))
	}
	r.RunFrameTick()

	st := eng.Status()
	assert.Equal(t, motion.StateActive, st.State)
	assert.Equal(t, uint32(2), st.ReferenceIndex)

	info, err := r.DeviceInfo(2)
	require.NoError(t, err)
	assert.Equal(t, ModeMotionCompensationReference, info.Mode)
	info, err = r.DeviceInfo(1)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, info.Mode)
}

func TestRunFrameTick_RealEngineReferenceLost(t *testing.T) {
	eng := motion.NewEngine()
	props := newFakeProperties()
	r := NewRegistry(Config{}, eng)
	r.SetPropertyService(props)

	addDevice(t, r, props, 1, host.ClassController, 0)
	ref := addDevice(t, r, props, 2, host.ClassController, 0)
	require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeMovingAverage))

	refPose := host.NewPose(r3.Vec{})
	r.DispatchPoseUpdate(2, &refPose, host.DriverPoseSize)
	r.RunFrameTick()
	assert.Equal(t, motion.StateActive, eng.Status().State)

	r.OnDeviceDeactivated(ref.ref)
	r.RunFrameTick()
	assert.Equal(t, motion.StateDisabled, eng.Status().State)

	pose := host.NewPose(r3.Vec{X: 1, Y: 2, Z: 3})
	assert.True(t, r.DispatchPoseUpdate(1, &pose, host.DriverPoseSize))
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, pose.Position)
}

func TestRunFrameTick_Staleness(t *testing.T) {
	eng := &fakeEngine{}
	props := newFakeProperties()
	r := NewRegistry(Config{StaleAfterFrames: 3}, eng)
	r.SetPropertyService(props)
	addDevice(t, r, props, 1, host.ClassController, 0)

	for i := 0; i < 3; i++ {
		r.RunFrameTick()
	}
	info, err := r.DeviceInfo(1)
	require.NoError(t, err)
	assert.True(t, info.Stale)

	pose := host.NewPose(r3.Vec{})
	r.DispatchPoseUpdate(1, &pose, host.DriverPoseSize)
	r.RunFrameTick()
	info, _ = r.DeviceInfo(1)
	assert.False(t, info.Stale)
}
