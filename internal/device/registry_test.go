package device

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/hooks"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// fakeEngine is a test implementation of Compensator.
type fakeEngine struct {
	mu        sync.Mutex
	refIndex  uint32
	active    bool
	mode      motion.Mode
	recorded  []uint32
	applied   int
	frames    []bool
	disables  int
	enableErr error
}

func (f *fakeEngine) Enable(index uint32, mode motion.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.refIndex, f.mode, f.active = index, mode, true
	return nil
}

func (f *fakeEngine) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.disables++
}

func (f *fakeEngine) ReferenceIndex() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return host.IndexInvalid, false
	}
	return f.refIndex, true
}

func (f *fakeEngine) RecordReferencePose(index uint32, _ *host.DriverPose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, index)
}

func (f *fakeEngine) Apply(pose *host.DriverPose) {
	f.mu.Lock()
	f.applied++
	f.mu.Unlock()
	pose.Position.X += 100
}

func (f *fakeEngine) RunFrame(index uint32, valid bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, valid)
	if f.active && !valid && index == f.refIndex {
		f.active = false
		return true
	}
	return false
}

// fakeProperties maps indices to containers like the runtime's property
// service.
type fakeProperties struct {
	mu         sync.Mutex
	containers map[uint32]host.PropertyContainer
	queries    int
}

func newFakeProperties() *fakeProperties {
	return &fakeProperties{containers: make(map[uint32]host.PropertyContainer)}
}

func (p *fakeProperties) TrackedDeviceToPropertyContainer(index uint32) host.PropertyContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if c, ok := p.containers[index]; ok {
		return c
	}
	return host.InvalidPropertyContainer
}

func (p *fakeProperties) set(index uint32, c host.PropertyContainer) {
	p.mu.Lock()
	p.containers[index] = c
	p.mu.Unlock()
}

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu          sync.Mutex
	discoveries []Info
	activations []Info
}

func (m *MockRepository) RecordDiscovery(info Info) {
	m.mu.Lock()
	m.discoveries = append(m.discoveries, info)
	m.mu.Unlock()
}

func (m *MockRepository) RecordActivation(info Info) {
	m.mu.Lock()
	m.activations = append(m.activations, info)
	m.mu.Unlock()
}

type testDevice struct {
	ref    host.Ref
	serial string
	sink   host.Ref
}

func newTestRegistry(t *testing.T, overrides Overrides) (*Registry, *fakeEngine, *fakeProperties) {
	t.Helper()
	eng := &fakeEngine{}
	props := newFakeProperties()
	r := NewRegistry(Config{Overrides: overrides}, eng)
	r.SetPropertyService(props)
	return r, eng, props
}

// addDevice discovers and activates a device at index with container c.
func addDevice(t *testing.T, r *Registry, props *fakeProperties, index uint32, class host.DeviceClass, c host.PropertyContainer) testDevice {
	t.Helper()
	d := testDevice{ref: host.NewRef(), serial: fmt.Sprintf("SN-%02d", index), sink: host.NewRef()}
	_, err := r.OnDeviceDiscovered(d.ref, d.serial, class, d.sink, nil)
	require.NoError(t, err)
	if c != host.InvalidPropertyContainer {
		props.set(index, c)
	}
	r.OnDeviceActivated(d.ref, index)
	return d
}

func TestRegistry_ThreeKeysResolveSameHandle(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	d := addDevice(t, r, props, 3, host.ClassController, 42)

	byNative, ok := r.ByNative(d.ref)
	require.True(t, ok)
	byIndex, ok := r.ByIndex(3)
	require.True(t, ok)
	byContainer, ok := r.ByContainer(42)
	require.True(t, ok)

	assert.Same(t, byNative, byIndex)
	assert.Same(t, byNative, byContainer)
	assert.Equal(t, d.serial, byNative.Serial())
	assert.Equal(t, d.ref, byNative.NativeRef())

	info, err := r.DeviceInfo(3)
	require.NoError(t, err)
	assert.True(t, info.Active())
	assert.Equal(t, host.PropertyContainer(42), info.Container)
	assert.Equal(t, ModeNormal, info.Mode)

	sink, err := r.HostSink(3)
	require.NoError(t, err)
	assert.Equal(t, d.sink, sink)
}

func TestRegistry_DeviceInfoInvalidID(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})

	_, err := r.DeviceInfo(5)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = r.DeviceInfo(host.MaxTrackedDeviceCount)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = r.HostSink(5)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRegistry_DisguiseGenericTracker(t *testing.T) {
	tests := []struct {
		name     string
		disguise bool
		class    host.DeviceClass
		want     host.DeviceClass
	}{
		{"tracker disguised", true, host.ClassGenericTracker, host.ClassController},
		{"tracker untouched", false, host.ClassGenericTracker, host.ClassGenericTracker},
		{"controller untouched", true, host.ClassController, host.ClassController},
		{"hmd untouched", true, host.ClassHMD, host.ClassHMD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t, Overrides{DisguiseGenericTrackers: tt.disguise})
			got, err := r.OnDeviceDiscovered(host.NewRef(), "T1", tt.class, host.NewRef(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			devices := r.Devices()
			require.Len(t, devices, 1)
			assert.Equal(t, tt.class, devices[0].OriginalClass)
			assert.Equal(t, tt.want, devices[0].Class)
		})
	}
}

func TestRegistry_DuplicateDiscovery(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})
	ref := host.NewRef()

	_, err := r.OnDeviceDiscovered(ref, "A", host.ClassController, host.NewRef(), nil)
	require.NoError(t, err)

	_, err = r.OnDeviceDiscovered(ref, "A", host.ClassController, host.NewRef(), nil)
	assert.ErrorIs(t, err, ErrAlreadyInUse)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_TooManyDevices(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})
	for i := 0; i < host.MaxTrackedDeviceCount; i++ {
		_, err := r.OnDeviceDiscovered(host.NewRef(), fmt.Sprintf("S%d", i), host.ClassController, host.NewRef(), nil)
		require.NoError(t, err)
	}

	class, err := r.OnDeviceDiscovered(host.NewRef(), "overflow", host.ClassGenericTracker, host.NewRef(), nil)
	assert.ErrorIs(t, err, ErrTooManyDevices)
	assert.Equal(t, host.ClassGenericTracker, class)
	assert.Equal(t, host.MaxTrackedDeviceCount, r.Len())
}

func TestRegistry_ActivationOfUnknownDeviceIgnored(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})
	r.OnDeviceActivated(host.NewRef(), 2)

	_, ok := r.ByIndex(2)
	assert.False(t, ok)
}

func TestRegistry_Deactivate(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	var events []Event
	r.SetListener(func(e Event) { events = append(events, e) })

	d := addDevice(t, r, props, 1, host.ClassController, 7)
	r.OnDeviceDeactivated(d.ref)

	_, ok := r.ByIndex(1)
	assert.False(t, ok)
	_, ok = r.ByContainer(7)
	assert.False(t, ok)
	h, ok := r.ByNative(d.ref)
	require.True(t, ok)
	assert.Equal(t, d.serial, h.Serial())

	_, err := r.DeviceInfo(1)
	assert.ErrorIs(t, err, ErrInvalidID)

	// Reactivation at a different index restores the keys.
	props.set(4, 9)
	r.OnDeviceActivated(d.ref, 4)
	info, err := r.DeviceInfo(4)
	require.NoError(t, err)
	assert.Equal(t, host.PropertyContainer(9), info.Container)

	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{EventDiscovered, EventActivated, EventDeactivated, EventActivated}, types)
}

func TestRegistry_IndexReassignment(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	a := addDevice(t, r, props, 2, host.ClassController, 0)

	b := testDevice{ref: host.NewRef(), serial: "B"}
	_, err := r.OnDeviceDiscovered(b.ref, b.serial, host.ClassController, host.NewRef(), nil)
	require.NoError(t, err)
	r.OnDeviceActivated(b.ref, 2)

	h, ok := r.ByIndex(2)
	require.True(t, ok)
	assert.Equal(t, "B", h.Serial())

	old, ok := r.ByNative(a.ref)
	require.True(t, ok)
	r.mu.RLock()
	assert.False(t, old.valid)
	r.mu.RUnlock()
}

func TestRegistry_Repository(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	repo := &MockRepository{}
	r.SetRepository(repo)

	addDevice(t, r, props, 0, host.ClassHMD, 1)

	require.Len(t, repo.discoveries, 1)
	require.Len(t, repo.activations, 1)
	assert.Equal(t, "SN-00", repo.discoveries[0].Serial)
	assert.Equal(t, uint32(0), repo.activations[0].Index)
}

// recordingDeviceHandler forwards device driver calls to the registry the
// way the driver wires it.
type recordingDeviceHandler struct {
	r *Registry
}

func (h recordingDeviceHandler) Activate(ref host.Ref, index uint32, orig func(uint32) error) error {
	h.r.OnDeviceActivated(ref, index)
	return orig(index)
}

func (h recordingDeviceHandler) Deactivate(ref host.Ref, orig func()) {
	h.r.OnDeviceDeactivated(ref)
	orig()
}

func TestRegistry_InterceptsDeviceDriver(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})
	m := hooks.NewManager()
	m.RegisterDefaults(hooks.Handlers{DeviceDriver: recordingDeviceHandler{r: r}})
	r.SetInterceptor(m)

	var activated []uint32
	drv := host.NewObject(&host.TrackedDeviceDriverFuncs{
		Activate: func(index uint32) error {
			activated = append(activated, index)
			return nil
		},
		Deactivate: func() {},
	})

	_, err := r.OnDeviceDiscovered(drv.Ref(), "HMD-1", host.ClassHMD, host.NewRef(), drv)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	// The runtime activates through the (now patched) table.
	require.NoError(t, drv.Funcs().Activate(0))
	assert.Equal(t, []uint32{0}, activated)

	info, err := r.DeviceInfo(0)
	require.NoError(t, err)
	assert.True(t, info.Intercepted)

	r.Close()
	assert.Equal(t, 0, m.Active())
	_, ok := r.ByIndex(0)
	assert.False(t, ok)
}

func TestRegistry_InterceptionFailurePassesThrough(t *testing.T) {
	r, _, _ := newTestRegistry(t, Overrides{})
	// No strategies registered: every Hook fails.
	r.SetInterceptor(hooks.NewManager())

	drv := host.NewObject(&host.TrackedDeviceDriverFuncs{})
	_, err := r.OnDeviceDiscovered(drv.Ref(), "X", host.ClassController, host.NewRef(), drv)
	require.NoError(t, err)

	devices := r.Devices()
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Intercepted)
}

func TestRegistry_SetDeviceMode(t *testing.T) {
	r, eng, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 1, host.ClassController, 0)

	require.NoError(t, r.SetDeviceMode(1, ModeDisabled))
	info, _ := r.DeviceInfo(1)
	assert.Equal(t, ModeDisabled, info.Mode)

	assert.ErrorIs(t, r.SetDeviceMode(1, ModeMotionCompensationReference), ErrInvalidMode)
	assert.ErrorIs(t, r.SetDeviceMode(9, ModeNormal), ErrInvalidID)

	// Leaving reference mode disables the engine.
	require.NoError(t, r.SetMotionCompensationReference(1, motion.ModeKalman))
	require.NoError(t, r.SetDeviceMode(1, ModeNormal))
	assert.Equal(t, 1, eng.disables)
}

func TestRegistry_SetMotionCompensationReference(t *testing.T) {
	r, eng, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 1, host.ClassController, 0)
	addDevice(t, r, props, 2, host.ClassGenericTracker, 0)

	require.NoError(t, r.SetMotionCompensationReference(1, motion.ModeMovingAverage))
	idx, active := eng.ReferenceIndex()
	assert.True(t, active)
	assert.Equal(t, uint32(1), idx)

	// Moving the reference demotes the previous one.
	require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeKalman))
	a, _ := r.DeviceInfo(1)
	b, _ := r.DeviceInfo(2)
	assert.Equal(t, ModeNormal, a.Mode)
	assert.Equal(t, ModeMotionCompensationReference, b.Mode)
	assert.Equal(t, motion.ModeKalman, eng.mode)

	// Disabled clears the reference.
	require.NoError(t, r.SetMotionCompensationReference(2, motion.ModeDisabled))
	b, _ = r.DeviceInfo(2)
	assert.Equal(t, ModeNormal, b.Mode)
	_, active = eng.ReferenceIndex()
	assert.False(t, active)

	assert.ErrorIs(t, r.SetMotionCompensationReference(7, motion.ModeKalman), ErrInvalidID)
	assert.ErrorIs(t, r.SetMotionCompensationReference(1, motion.Mode(42)), motion.ErrInvalidMode)
}

func TestRegistry_DevicesSortedByIndex(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{})
	addDevice(t, r, props, 5, host.ClassController, 0)
	addDevice(t, r, props, 0, host.ClassHMD, 0)
	addDevice(t, r, props, 2, host.ClassController, 0)

	devices := r.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, []uint32{0, 2, 5}, []uint32{devices[0].Index, devices[1].Index, devices[2].Index})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _, props := newTestRegistry(t, Overrides{Manufacturer: "Acme"})
	for i := uint32(0); i < 8; i++ {
		addDevice(t, r, props, i, host.ClassController, host.PropertyContainer(100+i))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := uint32((g + i) % 8)
				pose := host.NewPose(r3.Vec{X: 1})
				r.DispatchPoseUpdate(idx, &pose, host.DriverPoseSize)
				batch := []host.PropertyWrite{host.StringWrite(host.PropManufacturerName, "x")}
				_ = r.DispatchPropertyWrite(host.PropertyContainer(100+idx), batch)
				_, _ = r.DeviceInfo(idx)
				if i%50 == 0 {
					r.RunFrameTick()
				}
			}
		}(g)
	}
	wg.Wait()
}
