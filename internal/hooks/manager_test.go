package hooks

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// recordingDriver counts intercepted device driver calls.
type recordingDriver struct {
	mu          sync.Mutex
	activations []uint32
	panicOnCall bool
	panicAfter  bool
}

func (r *recordingDriver) Activate(_ host.Ref, index uint32, orig func(uint32) error) error {
	r.mu.Lock()
	r.activations = append(r.activations, index)
	r.mu.Unlock()
	if r.panicOnCall {
		panic("boom")
	}
	err := orig(index)
	if r.panicAfter {
		panic("boom after original")
	}
	return err
}

func (r *recordingDriver) Deactivate(_ host.Ref, orig func()) { orig() }

func newDriver(activated *[]uint32) *host.DeviceDriver {
	return host.NewObject(&host.TrackedDeviceDriverFuncs{
		Activate: func(index uint32) error {
			*activated = append(*activated, index)
			return nil
		},
		Deactivate: func() {},
	})
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{"IVRServerDriverHost_005", Identity{Name: "IVRServerDriverHost", Version: 5}, false},
		{"ITrackedDeviceServerDriver_005", Identity{Name: "ITrackedDeviceServerDriver", Version: 5}, false},
		{"IVRDriverContext", Identity{Name: "IVRDriverContext"}, false},
		{"Weird_", Identity{Name: "Weird_"}, false},
		{"", Identity{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentity(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityStringRoundTrip(t *testing.T) {
	for _, s := range []string{host.IVRServerDriverHost, host.ITrackedDeviceServerDriver, host.IVRDriverContext} {
		id, err := ParseIdentity(s)
		require.NoError(t, err)
		assert.Equal(t, s, id.String())
	}
}

func TestHookRedirectsAndPassesThrough(t *testing.T) {
	m := NewManager()
	h := &recordingDriver{}
	m.RegisterDefaults(Handlers{DeviceDriver: h})

	var activated []uint32
	drv := newDriver(&activated)

	handle, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)
	assert.Equal(t, KindDeviceDriver, handle.Kind())
	assert.Equal(t, drv.Ref(), handle.Instance())

	require.NoError(t, drv.Funcs().Activate(3))
	assert.Equal(t, []uint32{3}, h.activations, "handler should see the call")
	assert.Equal(t, []uint32{3}, activated, "original should still run")

	// GetPose was not patched and stays nil in both tables.
	assert.Nil(t, drv.Funcs().GetPose)
}

func TestHookUnsupportedInterfaceVersion(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{}})

	var activated []uint32
	_, err := m.Hook(newDriver(&activated), "ITrackedDeviceServerDriver_004")
	assert.ErrorIs(t, err, ErrUnsupportedInterfaceVersion)
}

func TestHookAlreadyIntercepted(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{}})

	var activated []uint32
	drv := newDriver(&activated)

	_, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)

	_, err = m.Hook(drv, host.ITrackedDeviceServerDriver)
	assert.ErrorIs(t, err, ErrAlreadyIntercepted)
	assert.Equal(t, 1, m.Active())
}

func TestHookInstanceMismatch(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{}})

	props := host.NewObject(&host.PropertiesFuncs{})
	_, err := m.Hook(props, host.ITrackedDeviceServerDriver)
	assert.ErrorIs(t, err, ErrInstanceMismatch)

	_, err = m.Hook(struct{}{}, host.ITrackedDeviceServerDriver)
	assert.ErrorIs(t, err, ErrInstanceMismatch)
	assert.Zero(t, m.Active())
}

func TestUnhookRestoresOriginal(t *testing.T) {
	m := NewManager()
	h := &recordingDriver{}
	m.RegisterDefaults(Handlers{DeviceDriver: h})

	var activated []uint32
	drv := newDriver(&activated)
	orig := drv.Funcs()

	handle, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)
	assert.NotSame(t, orig, drv.Funcs())

	assert.True(t, handle.Unhook())
	assert.Same(t, orig, drv.Funcs())
	assert.Zero(t, m.Active())

	// Second unhook is a no-op with the same result.
	assert.True(t, handle.Unhook())

	require.NoError(t, drv.Funcs().Activate(1))
	assert.Empty(t, h.activations)

	// The slot is free again.
	_, err = m.Hook(drv, host.ITrackedDeviceServerDriver)
	assert.NoError(t, err)
}

func TestUnhookAfterInstanceDestroyed(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{Properties: propsHandlerFunc(func(host.PropertyContainer, []host.PropertyWrite) {})})

	handle := func() *Handle {
		props := host.NewObject(&host.PropertiesFuncs{
			WritePropertyBatch: func(host.PropertyContainer, []host.PropertyWrite) error { return nil },
		})
		h, err := m.Hook(props, host.IVRProperties)
		require.NoError(t, err)
		return h
	}()

	runtime.GC()
	runtime.GC()

	assert.NotPanics(t, func() {
		assert.False(t, handle.Unhook(), "destroyed instance must not be restored")
	})
	assert.Zero(t, m.Active())
}

func TestUnhookSkipsForeignTable(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{}})

	var activated []uint32
	drv := newDriver(&activated)
	handle, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)

	foreign := &host.TrackedDeviceDriverFuncs{}
	drv.Table().Store(foreign)

	assert.False(t, handle.Unhook())
	assert.Same(t, foreign, drv.Funcs())
}

func TestHandlerPanicFallsBackToOriginal(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{panicOnCall: true}})

	var activated []uint32
	drv := newDriver(&activated)
	_, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, drv.Funcs().Activate(2))
	})
	assert.Contains(t, activated, uint32(2))
}

func TestHandlerPanicAfterOriginalDoesNotRepeatIt(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{panicAfter: true}})

	var activated []uint32
	drv := newDriver(&activated)
	_, err := m.Hook(drv, host.ITrackedDeviceServerDriver)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, drv.Funcs().Activate(4))
	})
	assert.Equal(t, []uint32{4}, activated)
}

func TestCloseUnhooksEverything(t *testing.T) {
	m := NewManager()
	m.RegisterDefaults(Handlers{DeviceDriver: &recordingDriver{}})

	var activated []uint32
	drivers := []*host.DeviceDriver{newDriver(&activated), newDriver(&activated), newDriver(&activated)}
	origs := make([]*host.TrackedDeviceDriverFuncs, len(drivers))
	for i, d := range drivers {
		origs[i] = d.Funcs()
		_, err := m.Hook(d, host.ITrackedDeviceServerDriver)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Active())

	m.Close()

	assert.Zero(t, m.Active())
	for i, d := range drivers {
		assert.Same(t, origs[i], d.Funcs())
	}
}

func TestRegisterInvalidIdentity(t *testing.T) {
	m := NewManager()
	err := m.Register("", NewStrategy(KindProperties, func(_ host.Ref, orig *host.PropertiesFuncs) *host.PropertiesFuncs {
		return orig
	}))
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
	assert.False(t, m.Supports(""))
}

type propsHandlerFunc func(host.PropertyContainer, []host.PropertyWrite)

func (f propsHandlerFunc) WritePropertyBatch(_ host.Ref, c host.PropertyContainer, b []host.PropertyWrite,
	orig func(host.PropertyContainer, []host.PropertyWrite) error) error {
	f(c, b)
	return orig(c, b)
}
