package simhost

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/host"
)

func TestAddDeviceActivatesAndWritesProperties(t *testing.T) {
	rt := New()
	dev := NewDevice("HMD-1", host.ClassHMD, nil).WithProperty(host.PropModelNumber, "Sim Visor")

	index, err := rt.AddDevice(dev)
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if index != 0 {
		t.Errorf("index = %d, want 0", index)
	}
	if !dev.Active() || dev.Activations() != 1 {
		t.Errorf("device active=%v activations=%d, want true/1", dev.Active(), dev.Activations())
	}
	if got, _ := rt.Property(index, host.PropModelNumber); got != "Sim Visor" {
		t.Errorf("model = %q, want %q", got, "Sim Visor")
	}
	if got, _ := rt.Property(index, host.PropSerialNumber); got != "HMD-1" {
		t.Errorf("serial = %q, want %q", got, "HMD-1")
	}
	if class, ok := rt.DeviceClass(index); !ok || class != host.ClassHMD {
		t.Errorf("class = %v/%v, want HMD", class, ok)
	}
}

func TestAddDeviceRejectsDuplicateSerial(t *testing.T) {
	rt := New()
	if _, err := rt.AddDevice(NewDevice("T-1", host.ClassGenericTracker, nil)); err != nil {
		t.Fatalf("first AddDevice() error = %v", err)
	}
	if _, err := rt.AddDevice(NewDevice("T-1", host.ClassGenericTracker, nil)); err == nil {
		t.Fatal("second AddDevice() with same serial succeeded")
	}
}

func TestStepDeliversPoses(t *testing.T) {
	rt := New()
	dev := NewDevice("C-1", host.ClassController, Static(r3.Vec{X: 1, Y: 2, Z: 3}))
	index, err := rt.AddDevice(dev)
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	frames := 0
	for range 3 {
		rt.Step(func() { frames++ })
	}
	pose, count := rt.LastPose(index)
	if count != 3 || frames != 3 {
		t.Fatalf("poses=%d frames=%d, want 3/3", count, frames)
	}
	if pose.Position != (r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Errorf("position = %v", pose.Position)
	}
	if rt.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", rt.Frames())
	}
}

func TestDeactivatedDeviceStopsReporting(t *testing.T) {
	rt := New()
	dev := NewDevice("C-1", host.ClassController, nil)
	index, _ := rt.AddDevice(dev)
	rt.Step(nil)

	if err := rt.DeactivateDevice(index); err != nil {
		t.Fatalf("DeactivateDevice() error = %v", err)
	}
	if dev.Active() {
		t.Error("device still active")
	}
	rt.Step(nil)
	if _, count := rt.LastPose(index); count != 1 {
		t.Errorf("pose count = %d, want 1", count)
	}
	if err := rt.DeactivateDevice(index); err == nil {
		t.Error("second DeactivateDevice() succeeded")
	}
}

func TestGetGenericInterface(t *testing.T) {
	settings := NewSettings().SetString("driver_x", "name", "value")
	rt := New(WithSettings(settings), WithHostVersion(host.IVRServerDriverHostLatest))
	get := rt.DriverContext().Funcs().GetGenericInterface

	got, err := get(host.IVRServerDriverHostLatest)
	if err != nil || got != rt.ServerDriverHost() {
		t.Errorf("host = %v, %v", got, err)
	}
	if _, err := get(host.IVRServerDriverHost); !errors.Is(err, host.ErrInterfaceNotFound) {
		t.Errorf("unserved host version error = %v, want ErrInterfaceNotFound", err)
	}
	got, err = get(host.IVRProperties)
	if err != nil || got != rt.Properties() {
		t.Errorf("properties = %v, %v", got, err)
	}
	s, err := get(host.IVRSettings)
	if err != nil {
		t.Fatalf("settings error = %v", err)
	}
	v, err := s.(host.Settings).GetString("driver_x", "name")
	if err != nil || v != "value" {
		t.Errorf("GetString() = %q, %v", v, err)
	}
}

func TestSettingsErrors(t *testing.T) {
	s := NewSettings().SetBool("a", "flag", true)
	if _, err := s.GetBool("a", "missing"); !errors.Is(err, host.ErrSettingNotFound) {
		t.Errorf("missing key error = %v", err)
	}
	if _, err := s.GetString("a", "flag"); !errors.Is(err, host.ErrSettingType) {
		t.Errorf("wrong type error = %v", err)
	}
	if b, err := s.GetBool("a", "flag"); err != nil || !b {
		t.Errorf("GetBool() = %v, %v", b, err)
	}
}

func TestVendorEventsPollInOrder(t *testing.T) {
	rt := New()
	vse := rt.ServerDriverHost().Funcs().VendorSpecificEvent
	vse(1, host.VendorSpecificReserved+1, []byte{1}, 0)
	vse(2, host.VendorSpecificReserved+2, nil, 0.5)

	events := rt.DrainEvents()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].DeviceIndex != 1 || events[1].AgeSeconds != 0.5 {
		t.Errorf("events = %+v", events)
	}
	if len(rt.DrainEvents()) != 0 {
		t.Error("events not consumed")
	}
}

func TestOscillate(t *testing.T) {
	m := Oscillate(r3.Vec{Y: 1}, r3.Vec{X: 2}, 0.5, time.Second)

	if p := m(0).Position; p != (r3.Vec{Y: 1}) {
		t.Errorf("position at 0 = %v", p)
	}
	quarter := m(250 * time.Millisecond)
	if math.Abs(quarter.Position.X-0.5) > 1e-9 {
		t.Errorf("position at quarter period = %v, want x=0.5", quarter.Position)
	}
	if math.Abs(quarter.Velocity.X) > 1e-9 {
		t.Errorf("velocity at peak = %v, want 0", quarter.Velocity)
	}
	if v := m(0).Velocity.X; math.Abs(v-math.Pi) > 1e-9 {
		t.Errorf("velocity at 0 = %v, want pi", v)
	}
}
