package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Mode is the per-device manipulation mode.
type Mode int

// Device modes.
const (
	// ModeNormal delivers poses, corrected by motion compensation when active.
	ModeNormal Mode = iota

	// ModeDisabled suppresses pose delivery for the device.
	ModeDisabled

	// ModeMotionCompensationReference marks the compensation reference device.
	// Its poses feed the engine and are delivered uncorrected.
	ModeMotionCompensationReference
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDisabled:
		return "disabled"
	case ModeMotionCompensationReference:
		return "motion_compensation"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "":
		return ModeNormal, nil
	case "disabled":
		return ModeDisabled, nil
	case "motion_compensation", "reference":
		return ModeMotionCompensationReference, nil
	default:
		return ModeNormal, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Overrides is the property and class rewrite policy read at startup.
type Overrides struct {
	// Manufacturer replaces ManufacturerName for every device when non-empty.
	Manufacturer string

	// Model replaces ModelNumber for the head-mounted display only.
	Model string

	// TrackingSystem replaces TrackingSystemName for every device when non-empty.
	TrackingSystem string

	// DisguiseGenericTrackers reports generic trackers to the runtime as controllers.
	DisguiseGenericTrackers bool
}

// Info is a snapshot of one device handle.
type Info struct {
	Serial        string
	Class         host.DeviceClass
	OriginalClass host.DeviceClass
	Index         uint32
	Container     host.PropertyContainer
	Mode          Mode
	Valid         bool
	Intercepted   bool
	Stale         bool
	DiscoveredAt  time.Time
}

// Active reports whether the device has been activated and is still valid.
func (i Info) Active() bool {
	return i.Valid && i.Index != host.IndexInvalid
}

// EventType identifies a registry lifecycle event.
type EventType string

// Registry lifecycle events.
const (
	EventDiscovered  EventType = "device_discovered"
	EventActivated   EventType = "device_activated"
	EventDeactivated EventType = "device_deactivated"
	EventModeChanged EventType = "device_mode_changed"
)

// Event is emitted to the registry listener after a lifecycle change.
type Event struct {
	Type   EventType
	Device Info
}
