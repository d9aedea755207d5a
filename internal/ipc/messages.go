package ipc

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/host"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// ProtocolVersion is the wire protocol version. Client and server must agree.
const ProtocolVersion uint32 = 1

// Default channel names.
const (
	DefaultServerChannel = "inputemu/ipc/server"
	DefaultClientPrefix  = "inputemu/ipc/client"
)

// ClientChannel returns the client-bound channel for a client id.
func ClientChannel(prefix, clientID string) string {
	return prefix + "/" + clientID
}

// Op is a request operation code.
type Op string

// Operation codes.
const (
	OpPing                                        Op = "ping"
	OpGetDeviceInfo                               Op = "device.get_info"
	OpSetDeviceNormalMode                         Op = "device.set_normal_mode"
	OpSetDeviceDisabledMode                       Op = "device.set_disabled_mode"
	OpSetDeviceMotionCompensationMode             Op = "device.set_motion_compensation_mode"
	OpSetMotionCompensationMode                   Op = "motion.set_mode"
	OpSetMotionCompensationKalmanProcessNoise     Op = "motion.set_kalman_process_noise"
	OpSetMotionCompensationKalmanObservationNoise Op = "motion.set_kalman_observation_noise"
	OpSetMotionCompensationMovingAverageWindow    Op = "motion.set_moving_average_window"
	OpGetMotionCompensationState                  Op = "motion.get_state"
	OpResetMotionCompensationZero                 Op = "motion.reset_zero"
	OpVendorSpecificEvent                         Op = "event.vendor_specific"

	// OpEvent marks a server-pushed event. Events carry id 0.
	OpEvent Op = "event"

	// OpShutdown tells a client the server stopped. Its pending calls will
	// not be answered.
	OpShutdown Op = "shutdown"
)

// Envelope is the JSON frame carried on both channels. Requests set Modal
// when they expect a reply; replies echo Op, ID and ClientID and set OK or
// Error.
type Envelope struct {
	Op       Op              `json:"op"`
	ID       uint32          `json:"id"`
	ClientID string          `json:"client_id"`
	Modal    bool            `json:"modal,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Error    *WireError      `json:"error,omitempty"`
}

// PingRequest carries the caller's protocol version. The reply carries the
// server's.
type PingRequest struct {
	Version uint32 `json:"version"`
}

// DeviceRequest addresses one device by runtime index.
type DeviceRequest struct {
	Index uint32 `json:"index"`
}

// DeviceModeRequest makes a device the motion compensation reference.
type DeviceModeRequest struct {
	Index uint32 `json:"index"`
	Mode  string `json:"mode"`
}

// ModeRequest selects a motion compensation mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ValueRequest carries a filter noise value.
type ValueRequest struct {
	Value float64 `json:"value"`
}

// WindowRequest carries a moving average window size.
type WindowRequest struct {
	Window int `json:"window"`
}

// VendorEventRequest injects a vendor specific event for a device.
type VendorEventRequest struct {
	Index  uint32  `json:"index"`
	Type   uint32  `json:"type"`
	Data   []byte  `json:"data,omitempty"`
	Offset float64 `json:"offset"`
}

// DeviceInfo is the wire form of a device snapshot.
type DeviceInfo struct {
	Index         uint32 `json:"index"`
	Serial        string `json:"serial"`
	Class         string `json:"class"`
	OriginalClass string `json:"original_class"`
	Mode          string `json:"mode"`
	Valid         bool   `json:"valid"`
	Intercepted   bool   `json:"intercepted"`
	Stale         bool   `json:"stale"`
}

// NewDeviceInfo converts a registry snapshot to its wire form.
func NewDeviceInfo(info device.Info) DeviceInfo {
	return DeviceInfo{
		Index:         info.Index,
		Serial:        info.Serial,
		Class:         info.Class.String(),
		OriginalClass: info.OriginalClass.String(),
		Mode:          info.Mode.String(),
		Valid:         info.Valid,
		Intercepted:   info.Intercepted,
		Stale:         info.Stale,
	}
}

// MotionState is the wire form of the compensation engine status.
type MotionState struct {
	State            string     `json:"state"`
	Mode             string     `json:"mode"`
	Window           int        `json:"window"`
	ProcessNoise     float64    `json:"process_noise"`
	ObservationNoise float64    `json:"observation_noise"`
	ReferenceIndex   *uint32    `json:"reference_index,omitempty"`
	ZeroCaptured     bool       `json:"zero_captured"`
	Frames           uint64     `json:"frames"`
	Offset           [3]float64 `json:"offset"`
}

// NewMotionState converts an engine status to its wire form.
func NewMotionState(s motion.Status) MotionState {
	out := MotionState{
		State:            s.State.String(),
		Mode:             s.Settings.Mode.String(),
		Window:           s.Settings.Window,
		ProcessNoise:     s.Settings.ProcessNoise,
		ObservationNoise: s.Settings.ObservationNoise,
		ZeroCaptured:     s.ZeroCaptured,
		Frames:           s.Frames,
		Offset:           [3]float64{s.Delta.Translation.X, s.Delta.Translation.Y, s.Delta.Translation.Z},
	}
	if s.State == motion.StateActive && s.ReferenceIndex != host.IndexInvalid {
		idx := s.ReferenceIndex
		out.ReferenceIndex = &idx
	}
	return out
}

// Event types pushed by the server.
const (
	EventDeviceDiscovered  = string(device.EventDiscovered)
	EventDeviceActivated   = string(device.EventActivated)
	EventDeviceDeactivated = string(device.EventDeactivated)
	EventDeviceModeChanged = string(device.EventModeChanged)
	EventMotionChanged     = "motion_state_changed"
)

// Event is a server-pushed notification.
type Event struct {
	Type   string       `json:"type"`
	Time   time.Time    `json:"time"`
	Device *DeviceInfo  `json:"device,omitempty"`
	Motion *MotionState `json:"motion,omitempty"`
}

// NewDeviceEvent converts a registry lifecycle event.
func NewDeviceEvent(e device.Event) Event {
	info := NewDeviceInfo(e.Device)
	return Event{Type: string(e.Type), Time: time.Now().UTC(), Device: &info}
}

// NewMotionEvent converts an engine status change.
func NewMotionEvent(s motion.Status) Event {
	state := NewMotionState(s)
	return Event{Type: EventMotionChanged, Time: time.Now().UTC(), Motion: &state}
}
