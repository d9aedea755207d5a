package host

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Runtime limits and well-known indices.
const (
	// MaxTrackedDeviceCount bounds the runtime device index space.
	MaxTrackedDeviceCount = 64

	// IndexInvalid marks a device that has not been activated.
	IndexInvalid uint32 = 0xFFFFFFFF

	// IndexHMD is the index the runtime always assigns to the head-mounted display.
	IndexHMD uint32 = 0

	// DriverPoseSize is the size in bytes of the native pose record.
	// Pose updates that report a smaller struct are delivered untouched.
	DriverPoseSize uint32 = 296
)

// Interface identities handed out by the runtime.
const (
	IVRDriverContext           = "IVRDriverContext"
	IVRServerDriverHost        = "IVRServerDriverHost_005"
	IVRServerDriverHostLegacy  = "IVRServerDriverHost_004"
	IVRServerDriverHostLatest  = "IVRServerDriverHost_006"
	IVRProperties              = "IVRProperties_001"
	IVRSettings                = "IVRSettings_002"
	ITrackedDeviceServerDriver = "ITrackedDeviceServerDriver_005"

	serverDriverHostInterfacePrefix = "IVRServerDriverHost_"
)

// Errors reported by runtime services.
var (
	// ErrInterfaceNotFound is returned by GetGenericInterface for unknown names.
	ErrInterfaceNotFound = errors.New("host: interface not found")

	// ErrSettingNotFound is returned when a section/key pair is not set.
	ErrSettingNotFound = errors.New("host: setting not found")

	// ErrSettingType is returned when a setting exists with a different type.
	ErrSettingType = errors.New("host: setting has wrong type")
)

// IsServerDriverHost reports whether name identifies any version of the
// server driver host interface.
func IsServerDriverHost(name string) bool {
	return strings.HasPrefix(name, serverDriverHostInterfacePrefix)
}

var refSeq atomic.Uint64

// Ref is an opaque identity token for a runtime-owned object.
// Two Refs are equal only if they were produced by the same NewRef call.
// The zero Ref identifies nothing.
type Ref struct {
	id uint64
}

// NewRef allocates a fresh identity token.
func NewRef() Ref {
	return Ref{id: refSeq.Add(1)}
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r.id == 0
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return fmt.Sprintf("ref#%d", r.id)
}

// DeviceClass is the runtime's classification of a tracked device.
type DeviceClass int

// Device classes as reported by the runtime.
const (
	ClassInvalid DeviceClass = iota
	ClassHMD
	ClassController
	ClassGenericTracker
	ClassTrackingReference
	ClassDisplayRedirect
)

var deviceClassNames = map[DeviceClass]string{
	ClassInvalid:           "invalid",
	ClassHMD:               "hmd",
	ClassController:        "controller",
	ClassGenericTracker:    "generic_tracker",
	ClassTrackingReference: "tracking_reference",
	ClassDisplayRedirect:   "display_redirect",
}

// String implements fmt.Stringer.
func (c DeviceClass) String() string {
	if s, ok := deviceClassNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseDeviceClass converts a class name back into a DeviceClass.
func ParseDeviceClass(s string) (DeviceClass, error) {
	for c, name := range deviceClassNames {
		if name == strings.ToLower(s) {
			return c, nil
		}
	}
	return ClassInvalid, fmt.Errorf("unknown device class %q", s)
}

// PropertyContainer addresses one device's property store.
type PropertyContainer uint64

// InvalidPropertyContainer is returned for indices without a device.
const InvalidPropertyContainer PropertyContainer = 0

// Property identifies a device property.
type Property int32

// Property identifiers used by the override policy.
const (
	PropTrackingSystemName Property = 1000
	PropModelNumber        Property = 1001
	PropSerialNumber       Property = 1002
	PropManufacturerName   Property = 1005
)

// PropertyTag describes how a property buffer is encoded.
type PropertyTag uint32

// Property buffer encodings.
const (
	TagInvalid PropertyTag = 0
	TagFloat   PropertyTag = 1
	TagInt32   PropertyTag = 2
	TagUint64  PropertyTag = 3
	TagBool    PropertyTag = 4
	TagString  PropertyTag = 5
)

// PropertyWrite is one entry of a property write batch. String properties
// carry their NUL terminator in Buffer and count it in BufferSize.
type PropertyWrite struct {
	Prop       Property
	Tag        PropertyTag
	Buffer     []byte
	BufferSize uint32
}

// StringWrite builds a string property write with its terminator.
func StringWrite(prop Property, value string) PropertyWrite {
	buf := append([]byte(value), 0)
	return PropertyWrite{
		Prop:       prop,
		Tag:        TagString,
		Buffer:     buf,
		BufferSize: uint32(len(buf)),
	}
}

// String returns the buffer contents up to the first NUL.
func (w PropertyWrite) String() string {
	n := int(w.BufferSize)
	if n > len(w.Buffer) {
		n = len(w.Buffer)
	}
	s := string(w.Buffer[:n])
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}

// TrackingResult is the runtime's tracking quality flag.
type TrackingResult int

// Tracking results.
const (
	TrackingUninitialized     TrackingResult = 1
	TrackingCalibrating       TrackingResult = 100
	TrackingRunningOK         TrackingResult = 200
	TrackingRunningOutOfRange TrackingResult = 201
)

// DriverPose is the pose record a driver reports for one device.
//
// Position, Velocity and Acceleration are expressed in driver space; the
// WorldFromDriver transform maps them into the runtime's world space.
type DriverPose struct {
	PoseTimeOffset float64

	WorldFromDriverRotation    quat.Number
	WorldFromDriverTranslation r3.Vec
	DriverFromHeadRotation     quat.Number
	DriverFromHeadTranslation  r3.Vec

	Position     r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
	Rotation     quat.Number

	AngularVelocity     r3.Vec
	AngularAcceleration r3.Vec

	Result            TrackingResult
	PoseIsValid       bool
	DeviceIsConnected bool
}

// Identity returns the unit quaternion.
func Identity() quat.Number {
	return quat.Number{Real: 1}
}

// NewPose returns a valid, connected pose at position p with identity
// rotations.
func NewPose(p r3.Vec) DriverPose {
	return DriverPose{
		WorldFromDriverRotation: Identity(),
		DriverFromHeadRotation:  Identity(),
		Rotation:                Identity(),
		Position:                p,
		Result:                  TrackingRunningOK,
		PoseIsValid:             true,
		DeviceIsConnected:       true,
	}
}

// WorldPosition maps the pose position into world space.
func (p DriverPose) WorldPosition() r3.Vec {
	return r3.Add(r3.Rotation(p.WorldFromDriverRotation).Rotate(p.Position), p.WorldFromDriverTranslation)
}

// WorldRotation returns the device orientation in world space.
func (p DriverPose) WorldRotation() quat.Number {
	return quat.Mul(p.WorldFromDriverRotation, p.Rotation)
}

// WorldVelocity maps the pose velocity into world space.
func (p DriverPose) WorldVelocity() r3.Vec {
	return r3.Rotation(p.WorldFromDriverRotation).Rotate(p.Velocity)
}

// EventType identifies a runtime event.
type EventType uint32

// Event is a runtime event delivered through PollNextEvent.
type Event struct {
	Type        EventType
	DeviceIndex uint32
	AgeSeconds  float64
	Data        []byte
}

// VendorSpecificReserved is the first event type reserved for drivers.
const VendorSpecificReserved EventType = 10000
