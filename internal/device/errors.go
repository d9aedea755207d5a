package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidID) {
//	    // no active device at that index
//	}
var (
	// ErrInvalidID is returned when an index is out of range or has no active device.
	ErrInvalidID = errors.New("device: invalid device id")

	// ErrNotFound is returned when a lookup misses every key and fallback.
	ErrNotFound = errors.New("device: not found")

	// ErrAlreadyInUse is returned when a native device is discovered twice.
	ErrAlreadyInUse = errors.New("device: already in use")

	// ErrTooManyDevices is returned when the handle arena is full.
	ErrTooManyDevices = errors.New("device: too many devices")

	// ErrInvalidMode is returned for unknown device modes.
	ErrInvalidMode = errors.New("device: invalid mode")
)
