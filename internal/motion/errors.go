package motion

import "errors"

// Domain errors for the motion package.
var (
	// ErrInvalidMode is returned for unknown or unusable compensation modes.
	ErrInvalidMode = errors.New("motion: invalid mode")

	// ErrInvalidParameter is returned for out-of-range filter parameters.
	ErrInvalidParameter = errors.New("motion: invalid parameter")

	// ErrNoReference is returned when an operation needs an active reference device.
	ErrNoReference = errors.New("motion: no reference device")
)
