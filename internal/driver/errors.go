package driver

import "errors"

// Domain errors for the driver package.
var (
	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("driver: already initialized")

	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("driver: not initialized")
)
