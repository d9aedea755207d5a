package hooks

import "errors"

// Domain errors for the hooks package.
var (
	// ErrUnsupportedInterfaceVersion is returned when no strategy is
	// registered for an interface identity.
	ErrUnsupportedInterfaceVersion = errors.New("hooks: unsupported interface version")

	// ErrAlreadyIntercepted is returned when the instance already has an
	// active interception for the same identity.
	ErrAlreadyIntercepted = errors.New("hooks: already intercepted")

	// ErrInstanceMismatch is returned when the instance does not expose the
	// function table the strategy patches.
	ErrInstanceMismatch = errors.New("hooks: instance does not match interface")

	// ErrInvalidIdentity is returned for malformed identity strings.
	ErrInvalidIdentity = errors.New("hooks: invalid interface identity")
)
