package ipc

import (
	"errors"
	"fmt"

	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/hooks"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// Domain errors for the ipc package.
var (
	// ErrConnection is returned when a channel cannot be opened, a send
	// fails, or the client disconnects while a call is pending.
	ErrConnection = errors.New("ipc: connection error")

	// ErrVersionMismatch is returned when client and server speak different
	// protocol versions.
	ErrVersionMismatch = errors.New("ipc: protocol version mismatch")

	// ErrInvalidType is returned for unknown operations and malformed payloads.
	ErrInvalidType = errors.New("ipc: invalid message type")
)

// ErrorKind is the wire name of a failure class.
type ErrorKind string

// Error kinds carried in replies.
const (
	KindConnection                  ErrorKind = "connection"
	KindVersionMismatch             ErrorKind = "version_mismatch"
	KindInvalidID                   ErrorKind = "invalid_id"
	KindInvalidType                 ErrorKind = "invalid_type"
	KindNotFound                    ErrorKind = "not_found"
	KindAlreadyInUse                ErrorKind = "already_in_use"
	KindTooManyDevices              ErrorKind = "too_many_devices"
	KindUnsupportedInterfaceVersion ErrorKind = "unsupported_interface_version"
	KindInternal                    ErrorKind = "internal"
)

// kindSentinels maps each kind to the error RemoteError matches. The order
// of kindOf's checks decides which kind a wrapped error gets.
var kindSentinels = map[ErrorKind]error{
	KindConnection:                  ErrConnection,
	KindVersionMismatch:             ErrVersionMismatch,
	KindInvalidID:                   device.ErrInvalidID,
	KindInvalidType:                 ErrInvalidType,
	KindNotFound:                    device.ErrNotFound,
	KindAlreadyInUse:                device.ErrAlreadyInUse,
	KindTooManyDevices:              device.ErrTooManyDevices,
	KindUnsupportedInterfaceVersion: hooks.ErrUnsupportedInterfaceVersion,
}

// kindOf classifies err for the wire.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrVersionMismatch):
		return KindVersionMismatch
	case errors.Is(err, device.ErrInvalidID), errors.Is(err, motion.ErrNoReference):
		return KindInvalidID
	case errors.Is(err, device.ErrNotFound):
		return KindNotFound
	case errors.Is(err, device.ErrAlreadyInUse), errors.Is(err, hooks.ErrAlreadyIntercepted):
		return KindAlreadyInUse
	case errors.Is(err, device.ErrTooManyDevices):
		return KindTooManyDevices
	case errors.Is(err, hooks.ErrUnsupportedInterfaceVersion):
		return KindUnsupportedInterfaceVersion
	case errors.Is(err, ErrInvalidType),
		errors.Is(err, device.ErrInvalidMode),
		errors.Is(err, motion.ErrInvalidMode),
		errors.Is(err, motion.ErrInvalidParameter):
		return KindInvalidType
	default:
		return KindInternal
	}
}

// WireError is the error object of a failed reply.
type WireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func toWireError(err error) *WireError {
	return &WireError{Kind: kindOf(err), Message: err.Error()}
}

// RemoteError is a failure reported by the server.
//
// It matches the sentinel of its kind with errors.Is:
//
//	if errors.Is(err, device.ErrInvalidID) {
//	    // the server had no device at that index
//	}
type RemoteError struct {
	Op      Op
	Kind    ErrorKind
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: %s failed (%s): %s", e.Op, e.Kind, e.Message)
}

// Is reports whether target is the sentinel for the error's kind.
func (e *RemoteError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}
