// Package hooks is the interception substrate for runtime interfaces.
//
// A Manager maps interface identity strings ("IVRServerDriverHost_005") to
// strategies. Hooking an instance swaps its function table for a patched
// copy whose selected entries call a handler first; everything else passes
// through to the runtime's own implementation. Each (instance, identity)
// pair can be intercepted once.
//
// The package performs no business logic. Handlers receive the original
// function alongside the call arguments and decide whether to forward.
// Panics raised by handlers are recovered at the boundary and the call falls
// back to the runtime's own implementation, so runtime frames never unwind.
//
// # Adding interface versions
//
// A new version of an existing interface registers the same strategy under
// another identity:
//
//	m.Register("IVRServerDriverHost_007", hostStrategy)
//
// A new table shape needs a new strategy built with NewStrategy.
//
// # Teardown
//
// Handle.Unhook restores the original table through a weak reference to the
// instance's table. If the runtime already destroyed the instance the restore
// is skipped rather than writing through a dead object.
package hooks
