// Package device provides the Device Manipulation Registry for InputEmu Core.
//
// The registry holds one Handle per device the runtime adds through an
// intercepted host. It is the routing table between the runtime's three ways
// of naming a device and the per-device manipulation state (mode, override
// policy, validity).
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                     Device Manipulation Registry                   │
//	│                                                                    │
//	│   native Ref ─────┐                                                │
//	│   device index ───┼──▶ arena slot ──▶ Handle (mode, sink, class)   │
//	│   prop container ─┘                                                │
//	│                                                                    │
//	│   DispatchPoseUpdate ───▶ Compensator (motion.Engine)              │
//	│   DispatchPropertyWrite ─▶ override policy                         │
//	│   OnDeviceDiscovered ───▶ Interceptor (hooks.Manager)              │
//	│                       └─▶ Repository (devices table)               │
//	└───────────────────────────────────────────────────────────────────┘
//
// # Lifecycle
//
//	OnDeviceDiscovered  native key, class disguise, driver interception
//	OnDeviceActivated   index and property container keys, Valid=true
//	OnDeviceDeactivated index and container keys dropped, Valid=false
//
// The arena is capped at host.MaxTrackedDeviceCount and never shrinks.
//
// # Locking
//
// One RWMutex guards the arena and all three key tables. Calls out of the
// registry (interceptor, property service, engine, repository, listener)
// happen with the lock released, so a hook that re-enters the registry on
// the same goroutine does not deadlock.
//
// # Usage
//
//	engine := motion.NewEngine()
//	reg := device.NewRegistry(device.Config{Overrides: overrides}, engine)
//	reg.SetInterceptor(hookManager)
//	reg.SetLogger(log)
//
//	observed, err := reg.OnDeviceDiscovered(ref, serial, class, sink, driver)
//	if !reg.DispatchPoseUpdate(index, &pose, host.DriverPoseSize) {
//	    return // suppressed
//	}
package device
