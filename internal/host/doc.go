// Package host describes the contracts of the tracking runtime that embeds
// the input emulator driver.
//
// The runtime owns every native object: driver contexts, the server driver
// host, per-device drivers and the property store. Each object is modelled as
// an Object carrying an opaque identity (Ref) and a swappable function table
// (Table). The runtime always calls through the table, which is what lets the
// hooks package redirect selected operations without touching runtime code.
//
// # Key Types
//
//   - Ref: opaque, comparable identity token for a runtime-owned object
//   - Object / Table: native instance with its current function table
//   - DriverPose: pose record delivered for every tracked device update
//   - PropertyWrite: one entry of a property write batch
//   - Settings: read-only section/key settings store
//
// Interface identity strings (IVRServerDriverHost_005 and friends) are the
// names the runtime hands out through DriverContextFuncs.GetGenericInterface.
package host
