// Package simhost is an in-process stand-in for the tracking runtime.
//
// A Runtime owns a driver context, a server driver host, a property store
// and a settings store, all built from host.Object function tables. Every
// call the runtime makes goes through the current table, so a driver that
// intercepts these objects sees exactly what it would see in the real
// runtime: device announcements, activations, pose updates, property
// batches and event polling.
//
// Devices are simulated drivers with a Motion that yields their pose:
//
//	rt := simhost.New()
//	drv.Init(ctx, rt.DriverContext())
//	rt.AddDevice(simhost.NewDevice("HMD-1", host.ClassHMD, simhost.Static(r3.Vec{Y: 1.7})))
//	rt.Step(drv.RunFrame)
//
// Step is deterministic: frame n is simulated at n/DefaultFrameRate seconds.
package simhost
