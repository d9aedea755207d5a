// Package motion implements motion compensation: one tracked device is made
// the reference, and every other device's pose is re-based so the tracked
// volume appears stationary relative to it.
//
// The Engine has two states. While Disabled, Apply is a strict identity.
// Enable selects a reference device index and a smoothing mode; the first
// reference pose after that is captured as the zero point. Every frame the
// engine computes the delta transform from the current reference pose back to
// the zero point and a filtered estimate of the reference's velocity and
// acceleration:
//
//   - ModeMovingAverage averages the last Window velocity samples
//   - ModeKalman runs a per-axis constant-acceleration Kalman filter with
//     configurable process and observation noise
//
// Switching modes seeds the new filter from the old estimate. If the
// reference device disappears, RunFrame is told so and the engine disables
// itself instead of failing the frame.
//
// Settings can be persisted with SQLiteStore and samples of the delta can be
// streamed to InfluxDB through InfluxTelemetry.
package motion
