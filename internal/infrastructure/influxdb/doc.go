// Package influxdb writes optional input emulator telemetry to InfluxDB v2.
//
// Three streams are recorded when the influxdb section is enabled:
//
//   - motion_compensation: sampled compensation deltas (see motion.InfluxTelemetry)
//   - device_event: discovery, activation and deactivation of tracked devices
//   - host_frame: progress of the simulated runtime
//
// Writes go through the client library's non-blocking batched API; batch
// failures surface through SetOnError.
package influxdb
