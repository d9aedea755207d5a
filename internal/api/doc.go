// Package api serves the input emulator's read-only status surface.
//
// The server is meant for loopback use by developers and dashboards:
//
//	GET /api/v1/health          component health
//	GET /api/v1/devices         every known device
//	GET /api/v1/devices/{index} one active device
//	GET /api/v1/motion          motion compensation state
//	GET /api/v1/ws              WebSocket stream of driver events
//
// Mutations go through the IPC control channel, never through HTTP.
package api
