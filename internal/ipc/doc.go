// Package ipc implements the request/reply control channel between external
// applications and the driver.
//
// Two one-way channels carry JSON envelopes: every client sends to one
// shared server-bound channel and receives on its own client-bound channel
// (prefix plus client id). Channels come from a Transport; MemoryTransport
// keeps them in process and MQTTTransport maps them onto broker topics.
//
// # Correlation
//
// A modal call picks a random non-zero 32-bit id that no other pending call
// of the same client holds, registers a one-shot slot under it, sends, and
// waits for the slot, its context, or Disconnect. The client's single reader
// goroutine removes the slot for each reply id and completes it. Removing an
// entry is the right to complete it, so a call is resolved exactly once.
// Replies with unknown ids or for other clients are discarded.
//
// Calls made with NoWait are sent without an id and the server sends no
// reply.
//
// # Errors
//
// Server-side failures travel as an error kind and message. The client
// surfaces them as *RemoteError, which matches the sentinel of its kind:
//
//	info, err := client.GetDeviceInfo(ctx, 3)
//	if errors.Is(err, device.ErrInvalidID) {
//	    // no active device at index 3
//	}
//
// # Versioning
//
// Connect pings with ProtocolVersion. A server on another version answers
// with a version_mismatch error and the client disconnects itself.
package ipc
