// Package gateway implements the device-facing WebSocket server.
//
// Each device connection is a small state machine: Connecting,
// Authenticating, Authenticated, Closed. A connecting device has a fixed
// window to present an auth frame naming a provisioned device and its
// shared secret; after that the session relays telemetry frames into the
// device registry until the connection ends for any reason.
//
// Registration is scoped to the session. The deferred release runs on
// every exit path (normal close, read error, auth timeout, shutdown), and
// the registry ignores a release from a session that has already been
// superseded by a newer connection for the same device name.
//
// The dispatcher bridges the operator API into a session: command writes
// are handed to the session's writer goroutine through a channel carrying
// a per-request reply channel, and the API caller waits on that reply with
// a bounded timeout. A timed-out wait does not cancel the underlying
// write; the frame may still reach the device afterward.
package gateway
