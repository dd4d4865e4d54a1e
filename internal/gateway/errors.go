package gateway

import "errors"

// Sentinel errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrSessionClosed is returned when delivering to a session whose
	// connection has already ended.
	ErrSessionClosed = errors.New("gateway: session closed")

	// ErrDispatchTimeout is returned when a command write did not complete
	// within the dispatch bound. The write may still complete afterward.
	ErrDispatchTimeout = errors.New("gateway: dispatch timed out")

	// ErrDispatchFailed is returned when the transport write failed.
	ErrDispatchFailed = errors.New("gateway: dispatch failed")

	// ErrTelemetryTooLarge is returned when a telemetry frame carries more
	// fields than the configured bound.
	ErrTelemetryTooLarge = errors.New("gateway: telemetry frame exceeds field limit")
)
