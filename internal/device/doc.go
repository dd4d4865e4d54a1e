// Package device holds the fleet inventory and runtime state table.
//
// The inventory (device names, secrets, metadata) is loaded from SQLite at
// startup and fixed for the life of the process. Runtime state lives only
// in memory: whether a device has a live session, and its last telemetry
// snapshot.
//
// Connectivity is derived, never stored: a device is online exactly when a
// session handle is registered for it. This makes the online/handle
// invariant structural rather than something callers must maintain.
//
// Connectivity and device-reported status are distinct. A device can be
// online while reporting "emergency_stop"; an offline device retains its
// last reported status as historical data.
package device
