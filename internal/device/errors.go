package device

import "errors"

// Sentinel errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownDevice is returned when a name is not in the provisioned
	// inventory. The registry never creates devices on demand.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrNotConnected is returned when an operation requires a live session
	// and the device has none.
	ErrNotConnected = errors.New("device: not connected")

	// ErrDeviceNotFound is returned by the repository when a device row
	// does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with a name that
	// is already provisioned.
	ErrDeviceExists = errors.New("device: already exists")
)
