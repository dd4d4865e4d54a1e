package mqtt

import "fmt"

// topicPrefix is the root of the fleetgate topic namespace.
const topicPrefix = "fleetgate"

// Topics builds topic strings for the fleetgate namespace.
//
// Using a struct rather than free functions keeps call sites uniform:
//
//	topic := mqtt.Topics{}.DeviceTelemetry("drone-alpha")
type Topics struct{}

// DeviceTelemetry returns the topic for a device's telemetry snapshots.
// Messages are not retained; telemetry is a stream, not a state.
func (Topics) DeviceTelemetry(device string) string {
	return fmt.Sprintf("%s/telemetry/%s", topicPrefix, device)
}

// DeviceStatus returns the topic for a device's connectivity transitions.
// Messages are retained so new subscribers see the last known state.
func (Topics) DeviceStatus(device string) string {
	return fmt.Sprintf("%s/status/%s", topicPrefix, device)
}

// SystemStatus returns the topic for the gateway's own online/offline status.
// The Last Will and Testament is published here on unexpected disconnect.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}
