// Package mqtt provides the optional telemetry export bus.
//
// When enabled, fleetgate publishes device telemetry and connectivity
// transitions to an external MQTT broker so dashboards and downstream
// consumers can observe the fleet without touching the operator API.
//
// Topic layout:
//
//	fleetgate/telemetry/{device}  - telemetry snapshots as received (not retained)
//	fleetgate/status/{device}     - connectivity transitions (retained)
//	fleetgate/system/status       - gateway online/offline, LWT on crash (retained)
//
// The client wraps paho.mqtt.golang with auto-reconnect and a Last Will
// and Testament so broker-side consumers can distinguish a graceful
// shutdown from a crash.
package mqtt
