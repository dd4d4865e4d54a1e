package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/avolant/fleetgate/internal/device"
)

// Frame type discriminators. Every device frame is a self-describing JSON
// object with a "type" field; unknown types are ignored for forward
// compatibility.
const (
	frameTypeAuth      = "auth"
	frameTypeTelemetry = "telemetry"
)

// authFrame is the first frame a device must send after connecting.
type authFrame struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// authAck is sent on successful authentication.
type authAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// authReject is sent before closing a connection that failed the handshake.
type authReject struct {
	Error string `json:"error"`
}

// Rejection reasons.
const (
	rejectUnauthorized = "unauthorized"
	rejectAuthRequired = "auth_required"
)

// commandFrame is a gateway-to-device command. The value is always
// string-coerced on the wire and omitted when empty.
type commandFrame struct {
	Command string `json:"command"`
	Value   string `json:"value,omitempty"`
}

// encodeCommand marshals a registry command into its wire form.
func encodeCommand(cmd device.Command) ([]byte, error) {
	data, err := json.Marshal(commandFrame{Command: cmd.Action, Value: cmd.Value})
	if err != nil {
		return nil, fmt.Errorf("encoding command frame: %w", err)
	}
	return data, nil
}

// parseFrame unmarshals a device frame and returns its type discriminator
// alongside the raw fields. An absent type is returned as "".
func parseFrame(data []byte) (frameType string, fields map[string]any, err error) {
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, fmt.Errorf("parsing frame: %w", err)
	}
	frameType, _ = fields["type"].(string) //nolint:errcheck // absent type handled by caller
	return frameType, fields, nil
}

// sanitizeTelemetry converts a telemetry frame's fields into a bounded
// snapshot. The "type" discriminator is stripped, non-scalar values are
// dropped, and a frame over the field limit is rejected whole.
func sanitizeTelemetry(fields map[string]any, maxFields int) (device.Snapshot, error) {
	snap := make(device.Snapshot, len(fields))
	for k, v := range fields {
		if k == "type" {
			continue
		}
		switch v.(type) {
		case string, float64, bool, nil:
			snap[k] = v
		default:
			// Nested objects and arrays are not telemetry scalars.
			continue
		}
	}

	if len(snap) > maxFields {
		return nil, fmt.Errorf("%w: %d fields, limit %d", ErrTelemetryTooLarge, len(snap), maxFields)
	}
	return snap, nil
}
