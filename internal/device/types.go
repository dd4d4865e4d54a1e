package device

import (
	"context"
	"time"
)

// Connectivity describes whether a device currently holds a live session.
type Connectivity string

// Connectivity states.
const (
	ConnOnline  Connectivity = "online"
	ConnOffline Connectivity = "offline"
)

// Descriptor is a provisioned device: the static inventory row, as opposed
// to runtime state. The secret is never serialized.
type Descriptor struct {
	Name      string            `json:"name"`
	Secret    string            `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Command is a directive bound for a device.
type Command struct {
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

// Handle is the delivery endpoint of a live device session.
//
// A handle is valid from MarkOnline until the matching MarkOffline; the
// registry holds at most one handle per device. Deliver blocks until the
// command has been handed to the transport or ctx expires.
type Handle interface {
	Deliver(ctx context.Context, cmd Command) error
}

// Snapshot is one telemetry report from a device. Core fields (status,
// battery, position) and any extension fields share the same flat map;
// values are scalars only, enforced at the gateway before recording.
type Snapshot map[string]any

// Status returns the device-reported operational status from the snapshot,
// or "" if the device did not report one.
func (s Snapshot) Status() string {
	if v, ok := s["status"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the snapshot. Values are scalars, so a
// shallow copy is a full copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Status is a device's externally visible runtime state.
//
// Connectivity says whether the gateway holds a live session; Reported is
// what the device last said about itself. They are deliberately separate
// fields: an offline device keeps its last reported status as history.
type Status struct {
	Name         string       `json:"name"`
	Connectivity Connectivity `json:"connectivity"`
	Reported     string       `json:"reported_status,omitempty"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
}

// FullView is a Status plus the complete last telemetry snapshot and
// inventory metadata, as returned by the operator device listing.
type FullView struct {
	Status
	Telemetry Snapshot          `json:"telemetry,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
