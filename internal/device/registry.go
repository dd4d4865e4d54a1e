package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// deviceState is the per-device runtime record. The handle doubles as the
// connectivity marker: non-nil means online.
type deviceState struct {
	desc       Descriptor
	handle     Handle
	telemetry  Snapshot
	receivedAt time.Time
}

// Registry is the runtime state table for the fleet.
//
// The name set is fixed after LoadInventory: sessions and telemetry are
// only accepted for provisioned names. A single mutex guards the whole
// table; every operation is a short map access, so contention is not a
// concern at fleet sizes this gateway targets.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	mu     sync.Mutex
	states map[string]*deviceState
	logger Logger

	// Export hooks, invoked outside the lock. Set once during wiring,
	// before any session connects.
	onConnectivity func(name string, online bool)
	onTelemetry    func(name string, snap Snapshot, at time.Time)
}

// NewRegistry creates a registry backed by the given inventory repository.
// Call LoadInventory before serving connections.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		states: make(map[string]*deviceState),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnConnectivity sets a hook invoked after every online/offline
// transition. Must be set before connections are served.
func (r *Registry) SetOnConnectivity(fn func(name string, online bool)) {
	r.onConnectivity = fn
}

// SetOnTelemetry sets a hook invoked after every recorded snapshot.
// Must be set before connections are served.
func (r *Registry) SetOnTelemetry(fn func(name string, snap Snapshot, at time.Time)) {
	r.onTelemetry = fn
}

// LoadInventory reads the provisioned devices from the repository and
// builds the state table. All devices start offline with no telemetry.
func (r *Registry) LoadInventory(ctx context.Context) error {
	descriptors, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = make(map[string]*deviceState, len(descriptors))
	for _, d := range descriptors {
		r.states[d.Name] = &deviceState{desc: d}
	}

	r.logger.Info("device inventory loaded", "count", len(descriptors))
	return nil
}

// LookupDescriptor returns the inventory row for a provisioned device.
// Returns ErrUnknownDevice for names outside the inventory.
func (r *Registry) LookupDescriptor(name string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[name]
	if !ok {
		return Descriptor{}, ErrUnknownDevice
	}
	return st.desc, nil
}

// MarkOnline registers a session handle for the device, making it online.
//
// If another handle was registered, it is replaced and returned so the
// caller can terminate the superseded session. The replaced session's own
// MarkOffline later becomes a no-op because its handle no longer matches.
func (r *Registry) MarkOnline(name string, h Handle) (prev Handle, err error) {
	r.mu.Lock()
	st, ok := r.states[name]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownDevice
	}
	prev = st.handle
	st.handle = h
	r.mu.Unlock()

	if prev == nil && r.onConnectivity != nil {
		r.onConnectivity(name, true)
	}

	r.logger.Info("device online", "device", name, "superseded", prev != nil)
	return prev, nil
}

// MarkOffline removes the device's handle if it is still the given one.
//
// The handle comparison makes release scoped to a session: a stale
// session releasing after being superseded does not evict the live
// handle. Returns true if the device transitioned to offline.
func (r *Registry) MarkOffline(name string, h Handle) bool {
	r.mu.Lock()
	st, ok := r.states[name]
	if !ok || st.handle == nil || st.handle != h {
		r.mu.Unlock()
		return false
	}
	st.handle = nil
	r.mu.Unlock()

	if r.onConnectivity != nil {
		r.onConnectivity(name, false)
	}

	r.logger.Info("device offline", "device", name)
	return true
}

// GetHandle returns the live session handle for a device.
// Returns ErrUnknownDevice for unprovisioned names and ErrNotConnected
// when the device is offline.
func (r *Registry) GetHandle(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[name]
	if !ok {
		return nil, ErrUnknownDevice
	}
	if st.handle == nil {
		return nil, ErrNotConnected
	}
	return st.handle, nil
}

// RecordTelemetry stores a snapshot as the device's current telemetry.
// Last write wins; no history is kept in memory.
func (r *Registry) RecordTelemetry(name string, snap Snapshot) error {
	now := time.Now().UTC()

	r.mu.Lock()
	st, ok := r.states[name]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownDevice
	}
	st.telemetry = snap.Clone()
	st.receivedAt = now
	r.mu.Unlock()

	if r.onTelemetry != nil {
		r.onTelemetry(name, snap.Clone(), now)
	}

	return nil
}

// ReadTelemetry returns the last snapshot for a device and when it was
// received. A nil snapshot with a zero time means the device has not
// reported since startup; that is data absence, not an error.
func (r *Registry) ReadTelemetry(name string) (Snapshot, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[name]
	if !ok {
		return nil, time.Time{}, ErrUnknownDevice
	}
	return st.telemetry.Clone(), st.receivedAt, nil
}

// ListStatuses returns the runtime status of every provisioned device,
// sorted by name.
func (r *Registry) ListStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]Status, 0, len(r.states))
	for name, st := range r.states {
		statuses = append(statuses, statusLocked(name, st))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ListFullView returns status, last telemetry and metadata for every
// provisioned device, sorted by name.
func (r *Registry) ListFullView() []FullView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]FullView, 0, len(r.states))
	for name, st := range r.states {
		views = append(views, FullView{
			Status:    statusLocked(name, st),
			Telemetry: st.telemetry.Clone(),
			Metadata:  st.desc.Metadata,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// statusLocked builds a Status from a state record. Caller holds r.mu.
func statusLocked(name string, st *deviceState) Status {
	s := Status{
		Name:         name,
		Connectivity: ConnOffline,
		Reported:     st.telemetry.Status(),
	}
	if st.handle != nil {
		s.Connectivity = ConnOnline
	}
	if !st.receivedAt.IsZero() {
		t := st.receivedAt
		s.LastSeen = &t
	}
	return s
}
