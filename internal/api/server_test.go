package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avolant/fleetgate/internal/auth"
	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/gateway"
	"github.com/avolant/fleetgate/internal/infrastructure/config"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
)

const (
	testJWTSecret = "test-secret-key-minimum-32-characters-long"
	testPassword  = "correct-horse-battery"
)

// stubRepo is an in-memory device inventory for tests.
type stubRepo struct {
	devices []device.Descriptor
}

func (r *stubRepo) GetByName(_ context.Context, name string) (*device.Descriptor, error) {
	for i := range r.devices {
		if r.devices[i].Name == name {
			d := r.devices[i]
			return &d, nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

func (r *stubRepo) List(_ context.Context) ([]device.Descriptor, error) {
	return r.devices, nil
}

func (r *stubRepo) Create(_ context.Context, d *device.Descriptor) error {
	r.devices = append(r.devices, *d)
	return nil
}

func (r *stubRepo) Delete(_ context.Context, _ string) error { return nil }

// capturingHandle records delivered commands.
type capturingHandle struct {
	commands chan device.Command
}

func newCapturingHandle() *capturingHandle {
	return &capturingHandle{commands: make(chan device.Command, 4)}
}

func (h *capturingHandle) Deliver(_ context.Context, cmd device.Command) error {
	h.commands <- cmd
	return nil
}

// blockingHandle never completes a delivery.
type blockingHandle struct{}

func (blockingHandle) Deliver(ctx context.Context, _ device.Command) error {
	<-ctx.Done()
	return ctx.Err()
}

// failingHandle fails every delivery with a transport error.
type failingHandle struct{ err error }

func (h failingHandle) Deliver(_ context.Context, _ device.Command) error { return h.err }

// testEnv bundles the pieces a handler test needs.
type testEnv struct {
	server   *Server
	ts       *httptest.Server
	registry *device.Registry
	token    string
}

func setupOperatorDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE operators (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			disabled      INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			last_login_at TEXT
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	operators := auth.NewOperatorRepository(setupOperatorDB(t))

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	op := &auth.Operator{Username: "alice", DisplayName: "Alice", PasswordHash: hash}
	if err := operators.Create(context.Background(), op); err != nil {
		t.Fatalf("failed to create operator: %v", err)
	}

	registry := device.NewRegistry(&stubRepo{devices: []device.Descriptor{
		{Name: "unit-7", Secret: "s7", Metadata: map[string]string{"site": "north"}},
		{Name: "unit-9", Secret: "s9"},
	}})
	if err := registry.LoadInventory(context.Background()); err != nil {
		t.Fatalf("failed to load inventory: %v", err)
	}

	logger := &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	dispatcher := gateway.NewDispatcher(registry, 200*time.Millisecond, logger)

	srv, err := New(Deps{
		Config:     config.API{Host: "127.0.0.1", Port: 8080},
		Security:   config.Security{JWT: config.JWT{Secret: testJWTSecret, AccessTokenTTL: 15}},
		Logger:     logger,
		Registry:   registry,
		Dispatcher: dispatcher,
		Operators:  operators,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)

	token, err := auth.GenerateAccessToken(*op, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	return &testEnv{server: srv, ts: ts, registry: registry, token: token}
}

// request performs an HTTP call against the test server and decodes the
// JSON response body into out when out is non-nil.
func (e *testEnv) request(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthRequiresNoToken(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	status := env.request(t, http.MethodGet, "/api/v1/health", "", nil, &body)

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["devices_total"] != float64(2) {
		t.Errorf("expected 2 devices, got %v", body["devices_total"])
	}
	if body["devices_online"] != float64(0) {
		t.Errorf("expected 0 online, got %v", body["devices_online"])
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)

	var resp loginResponse
	status := env.request(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "alice", Password: testPassword}, &resp)

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.AccessToken == "" {
		t.Error("expected an access token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("expected Bearer token type, got %q", resp.TokenType)
	}
	if resp.ExpiresIn != 15*60 {
		t.Errorf("expected expiry of 900s, got %d", resp.ExpiresIn)
	}

	// The issued token must be accepted on protected routes.
	status = env.request(t, http.MethodGet, "/api/v1/devices", resp.AccessToken, nil, nil)
	if status != http.StatusOK {
		t.Errorf("expected 200 with issued token, got %d", status)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	var errResp Error
	status := env.request(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "alice", Password: "wrong"}, &errResp)

	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if errResp.Code != ErrCodeUnauthorized {
		t.Errorf("expected code %q, got %q", ErrCodeUnauthorized, errResp.Code)
	}
}

func TestLoginUnknownUserSameResponse(t *testing.T) {
	env := newTestEnv(t)

	var unknownResp, wrongResp Error
	s1 := env.request(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "nobody", Password: "x"}, &unknownResp)
	s2 := env.request(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "alice", Password: "x"}, &wrongResp)

	if s1 != http.StatusUnauthorized || s2 != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", s1, s2)
	}
	if unknownResp.Message != wrongResp.Message {
		t.Errorf("unknown-user and wrong-password responses differ: %q vs %q",
			unknownResp.Message, wrongResp.Message)
	}
}

func TestLoginDisabledOperator(t *testing.T) {
	env := newTestEnv(t)

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	op := &auth.Operator{Username: "mallory", PasswordHash: hash, Disabled: true}
	if err := env.server.operators.Create(context.Background(), op); err != nil {
		t.Fatalf("failed to create operator: %v", err)
	}

	status := env.request(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Username: "mallory", Password: testPassword}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for disabled operator, got %d", status)
	}
}

func TestProtectedRoutesRejectBadTokens(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := env.request(t, http.MethodGet, "/api/v1/devices", tt.token, nil, nil)
			if status != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", status)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.registry.MarkOnline("unit-7", newCapturingHandle()); err != nil {
		t.Fatalf("failed to mark online: %v", err)
	}
	if err := env.registry.RecordTelemetry("unit-7", device.Snapshot{"status": "active", "battery": 84.0}); err != nil {
		t.Fatalf("failed to record telemetry: %v", err)
	}

	var body struct {
		Devices []device.FullView `json:"devices"`
		Count   int               `json:"count"`
	}
	status := env.request(t, http.MethodGet, "/api/v1/devices", env.token, nil, &body)

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body.Count != 2 || len(body.Devices) != 2 {
		t.Fatalf("expected 2 devices, got count=%d len=%d", body.Count, len(body.Devices))
	}

	// Sorted by name: unit-7 first.
	u7 := body.Devices[0]
	if u7.Name != "unit-7" {
		t.Fatalf("expected unit-7 first, got %q", u7.Name)
	}
	if u7.Connectivity != device.ConnOnline {
		t.Errorf("expected unit-7 online, got %q", u7.Connectivity)
	}
	if u7.Reported != "active" {
		t.Errorf("expected reported status active, got %q", u7.Reported)
	}
	if u7.Metadata["site"] != "north" {
		t.Errorf("expected metadata site=north, got %v", u7.Metadata)
	}

	u9 := body.Devices[1]
	if u9.Connectivity != device.ConnOffline {
		t.Errorf("expected unit-9 offline, got %q", u9.Connectivity)
	}
	if u9.Telemetry != nil {
		t.Errorf("expected no telemetry for unit-9, got %v", u9.Telemetry)
	}
}

func TestGetTelemetryNoDataYet(t *testing.T) {
	env := newTestEnv(t)

	var resp telemetryResponse
	status := env.request(t, http.MethodGet, "/api/v1/devices/unit-7/telemetry", env.token, nil, &resp)

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Telemetry != nil {
		t.Errorf("expected null telemetry, got %v", resp.Telemetry)
	}
	if resp.ReceivedAt != nil {
		t.Errorf("expected null received_at, got %v", resp.ReceivedAt)
	}
}

func TestGetTelemetry(t *testing.T) {
	env := newTestEnv(t)
	if err := env.registry.RecordTelemetry("unit-7", device.Snapshot{"status": "idle", "battery": 91.5}); err != nil {
		t.Fatalf("failed to record telemetry: %v", err)
	}

	var resp telemetryResponse
	status := env.request(t, http.MethodGet, "/api/v1/devices/unit-7/telemetry", env.token, nil, &resp)

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Device != "unit-7" {
		t.Errorf("expected device unit-7, got %q", resp.Device)
	}
	if resp.Telemetry["status"] != "idle" {
		t.Errorf("expected status idle, got %v", resp.Telemetry["status"])
	}
	if resp.Telemetry["battery"] != 91.5 {
		t.Errorf("expected battery 91.5, got %v", resp.Telemetry["battery"])
	}
	if resp.ReceivedAt == nil {
		t.Error("expected received_at to be set")
	}
}

func TestGetTelemetryUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	status := env.request(t, http.MethodGet, "/api/v1/devices/ghost/telemetry", env.token, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestSendCommandDelivered(t *testing.T) {
	env := newTestEnv(t)
	handle := newCapturingHandle()
	if _, err := env.registry.MarkOnline("unit-7", handle); err != nil {
		t.Fatalf("failed to mark online: %v", err)
	}

	var resp commandResponse
	status := env.request(t, http.MethodPost, "/api/v1/devices/unit-7/command", env.token,
		commandRequest{Command: "set_speed", Value: 42}, &resp)

	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	if resp.Status != "delivered" {
		t.Errorf("expected status delivered, got %q", resp.Status)
	}

	select {
	case cmd := <-handle.commands:
		if cmd.Action != "set_speed" {
			t.Errorf("expected action set_speed, got %q", cmd.Action)
		}
		// Numeric JSON values are coerced to strings on the device wire.
		if cmd.Value != "42" {
			t.Errorf("expected value %q, got %q", "42", cmd.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("command never reached the handle")
	}
}

func TestSendCommandNotConnected(t *testing.T) {
	env := newTestEnv(t)

	var errResp Error
	status := env.request(t, http.MethodPost, "/api/v1/devices/unit-7/command", env.token,
		commandRequest{Command: "land"}, &errResp)

	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if errResp.Code != ErrCodeNotFound {
		t.Errorf("expected code %q, got %q", ErrCodeNotFound, errResp.Code)
	}
}

func TestSendCommandUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	status := env.request(t, http.MethodPost, "/api/v1/devices/ghost/command", env.token,
		commandRequest{Command: "land"}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestSendCommandTimeout(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.registry.MarkOnline("unit-7", blockingHandle{}); err != nil {
		t.Fatalf("failed to mark online: %v", err)
	}

	var errResp Error
	status := env.request(t, http.MethodPost, "/api/v1/devices/unit-7/command", env.token,
		commandRequest{Command: "land"}, &errResp)

	if status != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", status)
	}
	if errResp.Code != ErrCodeDispatchTimeout {
		t.Errorf("expected code %q, got %q", ErrCodeDispatchTimeout, errResp.Code)
	}
}

func TestSendCommandTransportFailure(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.registry.MarkOnline("unit-7", failingHandle{err: io.ErrClosedPipe}); err != nil {
		t.Fatalf("failed to mark online: %v", err)
	}

	var errResp Error
	status := env.request(t, http.MethodPost, "/api/v1/devices/unit-7/command", env.token,
		commandRequest{Command: "land"}, &errResp)

	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}
	if errResp.Code != ErrCodeDispatchFailed {
		t.Errorf("expected code %q, got %q", ErrCodeDispatchFailed, errResp.Code)
	}
}

func TestSendCommandValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body fields", commandRequest{}},
		{"missing command", map[string]any{"value": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := env.request(t, http.MethodPost, "/api/v1/devices/unit-7/command", env.token, tt.body, nil)
			if status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
		})
	}
}
