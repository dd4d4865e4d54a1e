package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/avolant/fleetgate/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// These tests do not require a running broker.
func testConfig() config.MQTT {
	return config.MQTT{
		Broker: config.MQTTBroker{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fleetgate-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnect{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device telemetry", Topics{}.DeviceTelemetry("drone-alpha"), "fleetgate/telemetry/drone-alpha"},
		{"device status", Topics{}.DeviceStatus("drone-alpha"), "fleetgate/status/drone-alpha"},
		{"system status", Topics{}.SystemStatus(), "fleetgate/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gw"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
	if opts.ClientID != "fleetgate-test" {
		t.Errorf("ClientID = %q, want fleetgate-test", opts.ClientID)
	}
	if opts.Username != "gw" {
		t.Errorf("Username = %q, want gw", opts.Username)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want configured")
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("fleetgate-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}

	offline := buildOfflinePayload("fleetgate-test")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "fleetgate/telemetry/d1", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "fleetgate/telemetry/d1", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}
