// Devicesim - Fleet Device Simulator
//
// A standalone simulator for exercising a running Fleetgate instance
// without real hardware. It connects to the gateway WebSocket endpoint,
// authenticates as a provisioned device, streams periodic telemetry, and
// prints any commands it receives. On connection loss it retries forever.
//
// Usage:
//
//	devicesim -name unit-7 -secret s3cret -url ws://localhost:8765/ws
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectDelay is the pause between connection attempts.
const reconnectDelay = 5 * time.Second

func main() {
	var (
		name     = flag.String("name", "unit-1", "device name")
		secret   = flag.String("secret", "", "device secret")
		url      = flag.String("url", "ws://localhost:8765/ws", "gateway WebSocket URL")
		interval = flag.Duration("interval", 10*time.Second, "telemetry reporting interval")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret is required")
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("device", *name)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sim := &simulator{
		name:     *name,
		secret:   *secret,
		url:      *url,
		interval: *interval,
		log:      log,
		battery:  100.0,
	}
	sim.run(ctx)

	log.Info("simulator stopped")
}

// simulator is one simulated device with drifting telemetry values.
type simulator struct {
	name     string
	secret   string
	url      string
	interval time.Duration
	log      *slog.Logger

	battery float64
}

// run keeps a session alive until ctx is cancelled, reconnecting after
// every failure.
func (s *simulator) run(ctx context.Context) {
	for {
		if err := s.session(ctx); err != nil {
			s.log.Warn("session ended", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// session dials the gateway, authenticates, and exchanges frames until
// the connection drops or ctx is cancelled.
func (s *simulator) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{
		"type":   "auth",
		"name":   s.name,
		"secret": s.secret,
	}); err != nil {
		return fmt.Errorf("sending auth frame: %w", err)
	}

	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}
	if ack["status"] != "ok" {
		return fmt.Errorf("authentication rejected: %v", ack)
	}
	s.log.Info("connected and authenticated", "url", s.url)

	// Reader goroutine: print incoming commands, signal on close.
	done := make(chan error, 1)
	go func() {
		for {
			_, data, readErr := conn.ReadMessage()
			if readErr != nil {
				done <- readErr
				return
			}
			var cmd struct {
				Command string `json:"command"`
				Value   string `json:"value"`
			}
			if jsonErr := json.Unmarshal(data, &cmd); jsonErr != nil || cmd.Command == "" {
				s.log.Warn("unrecognised frame", "data", string(data))
				continue
			}
			s.log.Info("command received", "command", cmd.Command, "value", cmd.Value)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return fmt.Errorf("connection lost: %w", err)
		case <-ticker.C:
			if err := conn.WriteJSON(s.telemetry()); err != nil {
				return fmt.Errorf("sending telemetry: %w", err)
			}
		}
	}
}

// telemetry builds the next report. Battery drains slowly; temperature
// wanders around ambient.
func (s *simulator) telemetry() map[string]any {
	s.battery -= rand.Float64() * 0.5
	if s.battery < 0 {
		s.battery = 100.0
	}

	return map[string]any{
		"type":        "telemetry",
		"status":      "active",
		"battery":     roundTo(s.battery, 1),
		"temperature": roundTo(18.0+rand.Float64()*10.0, 1),
	}
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return float64(int(v*shift+0.5)) / shift
}
