package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/infrastructure/config"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
)

// outboxSize is the per-session outbound frame buffer. Command traffic is
// low-rate; a small buffer absorbs bursts without unbounded growth.
const outboxSize = 16

// outboundFrame is one queued write. The reply channel, when non-nil,
// receives the write result exactly once; it must be buffered so the
// writer never blocks on a caller that gave up waiting.
type outboundFrame struct {
	payload []byte
	done    chan error
}

// session is one device connection's state machine. It implements
// device.Handle: the registry hands the session itself to the dispatcher
// as the delivery endpoint.
//
// All websocket writes go through the writer goroutine via the outbox;
// reads happen only on the session's own run goroutine.
type session struct {
	conn     *websocket.Conn
	registry *device.Registry
	cfg      config.Gateway
	logger   *logging.Logger

	// name is set once authenticated and read only by the run goroutine.
	name string

	outbox    chan outboundFrame
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, registry *device.Registry, cfg config.Gateway, logger *logging.Logger) *session {
	return &session{
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		outbox:   make(chan outboundFrame, outboxSize),
		closed:   make(chan struct{}),
	}
}

// run drives the session from accept to close. It blocks until the
// connection ends and guarantees the registry release on every exit path.
func (s *session) run(ctx context.Context) {
	defer s.terminate()

	go s.writePump()
	go s.watchContext(ctx)

	name, ok := s.authenticate()
	if !ok {
		return
	}
	s.name = name

	prev, err := s.registry.MarkOnline(name, s)
	if err != nil {
		// Authenticated against the inventory a moment ago; only a
		// programming error could land here.
		s.logger.Error("registering authenticated session failed", "device", name, "error", err)
		return
	}
	// Release is scoped to this session: after a newer connection
	// supersedes it, this call becomes a no-op.
	defer s.registry.MarkOffline(name, s)

	if prev != nil {
		if old, isSession := prev.(*session); isSession {
			s.logger.Info("superseding previous session", "device", name)
			old.terminate()
		}
	}

	if err := s.sendJSON(authAck{Status: "ok", Message: "authenticated"}); err != nil {
		return
	}

	s.readLoop()
}

// authenticate waits for exactly one auth frame within the configured
// window and validates it against the inventory. On failure it sends at
// most one rejection frame and reports the handshake as failed.
func (s *session) authenticate() (string, bool) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.GetAuthTimeout())); err != nil {
		return "", false
	}

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		// Timeout or early close: no rejection frame, per protocol.
		s.logger.Debug("handshake read failed", "error", err)
		return "", false
	}

	frameType, fields, err := parseFrame(data)
	if err != nil {
		s.logger.Debug("handshake frame unparsable", "error", err)
		return "", false
	}
	if frameType != frameTypeAuth {
		s.reject(rejectAuthRequired)
		return "", false
	}

	name, _ := fields["name"].(string)     //nolint:errcheck // empty name fails lookup below
	secret, _ := fields["secret"].(string) //nolint:errcheck // empty secret fails compare below

	desc, err := s.registry.LookupDescriptor(name)
	if err != nil || subtle.ConstantTimeCompare([]byte(desc.Secret), []byte(secret)) != 1 {
		s.logger.Warn("device authentication rejected", "device", name)
		s.reject(rejectUnauthorized)
		return "", false
	}

	// Authenticated sessions read indefinitely; clear the handshake deadline.
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", false
	}

	s.logger.Info("device authenticated", "device", name)
	return name, true
}

// readLoop relays telemetry frames into the registry until the connection
// ends. Unknown frame types are logged and ignored; an unparsable frame
// closes the session.
func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("session closed", "device", s.name, "reason", err)
			return
		}

		frameType, fields, err := parseFrame(data)
		if err != nil {
			s.logger.Warn("malformed frame, closing session", "device", s.name, "error", err)
			return
		}

		switch frameType {
		case frameTypeTelemetry:
			snap, err := sanitizeTelemetry(fields, s.cfg.MaxTelemetryFields)
			if err != nil {
				s.logger.Warn("telemetry frame dropped", "device", s.name, "error", err)
				continue
			}
			if err := s.registry.RecordTelemetry(s.name, snap); err != nil {
				s.logger.Error("recording telemetry failed", "device", s.name, "error", err)
			}
		default:
			s.logger.Debug("ignoring frame with unknown type", "device", s.name, "type", frameType)
		}
	}
}

// writePump is the single owner of websocket writes for this session.
func (s *session) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.outbox:
			//nolint:errcheck // Deadline failure surfaces as a write error below
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.GetWriteTimeout()))
			err := s.conn.WriteMessage(websocket.TextMessage, frame.payload)
			if frame.done != nil {
				frame.done <- err
			}
			if err != nil {
				s.terminate()
				return
			}
		}
	}
}

// Deliver queues a command frame and waits for the write result. It
// implements device.Handle.
//
// When ctx expires before the result arrives, the queued write is not
// withdrawn: it may still reach the device after this returns. Only the
// caller's wait is bounded.
func (s *session) Deliver(ctx context.Context, cmd device.Command) error {
	payload, err := encodeCommand(cmd)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	select {
	case s.outbox <- outboundFrame{payload: payload, done: done}:
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendJSON queues a frame and waits for the write to complete.
func (s *session) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	select {
	case s.outbox <- outboundFrame{payload: payload, done: done}:
	case <-s.closed:
		return ErrSessionClosed
	}

	select {
	case err := <-done:
		return err
	case <-s.closed:
		return ErrSessionClosed
	}
}

// reject sends a single rejection frame, best-effort.
func (s *session) reject(reason string) {
	if err := s.sendJSON(authReject{Error: reason}); err != nil {
		s.logger.Debug("sending rejection failed", "reason", reason, "error", err)
	}
}

// watchContext closes the session when the server shuts down.
func (s *session) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.terminate()
	case <-s.closed:
	}
}

// terminate closes the connection and wakes every waiter, exactly once.
// Safe to call from any goroutine.
func (s *session) terminate() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close() //nolint:errcheck // Close errors on teardown are not actionable
	})
}
