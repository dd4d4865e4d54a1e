package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
)

// Outcome is the definite result of a command dispatch.
type Outcome string

// Dispatch outcomes. NotConnected is an expected state, not a fault:
// callers surface it as "device offline", while transport errors and
// timeouts are server-side failures returned as errors.
const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeNotConnected Outcome = "not_connected"
)

// Dispatcher bridges operator requests into device sessions.
//
// A dispatch looks up the target's live session handle and hands the
// write to that session's writer goroutine, waiting at most the
// configured bound for the result. The wait is on the dispatcher side
// only: a timed-out write is not withdrawn and may still complete.
type Dispatcher struct {
	registry *device.Registry
	timeout  time.Duration
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *device.Registry, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch delivers a command to a named device.
//
// Returns OutcomeNotConnected immediately, without consuming the wait
// bound, when the device is unknown or offline. A nil error with
// OutcomeDelivered means the frame was written to the transport; it says
// nothing about device-side execution.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, cmd device.Command) (Outcome, error) {
	handle, err := d.registry.GetHandle(name)
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) || errors.Is(err, device.ErrNotConnected) {
			return OutcomeNotConnected, nil
		}
		return "", fmt.Errorf("looking up handle: %w", err)
	}

	deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	if err := handle.Deliver(deliverCtx, cmd); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			d.logger.Warn("dispatch timed out",
				"device", name, "action", cmd.Action, "waited", time.Since(start))
			return "", ErrDispatchTimeout
		case errors.Is(err, ErrSessionClosed):
			// The session ended between lookup and delivery.
			return OutcomeNotConnected, nil
		default:
			d.logger.Error("dispatch failed",
				"device", name, "action", cmd.Action, "error", err)
			return "", fmt.Errorf("%w: %w", ErrDispatchFailed, err)
		}
	}

	d.logger.Debug("command delivered", "device", name, "action", cmd.Action)
	return OutcomeDelivered, nil
}
