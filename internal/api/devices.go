package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/gateway"
)

// telemetryResponse is the reply to a telemetry read. ReceivedAt and
// Telemetry are null when the device has not reported since startup;
// that is a valid answer, not an error.
type telemetryResponse struct {
	Device     string          `json:"device"`
	Telemetry  device.Snapshot `json:"telemetry"`
	ReceivedAt *time.Time      `json:"received_at"`
}

type commandRequest struct {
	Command string `json:"command"`
	Value   any    `json:"value,omitempty"`
}

type commandResponse struct {
	Device string `json:"device"`
	Status string `json:"status"`
}

// handleListDevices returns the full runtime view of every provisioned
// device: connectivity, last reported status, last telemetry, metadata.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	views := s.registry.ListFullView()

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetTelemetry returns the last telemetry snapshot for one device.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	snap, receivedAt, err := s.registry.ReadTelemetry(name)
	if err != nil {
		writeNotFound(w, "unknown device")
		return
	}

	resp := telemetryResponse{Device: name, Telemetry: snap}
	if !receivedAt.IsZero() {
		resp.ReceivedAt = &receivedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSendCommand dispatches a command to a connected device and waits
// for the delivery outcome.
//
// 202 means the frame was handed to the device's transport, not that the
// device acted on it. Command values arrive as JSON of any scalar type
// and are coerced to strings on the wire.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	cmd := device.Command{Action: req.Command}
	if req.Value != nil {
		cmd.Value = fmt.Sprint(req.Value)
	}

	claims := operatorClaims(r)
	outcome, err := s.dispatcher.Dispatch(r.Context(), name, cmd)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrDispatchTimeout):
			s.logger.Warn("command dispatch timed out", "device", name, "command", req.Command)
			writeError(w, http.StatusGatewayTimeout, ErrCodeDispatchTimeout,
				"device did not accept the command in time")
		default:
			s.logger.Error("command dispatch failed", "device", name, "command", req.Command, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeDispatchFailed,
				"command could not be delivered")
		}
		return
	}

	if outcome == gateway.OutcomeNotConnected {
		writeNotFound(w, "device not connected")
		return
	}

	s.logger.Info("command dispatched",
		"device", name,
		"command", req.Command,
		"operator", claims.Username,
	)

	writeJSON(w, http.StatusAccepted, commandResponse{
		Device: name,
		Status: string(outcome),
	})
}
