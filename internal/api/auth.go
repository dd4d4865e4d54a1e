package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avolant/fleetgate/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// handleLogin authenticates an operator and issues an access token.
//
// Failed lookups and failed password checks return the same response so
// the endpoint does not reveal which usernames exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	op, err := s.operators.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrOperatorNotFound) {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("operator lookup failed", "username", req.Username, "error", err)
		writeInternalError(w, "authentication failed")
		return
	}

	if op.Disabled {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, op.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", "username", req.Username, "error", err)
		writeInternalError(w, "authentication failed")
		return
	}
	if !ok {
		s.logger.Warn("failed login attempt", "username", req.Username, "remote_addr", r.RemoteAddr)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	token, err := auth.GenerateAccessToken(op, s.security.JWT.Secret, s.security.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "username", req.Username, "error", err)
		writeInternalError(w, "authentication failed")
		return
	}

	// Login already succeeded; a failed timestamp update is not worth a 500.
	if err := s.operators.RecordLogin(r.Context(), op.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("recording login time failed", "operator_id", op.ID, "error", err)
	}

	s.logger.Info("operator logged in", "username", op.Username, "operator_id", op.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.security.JWT.AccessTokenTTL * 60,
	})
}
