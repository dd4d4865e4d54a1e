// Package api provides the operator-facing HTTP interface to the fleet.
//
// The API exposes authentication, fleet inspection, and command dispatch
// over REST endpoints under /api/v1. Devices never talk to this server;
// they connect to the gateway's WebSocket listener instead. All routes
// except health and login require a bearer token issued at login.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avolant/fleetgate/internal/auth"
	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/gateway"
	"github.com/avolant/fleetgate/internal/infrastructure/config"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
)

// Deps contains the dependencies required by the API server.
type Deps struct {
	Config     config.API
	Security   config.Security
	Logger     *logging.Logger
	Registry   *device.Registry
	Dispatcher *gateway.Dispatcher
	Operators  auth.OperatorRepository
	Version    string
}

// Server is the operator HTTP API server.
type Server struct {
	config     config.API
	security   config.Security
	logger     *logging.Logger
	registry   *device.Registry
	dispatcher *gateway.Dispatcher
	operators  auth.OperatorRepository
	version    string

	httpServer *http.Server
	router     chi.Router

	mu      sync.Mutex
	started bool
}

// New creates a new API server with the given dependencies.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: device registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("api: dispatcher is required")
	}
	if deps.Operators == nil {
		return nil, errors.New("api: operator repository is required")
	}

	s := &Server{
		config:     deps.Config,
		security:   deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		operators:  deps.Operators,
		version:    deps.Version,
	}
	s.router = s.buildRouter()

	return s, nil
}

// Start begins serving HTTP requests. It returns once the listener is
// running; serve errors after startup are logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("api: server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.config.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.config.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.config.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.started = true
	s.logger.Info("api server started", "addr", addr, "tls", s.config.TLS.Enabled)

	return nil
}

// Close gracefully shuts down the HTTP server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.started = false
	s.logger.Info("api server stopped")

	return err
}

// HealthCheck verifies the server is accepting requests.
func (s *Server) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.New("api: server not started")
	}
	return nil
}
