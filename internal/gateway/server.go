package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/infrastructure/config"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for the listener to
// drain during shutdown. Live device sessions are closed via context.
const gracefulShutdownTimeout = 5 * time.Second

// upgrader configures the WebSocket upgrader for device connections.
// Devices are not browsers; origin checking does not apply.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Deps holds the dependencies required by the gateway server.
type Deps struct {
	Config   config.Gateway
	Logger   *logging.Logger
	Registry *device.Registry
}

// Server is the device-facing WebSocket listener.
//
// It runs on its own port, separate from the operator API: devices and
// operators have different auth models and different lifecycles.
type Server struct {
	cfg      config.Gateway
	logger   *logging.Logger
	registry *device.Registry
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates a new gateway server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
	}, nil
}

// Start begins listening for device connections in a background goroutine.
// The returned error covers setup only; listener failures are logged.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleDevice(srvCtx, w, r)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd // upgrade handshake bound
	}

	go func() {
		s.logger.Info("gateway listening", "address", s.server.Addr, "path", s.cfg.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

// Close shuts down the listener and terminates all live sessions.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancelling the server context terminates every session; their
	// deferred releases mark the devices offline.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down gateway: %w", err)
	}
	return nil
}

// HealthCheck verifies the gateway listener is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("gateway health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("gateway not started")
	}

	return nil
}

// handleDevice upgrades the connection and runs the session state machine
// on the handler goroutine until the connection ends.
func (s *Server) handleDevice(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(int64(s.cfg.MaxMessageSize))

	sess := newSession(conn, s.registry, s.cfg, s.logger)
	sess.run(ctx)
}
