package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/flasher"
	"github.com/nerrad567/sensorflash-core/internal/history"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/config"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensorflash-core/internal/serialport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown. Flash requests are long-lived, so this is
// more generous than a typical REST service.
const gracefulShutdownTimeout = 30 * time.Second

// SessionController drives flash and monitor sessions.
// Satisfied by *flasher.SessionManager.
type SessionController interface {
	Flash(ctx context.Context, req flasher.FlashRequest) (*flasher.SessionStatus, error)
	StartMonitor(portPath string) error
	StopMonitor() error
	Disconnect() error
	Status() flasher.SessionStatus
	Events() []flasher.LogEvent
}

// Compiler turns a device configuration into flashable firmware.
// Satisfied by *firmware.CompileClient.
type Compiler interface {
	Compile(ctx context.Context, cfg firmware.DeviceConfig) (*firmware.CompileResult, error)
}

// PortLister enumerates attached serial ports.
// Satisfied by *serialport.Watcher.
type PortLister interface {
	List() []serialport.PortInfo
}

// HistoryStore queries persisted session history.
// Satisfied by *history.Repository.
type HistoryStore interface {
	List(ctx context.Context, filter history.Filter) (*history.ListResult, error)
	Get(ctx context.Context, id string) (*history.Session, []history.Event, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Sessions SessionController
	Compiler Compiler // optional: flash requests must carry precompiled files if nil
	Ports    PortLister
	History  HistoryStore // optional: history endpoints return 503 if nil
	Hub      *Hub         // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the HTTP API server for SensorFlash Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	sessions SessionController
	compiler Compiler
	ports    PortLister
	history  HistoryStore
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, session controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session controller is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		sessions: deps.Sessions,
		compiler: deps.Compiler,
		ports:    deps.Ports,
		history:  deps.History,
		version:  deps.Version,
		hub:      deps.Hub,
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	// The write timeout must cover a full flash session because POST /flash
	// is synchronous: connect retries, erase, and write all happen while
	// the response is pending.
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits for in-flight requests to complete, then forcefully closes
// remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
