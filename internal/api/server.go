package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zkgate/zkgate-core/internal/events"
	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
	"github.com/zkgate/zkgate-core/internal/infrastructure/influxdb"
	"github.com/zkgate/zkgate-core/internal/infrastructure/logging"
	"github.com/zkgate/zkgate-core/internal/infrastructure/mqtt"
	"github.com/zkgate/zkgate-core/internal/zk"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SessionFactory creates a session for one terminal. The server keeps a
// pool keyed by address, so the factory is invoked once per terminal.
type SessionFactory func(addr zk.DeviceAddress) *zk.Session

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Device     config.DeviceConfig
	Logger     *logging.Logger
	NewSession SessionFactory
	Events     *events.Router
	Dispatcher *events.Dispatcher
	Recorder   *events.Recorder // If nil, event history endpoints return 404
	TSDB       *influxdb.Client // Optional: status snapshots mirrored to InfluxDB
	MQTT       *mqtt.Client     // Optional: connection notices mirrored to MQTT
	Version    string
}

// Server is the HTTP API server for ZKGate Core.
//
// It manages the HTTP listener, routes, middleware, the WebSocket hub, and
// the per-terminal session pool. The server is created with New() and
// started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	devCfg     config.DeviceConfig
	logger     *logging.Logger
	sessions   *SessionPool
	router     *events.Router
	dispatcher *events.Dispatcher
	recorder   *events.Recorder
	tsdb       *influxdb.Client
	mqtt       *mqtt.Client
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.NewSession == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event router is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("event dispatcher is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		devCfg:     deps.Device,
		logger:     deps.Logger,
		sessions:   NewSessionPool(deps.NewSession),
		router:     deps.Events,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		tsdb:       deps.TSDB,
		mqtt:       deps.MQTT,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.router, s.logger)
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// disconnects every pooled terminal session.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}

	// Sessions last: terminals stay usable for in-flight requests until
	// the listener has drained.
	s.sessions.CloseAll()
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
