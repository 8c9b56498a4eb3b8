package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/sqlitehelper/internal/infrastructure/config"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/database"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ResultHook is called after every migration run triggered through the API.
// result may be nil when the run failed before any step.
type ResultHook func(result *migration.Result, err error)

// Deps holds the dependencies required by the API server.
// Migrate supplies the source and ledger table for POST runs; each request
// picks its own force mode.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	DB      *database.DB
	Migrate database.MigrateOptions
	OnRun   ResultHook
	Version string
}

// Server is the HTTP status server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	db      *database.DB
	migrate database.MigrateOptions
	onRun   ResultHook
	version string
	server  *http.Server
	addr    string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		db:      deps.DB,
		migrate: deps.Migrate,
		onRun:   deps.OnRun,
		version: deps.Version,
	}, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
// Binding errors (port in use, etc.) are returned directly.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listening for API server: %w", err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("API server starting", "address", s.addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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
