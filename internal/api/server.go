package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/bridge"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/nodelink-core/internal/node"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the part of node.Registry the API uses.
type Registry interface {
	Get(id uint64) (node.Snapshot, error)
	List() []node.Snapshot
	Remove(id uint64) error
	Investigate(id uint64) error
	InvokeFunction(ctx context.Context, id uint64, functionID byte, args []any) (node.FunctionResult, error)
	Count() int
	QueueLength() int
}

// HealthSource reports coordinator health. *bridge.HealthReporter satisfies it.
type HealthSource interface {
	Current() bridge.HealthMessage
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry Registry

	// Health is optional; without it /health reports only the registry size.
	Health HealthSource

	Version string
}

// Server is the HTTP API server for NodeLink Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry Registry
	health   HealthSource
	version  string

	hub     *Hub
	tickets *ticketStore

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Registry are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: ErrMissingLogger or ErrMissingRegistry
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, ErrMissingLogger
	}
	if deps.Registry == nil {
		return nil, ErrMissingRegistry
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		health:   deps.Health,
		version:  deps.Version,
		hub:      NewHub(deps.Config.WebSocket, deps.Logger),
		tickets:  newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns so a port conflict is
// reported to the caller; requests are served on a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the hub and ticket cleanup
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)

	srv := &http.Server{
		Handler:           s.routes(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.authEnabled())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

// OnEvent implements node.Observer by relaying the event to WebSocket
// clients subscribed to its type.
func (s *Server) OnEvent(e node.Event) {
	s.hub.Broadcast(string(e.Type), bridge.NewEventMessage(e))
}
