package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/grayrelay/internal/infrastructure/config"
	"github.com/nerrad567/grayrelay/internal/infrastructure/discovery"
	"github.com/nerrad567/grayrelay/internal/infrastructure/logging"
	"github.com/nerrad567/grayrelay/internal/infrastructure/telemetry"
	"github.com/nerrad567/grayrelay/internal/process"
	"github.com/nerrad567/grayrelay/internal/pubsub"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// NodeLister lists the relay nodes registered in discovery.
type NodeLister interface {
	ListNodes(ctx context.Context) ([]discovery.Node, error)
}

// SupervisorStats reports the relay supervisor's restart statistics.
type SupervisorStats interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Directory *pubsub.Directory
	NodeName  string
	Metrics   *telemetry.Metrics // optional: /metrics and request instrumentation
	Nodes     NodeLister         // optional: /api/v1/nodes
	Stats     SupervisorStats    // optional: restart stats in /api/v1/status
	Version   string
}

// Server is the HTTP API server of a relay node.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// Requests reach the relay through the directory, so they keep working
// across relay restarts.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	directory *pubsub.Directory
	nodeName  string
	metrics   *telemetry.Metrics
	nodes     NodeLister
	stats     SupervisorStats
	version   string
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if deps.NodeName == "" {
		return nil, fmt.Errorf("node name is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		directory: deps.Directory,
		nodeName:  deps.NodeName,
		metrics:   deps.Metrics,
		nodes:     deps.Nodes,
		stats:     deps.Stats,
		version:   deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.resolve = func() (relayProxy, bool) {
		relay, ok := s.relay()
		if !ok {
			return nil, false
		}
		return relay, true
	}
	return s, nil
}

// relay returns the running relay, if any.
func (s *Server) relay() (*pubsub.Server, bool) {
	return s.directory.Lookup(s.nodeName)
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously, so a port conflict is returned here,
// then serves in a background goroutine until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
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
