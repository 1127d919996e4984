// Package gateway exposes the debug engine over HTTP: a WebSocket endpoint
// for debug sessions, a REST surface for projects, and a health check.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codestep/stepd/internal/assist"
	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/project"
	"github.com/codestep/stepd/internal/session"
	"github.com/codestep/stepd/internal/version"
)

var (
	// ErrServerClosed is returned when operations are attempted on a closed server.
	ErrServerClosed = stderrors.New("gateway: server closed")

	// ErrNoPortAvailable is returned when no port in the configured range is available.
	ErrNoPortAvailable = stderrors.New("gateway: no port available in range")
)

// Server hosts the session WebSocket and the project REST API
type Server struct {
	cfg      config.ServerConfig
	debugger config.DebuggerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	registry  *session.Registry
	store     *project.Store
	spawn     session.SpawnFunc
	explainer assist.Explainer

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	port       int
	closed     bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Options wires the server's collaborators
type Options struct {
	Config    config.ServerConfig
	Debugger  config.DebuggerConfig
	Registry  *session.Registry
	Store     *project.Store
	Spawn     session.SpawnFunc
	Explainer assist.Explainer
	Logger    *slog.Logger
}

// NewServer creates a gateway server. Start must be called to bind a port.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      opts.Config,
		debugger: opts.Debugger,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Browser front-ends connect from their own dev origin
				return true
			},
		},
		registry:   opts.Registry,
		store:      opts.Store,
		spawn:      opts.Spawn,
		explainer:  opts.Explainer,
		shutdownCh: make(chan struct{}),
	}
}

// Start binds the first available port in the configured range and begins
// serving. It returns the bound port.
func (s *Server) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	if s.httpServer != nil {
		return s.port, nil
	}

	port, listener, err := s.findAvailablePort()
	if err != nil {
		return 0, err
	}
	s.listener = listener
	s.port = port

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/debug", s.handleDebugSocket)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/projects/", s.handleProjectByID)

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: debug sessions hold their connection open
	}

	go func() {
		s.logger.Info("gateway starting", "port", port, "portRange", s.cfg.PortRange)
		if err := s.httpServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return port, nil
}

func (s *Server) findAvailablePort() (int, net.Listener, error) {
	for port := s.cfg.PortRange[0]; port <= s.cfg.PortRange[1]; port++ {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return port, listener, nil
		}
		s.logger.Debug("port unavailable", "port", port, "error", err)
	}
	return 0, nil, ErrNoPortAvailable
}

// Port returns the bound port, or 0 before Start
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	status := http.StatusOK
	body := map[string]any{
		"status":   "ready",
		"version":  version.Version,
		"sessions": s.registry.Count(),
	}
	if closed {
		status = http.StatusServiceUnavailable
		body["status"] = "error"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleDebugSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.logger.Info("debug connection established", "remote", r.RemoteAddr)

	go newDebugConn(s, ws).run()
}

// Shutdown stops accepting connections, terminates live sessions, and waits
// up to the configured timeout for the HTTP server to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.logger.Info("gateway shutting down")

		s.registry.Close()

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Std())
			defer cancel()
			err = httpServer.Shutdown(shutdownCtx)
		}
	})
	return err
}
