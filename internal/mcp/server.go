// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the debug engine through MCP tools so AI assistants
// and other MCP clients can drive debug sessions:
//
// Sessions:
//   - debug_start: Start a debug session for a project
//   - debug_step: Step over, into, or out
//   - debug_state: Get the current session state
//   - debug_explain: Explain the last step
//   - debug_stop: Terminate a session
//   - debug_list_sessions: List active sessions
//
// Projects:
//   - project_create: Create a project
//   - project_list: List projects
//   - project_get: Fetch a project
//   - project_update: Update a project's name and code
//   - project_delete: Delete a project
//
// Unlike the WebSocket gateway, MCP clients address sessions explicitly by
// sessionId on every call.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/codestep/stepd/internal/assist"
	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/project"
	"github.com/codestep/stepd/internal/session"
	"github.com/codestep/stepd/internal/version"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer *server.MCPServer
	registry  *session.Registry
	store     *project.Store
	spawn     session.SpawnFunc
	debugger  config.DebuggerConfig
	explainer assist.Explainer
	logger    *slog.Logger
}

// Options wires the server's collaborators
type Options struct {
	Registry  *session.Registry
	Store     *project.Store
	Spawn     session.SpawnFunc
	Debugger  config.DebuggerConfig
	Explainer assist.Explainer
	Logger    *slog.Logger
}

// NewServer creates a new MCP server over the debug engine
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		"stepd",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		registry:  opts.Registry,
		store:     opts.Store,
		spawn:     opts.Spawn,
		debugger:  opts.Debugger,
		explainer: opts.Explainer,
		logger:    logger,
	}

	s.registerTools()
	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
