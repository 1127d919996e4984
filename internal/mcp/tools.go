package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the session and project tool sets
func (s *Server) registerTools() {
	s.registerDebugStart()
	s.registerDebugStep()
	s.registerDebugState()
	s.registerDebugExplain()
	s.registerDebugStop()
	s.registerDebugListSessions()

	s.registerProjectCreate()
	s.registerProjectList()
	s.registerProjectGet()
	s.registerProjectUpdate()
	s.registerProjectDelete()
}

// Session tools

func (s *Server) registerDebugStart() {
	tool := mcp.NewTool("debug_start",
		mcp.WithDescription("Start a debug session for a project. The program pauses at the entry function's first line. Returns sessionId needed for all other debug tools, plus the initial state."),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("ID of the project whose code to debug"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStart)
}

func (s *Server) registerDebugStep() {
	tool := mcp.NewTool("debug_step",
		mcp.WithDescription("Advance a debug session by one step. 'over' executes the current line, transparently recording any function calls it makes. 'into' descends into a call on the current line. 'out' finishes the current function and returns to its caller. Returns the new state, or a finished notice when the program ran to completion."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Step kind: 'over', 'into', or 'out'"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStep)
}

func (s *Server) registerDebugState() {
	tool := mcp.NewTool("debug_state",
		mcp.WithDescription("Get the current state of a debug session: file, line, local variables, step availability, and accumulated program output."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugState)
}

func (s *Server) registerDebugExplain() {
	tool := mcp.NewTool("debug_explain",
		mcp.WithDescription("Generate a natural-language explanation of the session's last step, including any function calls it captured. Requires a prior step_over or step_out."),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugExplain)
}

func (s *Server) registerDebugStop() {
	tool := mcp.NewTool("debug_stop",
		mcp.WithDescription("Terminate a debug session and its debugged process"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStop)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List active debug sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

// Project tools

func (s *Server) registerProjectCreate() {
	tool := mcp.NewTool("project_create",
		mcp.WithDescription("Create a project holding a Python program to debug"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name"),
		),
		mcp.WithString("code",
			mcp.Description("Program source. Must define the entry function the debugger breaks on."),
		),
	)
	s.mcpServer.AddTool(tool, s.handleProjectCreate)
}

func (s *Server) registerProjectList() {
	tool := mcp.NewTool("project_list",
		mcp.WithDescription("List all projects"),
	)
	s.mcpServer.AddTool(tool, s.handleProjectList)
}

func (s *Server) registerProjectGet() {
	tool := mcp.NewTool("project_get",
		mcp.WithDescription("Fetch a project by ID, including its code"),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("ID of the project"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleProjectGet)
}

func (s *Server) registerProjectUpdate() {
	tool := mcp.NewTool("project_update",
		mcp.WithDescription("Replace a project's name and code"),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("ID of the project"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("New project name"),
		),
		mcp.WithString("code",
			mcp.Description("New program source"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleProjectUpdate)
}

func (s *Server) registerProjectDelete() {
	tool := mcp.NewTool("project_delete",
		mcp.WithDescription("Delete a project"),
		mcp.WithString("projectId",
			mcp.Required(),
			mcp.Description("ID of the project"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleProjectDelete)
}
