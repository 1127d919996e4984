package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/internal/session"
)

// Session handlers

func (s *Server) handleDebugStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("projectId", "Specify the ID of the project. Use project_list to find it.").Error()), nil
	}

	proj, err := s.store.Get(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	sess, snapshot, err := session.Start(ctx, session.Options{
		ProjectID: proj.ID,
		Code:      proj.Code,
		Config:    s.debugger,
		Spawn:     s.spawn,
		Explainer: s.explainer,
		Logger:    s.logger,
	})
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	if err := s.registry.Add(sess); err != nil {
		sess.Terminate()
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"projectId": proj.ID,
		"state":     snapshot,
	})
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, result := s.requireSession(request)
	if result != nil {
		return result, nil
	}

	kind, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("kind", "Specify the step kind: 'over', 'into', or 'out'.").Error()), nil
	}

	if sess.IsFinished() {
		return mcp.NewToolResultError(errors.AlreadyFinished().Error()), nil
	}

	switch kind {
	case "over":
		err = sess.StepOver()
	case "into":
		err = sess.StepInto()
	case "out":
		err = sess.StepOut()
	default:
		return mcp.NewToolResultError(errors.InvalidMessage(fmt.Sprintf("unknown step kind %q", kind)).Error()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}

	if sess.IsFinished() {
		s.registry.Remove(sess.ID)
		return jsonResult(map[string]interface{}{
			"sessionId":      sess.ID,
			"finished":       true,
			"program_output": sess.CumulativeOutput(),
		})
	}

	snapshot, err := sess.State()
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"finished":  false,
		"state":     snapshot,
	})
}

func (s *Server) handleDebugState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, result := s.requireSession(request)
	if result != nil {
		return result, nil
	}
	if sess.IsFinished() {
		return mcp.NewToolResultError(errors.AlreadyFinished().Error()), nil
	}

	snapshot, err := sess.State()
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"sessionId": sess.ID,
		"state":     snapshot,
	})
}

func (s *Server) handleDebugExplain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, result := s.requireSession(request)
	if result != nil {
		return result, nil
	}
	if sess.IsFinished() {
		return mcp.NewToolResultError(errors.AlreadyFinished().Error()), nil
	}

	explanation, err := sess.ExplainStep(ctx)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"sessionId":   sess.ID,
		"explanation": explanation,
	})
}

func (s *Server) handleDebugStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, result := s.requireSession(request)
	if result != nil {
		return result, nil
	}

	s.registry.Remove(sess.ID)
	sess.Terminate()
	return jsonResult(map[string]interface{}{
		"sessionId":  sess.ID,
		"terminated": true,
	})
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.registry.Sessions()

	list := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, map[string]interface{}{
			"sessionId": sess.ID,
			"projectId": sess.ProjectID,
			"createdAt": sess.CreatedAt,
			"finished":  sess.IsFinished(),
		})
	}
	return jsonResult(map[string]interface{}{
		"sessions": list,
		"count":    len(list),
	})
}

// Project handlers

func (s *Server) handleProjectCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("name", "Specify the project name.").Error()), nil
	}
	code := request.GetString("code", "")

	p, err := s.store.Create(ctx, name, code)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(p)
}

func (s *Server) handleProjectList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) handleProjectGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("projectId", "Specify the ID of the project. Use project_list to find it.").Error()), nil
	}

	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(p)
}

func (s *Server) handleProjectUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("projectId", "Specify the ID of the project. Use project_list to find it.").Error()), nil
	}
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("name", "Specify the project name.").Error()), nil
	}
	code := request.GetString("code", "")

	p, err := s.store.Update(ctx, projectID, name, code)
	if err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(p)
}

func (s *Server) handleProjectDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("projectId")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("projectId", "Specify the ID of the project. Use project_list to find it.").Error()), nil
	}

	if err := s.store.Delete(ctx, projectID); err != nil {
		return mcp.NewToolResultError(errors.FromError(err).Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"projectId": projectID,
		"deleted":   true,
	})
}

// Helpers

// requireSession resolves the request's sessionId against the registry.
// A non-nil result is the error response to return.
func (s *Server) requireSession(request mcp.CallToolRequest) (*session.Session, *mcp.CallToolResult) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, mcp.NewToolResultError(errors.MissingParameter("sessionId", "Specify the sessionId returned by debug_start.").Error())
	}
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, mcp.NewToolResultError(errors.FromError(err).Error())
	}
	return sess, nil
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
