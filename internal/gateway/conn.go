package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/internal/session"
	"github.com/codestep/stepd/pkg/types"
)

// debugConn serializes one client's debug traffic. The read loop is the
// sole caller into the connection's session, so steps for a session never
// interleave.
type debugConn struct {
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger
	sess   *session.Session
}

func newDebugConn(s *Server, ws *websocket.Conn) *debugConn {
	return &debugConn{
		server: s,
		ws:     ws,
		logger: s.logger.With("remote", ws.RemoteAddr().String()),
	}
}

func (c *debugConn) run() {
	defer c.close()

	for {
		select {
		case <-c.server.shutdownCh:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(errors.InvalidMessage(err.Error()))
			continue
		}
		c.dispatch(msg)
	}
}

// close tears down the connection's session. A disconnected client cannot
// drive its debuggee, so the process goes with the socket.
func (c *debugConn) close() {
	if c.sess != nil {
		c.server.registry.Remove(c.sess.ID)
		c.sess.Terminate()
		c.sess = nil
	}
	c.ws.Close()
	c.logger.Info("debug connection closed")
}

func (c *debugConn) dispatch(msg types.ClientMessage) {
	switch msg.Type {
	case types.MsgStartSession:
		c.handleStart(msg)
	case types.MsgRestart:
		c.handleRestart(msg)
	case types.MsgStepOver, types.MsgStepInto, types.MsgStepOut:
		c.handleStep(msg.Type)
	case types.MsgExplainStep:
		c.handleExplain()
	default:
		c.sendError(errors.InvalidMessage(string(msg.Type)))
	}
}

// handleStart launches a session for the message's project and sends the
// session_started acknowledgement followed by the initial state.
func (c *debugConn) handleStart(msg types.ClientMessage) {
	if msg.ProjectID == "" {
		c.sendError(errors.MissingParameter("project_id", "Include the project_id of the project to debug."))
		return
	}
	if c.sess != nil {
		c.server.registry.Remove(c.sess.ID)
		c.sess.Terminate()
		c.sess = nil
	}

	ctx := context.Background()
	proj, err := c.server.store.Get(ctx, msg.ProjectID)
	if err != nil {
		c.sendError(err)
		return
	}

	sess, snapshot, err := session.Start(ctx, session.Options{
		ProjectID: proj.ID,
		Code:      proj.Code,
		Config:    c.server.debugger,
		Spawn:     c.server.spawn,
		Explainer: c.server.explainer,
		Logger:    c.server.logger,
	})
	if err != nil {
		c.sendError(err)
		return
	}
	if err := c.server.registry.Add(sess); err != nil {
		sess.Terminate()
		c.sendError(err)
		return
	}
	c.sess = sess

	c.send(types.SessionStarted{Type: "session_started", SessionID: sess.ID})
	c.send(types.StateMessage{
		Type:          "state",
		SystemMessage: "session started",
		StateSnapshot: *snapshot,
	})
}

// handleRestart finishes any current session, starts a fresh one for the
// same flow, and acknowledges with restart_complete before the new state.
func (c *debugConn) handleRestart(msg types.ClientMessage) {
	if c.sess != nil && !c.sess.IsFinished() {
		c.server.registry.Remove(c.sess.ID)
		c.sess.Terminate()
		c.sess = nil
	}
	c.handleStart(msg)
	if c.sess != nil {
		c.send(types.RestartComplete{Type: "restart_complete"})
	}
}

func (c *debugConn) handleStep(kind types.MessageType) {
	if c.sess == nil {
		c.sendError(errors.NoActiveSession())
		return
	}
	if c.sess.IsFinished() {
		c.sendError(errors.AlreadyFinished())
		return
	}
	c.server.registry.Touch(c.sess.ID)

	var err error
	switch kind {
	case types.MsgStepOver:
		err = c.sess.StepOver()
	case types.MsgStepInto:
		err = c.sess.StepInto()
	case types.MsgStepOut:
		err = c.sess.StepOut()
	}
	if err != nil {
		c.sendError(err)
		return
	}

	programOutput := c.sess.CumulativeOutput()

	if c.sess.IsFinished() {
		c.server.registry.Remove(c.sess.ID)
		c.send(types.FinishedMessage{
			Type:          "finished",
			SystemMessage: "session finished",
			ProgramOutput: programOutput,
		})
		return
	}

	snapshot, err := c.sess.State()
	if err != nil {
		c.sendError(err)
		return
	}

	systemMessage := ""
	if snapshot.IsReturning {
		systemMessage = "return"
	}
	c.send(types.StateMessage{
		Type:          "state",
		SystemMessage: systemMessage,
		StateSnapshot: *snapshot,
		// Only the capture-producing steps have anything to explain
		HasExplanation: kind == types.MsgStepOver || kind == types.MsgStepOut,
	})
}

func (c *debugConn) handleExplain() {
	if c.sess == nil {
		c.sendError(errors.NoActiveSession())
		return
	}
	if c.sess.IsFinished() {
		c.sendError(errors.AlreadyFinished())
		return
	}
	c.server.registry.Touch(c.sess.ID)

	explanation, err := c.sess.ExplainStep(context.Background())
	if err != nil {
		c.sendError(err)
		return
	}
	c.send(types.ExplanationMessage{Type: "explanation", Explanation: explanation})
}

func (c *debugConn) send(v any) {
	if err := c.ws.WriteJSON(v); err != nil {
		c.logger.Warn("websocket write failed", "error", err)
	}
}

func (c *debugConn) sendError(err error) {
	c.logger.Debug("request failed", "error", err)
	c.send(types.ErrorMessage{Type: "error", Message: errors.FromError(err).Message})
}
