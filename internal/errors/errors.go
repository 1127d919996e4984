// Package errors provides structured error types for the stepd server.
// These errors include codes for programmatic handling and hints that tell
// the client how to recover when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeNoActiveSession     ErrorCode = "NO_ACTIVE_SESSION"
	CodeAlreadyFinished     ErrorCode = "SESSION_ALREADY_FINISHED"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"

	// Bridge / process errors
	CodeProtocolDesync ErrorCode = "PROTOCOL_DESYNC"
	CodeSpawnFailed    ErrorCode = "SPAWN_FAILED"

	// Evaluation errors
	CodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"
	CodeExplainFailed    ErrorCode = "EXPLAIN_FAILED"
	CodeExplainDisabled  ErrorCode = "EXPLAIN_DISABLED"

	// Protocol / parameter errors
	CodeInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	// Project resource errors
	CodeProjectNotFound ErrorCode = "PROJECT_NOT_FOUND"
	CodeStoreFailure    ErrorCode = "STORE_FAILURE"
)

// DebugError is a structured error type that includes enough information
// for a client to understand what went wrong and how to recover.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// NoActiveSession creates an error for step/explain requests arriving before
// any session has been started on the connection
func NoActiveSession() *DebugError {
	return &DebugError{
		Code:    CodeNoActiveSession,
		Message: "no active debug session",
		Hint:    "Send start_session with a project_id before stepping.",
	}
}

// AlreadyFinished creates an error for requests arriving after the session
// reached its terminal state
func AlreadyFinished() *DebugError {
	return &DebugError{
		Code:    CodeAlreadyFinished,
		Message: "session already finished",
		Hint:    "The debuggee ran to completion. Send restart to debug it again.",
	}
}

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_start to create a new session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Finish an existing session before starting a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// --- Bridge / Process Errors ---

// ProtocolDesync creates an error for when the bridge read returned without
// the expected prompt, meaning the debuggee died or closed its pipes
func ProtocolDesync(command string) *DebugError {
	return &DebugError{
		Code:    CodeProtocolDesync,
		Message: fmt.Sprintf("debugger stream closed while waiting for prompt after %q", command),
		Hint:    "The debugged process exited or crashed. The session has been terminated; start a new one.",
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// SpawnFailed creates an error when launching the debuggee process fails
func SpawnFailed(container string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to start debuggee in container %s: %v", container, err),
		Hint:    "Check that the project container is running and the code file exists.",
		Cause:   err,
		Details: map[string]interface{}{
			"container": container,
		},
	}
}

// --- Evaluation Errors ---

// EvaluationFailed creates an error for expression evaluation failures
func EvaluationFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEvaluationFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Hint:    "Check that the expression is valid Python and referenced variables are in scope.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// ExplainFailed creates an error when the step explainer fails
func ExplainFailed(err error) *DebugError {
	return &DebugError{
		Code:    CodeExplainFailed,
		Message: fmt.Sprintf("failed to generate explanation: %v", err),
		Hint:    "Take a step first; only steps that produce a delta can be explained.",
		Cause:   err,
	}
}

// ExplainDisabled creates an error when no assistant backend is configured
func ExplainDisabled() *DebugError {
	return &DebugError{
		Code:    CodeExplainDisabled,
		Message: "step explanations are not configured",
		Hint:    "Set the assistant API key in the server configuration to enable explanations.",
	}
}

// --- Protocol / Parameter Errors ---

// InvalidMessage creates an error for unknown inbound message kinds
func InvalidMessage(kind string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidMessage,
		Message: "invalid message type",
		Hint:    "Valid types are start_session, restart, step_over, step_into, step_out, explain_step.",
		Details: map[string]interface{}{
			"type": kind,
		},
	}
}

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// --- Project Resource Errors ---

// ProjectNotFound creates an error for unknown project IDs
func ProjectNotFound(projectID string) *DebugError {
	return &DebugError{
		Code:    CodeProjectNotFound,
		Message: fmt.Sprintf("project '%s' not found", projectID),
		Hint:    "Create the project first, or check the project_id.",
		Details: map[string]interface{}{
			"projectId": projectID,
		},
	}
}

// StoreFailure wraps a project store error
func StoreFailure(op string, err error) *DebugError {
	return &DebugError{
		Code:    CodeStoreFailure,
		Message: fmt.Sprintf("project store %s failed: %v", op, err),
		Cause:   err,
		Details: map[string]interface{}{
			"op": op,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, preserving any
// existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}
