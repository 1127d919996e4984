// Package types defines shared data types used across the stepd server.
//
// This package provides type definitions for:
//   - Frame: one entry in the debuggee's call stack at a pause point
//   - VariableNode/VarEntry: bounded, cycle-safe serializations of live values
//   - CapturedCall: function calls (or exceptions) observed during a step
//   - HistoryEntry: the append-only execution log
//   - StateSnapshot: the point-in-time state reported to clients
//   - Protocol messages exchanged over the session WebSocket
//
// These types are used throughout the codebase to maintain type safety
// and provide clear contracts between components.
package types

// SessionStatus represents the status of a debug session
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusFinished   SessionStatus = "finished"
)

// StepKind identifies which stepping operation produced a history entry
type StepKind string

const (
	StepOver StepKind = "step_over"
	StepInto StepKind = "step_into"
	StepOut  StepKind = "step_out"
)

// Frame represents one stack entry parsed from debugger output.
// At most one frame in a parsed list has IsCurrent set.
type Frame struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Function  string `json:"function"`
	Retval    string `json:"retval,omitempty"`
	HasRetval bool   `json:"has_retval,omitempty"`
	Code      string `json:"code,omitempty"`
	IsCurrent bool   `json:"is_current"`
}

// VarKind tags the shape of a serialized value
type VarKind string

const (
	VarKindPrimitive VarKind = "primitive"
	VarKindList      VarKind = "list"
	VarKindTuple     VarKind = "tuple"
	VarKindDict      VarKind = "dict"
	VarKindSet       VarKind = "set"
	VarKindInstance  VarKind = "instance"
	VarKindOther     VarKind = "other"
)

// VariableNode is a recursive, bounded rendering of a live value.
// Composite kinds carry ordered children; truncated collections end with a
// synthetic "N more" leaf and self-referential containers render as a
// "<cycle>" primitive instead of recursing.
type VariableNode struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Kind     VarKind        `json:"kind"`
	Children []VariableNode `json:"children,omitempty"`
}

// VarEntry pairs a variable's identity token with its rendered tree
type VarEntry struct {
	ID       int64        `json:"id"`
	ReprTree VariableNode `json:"repr_tree"`
}

// VarMap maps variable names to their serialized entries
type VarMap map[string]VarEntry

// CapturedCallType distinguishes recorded calls from recorded exceptions
type CapturedCallType string

const (
	CapturedCallNormal    CapturedCallType = "call"
	CapturedCallException CapturedCallType = "exception"
)

// CapturedCall records one function invocation (or a raised exception)
// observed while stepping over a single source line.
type CapturedCall struct {
	Type          CapturedCallType  `json:"type"`
	Function      string            `json:"function,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	ReturnValue   string            `json:"return_value,omitempty"`
	ExceptionRepr string            `json:"exception_repr,omitempty"`
	Traceback     []Frame           `json:"traceback,omitempty"`
}

// StepDelta pairs the executed line with its surrounding listing and the
// calls captured while the line ran. It feeds the step explainer.
type StepDelta struct {
	ExecutedCode  string         `json:"executed_code"`
	Context       string         `json:"context"`
	CapturedCalls []CapturedCall `json:"captured_calls"`
}

// HistoryEntry is one append-only row of a session's execution history
type HistoryEntry struct {
	StepKind      StepKind   `json:"step_type"`
	ProgramOutput string     `json:"program_output"`
	Marker        string     `json:"pdb_output"`
	CurrentFrame  Frame      `json:"current_frame"`
	LocalVars     VarMap     `json:"local_vars,omitempty"`
	Delta         *StepDelta `json:"delta,omitempty"`
	Explanation   string     `json:"explanation,omitempty"`
}

// StateSnapshot is the point-in-time session state reported to clients
type StateSnapshot struct {
	Filename      string `json:"filename"`
	LineNumber    int    `json:"line_number"`
	LocalVars     VarMap `json:"local_vars"`
	CanStepInto   bool   `json:"can_step_into"`
	CanStepOut    bool   `json:"can_step_out"`
	IsReturning   bool   `json:"is_returning"`
	IsInMain      bool   `json:"is_in_main"`
	Code          string `json:"code,omitempty"`
	ProgramOutput string `json:"program_output"`
}

// --- Session protocol messages ---

// MessageType enumerates inbound client message kinds. Dispatch is a total
// switch over this set; unknown strings map to a typed error response,
// never a missing-handler fault.
type MessageType string

const (
	MsgStartSession MessageType = "start_session"
	MsgRestart      MessageType = "restart"
	MsgStepOver     MessageType = "step_over"
	MsgStepInto     MessageType = "step_into"
	MsgStepOut      MessageType = "step_out"
	MsgExplainStep  MessageType = "explain_step"
)

// ClientMessage is an inbound message on the session connection
type ClientMessage struct {
	Type      MessageType `json:"type"`
	ProjectID string      `json:"project_id,omitempty"`
}

// SessionStarted acknowledges a successful session launch
type SessionStarted struct {
	Type      string `json:"type"` // "session_started"
	SessionID string `json:"session_id"`
}

// RestartComplete acknowledges that a restart finished the old session and
// started a fresh one
type RestartComplete struct {
	Type string `json:"type"` // "restart_complete"
}

// StateMessage carries a state snapshot after a step or session start
type StateMessage struct {
	Type          string `json:"type"` // "state"
	SystemMessage string `json:"system_message"`
	StateSnapshot
	HasExplanation bool `json:"has_explanation,omitempty"`
}

// FinishedMessage reports that the debuggee ran to completion
type FinishedMessage struct {
	Type          string `json:"type"` // "finished"
	SystemMessage string `json:"system_message"`
	ProgramOutput string `json:"program_output"`
}

// ExplanationMessage carries a natural-language step explanation
type ExplanationMessage struct {
	Type        string `json:"type"` // "explanation"
	Explanation string `json:"explanation"`
}

// ErrorMessage is the typed error response for any failed request
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// --- Project resource types ---

// Project is a stored user project whose code the engine debugs
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
