// Package session implements the stepping state machine at the heart of the
// debug engine. A Session composes the process bridge, output parser, and
// variable inspector into the three client-visible step operations
// (step over, step into, step out) plus lifecycle, and exposes point-in-time
// state snapshots.
//
// A Session is single-writer by construction: the gateway's serialized
// message loop is the only caller for a connection's session, so the
// stepping path holds no locks. The bridge, session, and connection form a
// strict 1:1:1 ownership chain for the session's lifetime.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codestep/stepd/internal/analysis"
	"github.com/codestep/stepd/internal/assist"
	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/internal/pdb"
	"github.com/codestep/stepd/pkg/types"
)

// Expressions evaluated through the "p" channel for step bookkeeping.
// __exception__ is the reserved slot user programs store caught errors in;
// the co_flags mask tests the generator bit on the current code object.
const (
	exceptionProbe = "__exception__"
	generatorProbe = "$_frame.f_code.co_flags & 0x20"
)

// Debuggee is a running debugged process with its stdio pipes attached
type Debuggee interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Kill() error
}

// SpawnFunc launches a debuggee for a project. The returned process must
// already be running under the line debugger with pipes attached.
type SpawnFunc func(ctx context.Context, projectID string) (Debuggee, error)

// Session is one debugging conversation: exactly one per connection, owning
// exactly one debuggee process.
type Session struct {
	ID        string
	ProjectID string
	CreatedAt time.Time

	cfg       config.DebuggerConfig
	logger    *slog.Logger
	explainer assist.Explainer

	code      string
	callLines map[int]bool

	proc     Debuggee
	cmds     *pdb.Commands
	history  []types.HistoryEntry
	finished bool
}

// Options carries everything needed to start a session
type Options struct {
	ProjectID string
	Code      string
	Config    config.DebuggerConfig
	Spawn     SpawnFunc
	Explainer assist.Explainer
	Logger    *slog.Logger
}

// Start launches the debuggee, injects the variable inspector, sets the
// entry breakpoint, continues to it, and returns the session with its
// initial state snapshot.
func Start(ctx context.Context, opts Options) (*Session, *types.StateSnapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Explainer == nil {
		opts.Explainer = assist.Disabled{}
	}

	s := &Session{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		CreatedAt: time.Now(),
		cfg:       opts.Config,
		explainer: opts.Explainer,
		code:      opts.Code,
		callLines: analysis.LineSet(opts.Code),
	}
	s.logger = logger.With("session", s.ID[:8], "project", opts.ProjectID)

	proc, err := opts.Spawn(ctx, opts.ProjectID)
	if err != nil {
		return nil, nil, errors.SpawnFailed(opts.ProjectID, err)
	}
	s.proc = proc

	bridge := pdb.NewBridge(proc.Stdin(), proc.Stdout(), opts.Config.Prompt)
	s.cmds = pdb.NewCommands(bridge)

	// The debugger pauses on the first source line and prints a banner
	// before its first prompt
	banner, err := bridge.ReadBanner()
	if err != nil || banner == "" {
		s.kill()
		return nil, nil, errors.SpawnFailed(opts.ProjectID, fmt.Errorf("debugger produced no prompt"))
	}

	if _, err := s.cmds.Exec(pdb.InjectStatement()); err != nil {
		s.kill()
		return nil, nil, errors.SpawnFailed(opts.ProjectID, err)
	}

	if _, err := s.cmds.Break(opts.Config.EntryFunction); err != nil {
		s.kill()
		return nil, nil, errors.SpawnFailed(opts.ProjectID, err)
	}
	if _, err := s.cmds.Continue(); err != nil {
		s.kill()
		return nil, nil, errors.SpawnFailed(opts.ProjectID, err)
	}

	s.logger.Info("session started", "inspector_version", pdb.InspectorVersion)

	snapshot, err := s.State()
	if err != nil {
		s.kill()
		return nil, nil, err
	}
	return s, snapshot, nil
}

// IsFinished reports whether the session reached its terminal state
func (s *Session) IsFinished() bool {
	return s.finished
}

// Code returns the debuggee source captured at start
func (s *Session) Code() string {
	return s.code
}

// History returns the append-only execution history
func (s *Session) History() []types.HistoryEntry {
	return s.history
}

// errFinished signals that the debuggee ran to completion during a step.
// It is consumed inside the session; callers observe IsFinished instead.
var errFinished = fmt.Errorf("program finished")

func (s *Session) ensureRunning() error {
	if s.finished || s.proc == nil {
		return errors.AlreadyFinished()
	}
	return nil
}

// where returns the parsed stack. An empty stack means the process died
// mid-exchange; the session is torn down and ProtocolDesync returned.
func (s *Session) where() ([]types.Frame, error) {
	out, err := s.cmds.Where()
	if err != nil {
		return nil, err
	}
	if len(out.Frames) == 0 {
		s.teardownDesync("w")
		return nil, errors.ProtocolDesync("w")
	}
	return out.Frames, nil
}

// currentFrame finds the frame the REPL marks as active
func (s *Session) currentFrame() (types.Frame, error) {
	frames, err := s.where()
	if err != nil {
		return types.Frame{}, err
	}
	for _, f := range frames {
		if f.IsCurrent {
			return f, nil
		}
	}
	return types.Frame{}, fmt.Errorf("no current frame in stack of %d", len(frames))
}

// localVars captures current-frame locals through the injected inspector.
// Malformed inspector output degrades to an empty map rather than failing
// the step.
func (s *Session) localVars() types.VarMap {
	raw, err := s.cmds.Eval(pdb.LocalsExpr(s.cfg.MaxDepth, s.cfg.MaxChildren))
	if err != nil {
		s.logger.Warn("locals evaluation failed", "error", err)
		return types.VarMap{}
	}
	vars, err := pdb.DecodeLocals(raw)
	if err != nil {
		s.logger.Warn("inspector output malformed", "error", err)
		return types.VarMap{}
	}
	return vars
}

// isInEntry reports whether a frame's function is the designated entry
// function. pdb renders frame functions with their call parentheses, so the
// match is on the "name(" prefix.
func (s *Session) isInEntry(function string) bool {
	return strings.HasPrefix(function, s.cfg.EntryFunction+"(")
}

// State assembles the point-in-time snapshot reported to clients
func (s *Session) State() (*types.StateSnapshot, error) {
	if err := s.ensureRunning(); err != nil {
		return nil, err
	}

	frame, err := s.currentFrame()
	if err != nil {
		return nil, err
	}

	return &types.StateSnapshot{
		Filename:      frame.File,
		LineNumber:    frame.Line,
		LocalVars:     s.localVars(),
		CanStepInto:   s.callLines[frame.Line],
		CanStepOut:    !s.isInEntry(frame.Function),
		IsReturning:   frame.HasRetval,
		IsInMain:      s.isInEntry(frame.Function),
		Code:          frame.Code,
		ProgramOutput: s.CumulativeOutput(),
	}, nil
}

// CumulativeOutput concatenates the program output of every step so far
func (s *Session) CumulativeOutput() string {
	var outputs []string
	for _, entry := range s.history {
		if entry.ProgramOutput != "" {
			outputs = append(outputs, entry.ProgramOutput)
		}
	}
	return strings.Join(outputs, "\n")
}

// exceptionPending probes the reserved exception slot. A NameError means
// the slot was never assigned, i.e. no exception.
func (s *Session) exceptionPending() bool {
	out, err := s.cmds.Eval(exceptionProbe)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(out, "*** NameError")
}

// captureException records the pending exception and its traceback
func (s *Session) captureException() types.CapturedCall {
	repr, _ := s.cmds.Eval(exceptionProbe)
	out, _ := s.cmds.Where()
	return types.CapturedCall{
		Type:          types.CapturedCallException,
		ExceptionRepr: strings.TrimRight(repr, "\r\n "),
		Traceback:     out.Frames,
	}
}

// inGenerator tests the generator flag on the current frame's code object.
// Inconclusive probes count as "not a generator".
func (s *Session) inGenerator() bool {
	out, err := s.cmds.Eval(generatorProbe)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != "0"
}

// currentDepth is the number of stack entries down to and including the
// REPL's current frame. Frames below the current one (after an "up") do
// not count.
func currentDepth(frames []types.Frame) int {
	for i, f := range frames {
		if f.IsCurrent {
			return i + 1
		}
	}
	return len(frames)
}

// stepOverCalls advances past the current line with repeated single steps,
// transparently recording every user-function call and return the line
// performs. A single source line may invoke several functions in sequence
// or nested position, hence the loop.
func (s *Session) stepOverCalls() (programOutput, marker string, calls []types.CapturedCall, err error) {
	var outputs []string

	for {
		frames, werr := s.where()
		if werr != nil {
			return "", "", nil, werr
		}
		depthBefore := currentDepth(frames)

		stepOut, serr := s.cmds.Step()
		if serr != nil {
			return "", "", nil, serr
		}
		marker = stepOut.Marker

		if marker == pdb.MarkerFinished {
			// The debugger would auto-restart the program from here; end
			// the session instead.
			outputs = append(outputs, stepOut.ProgramOutput)
			s.finishQuit()
			return strings.Join(outputs, "\n"), marker, calls, errFinished
		}

		if s.exceptionPending() {
			calls = append(calls, s.captureException())
			outputs = append(outputs, stepOut.ProgramOutput)
			break
		}

		outputs = append(outputs, stepOut.ProgramOutput)

		newFrames, werr := s.where()
		if werr != nil {
			return "", "", nil, werr
		}
		if len(newFrames) <= depthBefore {
			// The step advanced past a non-call line; the common case,
			// one iteration.
			break
		}

		// Entered a user function. Locals at entry are exactly the call
		// arguments, so capture them before anything executes.
		callee := newFrames[len(newFrames)-1]
		params := make(map[string]string)
		for name, entry := range s.localVars() {
			params[name] = entry.ReprTree.Value
		}

		if s.inGenerator() {
			// Generators have no conventional return to finish; pop back
			// up and advance past the call, recording no return value.
			if _, uerr := s.cmds.Up(); uerr != nil {
				return "", "", nil, uerr
			}
			nextOut, nerr := s.cmds.Next()
			if nerr != nil {
				return "", "", nil, nerr
			}
			marker = nextOut.Marker
			outputs = append(outputs, nextOut.ProgramOutput)
			break
		}

		finOut, retval, ferr := s.cmds.Finish()
		if ferr != nil {
			return "", "", nil, ferr
		}
		marker = finOut.Marker
		outputs = append(outputs, finOut.ProgramOutput)

		calls = append(calls, types.CapturedCall{
			Type:        types.CapturedCallNormal,
			Function:    functionName(callee.Function),
			Parameters:  params,
			ReturnValue: retval,
		})
	}

	return strings.Join(outputs, "\n"), marker, calls, nil
}

// functionName strips the call parentheses pdb appends to frame functions
func functionName(function string) string {
	if idx := strings.Index(function, "("); idx >= 0 {
		return function[:idx]
	}
	return function
}

// stepOverDelta wraps stepOverCalls with the line context captured before
// stepping, producing the delta used for later explanation.
func (s *Session) stepOverDelta() (programOutput, marker string, delta *types.StepDelta, err error) {
	context, lerr := s.cmds.List()
	if lerr != nil {
		return "", "", nil, lerr
	}

	frame, ferr := s.currentFrame()
	if ferr != nil {
		return "", "", nil, ferr
	}

	programOutput, marker, calls, err := s.stepOverCalls()
	delta = &types.StepDelta{
		ExecutedCode:  frame.Code,
		Context:       context,
		CapturedCalls: calls,
	}
	return programOutput, marker, delta, err
}

// record appends one execution history entry, capturing the frame current
// at the end of the step
func (s *Session) record(kind types.StepKind, programOutput, marker string, delta *types.StepDelta) error {
	frame, err := s.currentFrame()
	if err != nil {
		return err
	}
	s.history = append(s.history, types.HistoryEntry{
		StepKind:      kind,
		ProgramOutput: programOutput,
		Marker:        marker,
		CurrentFrame:  frame,
		Delta:         delta,
	})
	return nil
}

// StepOver advances one source line, recording every user-function call and
// return that line performs. Stepping while the entry function is already
// returning ends the session: its last statement has completed and the
// debugger would otherwise restart the program.
func (s *Session) StepOver() error {
	if err := s.ensureRunning(); err != nil {
		return err
	}

	before, err := s.State()
	if err != nil {
		return err
	}
	if before.IsReturning && before.IsInMain {
		return s.finishQuit()
	}

	programOutput, marker, delta, err := s.stepOverDelta()
	if err == errFinished {
		s.history = append(s.history, types.HistoryEntry{
			StepKind:      types.StepOver,
			ProgramOutput: programOutput,
			Marker:        marker,
			Delta:         delta,
		})
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.record(types.StepOver, programOutput, marker, delta); err != nil {
		return err
	}

	after, err := s.State()
	if err != nil {
		return err
	}

	if after.IsReturning && after.IsInMain {
		// Continue first so the program runs to its real end, then quit:
		// pdb restarts the program automatically otherwise.
		if _, err := s.cmds.Continue(); err != nil {
			return err
		}
		return s.finishQuit()
	}

	if !before.IsReturning && after.IsReturning {
		// The step landed on a return; take one more so the pause point
		// is back on an executable line.
		programOutput, marker, delta, err := s.stepOverDelta()
		if err == errFinished {
			return nil
		}
		if err != nil {
			return err
		}
		return s.record(types.StepOver, programOutput, marker, delta)
	}

	return nil
}

// StepInto performs a single primitive step. When a callee was entered, one
// extra "next" positions the pause past the function's signature line so
// the first visible paused line is its first real statement.
func (s *Session) StepInto() error {
	if err := s.ensureRunning(); err != nil {
		return err
	}

	frames, err := s.where()
	if err != nil {
		return err
	}
	depthBefore := len(frames)

	stepOut, err := s.cmds.Step()
	if err != nil {
		return err
	}
	programOutput, marker := stepOut.ProgramOutput, stepOut.Marker

	if marker == pdb.MarkerFinished {
		s.finishQuit()
		return nil
	}

	newFrames, err := s.where()
	if err != nil {
		return err
	}
	if len(newFrames) > depthBefore {
		nextOut, err := s.cmds.Next()
		if err != nil {
			return err
		}
		programOutput, marker = nextOut.ProgramOutput, nextOut.Marker
		if marker == pdb.MarkerFinished {
			s.finishQuit()
			return nil
		}
	}

	return s.record(types.StepInto, programOutput, marker, nil)
}

// StepOut finishes the current function, then steps over the remainder of
// the call-site line, capturing any further calls it performs.
func (s *Session) StepOut() error {
	if err := s.ensureRunning(); err != nil {
		return err
	}

	if _, _, err := s.cmds.Finish(); err != nil {
		return err
	}

	programOutput, marker, delta, err := s.stepOverDelta()
	if err == errFinished {
		return nil
	}
	if err != nil {
		return err
	}
	return s.record(types.StepOut, programOutput, marker, delta)
}

// ExplainStep generates an explanation for the last recorded step and
// stores it on the history entry.
func (s *Session) ExplainStep(ctx context.Context) (string, error) {
	if len(s.history) == 0 {
		return "", errors.ExplainFailed(fmt.Errorf("no execution history"))
	}
	last := &s.history[len(s.history)-1]
	if last.Delta == nil {
		return "", errors.ExplainFailed(fmt.Errorf("last step has no delta"))
	}

	explanation, err := s.explainer.Explain(ctx, s.code, *last.Delta)
	if err != nil {
		return "", err
	}
	last.Explanation = explanation
	return explanation, nil
}

// finishQuit ends the session cooperatively: quit the debugger, wait for
// the process to exit, release the bridge.
func (s *Session) finishQuit() error {
	if s.finished {
		return nil
	}
	s.finished = true

	if s.proc != nil {
		if err := s.cmds.Quit(); err != nil {
			s.logger.Warn("quit write failed, killing process", "error", err)
			s.kill()
			return nil
		}
		if err := s.proc.Wait(); err != nil {
			s.logger.Debug("debuggee exit", "error", err)
		}
	}
	s.logger.Info("session finished")
	return nil
}

// Terminate forcibly ends the session: kill the process group and mark the
// session finished. Used for restart and by the supervising reaper; any
// in-flight blocking read unblocks via process exit.
func (s *Session) Terminate() {
	if s.finished {
		return
	}
	s.finished = true
	s.kill()
	s.logger.Info("session terminated")
}

func (s *Session) teardownDesync(command string) {
	s.logger.Warn("protocol desync, tearing down", "command", command)
	s.finished = true
	s.kill()
}

func (s *Session) kill() {
	if s.proc == nil {
		return
	}
	if err := s.proc.Kill(); err != nil {
		s.logger.Warn("kill failed", "error", err)
	}
	_ = s.proc.Wait()
}
