package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/errors"
	"github.com/codestep/stepd/pkg/types"
)

const testPrompt = "(Pdb) "

// testProgram line numbers matter: helper is called on line 6, main on 9
const testProgram = `def helper(n):
    return n * 2

def main():
    x = 10
    y = helper(10)
    print(x + y)

main()
`

func testDebuggerConfig() config.DebuggerConfig {
	return config.DebuggerConfig{
		Prompt:        testPrompt,
		EntryFunction: "main",
		MaxDepth:      4,
		MaxChildren:   64,
	}
}

// exchange is one scripted command/response pair. expect is matched as a
// prefix of the command the engine writes.
type exchange struct {
	expect string
	reply  string
}

// fakeREPL plays a scripted pdb over in-memory pipes
type fakeREPL struct {
	t      *testing.T
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	done   chan struct{}
}

func startFakeREPL(t *testing.T, banner string, script []exchange) *fakeREPL {
	t.Helper()

	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	f := &fakeREPL{t: t, stdin: cmdW, stdout: outR, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		defer outW.Close()

		io.WriteString(outW, banner+testPrompt)

		scanner := bufio.NewScanner(cmdR)
		i := 0
		for scanner.Scan() {
			cmd := scanner.Text()
			if cmd == "q" {
				return
			}
			if i >= len(script) {
				t.Errorf("unexpected command %q after script end", cmd)
				return
			}
			e := script[i]
			i++
			if !strings.HasPrefix(cmd, e.expect) {
				t.Errorf("command %d = %q, want prefix %q", i, cmd, e.expect)
			}
			io.WriteString(outW, e.reply+testPrompt)
		}
	}()

	return f
}

func (f *fakeREPL) Stdin() io.WriteCloser { return f.stdin }
func (f *fakeREPL) Stdout() io.ReadCloser { return f.stdout }

func (f *fakeREPL) Wait() error {
	<-f.done
	return nil
}

func (f *fakeREPL) Kill() error {
	f.stdin.Close()
	f.stdout.Close()
	return nil
}

func (f *fakeREPL) spawn(context.Context, string) (Debuggee, error) {
	return f, nil
}

// Canned pdb responses

const banner = "> /app/main.py(1)<module>()\n-> def helper(n):\n"

const (
	emptyLocals = `'{}'`
	xLocals     = `'{"x": {"id": 1, "repr_tree": {"name": "x", "value": "10", "kind": "primitive"}}}'`
	nLocals     = `'{"n": {"id": 2, "repr_tree": {"name": "n", "value": "10", "kind": "primitive"}}}'`
	nameErr     = "*** NameError: name '__exception__' is not defined\n"
	listing     = "  5  ->     x = 10\n  6         y = helper(10)\n"
	notGen      = "0\n"
)

// mainStack renders the full "w" output paused in main. fn lets tests
// annotate the frame with a return value ("main()->None").
func mainStack(line int, code, fn string) string {
	return "  /usr/lib/python3/bdb.py(600)run()\n" +
		"-> exec(cmd, globals, locals)\n" +
		"  <string>(1)<module>()\n" +
		"  /app/main.py(9)<module>()\n" +
		"-> main()\n" +
		fmt.Sprintf("> /app/main.py(%d)%s\n-> %s\n", line, fn, code)
}

// helperStack renders the "w" output paused inside helper, one frame deeper
func helperStack(line int, code, fn string) string {
	return "  /usr/lib/python3/bdb.py(600)run()\n" +
		"-> exec(cmd, globals, locals)\n" +
		"  <string>(1)<module>()\n" +
		"  /app/main.py(9)<module>()\n" +
		"-> main()\n" +
		"  /app/main.py(6)main()\n" +
		"-> y = helper(10)\n" +
		fmt.Sprintf("> /app/main.py(%d)%s\n-> %s\n", line, fn, code)
}

// curFrame renders the single-frame output a step command prints
func curFrame(line int, code, fn string) string {
	return fmt.Sprintf("> /app/main.py(%d)%s\n-> %s\n", line, fn, code)
}

// startScript is the exchange sequence every session begins with: inspector
// injection, entry breakpoint, continue, then the initial state snapshot.
func startScript(stopReply, stackReply, localsReply string) []exchange {
	return []exchange{
		{"!exec(", ""},
		{"b main", "Breakpoint 1 at /app/main.py:4\n"},
		{"c", stopReply},
		{"w", stackReply},
		{"p __import__", localsReply},
	}
}

func startTestSession(t *testing.T, f *fakeREPL) (*Session, *types.StateSnapshot) {
	t.Helper()
	sess, snapshot, err := Start(context.Background(), Options{
		ProjectID: "proj-1",
		Code:      testProgram,
		Config:    testDebuggerConfig(),
		Spawn:     f.spawn,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sess, snapshot
}

func TestStartPausesAtEntry(t *testing.T) {
	f := startFakeREPL(t, banner,
		startScript(curFrame(5, "x = 10", "main()"), mainStack(5, "x = 10", "main()"), emptyLocals))
	sess, snapshot := startTestSession(t, f)
	defer sess.Terminate()

	if snapshot.Filename != "/app/main.py" || snapshot.LineNumber != 5 {
		t.Errorf("expected pause at /app/main.py:5, got %s:%d", snapshot.Filename, snapshot.LineNumber)
	}
	if !snapshot.IsInMain {
		t.Error("entry pause should be in main")
	}
	if snapshot.CanStepOut {
		t.Error("cannot step out of the entry function")
	}
	if snapshot.CanStepInto {
		t.Error("line 5 performs no user call")
	}
	if snapshot.IsReturning {
		t.Error("entry pause is not a return pause")
	}
	if sess.IsFinished() {
		t.Error("session should be live after start")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	spawn := func(context.Context, string) (Debuggee, error) {
		return nil, fmt.Errorf("container not running")
	}
	_, _, err := Start(context.Background(), Options{
		ProjectID: "proj-1",
		Code:      testProgram,
		Config:    testDebuggerConfig(),
		Spawn:     spawn,
	})
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	if errors.FromError(err).Code != errors.CodeSpawnFailed {
		t.Errorf("expected spawn failure code, got %v", err)
	}
}

func TestStartDesyncTearsDown(t *testing.T) {
	script := []exchange{
		{"!exec(", ""},
		{"b main", "Breakpoint 1 at /app/main.py:4\n"},
		{"c", curFrame(5, "x = 10", "main()")},
		// The debuggee dies: the stack read comes back empty
		{"w", ""},
	}
	f := startFakeREPL(t, banner, script)

	_, _, err := Start(context.Background(), Options{
		ProjectID: "proj-1",
		Code:      testProgram,
		Config:    testDebuggerConfig(),
		Spawn:     f.spawn,
	})
	if err == nil {
		t.Fatal("expected a desync error")
	}
	if errors.FromError(err).Code != errors.CodeProtocolDesync {
		t.Errorf("expected desync code, got %v", err)
	}
}

func TestStepOverSimpleLine(t *testing.T) {
	script := append(
		startScript(curFrame(5, "x = 10", "main()"), mainStack(5, "x = 10", "main()"), emptyLocals),
		// before-state
		exchange{"w", mainStack(5, "x = 10", "main()")},
		exchange{"p __import__", emptyLocals},
		// delta context
		exchange{"l .", listing},
		exchange{"w", mainStack(5, "x = 10", "main()")},
		// the step loop: depth unchanged, single iteration
		exchange{"w", mainStack(5, "x = 10", "main()")},
		exchange{"s", curFrame(6, "y = helper(10)", "main()")},
		exchange{"p __exception__", nameErr},
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		// history records the landing frame
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		// after-state
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"p __import__", xLocals},
	)
	f := startFakeREPL(t, banner, script)
	sess, _ := startTestSession(t, f)
	defer sess.Terminate()

	if err := sess.StepOver(); err != nil {
		t.Fatalf("StepOver failed: %v", err)
	}

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	entry := history[0]
	if entry.StepKind != types.StepOver {
		t.Errorf("unexpected step kind %q", entry.StepKind)
	}
	if entry.CurrentFrame.Line != 6 {
		t.Errorf("expected landing on line 6, got %d", entry.CurrentFrame.Line)
	}
	if entry.Delta == nil {
		t.Fatal("step over must record a delta")
	}
	if len(entry.Delta.CapturedCalls) != 0 {
		t.Errorf("no calls on a plain assignment, got %v", entry.Delta.CapturedCalls)
	}
	if entry.Delta.ExecutedCode != " x = 10" {
		t.Errorf("unexpected executed code %q", entry.Delta.ExecutedCode)
	}
}

func TestStepOverCapturesCall(t *testing.T) {
	script := append(
		startScript(curFrame(6, "y = helper(10)", "main()"), mainStack(6, "y = helper(10)", "main()"), xLocals),
		// before-state
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"p __import__", xLocals},
		// delta context
		exchange{"l .", listing},
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		// iteration 1: the step enters helper
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"s", "--Call--\n" + curFrame(1, "def helper(n):", "helper()")},
		exchange{"p __exception__", nameErr},
		exchange{"w", helperStack(1, "def helper(n):", "helper()")},
		exchange{"p __import__", nLocals},
		exchange{"p $_frame", notGen},
		exchange{"r", "--Return--\n" + curFrame(2, "return n * 2", "helper()->20")},
		// iteration 2: step off the return pause, back in main
		exchange{"w", helperStack(2, "return n * 2", "helper()->20")},
		exchange{"s", curFrame(7, "print(x + y)", "main()")},
		exchange{"p __exception__", nameErr},
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		// history records the landing frame
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		// after-state
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		exchange{"p __import__", xLocals},
	)
	f := startFakeREPL(t, banner, script)
	sess, snapshot := startTestSession(t, f)
	defer sess.Terminate()

	if !snapshot.CanStepInto {
		t.Error("line 6 calls helper, step into should be available")
	}

	if err := sess.StepOver(); err != nil {
		t.Fatalf("StepOver failed: %v", err)
	}

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	calls := history[0].Delta.CapturedCalls
	if len(calls) != 1 {
		t.Fatalf("expected 1 captured call, got %d: %v", len(calls), calls)
	}
	call := calls[0]
	if call.Type != types.CapturedCallNormal {
		t.Errorf("unexpected call type %q", call.Type)
	}
	if call.Function != "helper" {
		t.Errorf("expected function helper, got %q", call.Function)
	}
	if call.Parameters["n"] != "10" {
		t.Errorf("expected parameter n=10, got %v", call.Parameters)
	}
	if call.ReturnValue != "20" {
		t.Errorf("expected return value 20, got %q", call.ReturnValue)
	}
}

func TestStepOverFinishesWhenEntryReturns(t *testing.T) {
	script := append(
		startScript(curFrame(7, "print(x + y)", "main()"), mainStack(7, "print(x + y)", "main()"), xLocals),
		// before-state
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		exchange{"p __import__", xLocals},
		// delta context
		exchange{"l .", listing},
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		// the step produces program output and lands on the entry's return
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		exchange{"s", "30\n--Return--\n" + curFrame(7, "print(x + y)", "main()->None")},
		exchange{"p __exception__", nameErr},
		exchange{"w", mainStack(7, "print(x + y)", "main()->None")},
		// history records the landing frame
		exchange{"w", mainStack(7, "print(x + y)", "main()->None")},
		// after-state: returning in the entry function
		exchange{"w", mainStack(7, "print(x + y)", "main()->None")},
		exchange{"p __import__", xLocals},
		// run the program to its real end, then quit
		exchange{"c", "The program finished and will be restarted\n" + banner},
	)
	f := startFakeREPL(t, banner, script)
	sess, _ := startTestSession(t, f)

	if err := sess.StepOver(); err != nil {
		t.Fatalf("StepOver failed: %v", err)
	}

	if !sess.IsFinished() {
		t.Fatal("stepping past the entry return must finish the session")
	}
	if !strings.Contains(sess.CumulativeOutput(), "30") {
		t.Errorf("program output lost: %q", sess.CumulativeOutput())
	}

	if err := sess.StepOver(); err == nil {
		t.Error("stepping a finished session must fail")
	} else if errors.FromError(err).Code != errors.CodeAlreadyFinished {
		t.Errorf("expected already-finished code, got %v", err)
	}
	if _, err := sess.State(); err == nil {
		t.Error("state of a finished session must fail")
	}
}

func TestStepInto(t *testing.T) {
	script := append(
		startScript(curFrame(6, "y = helper(10)", "main()"), mainStack(6, "y = helper(10)", "main()"), xLocals),
		// depth before
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"s", "--Call--\n" + curFrame(1, "def helper(n):", "helper()")},
		// a callee was entered: move past its signature line
		exchange{"w", helperStack(1, "def helper(n):", "helper()")},
		exchange{"n", curFrame(2, "return n * 2", "helper()")},
		// history records the landing frame
		exchange{"w", helperStack(2, "return n * 2", "helper()")},
		// state inside helper
		exchange{"w", helperStack(2, "return n * 2", "helper()")},
		exchange{"p __import__", nLocals},
	)
	f := startFakeREPL(t, banner, script)
	sess, _ := startTestSession(t, f)
	defer sess.Terminate()

	if err := sess.StepInto(); err != nil {
		t.Fatalf("StepInto failed: %v", err)
	}

	snapshot, err := sess.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if snapshot.LineNumber != 2 {
		t.Errorf("expected pause on helper's first statement, got line %d", snapshot.LineNumber)
	}
	if snapshot.IsInMain {
		t.Error("paused inside helper, not main")
	}
	if !snapshot.CanStepOut {
		t.Error("step out must be available inside a callee")
	}
	if _, ok := snapshot.LocalVars["n"]; !ok {
		t.Errorf("expected parameter n in locals, got %v", snapshot.LocalVars)
	}
}

func TestStepOutReturnsToCaller(t *testing.T) {
	script := append(
		startScript(curFrame(2, "return n * 2", "helper()"), helperStack(2, "return n * 2", "helper()"), nLocals),
		// finish the current function
		exchange{"r", "--Return--\n" + curFrame(2, "return n * 2", "helper()->20")},
		// then step over the remainder of the call-site line
		exchange{"l .", listing},
		exchange{"w", helperStack(2, "return n * 2", "helper()->20")},
		exchange{"w", helperStack(2, "return n * 2", "helper()->20")},
		exchange{"s", curFrame(7, "print(x + y)", "main()")},
		exchange{"p __exception__", nameErr},
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
		// history records the landing frame
		exchange{"w", mainStack(7, "print(x + y)", "main()")},
	)
	f := startFakeREPL(t, banner, script)
	sess, _ := startTestSession(t, f)
	defer sess.Terminate()

	if err := sess.StepOut(); err != nil {
		t.Fatalf("StepOut failed: %v", err)
	}

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].StepKind != types.StepOut {
		t.Errorf("unexpected step kind %q", history[0].StepKind)
	}
	if history[0].CurrentFrame.Line != 7 {
		t.Errorf("expected landing in main on line 7, got %d", history[0].CurrentFrame.Line)
	}
}

type stubExplainer struct {
	lastDelta types.StepDelta
}

func (s *stubExplainer) Explain(_ context.Context, _ string, delta types.StepDelta) (string, error) {
	s.lastDelta = delta
	return "the line doubled n", nil
}

func TestExplainStep(t *testing.T) {
	script := append(
		startScript(curFrame(5, "x = 10", "main()"), mainStack(5, "x = 10", "main()"), emptyLocals),
		exchange{"w", mainStack(5, "x = 10", "main()")},
		exchange{"p __import__", emptyLocals},
		exchange{"l .", listing},
		exchange{"w", mainStack(5, "x = 10", "main()")},
		exchange{"w", mainStack(5, "x = 10", "main()")},
		exchange{"s", curFrame(6, "y = helper(10)", "main()")},
		exchange{"p __exception__", nameErr},
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"w", mainStack(6, "y = helper(10)", "main()")},
		exchange{"p __import__", xLocals},
	)
	f := startFakeREPL(t, banner, script)

	explainer := &stubExplainer{}
	sess, _, err := Start(context.Background(), Options{
		ProjectID: "proj-1",
		Code:      testProgram,
		Config:    testDebuggerConfig(),
		Spawn:     f.spawn,
		Explainer: explainer,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sess.Terminate()

	// Explaining before any step must fail
	if _, err := sess.ExplainStep(context.Background()); err == nil {
		t.Error("explain without history must fail")
	}

	if err := sess.StepOver(); err != nil {
		t.Fatalf("StepOver failed: %v", err)
	}

	explanation, err := sess.ExplainStep(context.Background())
	if err != nil {
		t.Fatalf("ExplainStep failed: %v", err)
	}
	if explanation != "the line doubled n" {
		t.Errorf("unexpected explanation %q", explanation)
	}
	if explainer.lastDelta.ExecutedCode != " x = 10" {
		t.Errorf("explainer got wrong delta: %+v", explainer.lastDelta)
	}
	if sess.History()[0].Explanation != explanation {
		t.Error("explanation must be stored on the history entry")
	}
}
