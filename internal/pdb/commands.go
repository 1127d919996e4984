package pdb

import (
	"strings"
)

// Commands is the primitive pdb command layer. Every method performs exactly
// one write/read exchange on the bridge and parses the response. Higher
// level stepping semantics live in the session package.
type Commands struct {
	bridge *Bridge
}

// NewCommands wraps a bridge with the primitive command set
func NewCommands(bridge *Bridge) *Commands {
	return &Commands{bridge: bridge}
}

// Bridge exposes the underlying bridge for lifecycle management
func (c *Commands) Bridge() *Bridge {
	return c.bridge
}

func (c *Commands) exchange(command string) (Output, error) {
	raw, err := c.bridge.Exchange(command)
	if err != nil {
		return Output{}, err
	}
	return Parse(raw), nil
}

// Break sets a breakpoint at the given location (function name or line)
func (c *Commands) Break(location string) (Output, error) {
	return c.exchange("b " + location)
}

// Continue resumes execution until the next breakpoint
func (c *Commands) Continue() (Output, error) {
	return c.exchange("c")
}

// Next steps over one instruction ("n")
func (c *Commands) Next() (Output, error) {
	return c.exchange("n")
}

// Step steps into one instruction ("s")
func (c *Commands) Step() (Output, error) {
	return c.exchange("s")
}

// Finish runs until the current function returns ("r"). The return value is
// read from the retval annotation on the resulting current frame; a frame
// without one (the function raised instead of returning) yields an empty
// retval.
func (c *Commands) Finish() (out Output, retval string, err error) {
	out, err = c.exchange("r")
	if err != nil {
		return out, "", err
	}
	if frame, ok := out.CurrentFrame(); ok && frame.HasRetval {
		retval = frame.Retval
	}
	return out, retval, nil
}

// Where returns the stack trace ("w"), outermost frame first. The current
// frame is marked with ">" in pdb output and IsCurrent here.
func (c *Commands) Where() (Output, error) {
	return c.exchange("w")
}

// Up moves the debugger context one frame up the stack
func (c *Commands) Up() (Output, error) {
	return c.exchange("up")
}

// List returns the source listing around the current line ("l .")
func (c *Commands) List() (string, error) {
	raw, err := c.bridge.Exchange("l .")
	if err != nil {
		return "", err
	}
	return raw, nil
}

// LongList returns the full source listing of the current function ("ll")
func (c *Commands) LongList() (string, error) {
	raw, err := c.bridge.Exchange("ll")
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Eval evaluates an expression in the current frame ("p") and returns the
// printed result with trailing whitespace trimmed
func (c *Commands) Eval(expr string) (string, error) {
	raw, err := c.bridge.Exchange("p " + expr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(raw, "\r\n"), nil
}

// Exec runs a raw statement in the debuggee ("!"). Used once per session to
// inject the variable inspector.
func (c *Commands) Exec(statement string) (string, error) {
	return c.bridge.Exchange("!" + statement)
}

// Quit asks the debugger to exit ("q"). No response is read: the process is
// expected to close its pipes.
func (c *Commands) Quit() error {
	return c.bridge.WriteCommand("q")
}
