// Package pdb drives an interactive pdb REPL over a child process's stdio
// pipes. It provides:
//   - Bridge: low-level write-command/read-until-prompt synchronization
//   - Parser: turns raw between-prompt text into (output, marker, frames)
//   - Commands: the primitive single-letter pdb command layer
//   - Inspector: the injected variable serialization routine and its decoder
//
// pdb is a human-facing console, not a programmatic protocol: output is
// unstructured and control events arrive as embedded string markers. The
// prompt string is the only synchronization point, so the bridge enforces a
// strict single-outstanding-request discipline: every write is followed by
// exactly one read-until-prompt before the next write. Violating this
// desynchronizes the stream irrecoverably.
package pdb

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Bridge owns a debuggee's standard streams and serializes all
// command/response traffic against the REPL prompt.
type Bridge struct {
	stdin  io.Writer
	stdout io.Reader
	prompt string

	mu sync.Mutex
}

// NewBridge creates a bridge over the given pipes. prompt is the REPL's
// fixed prompt string used as the read synchronization marker.
func NewBridge(stdin io.Writer, stdout io.Reader, prompt string) *Bridge {
	return &Bridge{
		stdin:  stdin,
		stdout: stdout,
		prompt: prompt,
	}
}

// Prompt returns the configured prompt marker
func (b *Bridge) Prompt() string {
	return b.prompt
}

// WriteCommand writes one command line to the debugger. A newline is
// appended; no response is read.
func (b *Bridge) WriteCommand(text string) error {
	if _, err := io.WriteString(b.stdin, text+"\n"); err != nil {
		return fmt.Errorf("write command %q: %w", text, err)
	}
	return nil
}

// ReadUntil reads one byte at a time until the accumulated buffer ends with
// marker, and returns the full text including the marker. If the stream
// closes before the marker appears, whatever was read (possibly nothing) is
// returned without error; callers must treat empty output as "process
// exited".
func (b *Bridge) ReadUntil(marker string) (string, error) {
	var buf bytes.Buffer
	one := make([]byte, 1)
	tail := []byte(marker)

	for {
		n, err := b.stdout.Read(one)
		if n > 0 {
			buf.WriteByte(one[0])
			if bytes.HasSuffix(buf.Bytes(), tail) {
				return buf.String(), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return buf.String(), nil
			}
			return buf.String(), fmt.Errorf("read until %q: %w", marker, err)
		}
	}
}

// Exchange writes one command and reads the response up to the next prompt,
// with the prompt stripped. This is the only entry point the command layer
// uses, which makes the single-outstanding-request discipline structural.
// An empty response means the debuggee exited before reaching a prompt.
func (b *Bridge) Exchange(command string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.WriteCommand(command); err != nil {
		return "", err
	}
	raw, err := b.ReadUntil(b.prompt)
	if err != nil {
		return "", err
	}
	return stripAll(raw, b.prompt), nil
}

// ReadBanner consumes initial debugger output up to the first prompt,
// without writing anything. Used once right after spawn.
func (b *Bridge) ReadBanner() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.ReadUntil(b.prompt)
	if err != nil {
		return "", err
	}
	return stripAll(raw, b.prompt), nil
}

func stripAll(s, marker string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte(marker), nil))
}
