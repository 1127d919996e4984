package pdb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codestep/stepd/pkg/types"
)

// Reserved control markers embedded in pdb output. They are the only typed
// signals the REPL emits; everything else is free text.
const (
	MarkerCall     = "--Call--"
	MarkerReturn   = "--Return--"
	MarkerFinished = "The program finished and will be restarted"
)

// Output is the structured result of parsing raw text between two prompts
type Output struct {
	// ProgramOutput is everything the debuggee printed before the first
	// frame line (or before the control marker when one is present)
	ProgramOutput string

	// Marker is the control marker found in the raw text, or "" when none
	// occurred. Callers must not assume a marker accompanies every prompt.
	Marker string

	// Frames is the parsed stack, outermost first
	Frames []types.Frame
}

// CurrentFrame returns the frame the REPL marks with ">", if any
func (o Output) CurrentFrame() (types.Frame, bool) {
	for _, f := range o.Frames {
		if f.IsCurrent {
			return f, true
		}
	}
	return types.Frame{}, false
}

// lineKind is the closed set of line shapes pdb output decomposes into
type lineKind int

const (
	linePlain lineKind = iota
	lineListing
	lineFrameHeader
	lineFrameBody
	lineMarker
)

var (
	// listingRe matches numbered source-listing lines ("  1  ->  x = 10"),
	// which must never be mistaken for frame headers
	listingRe = regexp.MustCompile(`^\s*\d+\s+`)

	// headerArrowRe matches the current-frame arrow form ("> file(10)fn()")
	headerArrowRe = regexp.MustCompile(`^\s*>`)

	// headerPlainRe matches the where-command frame form ("  file(10)fn()")
	headerPlainRe = regexp.MustCompile(`^\s+[^(]+\(\d+\)`)

	// frameWithCodeRe captures the header of the two-line frame shape:
	// path, line number, function (possibly annotated "->retval")
	frameWithCodeRe = regexp.MustCompile(`^(?:\s{2}|>\s)([^(\s]+)\((\d+)\)(.+)$`)

	// frameStringRe captures the one-line shape for frames without
	// resolvable source ("> <string>(1)<module>()")
	frameStringRe = regexp.MustCompile(`^(?:\s{2}|>\s)<([^>]+)>\((\d+)\)(.+)$`)
)

// classify maps one raw line onto the token set. Listing lines win over
// frame headers; unmatched lines are plain output.
func classify(line string) lineKind {
	switch {
	case line == MarkerCall || line == MarkerReturn || strings.Contains(line, MarkerFinished):
		return lineMarker
	case listingRe.MatchString(line):
		return lineListing
	case strings.HasPrefix(line, "->"):
		return lineFrameBody
	case headerArrowRe.MatchString(line) || headerPlainRe.MatchString(line):
		return lineFrameHeader
	default:
		return linePlain
	}
}

// Parse converts raw text between two prompts into program output, an
// optional control marker, and the parsed frame list. It never fails:
// unmatched lines are skipped and a frameless result is valid.
func Parse(raw string) Output {
	lines := strings.Split(raw, "\n")

	// Find where frame information starts. Everything before the boundary
	// is program output.
	frameStart := -1
	for i, line := range lines {
		if classify(line) == lineFrameHeader {
			frameStart = i
			break
		}
	}

	out := Output{ProgramOutput: raw}
	if frameStart >= 0 {
		out.ProgramOutput = strings.Join(lines[:frameStart], "\n")
		out.Frames = matchFrames(lines[frameStart:])
	}

	// A control marker is guaranteed to immediately follow program output,
	// so its position overrides the boundary. Exactly one marker is
	// expected per read; the first occurrence is authoritative.
	if marker, idx := findMarker(raw); idx >= 0 {
		out.Marker = marker
		out.ProgramOutput = raw[:idx]
	}

	return out
}

// findMarker returns the earliest reserved marker in the text and its
// position, or ("", -1)
func findMarker(raw string) (string, int) {
	marker, at := "", -1
	for _, m := range []string{MarkerCall, MarkerReturn, MarkerFinished} {
		if idx := strings.Index(raw, m); idx >= 0 && (at < 0 || idx < at) {
			marker, at = m, idx
		}
	}
	return marker, at
}

// matchFrames greedily matches the two frame shapes over the token stream,
// skipping lines that match neither.
func matchFrames(lines []string) []types.Frame {
	var frames []types.Frame

	i := 0
	for i < len(lines) {
		line := lines[i]

		// Two-line form: header immediately followed by a "->code" line
		if m := frameWithCodeRe.FindStringSubmatch(line); m != nil &&
			classify(line) != lineListing &&
			i+1 < len(lines) && classify(lines[i+1]) == lineFrameBody {
			lineNo, _ := strconv.Atoi(m[2])
			frame := types.Frame{
				File:      m[1],
				Line:      lineNo,
				Code:      strings.TrimPrefix(lines[i+1], "->"),
				IsCurrent: strings.HasPrefix(line, ">"),
			}
			frame.Function, frame.Retval, frame.HasRetval = splitRetval(m[3])
			frames = append(frames, frame)
			i += 2
			continue
		}

		// One-line form for frames without resolvable source
		if m := frameStringRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			frame := types.Frame{
				File:      m[1],
				Line:      lineNo,
				IsCurrent: strings.HasPrefix(line, ">"),
			}
			frame.Function, frame.Retval, frame.HasRetval = splitRetval(m[3])
			frames = append(frames, frame)
			i++
			continue
		}

		i++
	}

	return frames
}

// splitRetval separates the function field from a "->retval" annotation
// pdb appends to frames that represent completed calls.
func splitRetval(function string) (name, retval string, ok bool) {
	if idx := strings.Index(function, "->"); idx >= 0 {
		return function[:idx], function[idx+2:], true
	}
	return function, "", false
}
