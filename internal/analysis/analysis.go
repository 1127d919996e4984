// Package analysis extracts function definitions and call sites from Python
// source text. The session engine uses it once at start to precompute which
// lines contain calls to user-defined functions, which is what makes the
// "can step into" hint cheap at step time.
//
// The scanner is line-based rather than a full Python parser. For the
// single-script, synchronous programs in scope (one module, top-level defs
// and simple class methods) it produces the same line sets a real AST walk
// would.
package analysis

import (
	"regexp"
	"strings"
)

var (
	defRe   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	classRe = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)`)
	callRe  = regexp.MustCompile(`([A-Za-z_]\w*)\s*\(`)
)

// pythonKeywords that can syntactically precede "(" but are never calls
var pythonKeywords = map[string]bool{
	"if": true, "elif": true, "while": true, "for": true, "return": true,
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"assert": true, "yield": true, "lambda": true, "del": true,
	"with": true, "except": true, "raise": true, "await": true,
}

type classScope struct {
	name   string
	indent int
}

// DefinedFunctions returns the names of functions and methods defined in
// the source. Methods are qualified with their class name
// ("ClassName.method_name").
func DefinedFunctions(source string) map[string]bool {
	defined := make(map[string]bool)
	var classes []classScope

	for _, line := range strings.Split(source, "\n") {
		if m := classRe.FindStringSubmatch(line); m != nil {
			indent := len(m[1])
			classes = popToIndent(classes, indent)
			classes = append(classes, classScope{name: m[2], indent: indent})
			continue
		}

		m := defRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])
		classes = popToIndent(classes, indent)

		if len(classes) > 0 && indent > classes[len(classes)-1].indent {
			defined[classes[len(classes)-1].name+"."+m[2]] = true
		} else {
			defined[m[2]] = true
		}
	}

	return defined
}

func popToIndent(classes []classScope, indent int) []classScope {
	for len(classes) > 0 && indent <= classes[len(classes)-1].indent {
		classes = classes[:len(classes)-1]
	}
	return classes
}

// CallLines returns, per 1-based line number, the user-defined functions
// called on that line. A bare method call matches any class defining a
// method of that name, mirroring how a name-only call site resolves.
func CallLines(source string) map[int][]string {
	defined := DefinedFunctions(source)
	calls := make(map[int][]string)

	for i, line := range strings.Split(source, "\n") {
		code := stripComment(line)

		for _, m := range callRe.FindAllStringSubmatchIndex(code, -1) {
			name := code[m[2]:m[3]]
			if pythonKeywords[name] {
				continue
			}
			if isDefinitionSite(code, m[2]) {
				continue
			}

			full := resolveDefined(name, defined)
			if full == "" {
				continue
			}
			calls[i+1] = append(calls[i+1], full)
		}
	}

	return calls
}

// LineSet reduces CallLines to the set of line numbers containing at least
// one user-defined call.
func LineSet(source string) map[int]bool {
	lines := make(map[int]bool)
	for line := range CallLines(source) {
		lines[line] = true
	}
	return lines
}

// FunctionRange locates one def or class in the source, 0-based inclusive
type FunctionRange struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // "def", "async def", or "class"
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// FunctionRanges returns def and class extents in source order, nested
// constructs included. Editors use the ranges for folding and navigation.
// Up to two trailing blank lines are folded into a range when they do not
// run into the next construct.
func FunctionRanges(source string) []FunctionRange {
	lines := strings.Split(source, "\n")
	var ranges []FunctionRange

	for i, line := range lines {
		var name, typ string
		var indent int

		if m := classRe.FindStringSubmatch(line); m != nil {
			name, typ, indent = m[2], "class", len(m[1])
		} else if m := defRe.FindStringSubmatch(line); m != nil {
			name, typ, indent = m[2], "def", len(m[1])
			if strings.HasPrefix(strings.TrimLeft(line, " \t"), "async ") {
				typ = "async def"
			}
		} else {
			continue
		}

		ranges = append(ranges, FunctionRange{
			Name:      name,
			Type:      typ,
			StartLine: i,
			EndLine:   bodyEnd(lines, i, indent),
		})
	}

	// Fold trailing blank lines, stopping short of the next construct
	for i := range ranges {
		nextStart := len(lines)
		if i+1 < len(ranges) {
			nextStart = ranges[i+1].StartLine
		}
		end := ranges[i].EndLine
		for n := 0; n < 2; n++ {
			if end+1 >= nextStart || end+1 >= len(lines) {
				break
			}
			if strings.TrimSpace(lines[end+1]) != "" {
				break
			}
			end++
		}
		ranges[i].EndLine = end
	}

	return ranges
}

// bodyEnd finds the last non-blank line belonging to the block starting at
// start with the given indent
func bodyEnd(lines []string, start, indent int) int {
	end := start
	for j := start + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		if lineIndent(lines[j]) <= indent {
			break
		}
		end = j
	}
	return end
}

func lineIndent(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// resolveDefined maps a call-site name onto a defined function: direct
// match first, then any "Class.name" method.
func resolveDefined(name string, defined map[string]bool) string {
	if defined[name] {
		return name
	}
	for full := range defined {
		if strings.HasSuffix(full, "."+name) {
			return full
		}
	}
	return ""
}

// isDefinitionSite reports whether the identifier at pos is the name being
// defined ("def foo(" / "class Foo(") rather than a call.
func isDefinitionSite(code string, pos int) bool {
	prefix := strings.TrimRight(code[:pos], " \t")
	return endsWithKeyword(prefix, "def") || endsWithKeyword(prefix, "class")
}

func endsWithKeyword(s, kw string) bool {
	if !strings.HasSuffix(s, kw) {
		return false
	}
	rest := s[:len(s)-len(kw)]
	if rest == "" {
		return true
	}
	c := rest[len(rest)-1]
	return !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
}

// stripComment removes a trailing "#" comment, respecting string quotes
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}
