package pdb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/codestep/stepd/pkg/types"
)

// InspectorVersion identifies the injected routine's request/response
// contract: build_var_tree(locals(), max_depth, max_children) returning a
// JSON mapping of variable name to {"id": int, "repr_tree": node}. Bump it
// whenever the source below changes shape.
const InspectorVersion = 1

// inspectorSource is the serialization routine transmitted into the
// debuggee's global scope once per session. It must stay dependency-free:
// it runs inside arbitrary user programs.
//
// Tree rules, depth-first with an identity set scoped to the current
// descent (so diamond-shaped acyclic graphs are not falsely marked):
//   - None/bool/int/float/str/bytes -> primitive, bounded repr
//   - list/tuple/set -> positional children, truncated with an "N more" leaf
//   - dict -> children keyed by stringified key, same truncation
//   - objects -> instance, attributes minus dunder names, same truncation
//   - identity already seen -> "<cycle>" primitive
//   - past max_depth -> primitive repr, never expanded
const inspectorSource = `
def _safe_repr(obj, limit=256):
    try:
        s = repr(obj)
        if len(s) > limit:
            return s[:limit] + "..."
        return s
    except Exception as e:
        return "<repr error: %s>" % (e,)

def _more_leaf(count):
    return {"name": "...", "value": "%d more" % (count,), "kind": "primitive"}

def _composite_node(name, val, kind, items, total, depth, max_depth, max_children, seen):
    oid = id(val)
    seen.add(oid)
    children = []
    for key, item in items[:max_children]:
        children.append(_make_node(key, item, depth + 1, max_depth, max_children, seen))
    if total > max_children:
        children.append(_more_leaf(total - max_children))
    seen.discard(oid)
    return {"name": name, "value": _safe_repr(val, 80), "kind": kind, "children": children}

def _make_node(name, val, depth, max_depth, max_children, seen):
    try:
        oid = id(val)
    except Exception:
        oid = None
    if oid is not None and oid in seen:
        return {"name": name, "value": "<cycle>", "kind": "primitive"}
    if depth > max_depth:
        return {"name": name, "value": _safe_repr(val), "kind": "primitive"}
    if val is None or type(val) in (bool, int, float, str, bytes):
        return {"name": name, "value": _safe_repr(val), "kind": "primitive"}
    if type(val) is list or type(val) is tuple:
        kind = "list" if type(val) is list else "tuple"
        items = []
        for i, item in enumerate(val):
            items.append((str(i), item))
        return _composite_node(name, val, kind, items, len(val), depth, max_depth, max_children, seen)
    if type(val) is set:
        items = []
        for i, item in enumerate(list(val)):
            items.append((str(i), item))
        return _composite_node(name, val, "set", items, len(items), depth, max_depth, max_children, seen)
    if type(val) is dict:
        items = []
        for k, v in val.items():
            try:
                ks = str(k)
            except Exception:
                ks = "<key error>"
            items.append((ks, v))
        return _composite_node(name, val, "dict", items, len(val), depth, max_depth, max_children, seen)
    try:
        if hasattr(val, "__dict__"):
            attrs = vars(val)
            items = []
            for k, v in attrs.items():
                if k.startswith("__") and k.endswith("__"):
                    continue
                items.append((k, v))
            return _composite_node(name, val, "instance", items, len(attrs), depth, max_depth, max_children, seen)
        if hasattr(val, "__slots__"):
            items = []
            for k in list(val.__slots__):
                try:
                    items.append((k, getattr(val, k)))
                except Exception as e:
                    items.append((k, "<error: %s>" % (e,)))
            return _composite_node(name, val, "instance", items, len(items), depth, max_depth, max_children, seen)
    except Exception as e:
        return {"name": name, "value": "<error: %s>" % (e,), "kind": "primitive"}
    return {"name": name, "value": _safe_repr(val), "kind": "other"}

def build_var_tree(local_vars, max_depth=4, max_children=64):
    out = {}
    seen = set()
    for k, v in local_vars.items():
        if k.startswith("__"):
            continue
        out[k] = {"id": id(v), "repr_tree": _make_node(k, v, 0, max_depth, max_children, seen)}
    return out
`

// InjectStatement builds the decode-and-execute statement that installs the
// inspector into the debuggee's global scope. The source travels
// base64-encoded inside one "!" statement so the REPL never sees newlines.
func InjectStatement() string {
	b64 := base64.StdEncoding.EncodeToString([]byte(inspectorSource))
	return fmt.Sprintf(`exec(__import__("base64").b64decode(%q).decode())`, b64)
}

// LocalsExpr builds the evaluation expression that captures current-frame
// locals as a JSON string through the "p" channel.
func LocalsExpr(maxDepth, maxChildren int) string {
	return fmt.Sprintf("__import__('json').dumps(build_var_tree(locals(), %d, %d))", maxDepth, maxChildren)
}

// DecodeLocals parses the printed result of LocalsExpr back into a variable
// map. "p" prints the repr of the JSON string, so the text arrives quoted
// and escaped and must be unquoted before JSON decoding. Any malformation
// is returned as an error; callers degrade to an empty map rather than
// failing the step.
func DecodeLocals(raw string) (types.VarMap, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("decode locals: empty evaluation output")
	}
	if strings.HasPrefix(raw, "***") {
		return nil, fmt.Errorf("decode locals: evaluation error: %s", raw)
	}

	jsonStr, err := unquotePyString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode locals: %w", err)
	}

	var vars types.VarMap
	if err := json.Unmarshal([]byte(jsonStr), &vars); err != nil {
		return nil, fmt.Errorf("decode locals: %w", err)
	}
	return vars, nil
}

// unquotePyString reverses Python's repr of a str: strips the surrounding
// quotes and resolves backslash escapes.
func unquotePyString(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("not a quoted string: %q", s)
	}
	quote := s[0]
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("not a quoted string: %q", s)
	}
	if s[len(s)-1] != quote {
		return "", fmt.Errorf("unterminated string: %q", s)
	}

	inner := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(inner))

	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(inner) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		switch inner[i] {
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case 'x':
			if i+2 >= len(inner) {
				return "", fmt.Errorf("truncated \\x escape in %q", s)
			}
			n, err := strconv.ParseUint(inner[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad \\x escape in %q: %w", s, err)
			}
			b.WriteByte(byte(n))
			i += 2
		case 'u':
			if i+4 >= len(inner) {
				return "", fmt.Errorf("truncated \\u escape in %q", s)
			}
			n, err := strconv.ParseUint(inner[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad \\u escape in %q: %w", s, err)
			}
			b.WriteRune(rune(n))
			i += 4
		default:
			// Python repr never emits other escapes; preserve them verbatim
			b.WriteByte('\\')
			b.WriteByte(inner[i])
		}
	}

	return b.String(), nil
}
