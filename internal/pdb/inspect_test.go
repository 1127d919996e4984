package pdb

import (
	"strings"
	"testing"
)

func TestInjectStatementShape(t *testing.T) {
	stmt := InjectStatement()

	if strings.Contains(stmt, "\n") {
		t.Error("inject statement must be a single line")
	}
	if !strings.HasPrefix(stmt, "exec(") {
		t.Errorf("expected exec form, got %q", stmt)
	}
	if !strings.Contains(stmt, "b64decode") {
		t.Errorf("expected base64 transport, got %q", stmt)
	}
}

func TestLocalsExpr(t *testing.T) {
	expr := LocalsExpr(4, 64)
	want := "__import__('json').dumps(build_var_tree(locals(), 4, 64))"
	if expr != want {
		t.Errorf("LocalsExpr = %q, want %q", expr, want)
	}
}

func TestDecodeLocalsSimple(t *testing.T) {
	// "p" prints the repr of json.dumps output: a quoted, escaped string
	raw := `'{"x": {"id": 140001, "repr_tree": {"name": "x", "value": "10", "kind": "primitive"}}}'`

	vars, err := DecodeLocals(raw)
	if err != nil {
		t.Fatalf("DecodeLocals failed: %v", err)
	}

	entry, ok := vars["x"]
	if !ok {
		t.Fatalf("variable x missing: %v", vars)
	}
	if entry.ID != 140001 {
		t.Errorf("expected id 140001, got %d", entry.ID)
	}
	if entry.ReprTree.Value != "10" || entry.ReprTree.Kind != "primitive" {
		t.Errorf("unexpected tree: %+v", entry.ReprTree)
	}
}

func TestDecodeLocalsNested(t *testing.T) {
	raw := `'{"items": {"id": 7, "repr_tree": {"name": "items", "value": "[1, 2, 3]", "kind": "list", "children": [` +
		`{"name": "0", "value": "1", "kind": "primitive"}, ` +
		`{"name": "1", "value": "2", "kind": "primitive"}, ` +
		`{"name": "...", "value": "1 more", "kind": "primitive"}]}}}'`

	vars, err := DecodeLocals(raw)
	if err != nil {
		t.Fatalf("DecodeLocals failed: %v", err)
	}

	tree := vars["items"].ReprTree
	if tree.Kind != "list" {
		t.Errorf("expected list kind, got %q", tree.Kind)
	}
	if len(tree.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(tree.Children))
	}
	more := tree.Children[2]
	if more.Name != "..." || more.Value != "1 more" {
		t.Errorf("unexpected truncation leaf: %+v", more)
	}
}

func TestDecodeLocalsCycleLeaf(t *testing.T) {
	raw := `'{"a": {"id": 9, "repr_tree": {"name": "a", "value": "[[...]]", "kind": "list", "children": [` +
		`{"name": "0", "value": "<cycle>", "kind": "primitive"}]}}}'`

	vars, err := DecodeLocals(raw)
	if err != nil {
		t.Fatalf("DecodeLocals failed: %v", err)
	}
	if vars["a"].ReprTree.Children[0].Value != "<cycle>" {
		t.Errorf("cycle marker lost: %+v", vars["a"].ReprTree)
	}
}

func TestDecodeLocalsEscapedStrings(t *testing.T) {
	// A string variable whose repr contains escaped quotes inside the
	// JSON, which is itself inside a Python repr
	raw := `'{"s": {"id": 3, "repr_tree": {"name": "s", "value": "\'hi\\nthere\'", "kind": "primitive"}}}'`

	vars, err := DecodeLocals(raw)
	if err != nil {
		t.Fatalf("DecodeLocals failed: %v", err)
	}
	if vars["s"].ReprTree.Value != "'hi\nthere'" {
		t.Errorf("unexpected value: %q", vars["s"].ReprTree.Value)
	}
}

func TestDecodeLocalsRejectsEmpty(t *testing.T) {
	if _, err := DecodeLocals(""); err == nil {
		t.Error("empty output must be an error")
	}
	if _, err := DecodeLocals("  \n"); err == nil {
		t.Error("whitespace output must be an error")
	}
}

func TestDecodeLocalsRejectsEvaluationError(t *testing.T) {
	raw := "*** NameError: name 'build_var_tree' is not defined"
	if _, err := DecodeLocals(raw); err == nil {
		t.Error("evaluation errors must not decode")
	}
}

func TestDecodeLocalsRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeLocals(`'{"x": '`); err == nil {
		t.Error("malformed JSON must be an error")
	}
}

func TestUnquotePyString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`'{}'`, `{}`},
		{`"{}"`, `{}`},
		{`'a\'b'`, `a'b`},
		{`'line\nbreak'`, "line\nbreak"},
		{`'tab\there'`, "tab\there"},
		{`'back\\slash'`, `back\slash`},
		{`'\x41'`, "A"},
		{`'é'`, "é"},
	}
	for _, tt := range tests {
		got, err := unquotePyString(tt.in)
		if err != nil {
			t.Errorf("unquotePyString(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("unquotePyString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnquotePyStringErrors(t *testing.T) {
	for _, in := range []string{"", "x", "nope", `'unterminated`, `'dangling\`} {
		if _, err := unquotePyString(in); err == nil {
			t.Errorf("unquotePyString(%q) should fail", in)
		}
	}
}
