package pdb

import (
	"testing"
)

func TestParseStackTrace(t *testing.T) {
	raw := "  /usr/lib/python3/bdb.py(600)run()\n" +
		"-> exec(cmd, globals, locals)\n" +
		"  <string>(1)<module>()\n" +
		"  /app/main.py(4)main()\n" +
		"-> y = helper(10)\n" +
		"> /app/main.py(1)helper()\n" +
		"-> def helper(n):\n"

	out := Parse(raw)

	if len(out.Frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %+v", len(out.Frames), out.Frames)
	}

	first := out.Frames[0]
	if first.File != "/usr/lib/python3/bdb.py" || first.Line != 600 {
		t.Errorf("unexpected outermost frame: %+v", first)
	}
	if first.Function != "run()" {
		t.Errorf("expected function run(), got %q", first.Function)
	}

	mod := out.Frames[1]
	if mod.File != "string" || mod.Line != 1 {
		t.Errorf("unexpected module frame: %+v", mod)
	}
	if mod.Code != "" {
		t.Errorf("one-line frame should carry no code, got %q", mod.Code)
	}

	last := out.Frames[3]
	if !last.IsCurrent {
		t.Error("innermost frame should be current")
	}
	if last.File != "/app/main.py" || last.Line != 1 {
		t.Errorf("unexpected current frame: %+v", last)
	}
	if last.Code != " def helper(n):" {
		t.Errorf("unexpected frame code: %q", last.Code)
	}

	for i, f := range out.Frames[:3] {
		if f.IsCurrent {
			t.Errorf("frame %d should not be current", i)
		}
	}
}

func TestParseCurrentFrame(t *testing.T) {
	raw := "> /app/main.py(2)main()\n-> x = 10\n"

	out := Parse(raw)
	frame, ok := out.CurrentFrame()
	if !ok {
		t.Fatal("expected a current frame")
	}
	if frame.File != "/app/main.py" || frame.Line != 2 || frame.Function != "main()" {
		t.Errorf("unexpected frame: %+v", frame)
	}
	if frame.HasRetval {
		t.Error("frame should not carry a return value")
	}
}

func TestParseRetvalAnnotation(t *testing.T) {
	raw := "--Return--\n" +
		"> /app/main.py(2)helper()->20\n" +
		"-> return n * 2\n"

	out := Parse(raw)

	if out.Marker != MarkerReturn {
		t.Errorf("expected return marker, got %q", out.Marker)
	}
	frame, ok := out.CurrentFrame()
	if !ok {
		t.Fatal("expected a current frame")
	}
	if frame.Function != "helper()" {
		t.Errorf("expected function helper(), got %q", frame.Function)
	}
	if !frame.HasRetval || frame.Retval != "20" {
		t.Errorf("expected retval 20, got %q (has=%v)", frame.Retval, frame.HasRetval)
	}
}

func TestParseProgramOutput(t *testing.T) {
	raw := "hello world\nresult: 20\n" +
		"> /app/main.py(5)main()\n" +
		"-> print('done')\n"

	out := Parse(raw)

	if out.ProgramOutput != "hello world\nresult: 20" {
		t.Errorf("unexpected program output: %q", out.ProgramOutput)
	}
	if len(out.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(out.Frames))
	}
	if out.Marker != "" {
		t.Errorf("expected no marker, got %q", out.Marker)
	}
}

func TestParseFinishedMarker(t *testing.T) {
	raw := "final output\nThe program finished and will be restarted\n" +
		"> /app/main.py(1)<module>()\n" +
		"-> def helper(n):\n"

	out := Parse(raw)

	if out.Marker != MarkerFinished {
		t.Errorf("expected finished marker, got %q", out.Marker)
	}
	if out.ProgramOutput != "final output\n" {
		t.Errorf("marker should bound program output, got %q", out.ProgramOutput)
	}
}

func TestParseCallMarker(t *testing.T) {
	raw := "--Call--\n" +
		"> /app/main.py(1)helper()\n" +
		"-> def helper(n):\n"

	out := Parse(raw)

	if out.Marker != MarkerCall {
		t.Errorf("expected call marker, got %q", out.Marker)
	}
	if out.ProgramOutput != "" {
		t.Errorf("expected empty program output, got %q", out.ProgramOutput)
	}
}

func TestParseEarliestMarkerWins(t *testing.T) {
	raw := "--Return--\n" +
		"> /app/main.py(9)main()->None\n" +
		"-> print('--Call--')\n"

	out := Parse(raw)
	if out.Marker != MarkerReturn {
		t.Errorf("expected the first marker to win, got %q", out.Marker)
	}
}

func TestParseListingIsNotAFrame(t *testing.T) {
	raw := "  1     def main():\n" +
		"  2  ->     x = 10\n" +
		"  3         y = helper(10)\n"

	out := Parse(raw)

	if len(out.Frames) != 0 {
		t.Errorf("listing lines must not parse as frames: %+v", out.Frames)
	}
}

func TestParseEmptyAndPlain(t *testing.T) {
	for _, raw := range []string{"", "just some text\nmore text"} {
		out := Parse(raw)
		if len(out.Frames) != 0 {
			t.Errorf("Parse(%q) produced frames: %+v", raw, out.Frames)
		}
		if out.ProgramOutput != raw {
			t.Errorf("Parse(%q) program output = %q", raw, out.ProgramOutput)
		}
	}
}

func TestSplitRetval(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		retval string
		ok     bool
	}{
		{"main()", "main()", "", false},
		{"helper()->20", "helper()", "20", true},
		{"<module>()->None", "<module>()", "None", true},
		{"f()->'a->b'", "f()", "'a->b'", true},
	}
	for _, tt := range tests {
		name, retval, ok := splitRetval(tt.in)
		if name != tt.name || retval != tt.retval || ok != tt.ok {
			t.Errorf("splitRetval(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, name, retval, ok, tt.name, tt.retval, tt.ok)
		}
	}
}
