package diag

import (
	"errors"
	"testing"

	"src.xyfit.dev/pkg/testutil"
)

func setMarkers(t *testing.T) {
	testutil.Set(t, &culpritStart, "<")
	testutil.Set(t, &culpritEnd, ">")
	testutil.Set(t, &messageStart, "{")
	testutil.Set(t, &messageEnd, "}")
}

func TestSyntaxError(t *testing.T) {
	setMarkers(t)
	//                                     0123456789
	err := NewSyntaxError("[test]", "Y = y + )", Ranging{8, 9}, "unexpected %s", "')'")

	wantError := "syntax error: [test]:1:9: unexpected ')'"
	if got := err.Error(); got != wantError {
		t.Errorf("Error() -> %q, want %q", got, wantError)
	}
	if got := err.Range(); got != (Ranging{8, 9}) {
		t.Errorf("Range() -> %v, want %v", got, Ranging{8, 9})
	}
	wantShow := "Syntax error: {unexpected ')'}\n  [test]:1:9: Y = y + <)>"
	if got := err.Show(""); got != wantShow {
		t.Errorf("Show() -> %q, want %q", got, wantShow)
	}
	if err.Partial {
		t.Errorf("Partial = true for error before end of input")
	}
}

func TestSyntaxError_AtEndIsPartial(t *testing.T) {
	err := NewSyntaxError("[test]", "Y = (", PointRanging(5), "unexpected end of input")
	if !err.Partial {
		t.Errorf("Partial = false for error at end of input")
	}
}

func TestExecuteError_NoContext(t *testing.T) {
	setMarkers(t)
	err := Executef("stack overflow (%d values)", 128)
	if got, want := err.Error(), "execute error: stack overflow (128 values)"; got != want {
		t.Errorf("Error() -> %q, want %q", got, want)
	}
	if got, want := err.Show(""), "Execute error: {stack overflow (128 values)}"; got != want {
		t.Errorf("Show() -> %q, want %q", got, want)
	}
}

func TestUnpackErrors(t *testing.T) {
	e1 := NewSyntaxError("a", "x", Ranging{0, 1}, "one")
	e2 := NewSyntaxError("b", "y", Ranging{0, 1}, "two")
	e3 := Executef("three")

	joined := errors.Join(e1, e3, e2)
	syntax := UnpackErrors[SyntaxTag](joined)
	if len(syntax) != 2 || syntax[0] != e1 || syntax[1] != e2 {
		t.Errorf("UnpackErrors[SyntaxTag] -> %v, want [e1 e2]", syntax)
	}
	if got := UnpackErrors[ExecuteTag](joined); len(got) != 1 || got[0] != e3 {
		t.Errorf("UnpackErrors[ExecuteTag] -> %v, want [e3]", got)
	}
	if got := UnpackErrors[SyntaxTag](errors.New("plain")); got != nil {
		t.Errorf("UnpackErrors of plain error -> %v, want nil", got)
	}
	if got := Messages[SyntaxTag](joined); got != "one\ntwo" {
		t.Errorf("Messages -> %q", got)
	}
	if !IsSyntaxError(e1) || IsSyntaxError(e3) || !IsExecuteError(e3) {
		t.Errorf("IsSyntaxError/IsExecuteError misclassify")
	}
}
