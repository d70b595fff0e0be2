package repl

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/perch/vm"
)

func newTestREPL() (*REPL, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	m := vm.New(vm.DefaultConfig())
	m.SetOutput(&out)
	m.SetErrorOutput(&errOut)
	return New(m, &out, &errOut, nil), &out, &errOut
}

func TestEvalSharesState(t *testing.T) {
	r, out, _ := newTestREPL()

	r.Eval(`var x = 41;`)
	r.Eval(`print x + 1;`)

	if !strings.Contains(out.String(), "42\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEvalReportsCompileErrors(t *testing.T) {
	r, _, errOut := newTestREPL()

	r.Eval(`var = 1;`)

	if !strings.Contains(errOut.String(), "Error at '='") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestEvalContinuesAfterRuntimeError(t *testing.T) {
	r, out, errOut := newTestREPL()

	r.Eval(`var x = 1;`)
	if got := r.Eval(`print x + nil;`); got != vm.InterpretRuntimeError {
		t.Fatalf("expected runtime error, got %v", got)
	}
	if !strings.Contains(errOut.String(), "Operands must be") {
		t.Errorf("stderr = %q", errOut.String())
	}

	r.Eval(`print x;`)
	if !strings.Contains(out.String(), "1\n") {
		t.Errorf("globals should survive a runtime error; output = %q", out.String())
	}
}

func TestRunLoop(t *testing.T) {
	r, out, _ := newTestREPL()

	input := strings.NewReader("var greeting = \"hello\";\nprint greeting;\n")
	if err := r.Run(input); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "hello\n") {
		t.Errorf("output = %q", out.String())
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryAppendAndRecent(t *testing.T) {
	h := openTestHistory(t)

	for _, line := range []string{"print 1;", "print 2;", "print 3;"} {
		if err := h.Append(line); err != nil {
			t.Fatal(err)
		}
	}

	lines, err := h.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "print 2;" || lines[1] != "print 3;" {
		t.Errorf("Recent(2) = %v", lines)
	}
}

func TestHistorySessionID(t *testing.T) {
	h := openTestHistory(t)
	if h.Session() == "" {
		t.Error("session id must be set")
	}

	other, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if other.Session() == h.Session() {
		t.Error("each REPL run gets its own session id")
	}
}

func TestHistoryEmptyRecent(t *testing.T) {
	h := openTestHistory(t)
	lines, err := h.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Errorf("Recent on empty history = %v", lines)
	}
}
