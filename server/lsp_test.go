package server

import (
	"testing"

	"github.com/chazu/perch/compiler"
	"github.com/chazu/perch/vm"
)

func TestToProtocolDiagnostics(t *testing.T) {
	_, diags := compiler.Compile("var = 1;\nprint ;\n", vm.New(vm.DefaultConfig()))
	if len(diags) != 2 {
		t.Fatalf("expected 2 compile diagnostics, got %d", len(diags))
	}

	out := toProtocolDiagnostics(diags)
	if len(out) != 2 {
		t.Fatalf("expected 2 protocol diagnostics, got %d", len(out))
	}

	// LSP lines are zero-based.
	if out[0].Range.Start.Line != 0 {
		t.Errorf("first diagnostic line = %d, want 0", out[0].Range.Start.Line)
	}
	if out[1].Range.Start.Line != 1 {
		t.Errorf("second diagnostic line = %d, want 1", out[1].Range.Start.Line)
	}
	if *out[0].Severity != 1 {
		t.Errorf("severity = %v, want error", *out[0].Severity)
	}
	if out[0].Message == "" {
		t.Error("diagnostic message must not be empty")
	}
}

func TestToProtocolDiagnosticsEmpty(t *testing.T) {
	out := toProtocolDiagnostics(nil)
	if len(out) != 0 {
		t.Errorf("expected no diagnostics, got %d", len(out))
	}
}

func TestWorkerSerializesCompiles(t *testing.T) {
	w := NewCompileWorker(vm.New(vm.DefaultConfig()))
	defer w.Stop()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			diags, err := w.Diagnose(`print 1 + 2;`)
			if err != nil {
				t.Errorf("worker error: %v", err)
			}
			if len(diags) != 0 {
				t.Errorf("unexpected diagnostics: %v", diags)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if w.Compiles() != 4 {
		t.Errorf("Compiles() = %d, want 4", w.Compiles())
	}
}

func TestWorkerReportsDiagnostics(t *testing.T) {
	w := NewCompileWorker(vm.New(vm.DefaultConfig()))
	defer w.Stop()

	diags, err := w.Diagnose(`var = 1;`)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) == 0 {
		t.Fatal("expected diagnostics for a bad document")
	}
	if w.LastElapsed() < 0 {
		t.Error("LastElapsed must not be negative")
	}
}
