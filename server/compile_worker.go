package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chazu/perch/compiler"
	"github.com/chazu/perch/vm"
)

// compileRequest is one document waiting to be checked.
type compileRequest struct {
	source string
	done   chan compileResult
}

type compileResult struct {
	diags []compiler.Diagnostic
	err   error
}

// CompileWorker owns the language server's compile VM. Compiling interns
// strings and allocates functions on the VM heap, and the Perch heap is
// single-threaded, so every diagnostics request is funneled through one
// goroutine. The compiled bytecode itself is discarded; the worker exists
// for the diagnostics and for the shared interning table, which makes
// repeated checks of the same document cheap.
type CompileWorker struct {
	machine  *vm.VM
	requests chan compileRequest
	quit     chan struct{}

	// Compile counters, readable from any goroutine.
	compiles    atomic.Uint64
	lastElapsed atomic.Int64 // nanoseconds
}

// NewCompileWorker starts a worker around the given VM.
func NewCompileWorker(machine *vm.VM) *CompileWorker {
	w := &CompileWorker{
		machine:  machine,
		requests: make(chan compileRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop serves compile requests sequentially on a dedicated goroutine.
func (w *CompileWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.compile(req.source)
		case <-w.quit:
			return
		}
	}
}

// compile runs one diagnostics pass, recovering from compiler panics so a
// malformed document cannot take the server down.
func (w *CompileWorker) compile(source string) compileResult {
	var result compileResult
	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("compile panic: %v", r)
			}
		}()
		_, result.diags = compiler.Compile(source, w.machine)
	}()
	w.compiles.Add(1)
	w.lastElapsed.Store(int64(time.Since(start)))
	return result
}

// Diagnose compiles source on the worker goroutine and blocks until the
// diagnostics are ready.
func (w *CompileWorker) Diagnose(source string) ([]compiler.Diagnostic, error) {
	req := compileRequest{
		source: source,
		done:   make(chan compileResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.diags, result.err
}

// Compiles returns how many documents the worker has checked.
func (w *CompileWorker) Compiles() uint64 {
	return w.compiles.Load()
}

// LastElapsed returns the duration of the most recent compile.
func (w *CompileWorker) LastElapsed() time.Duration {
	return time.Duration(w.lastElapsed.Load())
}

// Stop shuts down the worker goroutine.
func (w *CompileWorker) Stop() {
	close(w.quit)
}
