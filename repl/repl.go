// Package repl implements the interactive read-eval-print loop.
package repl

import (
	"bufio"
	"fmt"
	"io"

	"github.com/chazu/perch/compiler"
	"github.com/chazu/perch/vm"
)

const prompt = "> "

// REPL reads lines, compiles each independently, and executes them against
// a shared VM: globals and interned strings persist between lines, and
// errors leave that state intact.
type REPL struct {
	machine *vm.VM
	out     io.Writer
	errOut  io.Writer
	history *History
}

// New creates a REPL around the given VM. history may be nil, in which case
// input is not persisted.
func New(machine *vm.VM, out, errOut io.Writer, history *History) *REPL {
	return &REPL{
		machine: machine,
		out:     out,
		errOut:  errOut,
		history: history,
	}
}

// Run loops until input is exhausted. Compile and runtime errors are
// reported and the loop continues.
func (r *REPL) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(r.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		if r.history != nil {
			// History is best-effort; a full disk should not kill the session.
			if err := r.history.Append(line); err != nil {
				fmt.Fprintf(r.errOut, "history: %v\n", err)
			}
		}

		r.Eval(line)
	}
}

// Eval compiles and runs one line of input.
func (r *REPL) Eval(line string) vm.InterpretResult {
	fn, diags := compiler.Compile(line, r.machine)
	if fn == nil {
		for _, d := range diags {
			fmt.Fprintln(r.errOut, d)
		}
		return vm.InterpretOK
	}
	return r.machine.Interpret(fn)
}
