// Perch CLI - the main entry point for running Perch programs
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/perch/compiler"
	"github.com/chazu/perch/manifest"
	"github.com/chazu/perch/repl"
	"github.com/chazu/perch/server"
	"github.com/chazu/perch/vm"
	"github.com/chazu/perch/vm/dist"
)

// Exit codes follow the BSD sysexits convention.
const (
	exOK       = 0
	exUsage    = 64 // bad command line
	exDataErr  = 65 // compile error
	exSoftware = 70 // runtime error
	exIOErr    = 74 // cannot read or write a file
)

func main() {
	os.Exit(run())
}

func run() int {
	trace := flag.Bool("trace", false, "Dump the stack and each instruction while executing")
	disassemble := flag.Bool("disassemble", false, "Print the compiled bytecode before executing")
	compileOut := flag.String("compile", "", "Write the compiled chunk snapshot to the given path instead of executing")
	configDir := flag.String("config", "", "Directory containing perch.toml (default: next to the script, or the working directory)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	verbosity := flag.Int("verbosity", 0, "Log verbosity (0 = quiet)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: perch [options] [script]\n\n")
		fmt.Fprintf(os.Stderr, "With no script, starts an interactive session.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  perch                   # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  perch game.perch        # Run a script\n")
		fmt.Fprintf(os.Stderr, "  perch -trace game.perch # Run with execution tracing\n")
		fmt.Fprintf(os.Stderr, "  perch -lsp              # Start the language server\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)
	log := commonlog.GetLogger("perch.cli")

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Language server error: %v\n", err)
			return exSoftware
		}
		return exOK
	}

	args := flag.Args()
	switch len(args) {
	case 0:
		return runREPL(log, *configDir, *trace)
	case 1:
		return runFile(log, args[0], *configDir, *trace, *disassemble, *compileOut)
	default:
		flag.Usage()
		return exUsage
	}
}

// loadConfig resolves the manifest for a run: an explicit -config directory
// wins, otherwise the search walks up from dir.
func loadConfig(log commonlog.Logger, configDir, dir string) (vm.Config, int) {
	var (
		man *manifest.Manifest
		err error
	)
	if configDir != "" {
		man, err = manifest.Load(configDir)
	} else {
		man, err = manifest.FindAndLoad(dir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return vm.Config{}, exIOErr
	}
	if man.Dir != "" {
		log.Infof("loaded %s from %s", manifest.FileName, man.Dir)
	}
	return man.Config(), -1
}

func runFile(log commonlog.Logger, path, configDir string, trace, disassemble bool, compileOut string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open file \"%s\".\n", path)
		return exIOErr
	}

	config, status := loadConfig(log, configDir, filepath.Dir(path))
	if status != -1 {
		return status
	}
	config.TraceExecution = config.TraceExecution || trace

	machine := vm.New(config)
	fn, diags := compiler.Compile(string(source), machine)
	if fn == nil {
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d)
		}
		return exDataErr
	}

	if disassemble {
		vm.DisassembleChunk(os.Stdout, &fn.Chunk, "script")
	}

	if compileOut != "" {
		data, err := dist.Marshal(fn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exSoftware
		}
		if err := os.WriteFile(compileOut, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write \"%s\".\n", compileOut)
			return exIOErr
		}
		log.Infof("wrote chunk snapshot to %s", compileOut)
		return exOK
	}

	if machine.Interpret(fn) != vm.InterpretOK {
		return exSoftware
	}
	return exOK
}

func runREPL(log commonlog.Logger, configDir string, trace bool) int {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	config, status := loadConfig(log, configDir, cwd)
	if status != -1 {
		return status
	}
	config.TraceExecution = config.TraceExecution || trace

	machine := vm.New(config)

	history := openHistory(log)
	if history != nil {
		defer history.Close()
	}

	fmt.Println("Perch interactive session. Ctrl-D exits.")
	r := repl.New(machine, os.Stdout, os.Stderr, history)
	if err := r.Run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exSoftware
	}
	return exOK
}

// openHistory opens ~/.perch_history.db. History is a convenience; any
// failure degrades to an unpersisted session.
func openHistory(log commonlog.Logger) *repl.History {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	history, err := repl.OpenHistory(filepath.Join(home, ".perch_history.db"))
	if err != nil {
		log.Errorf("history unavailable: %v", err)
		return nil
	}
	return history
}
