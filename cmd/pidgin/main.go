// Pidgin CLI - compiles and runs pidgin programs
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/pidgin/cache"
	"github.com/chazu/pidgin/compiler"
	"github.com/chazu/pidgin/manifest"
	"github.com/chazu/pidgin/session"
	"github.com/chazu/pidgin/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Int("v", -1, "Log verbosity (overrides pidgin.toml)")
	interactive := flag.Bool("i", false, "Start interactive REPL after running files")
	disasm := flag.Bool("disasm", false, "Print the bytecode of each form as it is evaluated")
	output := flag.String("o", "", "Write the compiled final form to this .pbc file instead of running it")
	runBytecode := flag.String("run-bytecode", "", "Evaluate a compiled .pbc file")
	noCache := flag.Bool("no-cache", false, "Do not read or write the compiled program cache")
	stats := flag.Bool("stats", false, "Print session statistics on exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pidgin [options] [file.pdg]\n\n")
		fmt.Fprintf(os.Stderr, "Evaluates the forms of a pidgin file and prints the value of the last.\n")
		fmt.Fprintf(os.Stderr, "Settings are read from the nearest pidgin.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pidgin                          # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  pidgin main.pdg                 # Run main.pdg\n")
		fmt.Fprintf(os.Stderr, "  pidgin -disasm main.pdg         # Run, printing bytecode per form\n")
		fmt.Fprintf(os.Stderr, "  pidgin -o main.pbc main.pdg     # Compile the last form to main.pbc\n")
		fmt.Fprintf(os.Stderr, "  pidgin -run-bytecode main.pbc   # Run a compiled file\n")
	}
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default(wd)
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	commonlog.Configure(verbosity, m.LogFile())

	var options []session.Option
	options = append(options, session.WithMaxFrames(m.VM.MaxFrames), session.WithTrace(m.VM.Trace))
	if *disasm {
		options = append(options, session.WithInspect(printDisassembly))
	}
	if m.CacheEnabled() && !*noCache && *output == "" {
		c, err := cache.Open(m.CachePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache disabled: %v\n", err)
		} else {
			defer c.Close()
			options = append(options, session.WithCache(c))
		}
	}

	s := session.New(m.Options(), options...)
	defer s.Close()

	for _, path := range m.PreludePaths() {
		v, err := s.EvalFile(path)
		if err != nil {
			fail(err)
		}
		v.Release()
	}

	path := flag.Arg(0)
	if path == "" && m.Project.Entry != "" && *runBytecode == "" && !*interactive {
		path = filepath.Join(m.Dir, m.Project.Entry)
	}

	switch {
	case *runBytecode != "":
		result, err := runFile(s, *runBytecode)
		if err != nil {
			fail(err)
		}
		printResult(result)
	case *output != "":
		if path == "" {
			fail(errors.New("-o needs a source file"))
		}
		if err := compileFile(s, path, *output); err != nil {
			fail(err)
		}
	case path != "":
		forms, err := parseFile(path)
		if err != nil {
			fail(err)
		}
		result, err := s.EvalForms(forms)
		if err != nil {
			fail(fmt.Errorf("%s: %w", path, err))
		}
		printResult(result)
	}

	if *interactive || (path == "" && *runBytecode == "") {
		runREPL(s, *disasm)
	}

	if *stats {
		st := s.Stats()
		fmt.Fprintf(os.Stderr, "forms: %d, cache hits: %d, misses: %d, uncached: %d\n",
			st.Forms, st.CacheHits, st.CacheMisses, st.Uncached)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printResult(v vm.Value) {
	fmt.Println(v.String())
	v.Release()
}

func printDisassembly(form compiler.Node, p *vm.Program) {
	fmt.Printf("; %s\n%s\n", form, p.Disassemble())
}

// compileFile evaluates every form of path but the last, then writes the
// last form's program to out.
func compileFile(s *session.Session, path, out string) error {
	forms, err := parseFile(path)
	if err != nil {
		return err
	}
	if len(forms) == 0 {
		return fmt.Errorf("%s: no forms to compile", path)
	}
	v, err := s.EvalForms(forms[:len(forms)-1])
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	v.Release()

	p, err := s.Compile(forms[len(forms)-1])
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	data, err := vm.MarshalProgram(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	return nil
}

// runFile evaluates a compiled program against the session's globals.
func runFile(s *session.Session, path string) (vm.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.Nil, fmt.Errorf("reading %s: %w", path, err)
	}
	p, err := vm.UnmarshalProgram(data)
	if err != nil {
		return vm.Nil, fmt.Errorf("%s: %w", path, err)
	}
	return s.Run(p, [32]byte{})
}

func parseFile(path string) ([]compiler.Node, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	forms, err := compiler.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return forms, nil
}

// ---------------------------------------------------------------------------
// REPL
// ---------------------------------------------------------------------------

func runREPL(s *session.Session, disasm bool) {
	fmt.Println("Pidgin REPL (type 'exit' to quit, ':help' for commands)")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	lineBuffer := strings.Builder{}

	for {
		// Show prompt
		if lineBuffer.Len() == 0 {
			fmt.Print(">> ")
		} else {
			fmt.Print(".. ")
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		// Handle exit
		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}

		// Handle REPL commands (start with ':')
		if lineBuffer.Len() == 0 && strings.HasPrefix(line, ":") {
			disasm = handleREPLCommand(s, line, disasm)
			continue
		}

		// Accumulate lines
		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		// Execute once every bracket is closed, or on an empty line
		input := strings.TrimSpace(lineBuffer.String())
		if input == "" {
			lineBuffer.Reset()
			continue
		}
		if line != "" && !complete(input) {
			continue
		}
		lineBuffer.Reset()
		evalAndPrint(s, input)
	}

	fmt.Println()
}

// complete reports whether input closes every bracket it opens.
func complete(input string) bool {
	depth := 0
	for _, tok := range compiler.Tokenize(input) {
		switch tok.Type {
		case compiler.TokenLParen, compiler.TokenLBracket, compiler.TokenLBrace, compiler.TokenHashBrace:
			depth++
		case compiler.TokenRParen, compiler.TokenRBracket, compiler.TokenRBrace:
			depth--
		case compiler.TokenError:
			return tok.Literal != "unterminated string"
		}
	}
	return depth <= 0
}

func evalAndPrint(s *session.Session, input string) {
	forms, err := compiler.Parse(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	for _, form := range forms {
		v, err := s.EvalForm(form)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		fmt.Println(v.String())
		v.Release()
	}
}

// handleREPLCommand handles REPL meta-commands and returns the new disasm
// setting.
func handleREPLCommand(s *session.Session, cmd string, disasm bool) bool {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Println("REPL Commands:")
		fmt.Println("  :help, :h, :?     Show this help")
		fmt.Println("  :globals          List global names")
		fmt.Println("  :disasm           Toggle bytecode printing")
		fmt.Println("  :stats            Show session statistics")
		fmt.Println("  exit, quit        Exit REPL")
	case ":globals":
		for _, name := range s.Environment().Names() {
			fmt.Println(name)
		}
	case ":disasm":
		disasm = !disasm
		if disasm {
			s.SetInspect(printDisassembly)
		} else {
			s.SetInspect(nil)
		}
		fmt.Printf("Disassembly %s\n", map[bool]string{true: "on", false: "off"}[disasm])
	case ":stats":
		st := s.Stats()
		fmt.Printf("forms: %d, cache hits: %d, misses: %d, uncached: %d\n",
			st.Forms, st.CacheHits, st.CacheMisses, st.Uncached)
	default:
		fmt.Printf("Unknown command: %s (type :help for commands)\n", cmd)
	}
	return disasm
}
