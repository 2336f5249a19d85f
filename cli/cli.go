package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vida-lang/lambdac/compiler"
	"github.com/vida-lang/lambdac/stdlib"
	"github.com/vida-lang/lambdac/yamltree"
)

// Lambdac runs the command line interface on os.Args and exits with its
// status.
func Lambdac() {
	os.Exit(Main(os.Args[1:], os.Stdout, os.Stderr))
}

// CLI Options.
const (
	CIr         = "ir"
	CIrSimple   = "i"
	CRun        = "run"
	CRunSimple  = "r"
	CTime       = "time"
	CTimeSimple = "t"
	CVer        = "version"
	CVerSimple  = "v"
	CHelp       = "help"
	CHelpSimple = "h"
)

const (
	Name          = "lambdac"
	Header        = "Expression trees compiled to bytecode"
	Version       = "0.1.0"
	FileExtension = ".yaml"
)

// session holds what one invocation writes to and how.
type session struct {
	stdout, stderr io.Writer
	color          bool
	opts           compiler.Options
}

// Main runs the command given by args and returns the exit status.
func Main(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stdout)
		return 0
	}
	s := &session{stdout: stdout, stderr: stderr, color: isTerminal(stdout)}
	switch args[0] {
	case CVer, CVerSimple:
		printVersion(stdout)
		return 0
	case CHelp, CHelpSimple:
		printHelp(stdout)
		return 0
	case CIr, CIrSimple:
		return s.command(args[1:], s.showBytecode)
	case CRun, CRunSimple:
		return s.command(args[1:], s.runPrograms)
	case CTime, CTimeSimple:
		return s.command(args[1:], s.timePrograms)
	default:
		return s.command(args, s.runPrograms)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// command parses the flags shared by the file commands and applies fn to
// every file named after them.
func (s *session) command(args []string, fn func(path string) error) int {
	fs := flag.NewFlagSet(Name, flag.ContinueOnError)
	fs.SetOutput(s.stderr)
	verbose := fs.Bool("log", false, "log compiler decisions to stderr")
	optsPath := fs.String("options", "", "YAML file of compiler options")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(s.stderr, "%v: no %v files given\n", Name, FileExtension)
		return 2
	}

	s.opts = compiler.DefaultOptions()
	if *optsPath != "" {
		o, err := compiler.LoadOptions(*optsPath)
		if err != nil {
			fmt.Fprintf(s.stderr, "%v\n", err)
			return 1
		}
		s.opts = o
	}
	if *verbose {
		s.opts.Logger = slog.New(slog.NewTextHandler(s.stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	status := 0
	for _, arg := range fs.Args() {
		if !strings.HasSuffix(arg, FileExtension) {
			fmt.Fprintf(s.stderr, "The file '%v' is not a %v program\n", arg, Name)
			status = 1
			continue
		}
		path, err := filepath.Abs(arg)
		if err == nil {
			err = fn(path)
		}
		if err != nil {
			fmt.Fprintf(s.stderr, "%v\n", err)
			status = 1
		}
	}
	return status
}

// compiled pairs a program with its procedure.
type compiled struct {
	prog *yamltree.Program
	proc *compiler.Procedure
}

// load reads the programs of path and compiles them concurrently. The
// result keeps the order of the documents in the file.
func (s *session) load(path string) ([]compiled, error) {
	funcs, err := stdlib.Load(s.stdout)
	if err != nil {
		return nil, err
	}
	funcs["print"] = funcs["fmt.println"]
	progs, err := yamltree.Load(path, funcs)
	if err != nil {
		return nil, err
	}
	out := make([]compiled, len(progs))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range progs {
		g.Go(func() error {
			proc, err := compiler.CompileWithOptions(p.Lambda, s.opts)
			if err != nil {
				return fmt.Errorf("%v:%v: %v: %w", path, p.Line, p.Name, err)
			}
			out[i] = compiled{prog: p, proc: proc}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// errFailed reports that at least one program threw or missed its result.
var errFailed = errors.New("some programs failed")

func (s *session) runPrograms(path string) error {
	cs, err := s.load(path)
	if err != nil {
		return err
	}
	return s.runAll(cs)
}

func (s *session) runAll(cs []compiled) error {
	failed := false
	for _, c := range cs {
		got, err := c.proc.Call(c.prog.Args...)
		if err != nil {
			fmt.Fprintf(s.stdout, "%v: %v\n", s.paint(c.prog.Name, red), err)
			failed = true
			continue
		}
		if err := c.prog.Check(got); err != nil {
			fmt.Fprintf(s.stdout, "%v: %v\n", s.paint("FAIL", red), err)
			failed = true
			continue
		}
		if c.proc.Type().NumOut() > 0 {
			fmt.Fprintf(s.stdout, "%v => %v\n", s.paint(c.prog.Name, green), show(got))
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func (s *session) timePrograms(path string) error {
	start := time.Now()
	cs, err := s.load(path)
	if err != nil {
		return err
	}
	compiling := time.Since(start)
	err = s.runAll(cs)
	running := time.Since(start) - compiling
	fmt.Fprintf(s.stdout, "\n\n   %v\n   Compiling : %v\n   Running   : %v\n   Total     : %v\n\n", s.paint("Time Elapsed", bold), compiling, running, compiling+running)
	return err
}

func (s *session) showBytecode(path string) error {
	cs, err := s.load(path)
	if err != nil {
		return err
	}
	if s.color {
		clearScreen(s.stdout)
	}
	fmt.Fprintf(s.stdout, "\n   %v\n   %v\n", s.paint("Human Readable Machine Code", bold), path)
	for _, c := range cs {
		c.proc.Disassemble(s.stdout)
	}
	fmt.Fprintln(s.stdout)
	return nil
}

// show prints the value held by an optional result rather than its address.
func show(v any) string {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "none"
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "none"
	}
	if rv.Kind() == reflect.String {
		return fmt.Sprintf("%q", rv.String())
	}
	return fmt.Sprint(rv.Interface())
}

const (
	bold  = "1"
	red   = "31"
	green = "32"
)

func (s *session) paint(text, code string) string {
	if !s.color {
		return text
	}
	return "\u001B[" + code + "m" + text + "\u001B[0m"
}

// clearScreen is an auxiliary function that clears the screen.
func clearScreen(w io.Writer) {
	fmt.Fprintf(w, "\u001B[H")
	fmt.Fprintf(w, "\u001B[2J")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "\n\n   %v\n   %v\n\n   Version %v\n   %v\n\n\n", Name, Header, Version, runtime.Version())
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "\n\n   %v\n   %v\n\n   Command Line Interface Usage:\n   %v [option]? [flags]? <file>%v...\n\n\n", Name, Header, Name, FileExtension)
	fmt.Fprintf(w, "   i/ir       Prints the bytecode of every program in a file\n")
	fmt.Fprintf(w, "   r/run      Runs the programs of a file and checks their results\n")
	fmt.Fprintf(w, "   t/time     Prints the time spent compiling and running a file\n")
	fmt.Fprintf(w, "   v/version  Shows the compiler version\n")
	fmt.Fprintf(w, "   h/help     Shows this message\n\n")
	fmt.Fprintf(w, "   Flags:\n")
	fmt.Fprintf(w, "   -log            Logs compiler decisions to stderr\n")
	fmt.Fprintf(w, "   -options file   Reads compiler options from a YAML file\n\n\n")
}
