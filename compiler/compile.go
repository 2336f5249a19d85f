// Package compiler turns expression trees into procedures for the stack
// machine of package vm. A lambda is compiled in three passes: the spiller
// makes every control transfer happen on an empty operand stack, the binder
// resolves variables and decides which live in closure frames, and the
// generator emits the code of each procedure.
package compiler

import (
	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// Compile compiles l with the default options.
func Compile(l *tree.Lambda) (*Procedure, error) {
	return CompileWithOptions(l, Options{})
}

// CompileWithOptions compiles l. Nothing is kept from a compilation that
// fails.
func CompileWithOptions(l *tree.Lambda, opts Options) (p *Procedure, err error) {
	opts.setDefaults()
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*CompileError)
			if !ok {
				panic(r)
			}
			opts.Logger.Debug("compile failed", "lambda", l.Name, "kind", ce.Kind.String())
			p, err = nil, ce
		}
	}()

	guard := newStackGuard(opts.MaxRecursionDepth, opts.Logger)
	spilled := spill(l, guard, opts.Logger)
	a := bind(spilled, guard)
	name := l.Name
	if name == "" {
		name = "lambda"
	}
	fn, consts := newLambdaCompiler(a, &opts, guard, spilled, name).compile()
	return &Procedure{
		name:    name,
		typ:     l.Type(),
		closure: &vm.Closure{Function: fn, Constants: consts},
	}, nil
}
