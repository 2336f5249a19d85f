package compiler

import (
	"fmt"
	"io"
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// Procedure is a compiled lambda. It is immutable and may be called from
// several goroutines at once.
type Procedure struct {
	name    string
	typ     reflect.Type
	closure *vm.Closure
}

// Name returns the name of the procedure.
func (p *Procedure) Name() string { return p.name }

// Type returns the Go func type of the procedure.
func (p *Procedure) Type() reflect.Type { return p.typ }

// Closure returns the closure the procedure runs.
func (p *Procedure) Closure() *vm.Closure { return p.closure }

// Call runs the procedure. A value thrown and not caught is returned as a
// *vm.Exception.
func (p *Procedure) Call(args ...any) (any, error) {
	if len(args) != p.typ.NumIn() {
		return nil, fmt.Errorf("%v expects %v arguments, got %v", p.name, p.typ.NumIn(), len(args))
	}
	for i, a := range args {
		pt := p.typ.In(i)
		if a == nil {
			if !tree.CanBeNil(pt) {
				return nil, fmt.Errorf("argument %v of %v: nil is not a valid %v", i, p.name, pt)
			}
			continue
		}
		if !vm.IsAssignable(a, pt) {
			return nil, fmt.Errorf("argument %v of %v: %T is not assignable to %v", i, p.name, a, pt)
		}
	}
	v, err := vm.Call(p.closure, args...)
	if c, ok := v.(*vm.Closure); ok {
		v = c.Func().Interface()
	}
	return v, err
}

// Func returns the procedure as a Go function value of its type. An
// uncaught exception panics with the *vm.Exception.
func (p *Procedure) Func() reflect.Value { return p.closure.Func() }

// Interface returns the procedure as a Go function, ready for a type
// assertion to its func type.
func (p *Procedure) Interface() any { return p.Func().Interface() }

// Disassemble writes the code of the procedure and of the procedures
// nested in it.
func (p *Procedure) Disassemble(w io.Writer) { vm.Disassemble(w, p.closure) }
