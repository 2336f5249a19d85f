package vm

import (
	"fmt"
	"reflect"
)

// TypeOf returns the dynamic type of a machine value. Closures report the
// Go func type of their procedure.
func TypeOf(v any) reflect.Type {
	if c, ok := v.(*Closure); ok {
		return c.Function.Type
	}
	return reflect.TypeOf(v)
}

// IsAssignable reports whether v is a non-nil value assignable to t.
func IsAssignable(v any, t reflect.Type) bool {
	if IsNil(v) {
		return false
	}
	return TypeOf(v).AssignableTo(t)
}

// Func returns the closure as a Go function value of the procedure's type.
// Calls through the function run on a pooled machine; an uncaught
// exception panics with the *Exception.
func (c *Closure) Func() reflect.Value {
	c.once.Do(func() {
		ft := c.Function.Type
		c.fn = reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
			args := make([]any, len(in))
			for i, a := range in {
				args[i] = FromHost(a)
			}
			result, err := Call(c, args...)
			if err != nil {
				panic(err)
			}
			if ft.NumOut() == 0 {
				return nil
			}
			return []reflect.Value{ToHost(result, ft.Out(0))}
		})
	})
	return c.fn
}

// ToHost converts a machine value to a reflect.Value of type t.
func ToHost(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	var rv reflect.Value
	if c, ok := v.(*Closure); ok {
		rv = c.Func()
	} else {
		rv = reflect.ValueOf(v)
	}
	if rv.Type() == t {
		return rv
	}
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	panic(InvalidCastError(v, t))
}

// FromHost converts a reflect.Value into a machine value.
func FromHost(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

// hostArgs converts machine arguments for a call of a function of type ft.
func hostArgs(ft reflect.Type, args []any, spread bool) []reflect.Value {
	in := make([]reflect.Value, len(args))
	n := ft.NumIn()
	for i, a := range args {
		var pt reflect.Type
		switch {
		case ft.IsVariadic() && i >= n-1 && !spread:
			pt = ft.In(n - 1).Elem()
		default:
			pt = ft.In(i)
		}
		in[i] = ToHost(a, pt)
	}
	return in
}

// callHost calls fn and returns its result. A trailing non-nil error is
// returned as the error to throw, and so is a panic raised by fn.
func callHost(fn reflect.Value, args []any, spread, throws, result bool) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, hostFault(r)
		}
	}()
	in := hostArgs(fn.Type(), args, spread)
	var out []reflect.Value
	if spread {
		out = fn.CallSlice(in)
	} else {
		out = fn.Call(in)
	}
	if throws {
		if err := out[len(out)-1]; !err.IsNil() {
			return nil, err.Interface().(error)
		}
	}
	if result {
		return FromHost(out[0]), nil
	}
	return nil, nil
}

// callValue invokes a callable machine value held by host code.
func callValue(callee any, args []any) (v any, has bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, has, err = nil, false, hostFault(r)
		}
	}()
	rv := reflect.ValueOf(callee)
	if rv.Kind() != reflect.Func {
		return nil, false, NotCallableError(callee)
	}
	if rv.IsNil() {
		return nil, false, NilDereferenceError("call of nil func")
	}
	out := rv.Call(hostArgs(rv.Type(), args, false))
	switch len(out) {
	case 0:
		return nil, false, nil
	case 1:
		return FromHost(out[0]), true, nil
	}
	last := out[len(out)-1]
	if last.Type() == errorType && !last.IsNil() {
		return nil, false, last.Interface().(error)
	}
	return FromHost(out[0]), true, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// method resolves a method by name on the dynamic value of recv.
func method(recv any, name string) (reflect.Value, error) {
	if recv == nil {
		return reflect.Value{}, NilDereferenceError(fmt.Sprintf("call of method %v", name))
	}
	var rv reflect.Value
	if c, ok := recv.(*Closure); ok {
		rv = c.Func()
	} else {
		rv = reflect.ValueOf(recv)
	}
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return reflect.Value{}, MethodNotDefined(name, recv)
	}
	return m, nil
}

// hostFault turns a panic raised while running host code into the error
// to throw.
func hostFault(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}

// thrownBy is the value thrown for an error raised by a call. Exceptions
// escaping nested machines keep their original value.
func thrownBy(err error) any {
	if exc, ok := err.(*Exception); ok {
		return exc.Value
	}
	return err
}
