package vm

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinels for the run-time faults raised by the machine. Faults are
// thrown like any other value and can be caught as error.
var (
	ErrDivideByZero   = errors.New("attempt to perform a division by zero")
	ErrNilDereference = errors.New("attempt to dereference a nil value")
	ErrNoValue        = errors.New("optional value has no value")
	ErrInvalidCast    = errors.New("invalid cast")
	ErrIndexRange     = errors.New("index out of range")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrNoMethod       = errors.New("method not found")
)

// Error messages for type errors in binary operations.
func TypeErrorInBinaryOperator(op Operator, lhs, rhs any) error {
	return fmt.Errorf("type error with operator '%v' : (%T %v %T)", op, lhs, op, rhs)
}

// Error message for type errors in unary operations.
func TypeErrorInUnaryOperator(op Operator, value any) error {
	return fmt.Errorf("type error in unary operator '%v' : (%v%T)", op, op, value)
}

func DivisionByZeroError() error {
	return ErrDivideByZero
}

func NilDereferenceError(what string) error {
	return fmt.Errorf("%w: %s", ErrNilDereference, what)
}

func NoValueError() error {
	return ErrNoValue
}

func InvalidCastError(value any, t reflect.Type) error {
	return fmt.Errorf("%w: value of type %T to %v", ErrInvalidCast, value, t)
}

func IndexOutOfRangeError(length int, index int64) error {
	return fmt.Errorf("%w: index [%v] with length %v", ErrIndexRange, index, length)
}

func StackOverflowError(depth int) error {
	return fmt.Errorf("%w: more than %v frames", ErrStackOverflow, depth)
}

func MethodNotDefined(method string, value any) error {
	return fmt.Errorf("%w: the method '%v' is not defined for %T", ErrNoMethod, method, value)
}

func NotCallableError(value any) error {
	return fmt.Errorf("a value of type %T is not callable", value)
}

// PanicError carries a panic raised by host code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("host panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Exception is a thrown value that no handler caught.
type Exception struct {
	Value    any
	Function string
	Line     int
}

func (e *Exception) Error() string {
	where := e.Function
	if e.Line > 0 {
		where = fmt.Sprintf("%v:%v", e.Function, e.Line)
	}
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("uncaught exception in %v: %v", where, err)
	}
	return fmt.Sprintf("uncaught exception in %v: %v (%T)", where, e.Value, e.Value)
}

func (e *Exception) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
