package compiler

import (
	"fmt"

	"github.com/vida-lang/lambdac/tree"
)

// ErrorKind classifies compile errors.
type ErrorKind uint8

// Compile error kinds.
const (
	UndefinedVariable ErrorKind = iota + 1
	UndefinedLabel
	JumpIntoTry
	JumpIntoExpression
	LeaveFinally
	LeaveFilter
	NonLocalJumpWithValue
	AmbiguousJump
	LabelAlreadyDefined
	CaptureByRef
	ValueTypePropertyInit
	RethrowOutsideCatch
	ValueTypeSpill
	VariadicForbidden
	Unsupported
)

var errorKindNames = [...]string{
	UndefinedVariable:     "undefined variable",
	UndefinedLabel:        "undefined label",
	JumpIntoTry:           "jump into try",
	JumpIntoExpression:    "jump into expression",
	LeaveFinally:          "leave finally",
	LeaveFilter:           "leave filter",
	NonLocalJumpWithValue: "non-local jump with value",
	AmbiguousJump:         "ambiguous jump",
	LabelAlreadyDefined:   "label already defined",
	CaptureByRef:          "capture of by-reference variable",
	ValueTypePropertyInit: "value type property initializer",
	RethrowOutsideCatch:   "rethrow outside catch",
	ValueTypeSpill:        "value type spill",
	VariadicForbidden:     "variadic call forbidden",
	Unsupported:           "unsupported",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) && errorKindNames[k] != "" {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// CompileError is a hard error raised while compiling a lambda. Name is
// the variable, label or procedure the error is about.
type CompileError struct {
	Kind ErrorKind
	Name string
	Msg  string
}

func (e *CompileError) Error() string {
	return "compile error: " + e.Msg
}

// Is matches sentinels by kind, so errors.Is(err, ErrUndefinedLabel) holds
// for every undefined label error.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUndefinedVariable     = &CompileError{Kind: UndefinedVariable, Msg: "undefined variable"}
	ErrUndefinedLabel        = &CompileError{Kind: UndefinedLabel, Msg: "undefined label"}
	ErrJumpIntoTry           = &CompileError{Kind: JumpIntoTry, Msg: "jump into try"}
	ErrJumpIntoExpression    = &CompileError{Kind: JumpIntoExpression, Msg: "jump into expression"}
	ErrLeaveFinally          = &CompileError{Kind: LeaveFinally, Msg: "leave finally"}
	ErrLeaveFilter           = &CompileError{Kind: LeaveFilter, Msg: "leave filter"}
	ErrNonLocalJumpWithValue = &CompileError{Kind: NonLocalJumpWithValue, Msg: "non-local jump with value"}
	ErrAmbiguousJump         = &CompileError{Kind: AmbiguousJump, Msg: "ambiguous jump"}
	ErrLabelAlreadyDefined   = &CompileError{Kind: LabelAlreadyDefined, Msg: "label already defined"}
	ErrCaptureByRef          = &CompileError{Kind: CaptureByRef, Msg: "capture of by-reference variable"}
	ErrValueTypePropertyInit = &CompileError{Kind: ValueTypePropertyInit, Msg: "value type property initializer"}
	ErrRethrowOutsideCatch   = &CompileError{Kind: RethrowOutsideCatch, Msg: "rethrow outside catch"}
	ErrValueTypeSpill        = &CompileError{Kind: ValueTypeSpill, Msg: "value type spill"}
	ErrVariadicForbidden     = &CompileError{Kind: VariadicForbidden, Msg: "variadic call forbidden"}
	ErrUnsupported           = &CompileError{Kind: Unsupported, Msg: "unsupported"}
)

// fail aborts the compilation. Compile recovers the error.
func fail(err *CompileError) {
	panic(err)
}

func undefinedVariableError(v *tree.Parameter, lambda string) *CompileError {
	return &CompileError{Kind: UndefinedVariable, Name: v.String(),
		Msg: fmt.Sprintf("variable '%v' referenced from lambda '%v' is not defined in any enclosing scope", v, lambda)}
}

func undefinedLabelError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: UndefinedLabel, Name: l.String(),
		Msg: fmt.Sprintf("cannot jump to undefined label '%v'", l)}
}

func jumpIntoTryError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: JumpIntoTry, Name: l.String(),
		Msg: fmt.Sprintf("control cannot enter a try block to reach label '%v'", l)}
}

func jumpIntoExpressionError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: JumpIntoExpression, Name: l.String(),
		Msg: fmt.Sprintf("control cannot enter an expression to reach label '%v'", l)}
}

func leaveFinallyError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: LeaveFinally, Name: l.String(),
		Msg: fmt.Sprintf("control cannot leave a finally block to reach label '%v'", l)}
}

func leaveFilterError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: LeaveFilter, Name: l.String(),
		Msg: fmt.Sprintf("control cannot leave a filter test to reach label '%v'", l)}
}

func nonLocalJumpWithValueError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: NonLocalJumpWithValue, Name: l.String(),
		Msg: fmt.Sprintf("jump to label '%v' carries a value but is not a jump to an enclosing block", l)}
}

func ambiguousJumpError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: AmbiguousJump, Name: l.String(),
		Msg: fmt.Sprintf("cannot jump to ambiguous label '%v'", l)}
}

func labelAlreadyDefinedError(l *tree.LabelTarget) *CompileError {
	return &CompileError{Kind: LabelAlreadyDefined, Name: l.String(),
		Msg: fmt.Sprintf("label '%v' is already defined in an enclosing block", l)}
}

func captureByRefError(v *tree.Parameter) *CompileError {
	return &CompileError{Kind: CaptureByRef, Name: v.String(),
		Msg: fmt.Sprintf("by-reference variable '%v' cannot be captured by a nested lambda", v)}
}

func valueTypePropertyInitError(name string) *CompileError {
	return &CompileError{Kind: ValueTypePropertyInit, Name: name,
		Msg: fmt.Sprintf("cannot initialize members of value type property '%v'", name)}
}

func rethrowOutsideCatchError(lambda string) *CompileError {
	return &CompileError{Kind: RethrowOutsideCatch, Name: lambda,
		Msg: fmt.Sprintf("rethrow outside of a catch block in lambda '%v'", lambda)}
}

func valueTypeSpillError(n tree.Node) *CompileError {
	return &CompileError{Kind: ValueTypeSpill, Name: n.Type().String(),
		Msg: fmt.Sprintf("value of type %v used as an assignment or call target cannot be spilled", n.Type())}
}

func variadicForbiddenError(name string) *CompileError {
	return &CompileError{Kind: VariadicForbidden, Name: name,
		Msg: fmt.Sprintf("variadic function '%v' cannot be invoked as a procedure", name)}
}

func unsupportedError(what string) *CompileError {
	return &CompileError{Kind: Unsupported, Name: what, Msg: "unsupported: " + what}
}
