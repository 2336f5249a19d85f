package vm

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

var (
	anyType = reflect.TypeOf((*any)(nil)).Elem()
	intType = reflect.TypeOf(0)
)

func imm(t *testing.T, v int64) Bytecode {
	t.Helper()
	b, ok := MakeInt(intType, v)
	if !ok {
		t.Fatalf("cannot encode %d", v)
	}
	return b
}

func TestImmediateRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, MinImmediate, MaxImmediate} {
		b, ok := MakeInt(intType, v)
		if !ok {
			t.Fatalf("%d not encodable", v)
		}
		if got := immediate(b.Operand()); got != int(v) {
			t.Fatalf("got %v, want %v", got, v)
		}
	}
	if _, ok := MakeInt(intType, MaxImmediate+1); ok {
		t.Fatal("out of range value encoded")
	}
	if _, ok := MakeInt(reflect.TypeOf(uint(0)), -1); ok {
		t.Fatal("negative unsigned encoded")
	}
	b, _ := MakeInt(reflect.TypeOf(int64(0)), 7)
	if got := immediate(b.Operand()); got != int64(7) {
		t.Fatalf("got %T", got)
	}
}

func TestBinaryOperators(t *testing.T) {
	type celsius float64
	tests := []struct {
		op   Operator
		a, b any
		want any
	}{
		{OpAdd, 2, 3, 5},
		{OpSub, int8(-128), int8(1), int8(127)},
		{OpPow, 3, 4, 81},
		{OpMod, 7.5, 2.0, 1.5},
		{OpAdd, "a", "b", "ab"},
		{OpLt, "a", "b", true},
		{OpShl, 1, uint8(4), 16},
		{OpAdd, celsius(1.5), celsius(2), celsius(3.5)},
		{OpEq, nil, (*int)(nil), true},
		{OpEq, []int{1}, []int{1}, false},
		{OpXor, true, false, true},
	}
	for _, tt := range tests {
		got, err := Binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%v %v %v: %v", tt.a, tt.op, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v %v %v = %v (%T), want %v (%T)", tt.a, tt.op, tt.b, got, got, tt.want, tt.want)
		}
	}
	if _, err := Binary(OpDiv, 1, 0); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("division by zero: %v", err)
	}
	if _, err := Binary(OpAdd, 1, "x"); err == nil {
		t.Fatal("mixed operands accepted")
	}
}

func TestCatchDivisionByZero(t *testing.T) {
	fn := &Function{
		Name:       "safeDiv",
		Arity:      2,
		LocalCount: 1,
		Code: []Bytecode{
			Make(OPGetArg, 0),
			Make(OPGetArg, 1),
			Make(OPBinary, int(OpDiv)),
			Make(OPSetLocal, 0),
			Make(OPLeave, 9),
			OPPop,
			imm(t, -1),
			Make(OPSetLocal, 0),
			Make(OPLeave, 9),
			Make(OPGetLocal, 0),
			Make(OPReturn, 1),
		},
		Handlers: []Handler{{Kind: HandlerCatch, TryStart: 0, TryEnd: 5, HandlerStart: 5, HandlerEnd: 9, CatchType: errorType}},
	}
	c := &Closure{Function: fn}
	for _, tt := range []struct{ a, b, want int }{{6, 3, 2}, {1, 0, -1}} {
		got, err := Call(c, tt.a, tt.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Fatalf("safeDiv(%d, %d) = %v, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFinallyRunsOnLeaveAndThrow(t *testing.T) {
	var log []string
	record := &HostFunc{Fn: reflect.ValueOf(func(s string) { log = append(log, s) })}
	fn := &Function{
		Name:  "guarded",
		Arity: 1,
		Code: []Bytecode{
			Make(OPConst, 1),
			Make2(OPCallHost, 0, 1),
			Make(OPGetArg, 0),
			Make(OPJumpIfFalse, 6),
			Make(OPConst, 2),
			OPThrow,
			Make(OPLeave, 10),
			Make(OPConst, 3),
			Make2(OPCallHost, 0, 1),
			OPEndFinally,
			imm(t, 0),
			Make(OPReturn, 1),
		},
		Handlers: []Handler{{Kind: HandlerFinally, TryStart: 0, TryEnd: 7, HandlerStart: 7, HandlerEnd: 10}},
	}
	c := &Closure{Function: fn, Constants: []any{record, "body", "boom", "finally"}}

	got, err := Call(c, false)
	if err != nil || got != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if strings.Join(log, ",") != "body,finally" {
		t.Fatalf("log %v", log)
	}

	log = nil
	_, err = Call(c, true)
	var exc *Exception
	if !errors.As(err, &exc) || exc.Value != "boom" {
		t.Fatalf("got %v", err)
	}
	if strings.Join(log, ",") != "body,finally" {
		t.Fatalf("log %v", log)
	}
}

func TestFilter(t *testing.T) {
	isX := &HostFunc{Fn: reflect.ValueOf(func(v any) bool { return v == "x" }), Result: true}
	fn := &Function{
		Name:  "filtered",
		Arity: 1,
		Code: []Bytecode{
			Make(OPGetArg, 0),
			OPThrow,
			Make2(OPCallHost, 0, 1),
			OPEndFilter,
			OPPop,
			imm(t, 1),
			Make(OPReturn, 1),
		},
		Handlers: []Handler{{Kind: HandlerFilter, TryStart: 0, TryEnd: 2, FilterStart: 2, HandlerStart: 4, HandlerEnd: 7, CatchType: anyType}},
	}
	c := &Closure{Function: fn, Constants: []any{isX}}
	if got, err := Call(c, "x"); err != nil || got != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
	_, err := Call(c, "y")
	var exc *Exception
	if !errors.As(err, &exc) || exc.Value != "y" {
		t.Fatalf("got %v", err)
	}
}

func TestClosureCellIsShared(t *testing.T) {
	inc := &Function{
		Name: "inc",
		Type: reflect.TypeOf(func() {}),
		Code: []Bytecode{
			OPClosureFrame,
			Make(OPFrameCell, 0),
			OPDup,
			OPCellGet,
			imm(t, 1),
			Make(OPBinary, int(OpAdd)),
			OPCellSet,
			Make(OPReturn, 0),
		},
	}
	outer := &Function{
		Name:       "outer",
		LocalCount: 2,
		Code: []Bytecode{
			OPNil,
			imm(t, 0),
			Make(OPNewFrame, 1),
			Make(OPSetLocal, 0),
			Make(OPGetLocal, 0),
			Make(OPMakeClosure, 0),
			Make(OPSetLocal, 1),
			Make(OPGetLocal, 1),
			Make(OPInvoke, 0),
			Make(OPGetLocal, 1),
			Make(OPInvoke, 0),
			Make(OPGetLocal, 0),
			Make(OPFrameCell, 0),
			OPCellGet,
			Make(OPReturn, 1),
		},
	}
	got, err := Call(&Closure{Function: outer, Constants: []any{inc, []any{}}})
	if err != nil || got != 2 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func sumFunction(t *testing.T, call Bytecode) *Closure {
	code := []Bytecode{
		Make(OPGetArg, 0),
		imm(t, 0),
		Make(OPBinary, int(OpEq)),
		Make(OPJumpIfFalse, 6),
		Make(OPGetArg, 1),
		Make(OPReturn, 1),
		Make(OPConst, 0),
		Make(OPGetArg, 0),
		imm(t, 1),
		Make(OPBinary, int(OpSub)),
		Make(OPGetArg, 1),
		Make(OPGetArg, 0),
		Make(OPBinary, int(OpAdd)),
		call,
	}
	if call.Opcode() == OPInvoke {
		code = append(code, Make(OPReturn, 1))
	}
	c := &Closure{Function: &Function{Name: "sum", Arity: 2, Code: code, MaxFrames: 100, Type: reflect.TypeOf(func(int, int) int { return 0 })}}
	c.Constants = []any{c}
	return c
}

func TestTailCallsReuseFrames(t *testing.T) {
	got, err := Call(sumFunction(t, Make(OPTailInvoke, 2)), 100000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5000050000 {
		t.Fatalf("got %v", got)
	}
	_, err = Call(sumFunction(t, Make(OPInvoke, 2)), 100000, 0)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("expected a stack overflow, got %v", err)
	}
}

func TestClosureAsGoFunc(t *testing.T) {
	c := sumFunction(t, Make(OPTailInvoke, 2))
	sum := c.Func().Interface().(func(int, int) int)
	if got := sum(10, 0); got != 55 {
		t.Fatalf("got %d", got)
	}
	var buf bytes.Buffer
	Disassemble(&buf, c)
	if !strings.Contains(buf.String(), "TailInvoke") || !strings.Contains(buf.String(), "Function sum") {
		t.Fatalf("listing:\n%s", buf.String())
	}
}

func TestHostErrorsAreThrown(t *testing.T) {
	fail := &HostFunc{
		Fn:     reflect.ValueOf(func() (int, error) { return 0, errors.New("bad input") }),
		Throws: true,
		Result: true,
	}
	fn := &Function{Name: "f", Code: []Bytecode{Make2(OPCallHost, 0, 0), Make(OPReturn, 1)}}
	_, err := Call(&Closure{Function: fn, Constants: []any{fail}})
	if err == nil || !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("got %v", err)
	}
}

func TestOnlyHostPanicsAreThrown(t *testing.T) {
	boom := &HostFunc{Fn: reflect.ValueOf(func() { panic("boom") })}
	fn := &Function{Name: "host", Code: []Bytecode{Make2(OPCallHost, 0, 0), Make(OPReturn, 0)}}
	_, err := Call(&Closure{Function: fn, Constants: []any{boom}})
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("got %v, want an exception", err)
	}
	if pe, ok := exc.Value.(*PanicError); !ok || pe.Value != "boom" {
		t.Fatalf("thrown %#v, want the host panic", exc.Value)
	}

	broken := &Function{Name: "broken", Code: []Bytecode{imm(t, 1), OPCellGet, Make(OPReturn, 1)}}
	defer func() {
		if recover() == nil {
			t.Fatal("machine fault was turned into an exception")
		}
	}()
	Call(&Closure{Function: broken})
}
