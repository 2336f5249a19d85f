package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

var (
	intT    = tree.IntType
	stringT = tree.StringType
)

type point struct {
	X, Y int
}

func (p point) Sum() int     { return p.X + p.Y }
func (p *point) Scale(k int) { p.X *= k; p.Y *= k }

type frame struct {
	origin point
}

func (f frame) Origin() point      { return f.origin }
func (f *frame) SetOrigin(p point) { f.origin = p }

func compile(t *testing.T, l *tree.Lambda, opts ...Options) *Procedure {
	t.Helper()
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	p, err := CompileWithOptions(l, o)
	if err != nil {
		t.Fatalf("compiling %v: %v", l.Name, err)
	}
	return p
}

func run(t *testing.T, p *Procedure, args ...any) any {
	t.Helper()
	v, err := p.Call(args...)
	if err != nil {
		t.Fatalf("calling %v%v: %v", p.Name(), args, err)
	}
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func TestArithmetic(t *testing.T) {
	a, b := tree.Param(intT, "a"), tree.Param(intT, "b")
	tests := []struct {
		name string
		body tree.Node
		args []any
		want any
	}{
		{"add", tree.AddOf(a, b), []any{2, 3}, 5},
		{"sub", tree.Sub(a, b), []any{2, 3}, -1},
		{"mul", tree.Mul(a, tree.AddOf(b, tree.Const(1))), []any{4, 2}, 12},
		{"div", tree.Div(a, b), []any{7, 2}, 3},
		{"mod", tree.Mod(a, b), []any{7, 2}, 1},
		{"neg", tree.Neg(tree.Sub(a, b)), []any{1, 4}, 3},
		{"lt", tree.Lt(a, b), []any{1, 4}, true},
		{"ge", tree.Ge(a, b), []any{1, 4}, false},
		{"and also", tree.AndAlsoOf(tree.Lt(a, b), tree.Gt(a, tree.Const(0))), []any{1, 4}, true},
		{"or else", tree.OrElseOf(tree.Gt(a, b), tree.Eq(b, tree.Const(4))), []any{1, 4}, true},
		{"conditional", tree.Condition(tree.Gt(a, b), a, b), []any{9, 4}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compile(t, tree.NewLambda(tt.name, tt.body, a, b))
			if got := run(t, p, tt.args...); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDivisionByZeroIsThrown(t *testing.T) {
	a, b := tree.Param(intT, "a"), tree.Param(intT, "b")
	p := compile(t, tree.NewLambda("div", tree.Div(a, b), a, b))
	_, err := p.Call(1, 0)
	var exc *vm.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("got %v, want an uncaught exception", err)
	}
	if !errors.Is(err, vm.ErrDivideByZero) {
		t.Fatalf("got %v", err)
	}
}

func TestCallChecksArguments(t *testing.T) {
	a := tree.Param(intT, "a")
	p := compile(t, tree.NewLambda("id", a, a))
	if _, err := p.Call(); err == nil {
		t.Fatal("missing argument accepted")
	}
	if _, err := p.Call("x"); err == nil {
		t.Fatal("string accepted for int")
	}
	if _, err := p.Call(nil); err == nil {
		t.Fatal("nil accepted for int")
	}
	if p.Type() != reflect.TypeOf(func(int) int { return 0 }) {
		t.Fatalf("type %v", p.Type())
	}
}

func TestClosureCounter(t *testing.T) {
	n := tree.Var(intT, "n")
	f := tree.Var(reflect.TypeOf(func() int { return 0 }), "f")
	body := tree.MakeBlock([]*tree.Parameter{n, f},
		tree.Set(f, tree.NewLambda("inc", tree.PreInc(n))),
		tree.InvokeOf(f),
		tree.InvokeOf(f))
	p := compile(t, tree.NewLambda("counter", body))
	if got := run(t, p); got != 2 {
		t.Fatalf("got %v, want 2", got)
	}
	// every call gets fresh variables
	if got := run(t, p); got != 2 {
		t.Fatalf("second call: got %v, want 2", got)
	}
}

func TestClosureSharesVariableWithParent(t *testing.T) {
	n := tree.Var(intT, "n")
	f := tree.Var(reflect.TypeOf(func() {}), "f")
	body := tree.MakeBlock([]*tree.Parameter{n, f},
		tree.Set(n, tree.Const(10)),
		tree.Set(f, tree.LambdaTyped("bump", tree.Void, tree.MakeBinary(tree.AddAssign, n, tree.Const(5)))),
		tree.InvokeOf(f),
		tree.Set(n, tree.Mul(n, tree.Const(2))),
		tree.InvokeOf(f),
		n)
	p := compile(t, tree.NewLambda("shared", body))
	if got := run(t, p); got != 35 {
		t.Fatalf("got %v, want 35", got)
	}
}

func TestNestedClosures(t *testing.T) {
	x := tree.Param(intT, "x")
	y := tree.Param(intT, "y")
	adder := tree.NewLambda("adder", tree.NewLambda("add", tree.AddOf(x, y), y), x)
	p := compile(t, adder)
	add, ok := run(t, p, 40).(func(int) int)
	if !ok {
		t.Fatalf("result is not a func(int) int")
	}
	if got := add(2); got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
	if HostedProcedures("adder") == 0 {
		t.Fatal("nested procedure not hosted")
	}
}

func TestCompiledInstancesAreIsolated(t *testing.T) {
	n := tree.Var(intT, "n")
	l := tree.NewLambda("counter", tree.MakeBlock([]*tree.Parameter{n}, tree.NewLambda("inc", tree.PreInc(n))))
	f1, ok1 := run(t, compile(t, l)).(func() int)
	f2, ok2 := run(t, compile(t, l)).(func() int)
	if !ok1 || !ok2 {
		t.Fatal("result is not a func() int")
	}
	f1()
	if got := f1(); got != 2 {
		t.Fatalf("first instance: got %v, want 2", got)
	}
	if got := f2(); got != 1 {
		t.Fatalf("second instance sees the first one's variable: got %v, want 1", got)
	}
}

func TestInlinedInvoke(t *testing.T) {
	a := tree.Param(intT, "a")
	x := tree.Param(intT, "x")
	inner := tree.NewLambda("double", tree.Mul(x, tree.Const(2)), x)
	p := compile(t, tree.NewLambda("outer", tree.InvokeOf(inner, tree.AddOf(a, tree.Const(1))), a))
	if got := run(t, p, 4); got != 10 {
		t.Fatalf("got %v, want 10", got)
	}
	var b strings.Builder
	p.Disassemble(&b)
	if strings.Contains(b.String(), "MakeClosure") {
		t.Fatalf("invoked lambda literal was not inlined:\n%v", b.String())
	}
}

func TestNullableArithmetic(t *testing.T) {
	nint := tree.Nullable(intT)
	x := tree.Param(nint, "x")
	p := compile(t, tree.NewLambda("plus5", tree.AddOf(x, tree.ConvertTo(tree.Const(5), nint)), x))
	if got := run(t, p, nil); !isNil(got) {
		t.Fatalf("none + 5: got %v, want none", got)
	}
	three := 3
	got, ok := run(t, p, &three).(*int)
	if !ok || got == nil || *got != 8 {
		t.Fatalf("3 + 5: got %v", got)
	}
}

func TestNullableComparison(t *testing.T) {
	nint := tree.Nullable(intT)
	x, y := tree.Param(nint, "x"), tree.Param(nint, "y")
	one, two := 1, 2
	tests := []struct {
		name string
		body tree.Node
		x, y *int
		want any
	}{
		{"eq none none", tree.Eq(x, y), nil, nil, true},
		{"eq none some", tree.Eq(x, y), nil, &one, false},
		{"ne none some", tree.Ne(x, y), nil, &one, true},
		{"lt none some", tree.Lt(x, y), nil, &two, false},
		{"lt some some", tree.Lt(x, y), &one, &two, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := compile(t, tree.NewLambda("cmp", tt.body, x, y))
			if got := run(t, p, tt.x, tt.y); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoalesce(t *testing.T) {
	nint := tree.Nullable(intT)
	x := tree.Param(nint, "x")
	p := compile(t, tree.NewLambda("or7", tree.CoalesceOf(x, tree.Const(7)), x))
	if got := run(t, p, nil); got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
	four := 4
	if got := run(t, p, &four); got != 4 {
		t.Fatalf("got %v, want 4", got)
	}
}

func TestFieldsAndMethods(t *testing.T) {
	pt := reflect.TypeOf(point{})
	v := tree.Var(pt, "p")
	body := tree.MakeBlock([]*tree.Parameter{v},
		tree.Set(tree.Field(v, "X"), tree.Const(3)),
		tree.Set(tree.Field(v, "Y"), tree.Const(4)),
		tree.MakeBinary(tree.AddAssign, tree.Field(v, "X"), tree.Const(1)),
		tree.CallMethod(v, "Scale", tree.Const(10)),
		tree.CallMethod(v, "Sum"))
	p := compile(t, tree.NewLambda("fields", body))
	if got := run(t, p); got != 80 {
		t.Fatalf("got %v, want 80", got)
	}
}

func TestByRefWriteback(t *testing.T) {
	x := tree.Var(intT, "x")
	addTen := func(p *int) { *p += 10 }
	body := tree.MakeBlock([]*tree.Parameter{x},
		tree.Set(x, tree.Const(5)),
		tree.CallFunc(addTen, x),
		x)
	p := compile(t, tree.NewLambda("byref", body))
	if got := run(t, p); got != 15 {
		t.Fatalf("got %v, want 15", got)
	}
}

func TestByRefParameter(t *testing.T) {
	r := tree.RefParam(intT, "r")
	p := compile(t, tree.LambdaTyped("bump", tree.Void, tree.PreInc(r), r))
	if p.Type() != reflect.TypeOf(func(*int) {}) {
		t.Fatalf("type %v", p.Type())
	}
	n := 41
	run(t, p, &n)
	if n != 42 {
		t.Fatalf("got %v, want 42", n)
	}
}

func TestArrays(t *testing.T) {
	i := tree.Param(intT, "i")
	arr := tree.NewArrayInit(intT, tree.Const(10), tree.Const(20), tree.Const(30))
	p := compile(t, tree.NewLambda("at", tree.MakeBinary(tree.ArrayIndex, arr, i), i))
	if got := run(t, p, 1); got != 20 {
		t.Fatalf("got %v, want 20", got)
	}
	if _, err := p.Call(3); !errors.Is(err, vm.ErrIndexRange) {
		t.Fatalf("got %v, want an index error", err)
	}

	n := tree.Param(intT, "n")
	p = compile(t, tree.NewLambda("len", tree.Len(tree.NewArrayBounds(intT, n)), n))
	if got := run(t, p, 6); got != 6 {
		t.Fatalf("got %v, want 6", got)
	}
}

func TestDeterministic(t *testing.T) {
	x := tree.Param(intT, "x")
	s := tree.Param(stringT, "s")
	body := tree.Condition(tree.Gt(x, tree.Const(3)),
		tree.AddOf(s, tree.Const("!")),
		tree.MakeSwitch(x, s,
			tree.Case(tree.Const("one"), tree.Const(1)),
			tree.Case(tree.Const("two"), tree.Const(2))))
	l := tree.NewLambda("det", body, x, s)
	p1 := compile(t, l)
	p2 := compile(t, l)
	f1, f2 := p1.Closure().Function, p2.Closure().Function
	if !reflect.DeepEqual(f1.Code, f2.Code) || !reflect.DeepEqual(f1.Tables, f2.Tables) {
		t.Fatal("compiling the same tree twice gave different code")
	}
	if p1.Closure() == p2.Closure() {
		t.Fatal("procedures share their closure")
	}
	if got := run(t, p1, 2, "x"); got != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestConcurrentCompileAndCall(t *testing.T) {
	n := tree.Var(intT, "n")
	x := tree.Param(intT, "x")
	f := tree.Var(reflect.TypeOf(func() int { return 0 }), "f")
	body := tree.MakeBlock([]*tree.Parameter{n, f},
		tree.Set(n, x),
		tree.Set(f, tree.NewLambda("inc", tree.PreInc(n))),
		tree.InvokeOf(f),
		tree.InvokeOf(f))
	l := tree.NewLambda("shared", body, x)

	var g errgroup.Group
	g.SetLimit(8)
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			p, err := Compile(l)
			if err != nil {
				return err
			}
			got, err := p.Call(i)
			if err != nil {
				return err
			}
			if got != i+2 {
				return fmt.Errorf("call %v: got %v", i, got)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestDeepTreeTrampoline(t *testing.T) {
	const depth = 3000
	var body tree.Node = tree.Const(0)
	for i := 0; i < depth; i++ {
		body = tree.AddOf(body, tree.Const(1))
	}
	p := compile(t, tree.NewLambda("deep", body), Options{MaxRecursionDepth: 40})
	if got := run(t, p); got != depth {
		t.Fatalf("got %v, want %v", got, depth)
	}
}

func TestFunc(t *testing.T) {
	a, b := tree.Param(intT, "a"), tree.Param(intT, "b")
	p := compile(t, tree.NewLambda("mul", tree.Mul(a, b), a, b))
	mul, ok := p.Interface().(func(int, int) int)
	if !ok {
		t.Fatalf("Interface is %T", p.Interface())
	}
	if got := mul(6, 7); got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestCompileErrors(t *testing.T) {
	stray := tree.Var(intT, "stray")
	nowhere := tree.Label(tree.Void, "nowhere")
	twice := tree.Label(tree.Void, "twice")
	r := tree.RefParam(intT, "r")
	into := tree.Label(tree.Void, "into")
	out := tree.Label(tree.Void, "out")
	valued := tree.Label(intT, "valued")
	b := tree.Param(tree.BoolType, "b")
	pv := tree.Var(reflect.TypeOf(point{}), "pv")
	vf := tree.Param(reflect.TypeOf(func(...int) int { return 0 }), "vf")
	frameT := reflect.TypeOf(&frame{})
	nop := func() {}
	tests := []struct {
		name string
		l    *tree.Lambda
		want error
	}{
		{"undefined variable", tree.NewLambda("f", tree.AddOf(stray, tree.Const(1))), ErrUndefinedVariable},
		{"undefined label", tree.LambdaTyped("f", tree.Void, tree.GotoLabel(nowhere)), ErrUndefinedLabel},
		{"ambiguous jump", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.Seq(tree.LabelAt(twice, nil), tree.Empty()),
			tree.Seq(tree.LabelAt(twice, nil), tree.Empty()),
			tree.GotoLabel(twice))), ErrAmbiguousJump},
		{"rethrow outside catch", tree.LambdaTyped("f", tree.Void, tree.Rethrow()), ErrRethrowOutsideCatch},
		{"capture by reference", tree.NewLambda("f", tree.NewLambda("g", r), r), ErrCaptureByRef},
		{"jump into try", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.GotoLabel(into),
			tree.TryFinally(tree.Seq(tree.LabelAt(into, nil), tree.CallFunc(nop)), tree.CallFunc(nop)))), ErrJumpIntoTry},
		{"jump into expression", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.GotoLabel(into),
			tree.CallFunc(func(int) {}, tree.Seq(tree.LabelAt(into, nil), tree.Const(1))))), ErrJumpIntoExpression},
		{"leave finally", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.TryFinally(tree.CallFunc(nop), tree.GotoLabel(out)),
			tree.LabelAt(out, nil))), ErrLeaveFinally},
		{"leave filter", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.TryCatch(tree.CallFunc(nop),
				tree.CatchIf(tree.ErrorType, nil, tree.CallFunc(nop), tree.Seq(tree.GotoLabel(out), tree.Const(true)))),
			tree.LabelAt(out, nil))), ErrLeaveFilter},
		{"non-local jump with value", tree.NewLambda("f", tree.Seq(
			tree.GotoWith(valued, tree.Const(1)),
			tree.Condition(b, tree.LabelAt(valued, tree.Const(0)), tree.Const(2))), b), ErrNonLocalJumpWithValue},
		{"label already defined", tree.LambdaTyped("f", tree.Void, tree.Seq(
			tree.LabelAt(into, nil),
			tree.IfThen(b, tree.LabelAt(into, nil))), b), ErrLabelAlreadyDefined},
		{"value type spill", tree.LambdaTyped("f", tree.Void, tree.MakeBlock([]*tree.Parameter{pv},
			tree.CallFunc(func(*int, string) {},
				tree.Field(pv, "X"),
				tree.TryCatch(tree.CallFunc(func() string { return "s" }), tree.Catch(tree.ErrorType, nil, tree.Const("t")))))), ErrValueTypeSpill},
		{"value type property initializer", tree.NewLambda("f", tree.MakeMemberInit(tree.NewZero(frameT),
			tree.BindMembers(tree.PropertyOf(frameT, "Origin", "SetOrigin"),
				tree.Bind(tree.FieldOf(reflect.TypeOf(point{}), "X"), tree.Const(1))))), ErrValueTypePropertyInit},
		{"variadic invoke", tree.NewLambda("f", tree.InvokeOf(vf, tree.NewArrayInit(intT, tree.Const(1))), vf), ErrVariadicForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.l)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if p != nil {
				t.Fatal("failed compile returned a procedure")
			}
			var ce *CompileError
			if !errors.As(err, &ce) || ce.Name == "" {
				t.Fatalf("error %v does not name its subject", err)
			}
		})
	}
}
