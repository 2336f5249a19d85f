package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"testing"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

func hasOpcode(fn *vm.Function, op vm.Bytecode) bool {
	for _, ins := range fn.Code {
		if ins.Opcode() == op {
			return true
		}
	}
	return false
}

func TestLoopBreakValue(t *testing.T) {
	i := tree.Var(intT, "i")
	brk := tree.Label(intT, "brk")
	loop := tree.MakeLoop(
		tree.IfThenElse(tree.Ge(i, tree.Const(5)),
			tree.BreakWith(brk, tree.Mul(i, tree.Const(10))),
			tree.PreInc(i)),
		brk, nil)
	body := tree.MakeBlock([]*tree.Parameter{i}, tree.Set(i, tree.Const(0)), loop)
	p := compile(t, tree.NewLambda("loop", body))
	if got := run(t, p); got != 50 {
		t.Fatalf("got %v, want 50", got)
	}
}

func TestLoopContinue(t *testing.T) {
	i := tree.Var(intT, "i")
	sum := tree.Var(intT, "sum")
	brk := tree.Label(tree.Void, "brk")
	cont := tree.Label(tree.Void, "cont")
	// sum of the odd numbers below 10
	loop := tree.MakeLoop(tree.Seq(
		tree.PreInc(i),
		tree.IfThen(tree.Ge(i, tree.Const(10)), tree.Break(brk)),
		tree.IfThen(tree.Eq(tree.Mod(i, tree.Const(2)), tree.Const(0)), tree.Continue(cont)),
		tree.MakeBinary(tree.AddAssign, sum, i),
	), brk, cont)
	body := tree.MakeBlock([]*tree.Parameter{i, sum}, loop, sum)
	p := compile(t, tree.NewLambda("odd", body))
	if got := run(t, p); got != 25 {
		t.Fatalf("got %v, want 25", got)
	}
}

func TestReturnLabel(t *testing.T) {
	x := tree.Param(intT, "x")
	ret := tree.Label(stringT, "ret")
	body := tree.Seq(
		tree.IfThen(tree.Lt(x, tree.Const(0)), tree.Return(ret, tree.Const("negative"))),
		tree.LabelAt(ret, tree.Const("other")))
	p := compile(t, tree.NewLambda("sign", body, x))
	for _, tt := range []struct {
		x    int
		want string
	}{{-1, "negative"}, {1, "other"}} {
		if got := run(t, p, tt.x); got != tt.want {
			t.Fatalf("sign(%v): got %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestIntegralSwitch(t *testing.T) {
	x := tree.Param(intT, "x")
	sw := tree.MakeSwitch(x, tree.Const("other"),
		tree.Case(tree.Const("one"), tree.Const(1)),
		tree.Case(tree.Const("two"), tree.Const(2)),
		tree.Case(tree.Const("big"), tree.Const(1000000)))
	p := compile(t, tree.NewLambda("sw", sw, x))
	tests := []struct {
		x    int
		want string
	}{
		{1, "one"},
		{2, "two"},
		{1000000, "big"},
		{3, "other"},
		{0, "other"},
		{-5, "other"},
		{999999, "other"},
	}
	for _, tt := range tests {
		if got := run(t, p, tt.x); got != tt.want {
			t.Errorf("sw(%v): got %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestDenseSwitchUsesTable(t *testing.T) {
	x := tree.Param(intT, "x")
	var cases []*tree.SwitchCase
	for i := 10; i < 20; i++ {
		cases = append(cases, tree.Case(tree.Const(i*i), tree.Const(i)))
	}
	cases = append(cases, tree.Case(tree.Const(-1), tree.Const(21), tree.Const(22)))
	p := compile(t, tree.NewLambda("sq", tree.MakeSwitch(x, tree.Const(0), cases...), x))
	if !hasOpcode(p.Closure().Function, vm.OPTableSwitch) {
		t.Fatal("dense keys did not use a jump table")
	}
	for i := 0; i < 25; i++ {
		want := 0
		switch {
		case i >= 10 && i < 20:
			want = i * i
		case i == 21 || i == 22:
			want = -1
		}
		if got := run(t, p, i); got != want {
			t.Fatalf("sq(%v): got %v, want %v", i, got, want)
		}
	}
}

func TestStringSwitch(t *testing.T) {
	names := []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
	s := tree.Param(stringT, "s")
	build := func(n int) *tree.Lambda {
		var cases []*tree.SwitchCase
		for i, name := range names[:n] {
			cases = append(cases, tree.Case(tree.Const(i+1), tree.Const(name)))
		}
		return tree.NewLambda("day", tree.MakeSwitch(s, tree.Const(0), cases...), s)
	}

	hashed := compile(t, build(len(names)))
	fn := hashed.Closure().Function
	if !hasOpcode(fn, vm.OPMapSwitch) || len(fn.Tables) != 1 || len(fn.Tables[0].Keys) != len(names) {
		t.Fatalf("%v string cases did not use a hash table", len(names))
	}
	for i, name := range names {
		if got := run(t, hashed, name); got != i+1 {
			t.Fatalf("day(%v): got %v, want %v", name, got, i+1)
		}
	}
	if got := run(t, hashed, "xyz"); got != 0 {
		t.Fatalf("day(xyz): got %v, want 0", got)
	}

	small := compile(t, build(3))
	if hasOpcode(small.Closure().Function, vm.OPMapSwitch) {
		t.Fatal("3 string cases used a hash table")
	}
	if got := run(t, small, "wed"); got != 3 {
		t.Fatalf("got %v, want 3", got)
	}

	lowered := compile(t, build(3), Options{HashSwitchThreshold: 2})
	if !hasOpcode(lowered.Closure().Function, vm.OPMapSwitch) {
		t.Fatal("threshold option ignored")
	}
}

func TestSwitchWithComparison(t *testing.T) {
	s := tree.Param(stringT, "s")
	prefix := func(v, p string) bool { return len(v) >= len(p) && v[:len(p)] == p }
	sw := tree.MakeSwitchTyped(intT, s, tree.Const(0), reflect.ValueOf(prefix),
		tree.Case(tree.Const(1), tree.Const("go")),
		tree.Case(tree.Const(2), tree.Const("rust")))
	p := compile(t, tree.NewLambda("lang", sw, s))
	for in, want := range map[string]int{"golang": 1, "rustc": 2, "zig": 0} {
		if got := run(t, p, in); got != want {
			t.Fatalf("lang(%v): got %v, want %v", in, got, want)
		}
	}
}

func TestTryCatch(t *testing.T) {
	a, b := tree.Param(intT, "a"), tree.Param(intT, "b")
	e := tree.Var(tree.ErrorType, "e")
	body := tree.TryCatch(tree.Div(a, b), tree.Catch(tree.ErrorType, e, tree.Const(-1)))
	p := compile(t, tree.NewLambda("safediv", body, a, b))
	if got := run(t, p, 6, 3); got != 2 {
		t.Fatalf("got %v, want 2", got)
	}
	if got := run(t, p, 6, 0); got != -1 {
		t.Fatalf("got %v, want -1", got)
	}
}

func TestCatchFilter(t *testing.T) {
	msg := tree.Param(stringT, "msg")
	s1 := tree.Var(stringT, "s1")
	s2 := tree.Var(stringT, "s2")
	body := tree.TryCatch(tree.ThrowTyped(msg, stringT),
		tree.CatchIf(stringT, s1, tree.AddOf(tree.Const("filtered "), s1), tree.Eq(s1, tree.Const("boom"))),
		tree.Catch(stringT, s2, tree.AddOf(tree.Const("plain "), s2)))
	p := compile(t, tree.NewLambda("filter", body, msg))
	if got := run(t, p, "boom"); got != "filtered boom" {
		t.Fatalf("got %q", got)
	}
	if got := run(t, p, "bang"); got != "plain bang" {
		t.Fatalf("got %q", got)
	}
	if !slices.ContainsFunc(p.Closure().Function.Handlers, func(h vm.Handler) bool { return h.Kind == vm.HandlerFilter }) {
		t.Fatal("no filter handler")
	}
}

func TestRethrow(t *testing.T) {
	msg := tree.Param(stringT, "msg")
	s := tree.Var(stringT, "s")
	inner := tree.TryCatch(tree.ThrowTyped(msg, stringT),
		tree.Catch(stringT, nil, tree.MakeUnary(tree.Throw, nil, stringT)))
	body := tree.TryCatch(inner, tree.Catch(stringT, s, tree.AddOf(s, tree.Const("!"))))
	p := compile(t, tree.NewLambda("rethrow", body, msg))
	if got := run(t, p, "again"); got != "again!" {
		t.Fatalf("got %q", got)
	}
}

func TestUncaughtThrow(t *testing.T) {
	p := compile(t, tree.LambdaTyped("throw", tree.Void, tree.ThrowValue(tree.Const(42))))
	_, err := p.Call()
	var exc *vm.Exception
	if !errors.As(err, &exc) || exc.Value != 42 {
		t.Fatalf("got %v, want an exception carrying 42", err)
	}
}

func TestFinallyAndFault(t *testing.T) {
	var log []string
	note := func(s string) { log = append(log, s) }
	fail := tree.Param(tree.BoolType, "fail")
	body := tree.TryFinally(
		tree.Seq(
			tree.CallFunc(note, tree.Const("body")),
			tree.TryFault(
				tree.IfThen(fail, tree.ThrowValue(tree.Const("x"))),
				tree.CallFunc(note, tree.Const("fault"))),
			tree.Const(1)),
		tree.CallFunc(note, tree.Const("finally")))
	p := compile(t, tree.NewLambda("fin", body, fail))

	if got := run(t, p, false); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
	if want := []string{"body", "finally"}; !slices.Equal(log, want) {
		t.Fatalf("got %v, want %v", log, want)
	}
	log = nil
	if _, err := p.Call(true); err == nil {
		t.Fatal("throw was swallowed")
	}
	if want := []string{"body", "fault", "finally"}; !slices.Equal(log, want) {
		t.Fatalf("got %v, want %v", log, want)
	}
}

func TestReturnThroughFinally(t *testing.T) {
	var runs int
	count := func() { runs++ }
	x := tree.Param(intT, "x")
	ret := tree.Label(intT, "ret")
	body := tree.Seq(
		tree.TryFinally(
			tree.IfThen(tree.Gt(x, tree.Const(0)), tree.Return(ret, x)),
			tree.CallFunc(count)),
		tree.LabelAt(ret, tree.Const(0)))
	p := compile(t, tree.NewLambda("early", body, x))
	if got := run(t, p, 7); got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
	if runs != 1 {
		t.Fatalf("finally ran %v times, want 1", runs)
	}
}

func TestSpillPreservesOrder(t *testing.T) {
	var log []string
	rec := func(s string) string { log = append(log, s); return s }
	join := func(a, b, c string) string { return a + b + c }
	fin := 0
	body := tree.CallFunc(join,
		tree.CallFunc(rec, tree.Const("a")),
		tree.TryFinally(tree.CallFunc(rec, tree.Const("b")), tree.CallFunc(func() { fin++; log = append(log, "fin") })),
		tree.CallFunc(rec, tree.Const("c")))
	p := compile(t, tree.NewLambda("spill", body))
	if got := run(t, p); got != "abc" {
		t.Fatalf("got %v, want abc", got)
	}
	if want := []string{"a", "b", "fin", "c"}; !slices.Equal(log, want) {
		t.Fatalf("evaluation order %v, want %v", log, want)
	}
	if fin != 1 {
		t.Fatalf("finally ran %v times", fin)
	}
}

func TestSpillStopsAtThrowingOperand(t *testing.T) {
	var log []string
	rec := func(s string) string { log = append(log, s); return s }
	join := func(a, b, c string) string { return a + b + c }
	fin := 0
	body := tree.TryFinally(
		tree.CallFunc(join,
			tree.CallFunc(rec, tree.Const("a")),
			tree.ThrowTyped(tree.Const("b failed"), stringT),
			tree.CallFunc(rec, tree.Const("c"))),
		tree.CallFunc(func() { fin++ }))
	p := compile(t, tree.NewLambda("spill", body))
	_, err := p.Call()
	var exc *vm.Exception
	if !errors.As(err, &exc) || exc.Value != "b failed" {
		t.Fatalf("got %v, want the thrown string", err)
	}
	if want := []string{"a"}; !slices.Equal(log, want) {
		t.Fatalf("evaluation order %v, want %v", log, want)
	}
	if fin != 1 {
		t.Fatalf("finally ran %v times", fin)
	}
}

func TestLogicalMethodWithProtectedRightOperand(t *testing.T) {
	calls := 0
	both := func(a, b bool) bool { calls++; return a && b }
	show := func(n int, b bool) string { return fmt.Sprintf("%d %t", n, b) }
	a := tree.Param(tree.BoolType, "a")
	right := tree.TryCatch(
		tree.Seq(tree.ThrowValue(tree.Const("x")), tree.Const(false)),
		tree.Catch(stringT, nil, tree.Const(true)))
	body := tree.CallFunc(show, tree.Const(1), tree.MakeBinaryMethod(tree.AndAlso, a, right, both, false))
	p := compile(t, tree.NewLambda("and", body, a))
	if got := run(t, p, true); got != "1 true" {
		t.Fatalf("got %q, want %q", got, "1 true")
	}
	if calls != 1 {
		t.Fatalf("operator method ran %v times, want 1", calls)
	}
	if got := run(t, p, false); got != "1 false" {
		t.Fatalf("got %q, want %q", got, "1 false")
	}
	if calls != 1 {
		t.Fatal("operator method ran for a false left operand")
	}
}

func TestJumpIntoBlockSeesZeroValues(t *testing.T) {
	in := tree.Label(tree.Void, "in")
	y := tree.Var(intT, "y")
	s := tree.Var(stringT, "s")
	show := func(n int, s string) string { return fmt.Sprintf("%d%q", n, s) }
	body := tree.Seq(
		tree.GotoLabel(in),
		tree.MakeBlock([]*tree.Parameter{y, s},
			tree.Set(y, tree.Const(5)),
			tree.Set(s, tree.Const("set")),
			tree.LabelAt(in, nil),
			tree.CallFunc(show, tree.AddOf(y, tree.Const(1)), s)))
	p := compile(t, tree.NewLambda("skip", body))
	if got := run(t, p); got != `1""` {
		t.Fatalf("got %v, want 1\"\"", got)
	}

	in = tree.Label(tree.Void, "in")
	y = tree.Var(intT, "y")
	body = tree.Seq(
		tree.GotoLabel(in),
		tree.MakeBlock([]*tree.Parameter{y}, tree.Set(y, tree.Const(1)), tree.LabelAt(in, nil), y))
	p = compile(t, tree.NewLambda("skipped", body))
	if got := run(t, p); got != 0 {
		t.Fatalf("got %#v, want int 0", got)
	}
}

func TestSwitchTestNeedingEmptyStack(t *testing.T) {
	x := tree.Param(intT, "x")
	test := func() tree.Node {
		return tree.TryCatch(
			tree.Seq(tree.ThrowValue(tree.Const("boom")), tree.Const(1)),
			tree.Catch(stringT, nil, tree.Const(2)))
	}
	sw := tree.MakeSwitch(x, tree.Const("def"), tree.Case(tree.Const("one"), test()))
	p := compile(t, tree.NewLambda("sw", sw, x))
	for in, want := range map[int]string{2: "one", 1: "def"} {
		if got := run(t, p, in); got != want {
			t.Fatalf("sw(%v): got %v, want %v", in, got, want)
		}
	}

	below := func(v, limit int) bool { return v < limit }
	sw = tree.MakeSwitchTyped(stringT, x, tree.Const("big"), reflect.ValueOf(below),
		tree.Case(tree.Const("small"), test()))
	concat := func(a, b string) string { return a + b }
	p = compile(t, tree.NewLambda("nested", tree.CallFunc(concat, tree.Const("v:"), sw), x))
	for in, want := range map[int]string{1: "v:small", 5: "v:big"} {
		if got := run(t, p, in); got != want {
			t.Fatalf("nested(%v): got %v, want %v", in, got, want)
		}
	}
}

func TestByRefArgumentIsNotTailCalled(t *testing.T) {
	r := tree.RefParam(intT, "r")
	g := tree.Param(reflect.TypeOf(func(*int) int { return 0 }), "g")
	l := tree.NewLambda("pass", tree.InvokeOf(g, r), r, g).WithTailCall()
	p := compile(t, l)
	if hasOpcode(p.Closure().Function, vm.OPTailInvoke) {
		t.Fatal("call passing a reference replaced the caller's frame")
	}
	n := 4
	bump := func(p *int) int { *p++; return *p * 10 }
	if got := run(t, p, &n, bump); got != 50 {
		t.Fatalf("got %v, want 50", got)
	}
	if n != 5 {
		t.Fatalf("reference not written back: %v", n)
	}
}

func recursive(tail bool) *tree.Lambda {
	n := tree.Param(intT, "n")
	f := tree.Var(reflect.TypeOf(func(int) string { return "" }), "f")
	step := tree.NewLambda("step", tree.Condition(tree.Eq(n, tree.Const(0)),
		tree.Const("done"),
		tree.InvokeOf(f, tree.Sub(n, tree.Const(1)))), n)
	if tail {
		step = step.WithTailCall()
	}
	m := tree.Param(intT, "m")
	body := tree.MakeBlock([]*tree.Parameter{f}, tree.Set(f, step), tree.InvokeOf(f, m))
	return tree.NewLambda("countdown", body, m)
}

func TestTailCallsBoundFrames(t *testing.T) {
	opts := Options{MaxFrames: 64}
	p := compile(t, recursive(true), opts)
	if got := run(t, p, 10000); got != "done" {
		t.Fatalf("got %v", got)
	}

	p = compile(t, recursive(false), opts)
	if _, err := p.Call(10000); !errors.Is(err, vm.ErrStackOverflow) {
		t.Fatalf("got %v, want a stack overflow", err)
	}

	off := false
	p = compile(t, recursive(true), Options{MaxFrames: 64, TailCalls: &off})
	if _, err := p.Call(10000); !errors.Is(err, vm.ErrStackOverflow) {
		t.Fatalf("tail calls disabled: got %v, want a stack overflow", err)
	}
	if got := run(t, p, 10); got != "done" {
		t.Fatalf("got %v", got)
	}
}

func TestQuoteSeesLiveVariables(t *testing.T) {
	x := tree.Var(intT, "x")
	q := tree.Var(tree.LambdaType, "q")
	body := tree.MakeBlock([]*tree.Parameter{x, q},
		tree.Set(x, tree.Const(1)),
		tree.Set(q, tree.QuoteLambda(tree.NewLambda("read", tree.Mul(x, tree.Const(2))))),
		tree.Set(x, tree.Const(21)),
		q)
	p := compile(t, tree.NewLambda("quote", body))
	l, ok := run(t, p).(*tree.Lambda)
	if !ok {
		t.Fatal("quote did not produce a lambda")
	}
	inner := compile(t, l)
	if got := run(t, inner); got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestQuoteWithoutFreeVariables(t *testing.T) {
	y := tree.Param(intT, "y")
	quoted := tree.NewLambda("inc", tree.AddOf(y, tree.Const(1)), y)
	p := compile(t, tree.NewLambda("quote", tree.QuoteLambda(quoted)))
	l, ok := run(t, p).(*tree.Lambda)
	if !ok || l.Name != "inc" {
		t.Fatalf("got %v, want the quoted lambda", l)
	}
	if got := run(t, compile(t, l), 1); got != 2 {
		t.Fatalf("got %v, want 2", got)
	}
}

func TestRuntimeVariables(t *testing.T) {
	x := tree.Var(intT, "x")
	vs := tree.Var(tree.VariableSetType, "vs")
	body := tree.MakeBlock([]*tree.Parameter{x, vs},
		tree.Set(x, tree.Const(3)),
		tree.Set(vs, tree.RuntimeVars(x)),
		tree.CallMethod(vs, "Set", tree.Const(0), tree.ConvertTo(tree.Const(9), tree.AnyType)),
		x)
	p := compile(t, tree.NewLambda("vars", body))
	if got := run(t, p); got != 9 {
		t.Fatalf("got %v, want 9", got)
	}
}

func ExampleCompile() {
	a := tree.Param(intT, "a")
	p, err := Compile(tree.NewLambda("twice", tree.Mul(a, tree.Const(2)), a))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(p.Name(), p.Closure().Function.Arity)
	// Output: twice 1
}
