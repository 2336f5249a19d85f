package stdlib

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/vida-lang/lambdac/compiler"
	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

func TestLoad(t *testing.T) {
	all, err := Load(io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"math.sqrt", "random.randInt", "time.now", "strings.builder", "regex.match", "fmt.println"} {
		if _, ok := all[name]; !ok {
			t.Errorf("%v missing", name)
		}
	}
	some, err := Load(io.Discard, "math")
	if err != nil {
		t.Fatal(err)
	}
	for name := range some {
		if !strings.HasPrefix(name, "math.") {
			t.Errorf("%v loaded with math only", name)
		}
	}
	if _, err := Load(io.Discard, "net"); err == nil {
		t.Fatal("unknown library loaded")
	}
	if got := Names(); !reflect.DeepEqual(got, []string{"fmt", "math", "random", "regex", "strings", "time"}) {
		t.Fatalf("got %v", got)
	}
}

func call(t *testing.T, body tree.Node, params []*tree.Parameter, args ...any) (any, error) {
	t.Helper()
	p, err := compiler.Compile(tree.NewLambda("test", body, params...))
	if err != nil {
		t.Fatal(err)
	}
	return p.Call(args...)
}

func TestCompiledCalls(t *testing.T) {
	var out bytes.Buffer
	fns, err := Load(&out)
	if err != nil {
		t.Fatal(err)
	}
	x := tree.Param(tree.Float64Type, "x")
	got, err := call(t, tree.CallFunc(fns["math.hypot"], x, tree.Const(4.0)), []*tree.Parameter{x}, 3.0)
	if err != nil || got != 5.0 {
		t.Fatalf("hypot: got %v, %v", got, err)
	}

	n := tree.Param(tree.IntType, "n")
	got, err = call(t, tree.CallFunc(fns["math.isqrt"], n), []*tree.Parameter{n}, 17)
	if err != nil || got != 4 {
		t.Fatalf("isqrt: got %v, %v", got, err)
	}
	if _, err := call(t, tree.CallFunc(fns["math.isqrt"], n), []*tree.Parameter{n}, -1); err == nil {
		t.Fatal("isqrt(-1) did not throw")
	}

	if _, err := call(t, tree.CallFunc(fns["fmt.printf"], tree.Const("%v-%v\n"), tree.Const(1), tree.Const("a")), nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1-a\n" {
		t.Fatalf("printf wrote %q", out.String())
	}
}

func TestStringBuilderMethods(t *testing.T) {
	fns, _ := Load(io.Discard, "strings")
	sb := tree.Var(reflect.TypeOf(&strings.Builder{}), "sb")
	body := tree.MakeBlock([]*tree.Parameter{sb},
		tree.Set(sb, tree.CallFunc(fns["strings.builder"])),
		tree.CallMethod(sb, "WriteString", tree.Const("ab")),
		tree.CallMethod(sb, "WriteByte", tree.Const(byte('c'))),
		tree.CallMethod(sb, "String"),
	)
	got, err := call(t, body, nil)
	if err != nil || got != "abc" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestRegex(t *testing.T) {
	fns, _ := Load(io.Discard, "regex")
	p := tree.Param(tree.StringType, "p")
	body := tree.CallFunc(fns["regex.replace"], p, tree.Const("a1b22c"), tree.Const("#"))
	got, err := call(t, body, []*tree.Parameter{p}, `\d+`)
	if err != nil || got != "a#b#c" {
		t.Fatalf("got %v, %v", got, err)
	}
	_, err = call(t, body, []*tree.Parameter{p}, `(`)
	var ex *vm.Exception
	if !errors.As(err, &ex) {
		t.Fatalf("bad pattern: got %v", err)
	}
	re1, _ := compile(`x+`)
	re2, _ := compile(`x+`)
	if re1 != re2 {
		t.Fatal("pattern compiled twice")
	}
}

func TestRandIntBounds(t *testing.T) {
	for _, bound := range []int64{7, -7} {
		for i := 0; i < 100; i++ {
			if n := randomRandInt(bound); n < 0 || n >= 7 {
				t.Fatalf("randInt(%v) = %v", bound, n)
			}
		}
	}
	if randomRandInt(0) != 0 {
		t.Fatal("randInt(0) != 0")
	}
}
