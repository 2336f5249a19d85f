package tree

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected a panic", name)
		}
	}()
	f()
}

func TestBinaryTypes(t *testing.T) {
	x := Param(IntType, "x")
	nx := Param(Nullable(IntType), "nx")
	s := Param(StringType, "s")
	b := Param(BoolType, "b")
	nb := Param(Nullable(BoolType), "nb")
	tests := []struct {
		name string
		node Node
		want reflect.Type
	}{
		{"add", AddOf(x, Const(1)), IntType},
		{"concat", AddOf(s, Const("!")), StringType},
		{"lifted add", AddOf(nx, nx), Nullable(IntType)},
		{"compare", Lt(x, Const(3)), BoolType},
		{"lifted compare", Lt(nx, nx), BoolType},
		{"lifted compare to null", Lt(nx, nx).LiftedToNull(), Nullable(BoolType)},
		{"andalso", AndAlsoOf(b, Const(true)), BoolType},
		{"lifted andalso", AndAlsoOf(nb, nb), Nullable(BoolType)},
		{"coalesce unwraps", CoalesceOf(nx, Const(0)), IntType},
		{"assign", Set(x, Const(2)), IntType},
		{"compound", MakeBinary(AddAssign, x, Const(2)), IntType},
		{"shift", MakeBinary(LeftShift, x, Const(uint8(2))), IntType},
		{"index", MakeBinary(ArrayIndex, Const([]string{"a"}), Const(0)), StringType},
	}
	for _, tt := range tests {
		if got := tt.node.Type(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBinaryMisuse(t *testing.T) {
	x := Param(IntType, "x")
	mustPanic(t, "mixed types", func() { AddOf(x, Const(1.5)) })
	mustPanic(t, "bool add", func() { AddOf(Const(true), Const(false)) })
	mustPanic(t, "assign to constant", func() { Set(Const(1), Const(2)) })
	mustPanic(t, "andalso on ints", func() { AndAlsoOf(x, x) })
	mustPanic(t, "coalesce non-nillable", func() { CoalesceOf(x, x) })
}

func TestOperatorNames(t *testing.T) {
	if AddAssign.Underlying() != Add || RightShiftAssign.Underlying() != RightShift {
		t.Fatal("compound assignments map to the wrong operators")
	}
	if !LessThan.IsComparison() || Coalesce.IsComparison() {
		t.Fatal("IsComparison")
	}
	if PostIncrementAssign.String() != "PostIncrementAssign" || Equal.String() != "Equal" {
		t.Fatal("operator names")
	}
	if KindRuntimeVariables.String() != "RuntimeVariables" {
		t.Fatal("kind names")
	}
}

type counter struct{ n int }

func (c *counter) Add(d int) int     { c.n += d; return c.n }
func (c counter) Value() int         { return c.n }
func (c *counter) SetValue(v int)    { c.n = v }
func (c counter) Fail() (int, error) { return 0, errors.New("fail") }

func TestCallResolution(t *testing.T) {
	c := Param(reflect.TypeOf(counter{}), "c")
	add := CallMethod(c, "Add", Const(1))
	if !add.Method.AddressReceiver || add.Type() != IntType {
		t.Fatalf("Add: address=%v type=%v", add.Method.AddressReceiver, add.Type())
	}
	val := CallMethod(c, "Value")
	if val.Method.AddressReceiver {
		t.Fatal("Value has a value receiver")
	}
	fail := CallMethod(c, "Fail")
	if !fail.Throws || fail.Type() != IntType {
		t.Fatalf("Fail: throws=%v type=%v", fail.Throws, fail.Type())
	}
	atoi := CallFunc(strconv.Atoi, Const("12"))
	if !atoi.Throws || atoi.Type() != IntType {
		t.Fatalf("Atoi: throws=%v type=%v", atoi.Throws, atoi.Type())
	}
	join := CallFunc(strings.Join, Const([]string{"a"}), Const(","))
	if join.Throws || join.Type() != StringType {
		t.Fatal("Join")
	}
	mustPanic(t, "address of constant receiver", func() { CallMethod(Const(counter{}), "Add", Const(1)) })
	mustPanic(t, "missing method", func() { CallMethod(c, "Nope") })
}

func TestPropertyAndField(t *testing.T) {
	type point struct{ X, Y int }
	p := Param(reflect.TypeOf(point{}), "p")
	f := Field(p, "Y")
	if f.Type() != IntType || !reflect.DeepEqual(f.Info.Index, []int{1}) {
		t.Fatalf("field: %v %v", f.Type(), f.Info.Index)
	}
	c := Param(reflect.TypeOf(counter{}), "c")
	prop := Property(c, "Value", "SetValue")
	if !prop.Info.SetterByAddress || prop.Type() != IntType {
		t.Fatal("property setter should need the address")
	}
	if !IsWritable(prop) || IsWritable(Property(c, "Value", "")) {
		t.Fatal("writability of properties")
	}
}

func TestControlTypes(t *testing.T) {
	x := Param(IntType, "x")
	if got := Condition(Gt(x, Const(0)), x, Const(0)).Type(); got != IntType {
		t.Fatalf("condition: %v", got)
	}
	if got := IfThen(Gt(x, Const(0)), x).Type(); got != Void {
		t.Fatalf("if-then: %v", got)
	}
	brk := Label(IntType, "brk")
	if got := MakeLoop(BreakWith(brk, x), brk, nil).Type(); got != IntType {
		t.Fatalf("loop: %v", got)
	}
	l := NewLambda("inc", AddOf(x, Const(1)), x)
	if l.Type() != reflect.TypeOf(func(int) int { return 0 }) {
		t.Fatalf("lambda: %v", l.Type())
	}
	ref := RefParam(IntType, "r")
	if NewLambda("set", Set(ref, Const(1)), ref).Type() != reflect.TypeOf(func(*int) int { return 0 }) {
		t.Fatal("by-ref parameter signature")
	}
	mustPanic(t, "goto void with value", func() { GotoWith(Label(Void, ""), x) })
	mustPanic(t, "duplicate parameter", func() { NewLambda("d", x, x, x) })
	mustPanic(t, "try without handlers", func() { TryCatch(x) })
}

func TestRewritePreservesUnchanged(t *testing.T) {
	x := Param(IntType, "x")
	y := Param(IntType, "y")
	tree := Seq(Set(x, AddOf(x, Const(1))), Mul(x, Const(2)))
	same := Rewrite(tree, func(n Node) Node { return n })
	if same != Node(tree) {
		t.Fatal("identity rewrite rebuilt the tree")
	}
	swapped := Rewrite(tree, func(n Node) Node {
		if n == Node(x) {
			return y
		}
		return n
	})
	var seen []*Parameter
	Inspect(swapped, func(n Node) bool {
		if p, ok := n.(*Parameter); ok {
			seen = append(seen, p)
		}
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("saw %d parameters", len(seen))
	}
	for _, p := range seen {
		if p != y {
			t.Fatalf("parameter %v was not rewritten", p)
		}
	}
}
