package tree

import (
	"fmt"
	"reflect"
)

// UnaryOp enumerates one-operand operators.
type UnaryOp uint8

const (
	Negate UnaryOp = iota
	UnaryPlus
	Not
	OnesComplement
	Convert
	TypeAs
	Throw
	ArrayLength
	Quote
	Increment
	Decrement
	PreIncrementAssign
	PreDecrementAssign
	PostIncrementAssign
	PostDecrementAssign
	IsTrue
	IsFalse
)

var unaryNames = [...]string{
	Negate:              "Negate",
	UnaryPlus:           "UnaryPlus",
	Not:                 "Not",
	OnesComplement:      "OnesComplement",
	Convert:             "Convert",
	TypeAs:              "TypeAs",
	Throw:               "Throw",
	ArrayLength:         "ArrayLength",
	Quote:               "Quote",
	Increment:           "Increment",
	Decrement:           "Decrement",
	PreIncrementAssign:  "PreIncrementAssign",
	PreDecrementAssign:  "PreDecrementAssign",
	PostIncrementAssign: "PostIncrementAssign",
	PostDecrementAssign: "PostDecrementAssign",
	IsTrue:              "IsTrue",
	IsFalse:             "IsFalse",
}

func (op UnaryOp) String() string { return unaryNames[op] }

// IsAssign reports whether op writes its operand.
func (op UnaryOp) IsAssign() bool {
	return op >= PreIncrementAssign && op <= PostDecrementAssign
}

// BinaryOp enumerates two-operand operators.
type BinaryOp uint8

const (
	Add BinaryOp = iota
	Subtract
	Multiply
	Divide
	Modulo
	Power
	And
	Or
	ExclusiveOr
	LeftShift
	RightShift
	AndAlso
	OrElse
	Equal
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Coalesce
	ArrayIndex
	Assign
	AddAssign
	SubtractAssign
	MultiplyAssign
	DivideAssign
	ModuloAssign
	PowerAssign
	AndAssign
	OrAssign
	ExclusiveOrAssign
	LeftShiftAssign
	RightShiftAssign
)

var binaryNames = [...]string{
	Add:                "Add",
	Subtract:           "Subtract",
	Multiply:           "Multiply",
	Divide:             "Divide",
	Modulo:             "Modulo",
	Power:              "Power",
	And:                "And",
	Or:                 "Or",
	ExclusiveOr:        "ExclusiveOr",
	LeftShift:          "LeftShift",
	RightShift:         "RightShift",
	AndAlso:            "AndAlso",
	OrElse:             "OrElse",
	Equal:              "Equal",
	NotEqual:           "NotEqual",
	LessThan:           "LessThan",
	LessThanOrEqual:    "LessThanOrEqual",
	GreaterThan:        "GreaterThan",
	GreaterThanOrEqual: "GreaterThanOrEqual",
	Coalesce:           "Coalesce",
	ArrayIndex:         "ArrayIndex",
	Assign:             "Assign",
	AddAssign:          "AddAssign",
	SubtractAssign:     "SubtractAssign",
	MultiplyAssign:     "MultiplyAssign",
	DivideAssign:       "DivideAssign",
	ModuloAssign:       "ModuloAssign",
	PowerAssign:        "PowerAssign",
	AndAssign:          "AndAssign",
	OrAssign:           "OrAssign",
	ExclusiveOrAssign:  "ExclusiveOrAssign",
	LeftShiftAssign:    "LeftShiftAssign",
	RightShiftAssign:   "RightShiftAssign",
}

func (op BinaryOp) String() string { return binaryNames[op] }

// IsCompoundAssign reports whether op is an operator-and-assign form.
func (op BinaryOp) IsCompoundAssign() bool {
	return op >= AddAssign && op <= RightShiftAssign
}

// Underlying maps a compound assignment to its operator.
func (op BinaryOp) Underlying() BinaryOp {
	if op.IsCompoundAssign() {
		return op - AddAssign + Add
	}
	return op
}

// IsComparison reports whether op yields a boolean from two operands.
func (op BinaryOp) IsComparison() bool {
	return op >= Equal && op <= GreaterThanOrEqual
}

// IsArithmetic reports whether op is evaluated eagerly on two operands of
// the same type.
func (op BinaryOp) IsArithmetic() bool {
	return op <= RightShift
}

// Const returns a constant with the dynamic type of v. v must not be nil.
func Const(v any) *Constant {
	if v == nil {
		panic("tree: Const(nil); use TypedConst")
	}
	return &Constant{Value: v, typ: reflect.TypeOf(v)}
}

// TypedConst returns a constant of type t.
func TypedConst(v any, t reflect.Type) *Constant {
	if v == nil {
		if !CanBeNil(t) {
			panic("tree: nil constant of type " + t.String())
		}
	} else if !reflect.TypeOf(v).AssignableTo(t) {
		panic(fmt.Sprintf("tree: constant of type %v is not assignable to %v", reflect.TypeOf(v), t))
	}
	return &Constant{Value: v, typ: t}
}

// Param returns a new parameter or variable.
func Param(t reflect.Type, name string) *Parameter {
	if t == Void {
		panic("tree: variable of void type")
	}
	return &Parameter{Name: name, typ: t}
}

// Var is Param under the name used for block variables.
func Var(t reflect.Type, name string) *Parameter { return Param(t, name) }

// RefParam returns a parameter passed by reference: the Go signature
// receives a *T and writes go through the pointer.
func RefParam(t reflect.Type, name string) *Parameter {
	p := Param(t, name)
	p.ByRef = true
	return p
}

// Zero returns the zero value of t.
func Zero(t reflect.Type) *Default { return &Default{typ: t} }

// Empty is a node that does nothing.
func Empty() *Default { return &Default{typ: Void} }

// MakeUnary builds a unary node; t is only consulted by Convert, TypeAs and
// Throw.
func MakeUnary(op UnaryOp, operand Node, t reflect.Type) *Unary {
	n := &Unary{Op: op, Operand: operand}
	switch op {
	case Convert:
		n.typ = t
	case TypeAs:
		if !CanBeNil(t) {
			panic("tree: TypeAs target must be nillable: " + t.String())
		}
		n.typ = t
	case Throw:
		if t == nil {
			t = Void
		}
		n.typ = t
	case ArrayLength:
		k := operand.Type().Kind()
		if k != reflect.Slice && k != reflect.Array && k != reflect.String && k != reflect.Map {
			panic("tree: ArrayLength of " + operand.Type().String())
		}
		n.typ = IntType
	case Quote:
		if _, ok := operand.(*Lambda); !ok {
			panic("tree: Quote operand must be a lambda")
		}
		n.typ = LambdaType
	case IsTrue, IsFalse:
		requireBool(op.String(), operand.Type())
		n.typ = BoolType
	case Not:
		u := NonNullable(operand.Type())
		if !IsBool(u) && !IsInteger(u) {
			panic("tree: Not of " + operand.Type().String())
		}
		n.typ = operand.Type()
	case OnesComplement:
		if !IsInteger(NonNullable(operand.Type())) {
			panic("tree: OnesComplement of " + operand.Type().String())
		}
		n.typ = operand.Type()
	default:
		if !IsNumeric(NonNullable(operand.Type())) {
			panic(fmt.Sprintf("tree: %v of %v", op, operand.Type()))
		}
		if op.IsAssign() {
			requireWritable(operand)
		}
		n.typ = operand.Type()
	}
	return n
}

// WithMethod returns a copy of n that applies the user-defined operator fn,
// a func(T) R.
func (n *Unary) WithMethod(fn any) *Unary {
	m := reflect.ValueOf(fn)
	ft := m.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 1 || ft.NumOut() != 1 {
		panic("tree: unary operator method must be func(T) R")
	}
	c := *n
	c.Method = m
	c.typ = ft.Out(0)
	if IsNullable(n.Operand.Type()) && ft.In(0) == n.Operand.Type().Elem() && isBasic(c.typ) {
		c.typ = Nullable(c.typ)
	}
	return &c
}

// Unary shorthands.
func Neg(x Node) *Unary                       { return MakeUnary(Negate, x, nil) }
func LogicalNot(x Node) *Unary                { return MakeUnary(Not, x, nil) }
func Complement(x Node) *Unary                { return MakeUnary(OnesComplement, x, nil) }
func ConvertTo(x Node, t reflect.Type) *Unary { return MakeUnary(Convert, x, t) }
func As(x Node, t reflect.Type) *Unary        { return MakeUnary(TypeAs, x, t) }
func ThrowValue(x Node) *Unary                { return MakeUnary(Throw, x, Void) }
func Rethrow() *Unary                         { return MakeUnary(Throw, nil, Void) }
func Len(x Node) *Unary                       { return MakeUnary(ArrayLength, x, nil) }
func QuoteLambda(l *Lambda) *Unary            { return MakeUnary(Quote, l, nil) }
func Inc(x Node) *Unary                       { return MakeUnary(Increment, x, nil) }
func Dec(x Node) *Unary                       { return MakeUnary(Decrement, x, nil) }
func PreInc(x Node) *Unary                    { return MakeUnary(PreIncrementAssign, x, nil) }
func PostInc(x Node) *Unary                   { return MakeUnary(PostIncrementAssign, x, nil) }
func PreDec(x Node) *Unary                    { return MakeUnary(PreDecrementAssign, x, nil) }
func PostDec(x Node) *Unary                   { return MakeUnary(PostDecrementAssign, x, nil) }

// ThrowTyped is a throw used in a position expecting a value of type t.
func ThrowTyped(x Node, t reflect.Type) *Unary { return MakeUnary(Throw, x, t) }

func requireBool(what string, t reflect.Type) {
	if !IsBool(NonNullable(t)) {
		panic(fmt.Sprintf("tree: %s requires a boolean operand, got %v", what, t))
	}
}

// IsWritable reports whether n can be the target of an assignment.
func IsWritable(n Node) bool {
	switch n := n.(type) {
	case *Parameter:
		return true
	case *Member:
		return !n.Info.Property || n.Info.Setter != ""
	case *Index:
		return n.Object.Type().Kind() != reflect.String
	}
	return false
}

func requireWritable(n Node) {
	if !IsWritable(n) {
		panic(fmt.Sprintf("tree: %v node is not writable", n.Kind()))
	}
}

// MakeBinary builds a binary node.
func MakeBinary(op BinaryOp, left, right Node) *Binary {
	n := &Binary{Op: op, Left: left, Right: right}
	n.typ = binaryType(op, left.Type(), right.Type(), false)
	if op == Assign || op.IsCompoundAssign() {
		requireWritable(left)
	}
	return n
}

// MakeBinaryMethod builds a binary node that applies fn, a func(L, R) T.
// Passing optional operands to a method over the underlying types lifts it.
func MakeBinaryMethod(op BinaryOp, left, right Node, fn any, liftToNull bool) *Binary {
	m := reflect.ValueOf(fn)
	ft := m.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 2 || ft.NumOut() != 1 {
		panic("tree: binary operator method must be func(L, R) T")
	}
	n := &Binary{Op: op, Left: left, Right: right, Method: m, LiftToNull: liftToNull}
	out := ft.Out(0)
	lt, rt := left.Type(), right.Type()
	if ft.In(0) == lt && ft.In(1) == rt {
		n.typ = out
		return n
	}
	if NonNullable(lt) != ft.In(0) || NonNullable(rt) != ft.In(1) {
		panic(fmt.Sprintf("tree: operator method %v does not accept (%v, %v)", ft, lt, rt))
	}
	switch {
	case op.IsComparison() && !liftToNull:
		n.typ = out
	case isBasic(out):
		n.typ = Nullable(out)
	default:
		panic("tree: cannot lift operator returning " + out.String())
	}
	return n
}

// LiftedToNull returns a copy of n whose lifted comparison yields an
// optional boolean.
func (n *Binary) LiftedToNull() *Binary {
	c := *n
	c.LiftToNull = true
	c.typ = binaryType(n.Op, n.Left.Type(), n.Right.Type(), true)
	return &c
}

func binaryType(op BinaryOp, lt, rt reflect.Type, liftToNull bool) reflect.Type {
	fail := func() reflect.Type {
		panic(fmt.Sprintf("tree: %v is not defined for (%v, %v)", op, lt, rt))
	}
	switch {
	case op == Assign:
		if !rt.AssignableTo(lt) {
			return fail()
		}
		return lt
	case op.IsCompoundAssign():
		if binaryType(op.Underlying(), lt, rt, false) != lt {
			return fail()
		}
		return lt
	case op == LeftShift || op == RightShift:
		if !IsInteger(NonNullable(lt)) || !IsInteger(NonNullable(rt)) {
			return fail()
		}
		if IsNullable(rt) && !IsNullable(lt) {
			return Nullable(lt)
		}
		return lt
	case op == Add:
		if lt != rt {
			return fail()
		}
		u := NonNullable(lt)
		if !IsNumeric(u) && u.Kind() != reflect.String {
			return fail()
		}
		return lt
	case op <= Power:
		if lt != rt || !IsNumeric(NonNullable(lt)) {
			return fail()
		}
		return lt
	case op == And || op == Or || op == ExclusiveOr:
		if lt != rt {
			return fail()
		}
		u := NonNullable(lt)
		if !IsInteger(u) && !IsBool(u) {
			return fail()
		}
		return lt
	case op == AndAlso || op == OrElse:
		if lt != rt || !IsBool(NonNullable(lt)) {
			return fail()
		}
		return lt
	case op == Equal || op == NotEqual:
		if lt != rt {
			if !(CanBeNil(lt) && CanBeNil(rt) && (lt.AssignableTo(rt) || rt.AssignableTo(lt))) {
				return fail()
			}
			return BoolType
		}
		if IsNullable(lt) && liftToNull {
			return Nullable(BoolType)
		}
		return BoolType
	case op.IsComparison():
		if lt != rt {
			return fail()
		}
		u := NonNullable(lt)
		if !IsNumeric(u) && u.Kind() != reflect.String {
			return fail()
		}
		if IsNullable(lt) && liftToNull {
			return Nullable(BoolType)
		}
		return BoolType
	case op == Coalesce:
		if !CanBeNil(lt) {
			return fail()
		}
		if IsNullable(lt) && rt == lt.Elem() {
			return rt
		}
		if !rt.AssignableTo(lt) {
			return fail()
		}
		return lt
	case op == ArrayIndex:
		if (lt.Kind() != reflect.Slice && lt.Kind() != reflect.Array) || !IsInteger(rt) {
			return fail()
		}
		return lt.Elem()
	}
	return fail()
}

// Binary shorthands.
func AddOf(l, r Node) *Binary      { return MakeBinary(Add, l, r) }
func Sub(l, r Node) *Binary        { return MakeBinary(Subtract, l, r) }
func Mul(l, r Node) *Binary        { return MakeBinary(Multiply, l, r) }
func Div(l, r Node) *Binary        { return MakeBinary(Divide, l, r) }
func Mod(l, r Node) *Binary        { return MakeBinary(Modulo, l, r) }
func Eq(l, r Node) *Binary         { return MakeBinary(Equal, l, r) }
func Ne(l, r Node) *Binary         { return MakeBinary(NotEqual, l, r) }
func Lt(l, r Node) *Binary         { return MakeBinary(LessThan, l, r) }
func Le(l, r Node) *Binary         { return MakeBinary(LessThanOrEqual, l, r) }
func Gt(l, r Node) *Binary         { return MakeBinary(GreaterThan, l, r) }
func Ge(l, r Node) *Binary         { return MakeBinary(GreaterThanOrEqual, l, r) }
func AndAlsoOf(l, r Node) *Binary  { return MakeBinary(AndAlso, l, r) }
func OrElseOf(l, r Node) *Binary   { return MakeBinary(OrElse, l, r) }
func CoalesceOf(l, r Node) *Binary { return MakeBinary(Coalesce, l, r) }
func Set(l, r Node) *Binary        { return MakeBinary(Assign, l, r) }

// TypeIsOf tests whether the dynamic type of x is assignable to t.
func TypeIsOf(x Node, t reflect.Type) *TypeBinary {
	return &TypeBinary{Op: TypeIs, Expr: x, Operand: t}
}

// TypeEqualOf tests whether the dynamic type of x is exactly t.
func TypeEqualOf(x Node, t reflect.Type) *TypeBinary {
	return &TypeBinary{Op: TypeEqual, Expr: x, Operand: t}
}
