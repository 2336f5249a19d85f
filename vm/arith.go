package vm

import (
	"math"
	"reflect"
)

// Operator is the operand of OPBinary and OPUnary.
type Operator uint8

// Operators.
const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNeg
	OpPlus
	OpNot
	OpComplement
	OpLen
	OpInc
	OpDec
)

var operatorDescription = [...]string{
	OpAdd:        "+",
	OpSub:        "-",
	OpMul:        "*",
	OpDiv:        "/",
	OpMod:        "%",
	OpPow:        "**",
	OpAnd:        "&",
	OpOr:         "|",
	OpXor:        "^",
	OpShl:        "<<",
	OpShr:        ">>",
	OpEq:         "==",
	OpNe:         "!=",
	OpLt:         "<",
	OpLe:         "<=",
	OpGt:         ">",
	OpGe:         ">=",
	OpNeg:        "-",
	OpPlus:       "+",
	OpNot:        "!",
	OpComplement: "^",
	OpLen:        "len",
	OpInc:        "++",
	OpDec:        "--",
}

func (op Operator) String() string { return operatorDescription[op] }

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

type float interface {
	~float32 | ~float64
}

func intBinop[T integer](op Operator, x, y T) (any, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, DivisionByZeroError()
		}
		return x / y, nil
	case OpMod:
		if y == 0 {
			return nil, DivisionByZeroError()
		}
		return x % y, nil
	case OpPow:
		r := T(1)
		for e := y; e > 0; e >>= 1 {
			if e&1 == 1 {
				r *= x
			}
			x *= x
		}
		return r, nil
	case OpAnd:
		return x & y, nil
	case OpOr:
		return x | y, nil
	case OpXor:
		return x ^ y, nil
	case OpEq:
		return x == y, nil
	case OpNe:
		return x != y, nil
	case OpLt:
		return x < y, nil
	case OpLe:
		return x <= y, nil
	case OpGt:
		return x > y, nil
	case OpGe:
		return x >= y, nil
	}
	return nil, TypeErrorInBinaryOperator(op, x, y)
}

func floatBinop[T float](op Operator, x, y T) (any, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		return x / y, nil
	case OpMod:
		return T(math.Mod(float64(x), float64(y))), nil
	case OpPow:
		return T(math.Pow(float64(x), float64(y))), nil
	case OpEq:
		return x == y, nil
	case OpNe:
		return x != y, nil
	case OpLt:
		return x < y, nil
	case OpLe:
		return x <= y, nil
	case OpGt:
		return x > y, nil
	case OpGe:
		return x >= y, nil
	}
	return nil, TypeErrorInBinaryOperator(op, x, y)
}

func stringBinop(op Operator, x, y string) (any, error) {
	switch op {
	case OpAdd:
		return x + y, nil
	case OpEq:
		return x == y, nil
	case OpNe:
		return x != y, nil
	case OpLt:
		return x < y, nil
	case OpLe:
		return x <= y, nil
	case OpGt:
		return x > y, nil
	case OpGe:
		return x >= y, nil
	}
	return nil, TypeErrorInBinaryOperator(op, x, y)
}

func boolBinop(op Operator, x, y bool) (any, error) {
	switch op {
	case OpAnd:
		return x && y, nil
	case OpOr:
		return x || y, nil
	case OpXor, OpNe:
		return x != y, nil
	case OpEq:
		return x == y, nil
	}
	return nil, TypeErrorInBinaryOperator(op, x, y)
}

func shift[T integer](op Operator, x T, n uint64) any {
	if op == OpShl {
		return x << n
	}
	return x >> n
}

func shiftCount(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	}
	return 0, false
}

func same[T any](op Operator, x T, rhs any, f func(Operator, T, T) (any, error)) (any, error) {
	y, ok := rhs.(T)
	if !ok {
		return nil, TypeErrorInBinaryOperator(op, x, rhs)
	}
	return f(op, x, y)
}

// Binary applies op to two operands of the same type.
func Binary(op Operator, lhs, rhs any) (any, error) {
	if op == OpEq {
		return Equal(lhs, rhs), nil
	}
	if op == OpNe {
		return !Equal(lhs, rhs), nil
	}
	if op == OpShl || op == OpShr {
		n, ok := shiftCount(rhs)
		if !ok {
			return nil, TypeErrorInBinaryOperator(op, lhs, rhs)
		}
		switch x := lhs.(type) {
		case int:
			return shift(op, x, n), nil
		case int64:
			return shift(op, x, n), nil
		case uint64:
			return shift(op, x, n), nil
		}
		return reflectBinary(op, lhs, rhs)
	}
	switch x := lhs.(type) {
	case int:
		return same(op, x, rhs, intBinop[int])
	case int8:
		return same(op, x, rhs, intBinop[int8])
	case int16:
		return same(op, x, rhs, intBinop[int16])
	case int32:
		return same(op, x, rhs, intBinop[int32])
	case int64:
		return same(op, x, rhs, intBinop[int64])
	case uint:
		return same(op, x, rhs, intBinop[uint])
	case uint8:
		return same(op, x, rhs, intBinop[uint8])
	case uint16:
		return same(op, x, rhs, intBinop[uint16])
	case uint32:
		return same(op, x, rhs, intBinop[uint32])
	case uint64:
		return same(op, x, rhs, intBinop[uint64])
	case float32:
		return same(op, x, rhs, floatBinop[float32])
	case float64:
		return same(op, x, rhs, floatBinop[float64])
	case string:
		return same(op, x, rhs, stringBinop)
	case bool:
		return same(op, x, rhs, boolBinop)
	}
	return reflectBinary(op, lhs, rhs)
}

// reflectBinary handles named basic types by computing in the widest type
// of the kind and converting back.
func reflectBinary(op Operator, lhs, rhs any) (any, error) {
	x, y := reflect.ValueOf(lhs), reflect.ValueOf(rhs)
	if !x.IsValid() || !y.IsValid() {
		return nil, TypeErrorInBinaryOperator(op, lhs, rhs)
	}
	if op != OpShl && op != OpShr && x.Type() != y.Type() {
		return nil, TypeErrorInBinaryOperator(op, lhs, rhs)
	}
	var r any
	var err error
	switch x.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if op == OpShl || op == OpShr {
			n, _ := shiftCount(rhs)
			r = shift(op, x.Int(), n)
		} else {
			r, err = intBinop(op, x.Int(), y.Int())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if op == OpShl || op == OpShr {
			n, _ := shiftCount(rhs)
			r = shift(op, x.Uint(), n)
		} else {
			r, err = intBinop(op, x.Uint(), y.Uint())
		}
	case reflect.Float32, reflect.Float64:
		r, err = floatBinop(op, x.Float(), y.Float())
	case reflect.String:
		r, err = stringBinop(op, x.String(), y.String())
	case reflect.Bool:
		r, err = boolBinop(op, x.Bool(), y.Bool())
	default:
		return nil, TypeErrorInBinaryOperator(op, lhs, rhs)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := r.(bool); ok && x.Kind() != reflect.Bool {
		return r, nil
	}
	return reflect.ValueOf(r).Convert(x.Type()).Interface(), nil
}

// Unary applies a one-operand operator.
func Unary(op Operator, v any) (any, error) {
	switch op {
	case OpLen:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.String, reflect.Map:
			return rv.Len(), nil
		case reflect.Invalid:
			return nil, NilDereferenceError("len")
		}
		return nil, TypeErrorInUnaryOperator(op, v)
	case OpPlus:
		return v, nil
	case OpNot:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Bool {
			return reflect.ValueOf(!rv.Bool()).Convert(rv.Type()).Interface(), nil
		}
		return Unary(OpComplement, v)
	}
	switch x := v.(type) {
	case int:
		return intUnop(op, x)
	case int64:
		return intUnop(op, x)
	case int32:
		return intUnop(op, x)
	case uint8:
		return intUnop(op, x)
	case uint64:
		return intUnop(op, x)
	case float64:
		return floatUnop(op, x)
	}
	rv := reflect.ValueOf(v)
	var r any
	var err error
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		r, err = intUnop(op, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		r, err = intUnop(op, rv.Uint())
	case reflect.Float32, reflect.Float64:
		r, err = floatUnop(op, rv.Float())
	default:
		return nil, TypeErrorInUnaryOperator(op, v)
	}
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(r).Convert(rv.Type()).Interface(), nil
}

func intUnop[T integer](op Operator, x T) (any, error) {
	switch op {
	case OpNeg:
		return -x, nil
	case OpComplement:
		return ^x, nil
	case OpInc:
		return x + 1, nil
	case OpDec:
		return x - 1, nil
	}
	return nil, TypeErrorInUnaryOperator(op, x)
}

func floatUnop[T float](op Operator, x T) (any, error) {
	switch op {
	case OpNeg:
		return -x, nil
	case OpInc:
		return x + 1, nil
	case OpDec:
		return x - 1, nil
	}
	return nil, TypeErrorInUnaryOperator(op, x)
}

// Equal compares two values. Nil values of any type are equal to each
// other; values of incomparable types are only equal to themselves when
// both are nil.
func Equal(a, b any) bool {
	an, bn := IsNil(a), IsNil(b)
	if an || bn {
		return an && bn
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}

// IsNil reports whether v is nil or a nil pointer, map, slice, func,
// channel or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
