package tree

import (
	"reflect"

	"github.com/vida-lang/lambdac/internal/shape"
)

// Void is the type of nodes that produce no value.
var Void = shape.Void

// Frequently used types.
var (
	AnyType     = reflect.TypeOf((*any)(nil)).Elem()
	ErrorType   = reflect.TypeOf((*error)(nil)).Elem()
	BoolType    = reflect.TypeOf(false)
	IntType     = reflect.TypeOf(0)
	Int64Type   = reflect.TypeOf(int64(0))
	Float64Type = reflect.TypeOf(float64(0))
	StringType  = reflect.TypeOf("")
	LambdaType  = reflect.TypeOf((*Lambda)(nil))
)

// Nullable returns the optional form of a basic type t. An optional value
// is a pointer; nil means no value.
func Nullable(t reflect.Type) reflect.Type {
	if !isBasic(t) {
		panic("tree: Nullable of non-basic type " + t.String())
	}
	return reflect.PointerTo(t)
}

// IsNullable reports whether t is the optional form of a basic type.
func IsNullable(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Pointer && isBasic(t.Elem())
}

// NonNullable strips the optional wrapper from t, if any.
func NonNullable(t reflect.Type) reflect.Type {
	if IsNullable(t) {
		return t.Elem()
	}
	return t
}

func isBasic(t reflect.Type) bool {
	return IsNumeric(t) || t.Kind() == reflect.Bool || t.Kind() == reflect.String
}

// IsInteger reports whether t has an integer kind.
func IsInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// IsFloat reports whether t has a floating point kind.
func IsFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

// IsNumeric reports whether t is an integer or floating point type.
func IsNumeric(t reflect.Type) bool {
	return IsInteger(t) || IsFloat(t)
}

// IsBool reports whether t has a boolean kind.
func IsBool(t reflect.Type) bool {
	return t.Kind() == reflect.Bool
}

// CanBeNil reports whether the zero value of t is nil.
func CanBeNil(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// IsValueType reports whether values of t are copied on assignment and
// must be addressed to be mutated in place.
func IsValueType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct || t.Kind() == reflect.Array
}

// FuncType returns the func type of a procedure with the given parameters
// and result.
func FuncType(params []*Parameter, result reflect.Type) reflect.Type {
	ts := make([]reflect.Type, len(params))
	for i, p := range params {
		ts[i] = p.SignatureType()
	}
	return shape.Func(ts, result)
}

// AreReferenceAssignable reports whether a value of type src can be stored
// in a location of type dst without conversion.
func AreReferenceAssignable(dst, src reflect.Type) bool {
	return dst == src || src.AssignableTo(dst)
}
