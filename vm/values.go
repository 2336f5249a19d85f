package vm

import (
	"reflect"
)

// Zero returns the zero value of t as a machine value.
func Zero(t reflect.Type) any {
	if t.Kind() == reflect.Interface {
		return nil
	}
	return reflect.Zero(t).Interface()
}

// convert performs a conversion between concrete types, or checks that a
// value implements an interface type.
func convert(v any, t reflect.Type) (any, error) {
	if t.Kind() == reflect.Interface {
		if v == nil || TypeOf(v).Implements(t) {
			return v, nil
		}
		return nil, InvalidCastError(v, t)
	}
	if v == nil {
		if canBeNil(t) {
			return Zero(t), nil
		}
		return nil, InvalidCastError(v, t)
	}
	vt := TypeOf(v)
	if vt == t {
		return v, nil
	}
	if _, ok := v.(*Closure); ok {
		if vt.ConvertibleTo(t) {
			return v, nil
		}
		return nil, InvalidCastError(v, t)
	}
	rv := reflect.ValueOf(v)
	if !vt.ConvertibleTo(t) {
		return nil, InvalidCastError(v, t)
	}
	return rv.Convert(t).Interface(), nil
}

// typeAssert unboxes an interface value into the concrete type t.
func typeAssert(v any, t reflect.Type) (any, error) {
	if v == nil {
		if canBeNil(t) {
			return Zero(t), nil
		}
		return nil, InvalidCastError(v, t)
	}
	if !TypeOf(v).AssignableTo(t) {
		return nil, InvalidCastError(v, t)
	}
	if t.Kind() == reflect.Interface || TypeOf(v) == t {
		return v, nil
	}
	return ToHost(v, t).Interface(), nil
}

func typeAs(v any, t reflect.Type) any {
	if IsAssignable(v, t) {
		return v
	}
	return Zero(t)
}

func canBeNil(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// box copies v into a new variable of type t and returns its address.
func box(v any, t reflect.Type) any {
	p := reflect.New(t)
	p.Elem().Set(ToHost(v, t))
	return p.Interface()
}

func deref(p any) (any, error) {
	rv := reflect.ValueOf(p)
	if rv.Kind() != reflect.Pointer {
		return nil, InvalidCastError(p, nil)
	}
	if rv.IsNil() {
		return nil, NilDereferenceError("pointer")
	}
	return FromHost(rv.Elem()), nil
}

func storeRef(p, v any) error {
	rv := reflect.ValueOf(p)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NilDereferenceError("pointer")
	}
	e := rv.Elem()
	e.Set(ToHost(v, e.Type()))
	return nil
}

func structOf(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, NilDereferenceError("field access")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, InvalidCastError(v, nil)
	}
	return rv, nil
}

func getField(v any, f *Field) (any, error) {
	rv, err := structOf(v)
	if err != nil {
		return nil, err
	}
	fv, err := rv.FieldByIndexErr(f.Index)
	if err != nil {
		return nil, NilDereferenceError("embedded field " + f.Name)
	}
	return FromHost(fv), nil
}

// setField stores into a field reached through a pointer.
func setField(p any, f *Field, v any) error {
	rv := reflect.ValueOf(p)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NilDereferenceError("field store")
	}
	fv, err := rv.Elem().FieldByIndexErr(f.Index)
	if err != nil {
		return NilDereferenceError("embedded field " + f.Name)
	}
	fv.Set(ToHost(v, fv.Type()))
	return nil
}

// withField returns a copy of the struct s with one field replaced.
func withField(s any, f *Field, v any) (any, error) {
	rv := reflect.ValueOf(s)
	if rv.Kind() != reflect.Struct {
		return nil, InvalidCastError(s, nil)
	}
	out := reflect.New(rv.Type()).Elem()
	out.Set(rv)
	fv, err := out.FieldByIndexErr(f.Index)
	if err != nil {
		return nil, NilDereferenceError("embedded field " + f.Name)
	}
	fv.Set(ToHost(v, fv.Type()))
	return out.Interface(), nil
}

func toIndex(k any) (int64, bool) {
	switch k := k.(type) {
	case int:
		return int64(k), true
	case int64:
		return k, true
	}
	rv := reflect.ValueOf(k)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func index(obj, key any) (any, error) {
	if obj == nil {
		return nil, NilDereferenceError("index")
	}
	switch o := obj.(type) {
	case []any:
		i, _ := toIndex(key)
		if i < 0 || i >= int64(len(o)) {
			return nil, IndexOutOfRangeError(len(o), i)
		}
		return o[i], nil
	case string:
		i, _ := toIndex(key)
		if i < 0 || i >= int64(len(o)) {
			return nil, IndexOutOfRangeError(len(o), i)
		}
		return o[i], nil
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Map:
		e := rv.MapIndex(ToHost(key, rv.Type().Key()))
		if !e.IsValid() {
			return Zero(rv.Type().Elem()), nil
		}
		return FromHost(e), nil
	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := toIndex(key)
		if !ok {
			return nil, InvalidCastError(key, nil)
		}
		if i < 0 || i >= int64(rv.Len()) {
			return nil, IndexOutOfRangeError(rv.Len(), i)
		}
		return FromHost(rv.Index(int(i))), nil
	case reflect.Pointer:
		if rv.Elem().Kind() == reflect.Array {
			return index(rv.Elem().Interface(), key)
		}
	}
	return nil, InvalidCastError(obj, nil)
}

// setIndex stores into a slice or a map.
func setIndex(obj, key, v any) error {
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return NilDereferenceError("assignment to entry in nil map")
		}
		rv.SetMapIndex(ToHost(key, rv.Type().Key()), ToHost(v, rv.Type().Elem()))
		return nil
	case reflect.Slice:
		i, _ := toIndex(key)
		if i < 0 || i >= int64(rv.Len()) {
			return IndexOutOfRangeError(rv.Len(), i)
		}
		rv.Index(int(i)).Set(ToHost(v, rv.Type().Elem()))
		return nil
	case reflect.Invalid:
		return NilDereferenceError("index")
	}
	return InvalidCastError(obj, nil)
}

// withIndex returns a copy of the array a with one element replaced.
func withIndex(a, key, v any) (any, error) {
	rv := reflect.ValueOf(a)
	if rv.Kind() != reflect.Array {
		return nil, InvalidCastError(a, nil)
	}
	i, _ := toIndex(key)
	if i < 0 || i >= int64(rv.Len()) {
		return nil, IndexOutOfRangeError(rv.Len(), i)
	}
	out := reflect.New(rv.Type()).Elem()
	out.Set(rv)
	out.Index(int(i)).Set(ToHost(v, rv.Type().Elem()))
	return out.Interface(), nil
}

// newValue allocates a fresh value of t: pointers to structs point to a new
// zero struct, maps are made empty, everything else is the zero value.
func newValue(t reflect.Type) any {
	switch t.Kind() {
	case reflect.Pointer:
		return reflect.New(t.Elem()).Interface()
	case reflect.Map:
		return reflect.MakeMap(t).Interface()
	}
	return Zero(t)
}

func newArray(t reflect.Type, elems []any) any {
	s := reflect.MakeSlice(t, len(elems), len(elems))
	et := t.Elem()
	for i, e := range elems {
		s.Index(i).Set(ToHost(e, et))
	}
	return s.Interface()
}

func makeSlice(t reflect.Type, n any) (any, error) {
	l, ok := toIndex(n)
	if !ok || l < 0 {
		return nil, IndexOutOfRangeError(0, l)
	}
	return reflect.MakeSlice(t, int(l), int(l)).Interface(), nil
}

// switchKey normalises a switch value to the key type of a jump table.
func switchKey(v any) (int64, bool) {
	return toIndex(v)
}
