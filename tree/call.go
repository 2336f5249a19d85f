package tree

import (
	"fmt"
	"reflect"
)

// CallFunc calls the Go function fn. A trailing error result is stripped
// from the node type: a non-nil error is thrown.
func CallFunc(fn any, args ...Node) *Call {
	v, ok := fn.(reflect.Value)
	if !ok {
		v = reflect.ValueOf(fn)
	}
	if v.Kind() != reflect.Func || v.IsNil() {
		panic("tree: CallFunc of non-func")
	}
	c := &Call{Func: v, Args: args, Sig: v.Type()}
	c.typ, c.Throws = resultOf(c.Sig)
	checkArgs(c.Sig, 0, args, false)
	return c
}

// CallSpread is CallFunc with the last argument passed as the variadic
// slice.
func CallSpread(fn any, args ...Node) *Call {
	c := CallFunc(fn)
	if !c.Sig.IsVariadic() {
		panic("tree: CallSpread of non-variadic func")
	}
	c.Args = args
	c.Spread = true
	checkArgs(c.Sig, 0, args, true)
	return c
}

// CallMethod calls the method name on obj. Methods with pointer receivers
// may be called on addressable struct values; the call then takes the
// receiver's address.
func CallMethod(obj Node, name string, args ...Node) *Call {
	sig, addr := lookupMethod(obj.Type(), name)
	c := &Call{Object: obj, Method: MethodInfo{Name: name, AddressReceiver: addr}, Args: args, Sig: sig}
	c.typ, c.Throws = resultOf(sig)
	if addr && !IsWritable(obj) {
		panic(fmt.Sprintf("tree: method %s needs an addressable receiver", name))
	}
	checkArgs(sig, 0, args, false)
	return c
}

// lookupMethod returns the signature of method name without its receiver.
func lookupMethod(t reflect.Type, name string) (reflect.Type, bool) {
	if m, ok := t.MethodByName(name); ok {
		if t.Kind() == reflect.Interface {
			return m.Type, false
		}
		return dropReceiver(m.Type), false
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		if m, ok := reflect.PointerTo(t).MethodByName(name); ok {
			return dropReceiver(m.Type), true
		}
	}
	panic(fmt.Sprintf("tree: %v has no method %s", t, name))
}

func dropReceiver(ft reflect.Type) reflect.Type {
	in := make([]reflect.Type, ft.NumIn()-1)
	for i := range in {
		in[i] = ft.In(i + 1)
	}
	out := make([]reflect.Type, ft.NumOut())
	for i := range out {
		out[i] = ft.Out(i)
	}
	return reflect.FuncOf(in, out, ft.IsVariadic())
}

func resultOf(sig reflect.Type) (reflect.Type, bool) {
	n := sig.NumOut()
	throws := n > 0 && sig.Out(n-1) == ErrorType
	if throws && n > 1 {
		n--
	} else {
		throws = false
	}
	switch n {
	case 0:
		return Void, false
	case 1:
		if throws {
			return sig.Out(0), true
		}
		return sig.Out(0), false
	}
	panic("tree: functions may return at most one value and an error: " + sig.String())
}

// checkArgs validates args against the parameters of sig starting at skip.
// Arguments for pointer parameters may be writable nodes of the element
// type: they are passed by reference.
func checkArgs(sig reflect.Type, skip int, args []Node, spread bool) {
	n := sig.NumIn() - skip
	fixed := n
	if sig.IsVariadic() && !spread {
		fixed--
		if len(args) < fixed {
			panic(fmt.Sprintf("tree: %v needs at least %d arguments", sig, fixed))
		}
	} else if len(args) != n {
		panic(fmt.Sprintf("tree: %v called with %d arguments", sig, len(args)))
	}
	for i, a := range args {
		var pt reflect.Type
		if i < fixed {
			pt = sig.In(i + skip)
		} else if spread {
			pt = sig.In(sig.NumIn() - 1)
		} else {
			pt = sig.In(sig.NumIn() - 1).Elem()
		}
		if AreReferenceAssignable(pt, a.Type()) {
			continue
		}
		if pt.Kind() == reflect.Pointer && pt.Elem() == a.Type() && IsWritable(a) {
			continue
		}
		panic(fmt.Sprintf("tree: argument %d of %v: %v is not assignable to %v", i, sig, a.Type(), pt))
	}
}

// IsByRefArg reports whether arg is passed by reference to a parameter of
// type pt.
func IsByRefArg(pt reflect.Type, arg Node) bool {
	return pt.Kind() == reflect.Pointer && pt.Elem() == arg.Type() && !AreReferenceAssignable(pt, arg.Type())
}

// ParamTypes returns the declared types of the arguments of a call,
// expanding the variadic tail.
func (n *Call) ParamTypes() []reflect.Type {
	ts := make([]reflect.Type, len(n.Args))
	last := n.Sig.NumIn() - 1
	for i := range n.Args {
		switch {
		case n.Sig.IsVariadic() && i >= last && !n.Spread:
			ts[i] = n.Sig.In(last).Elem()
		default:
			ts[i] = n.Sig.In(i)
		}
	}
	return ts
}

// Field reads the struct field name of x. x may be a struct or a pointer
// to a struct.
func Field(x Node, name string) *Member {
	t := x.Type()
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		panic("tree: Field of non-struct type " + t.String())
	}
	f, ok := st.FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("tree: %v has no field %s", t, name))
	}
	return &Member{Expr: x, Info: MemberInfo{Name: name, Owner: t, Type: f.Type, Index: f.Index}}
}

// Property reads x through the getter method get and, when set is not
// empty, writes through the setter method set.
func Property(x Node, get, set string) *Member {
	sig, addr := lookupMethod(x.Type(), get)
	if addr || sig.NumIn() != 0 || sig.NumOut() != 1 {
		panic("tree: property getter must be a value method with no arguments and one result")
	}
	info := MemberInfo{Name: get, Owner: x.Type(), Type: sig.Out(0), Property: true, Setter: set}
	if set != "" {
		ssig, saddr := lookupMethod(x.Type(), set)
		if ssig.NumIn() != 1 || ssig.In(0) != info.Type || ssig.NumOut() != 0 {
			panic("tree: property setter must take the property type and return nothing")
		}
		info.SetterByAddress = saddr
	}
	return &Member{Expr: x, Info: info}
}

// NewZero constructs the zero value of t. For a pointer to a struct a fresh
// struct is allocated.
func NewZero(t reflect.Type) *New {
	return &New{typ: t}
}

// NewWith constructs a value by calling ctor, a func returning one value.
func NewWith(ctor any, args ...Node) *New {
	v := reflect.ValueOf(ctor)
	if v.Kind() != reflect.Func || v.Type().NumOut() != 1 {
		panic("tree: constructor must be a func returning one value")
	}
	checkArgs(v.Type(), 0, args, false)
	return &New{Ctor: v, Args: args, typ: v.Type().Out(0)}
}

// NewArrayInit builds a slice of elem from the elements.
func NewArrayInit(elem reflect.Type, exprs ...Node) *NewArray {
	for i, e := range exprs {
		if !AreReferenceAssignable(elem, e.Type()) {
			panic(fmt.Sprintf("tree: element %d: %v is not assignable to %v", i, e.Type(), elem))
		}
	}
	return &NewArray{Exprs: exprs, typ: reflect.SliceOf(elem)}
}

// NewArrayBounds builds a zeroed slice of elem of the given length.
func NewArrayBounds(elem reflect.Type, length Node) *NewArray {
	if !IsInteger(length.Type()) {
		panic("tree: array length must be an integer")
	}
	return &NewArray{Bounds: true, Exprs: []Node{length}, typ: reflect.SliceOf(elem)}
}

// Bind returns an assignment of expr to the member of info.
func Bind(info MemberInfo, expr Node) *Assignment {
	if !AreReferenceAssignable(info.Type, expr.Type()) {
		panic(fmt.Sprintf("tree: %v is not assignable to member %s", expr.Type(), info.Name))
	}
	return &Assignment{Info: info, Expr: expr}
}

// BindMembers initializes members of a nested member.
func BindMembers(info MemberInfo, bindings ...Binding) *MemberBinding {
	return &MemberBinding{Info: info, Bindings: bindings}
}

// BindList calls add methods on a member.
func BindList(info MemberInfo, inits ...*ElementInit) *ListBinding {
	return &ListBinding{Info: info, Inits: inits}
}

// FieldOf returns the member descriptor of a struct field of t.
func FieldOf(t reflect.Type, name string) MemberInfo {
	return Field(Zero(t), name).Info
}

// PropertyOf returns the member descriptor of a property of t.
func PropertyOf(t reflect.Type, get, set string) MemberInfo {
	return Property(Zero(t), get, set).Info
}

// MakeMemberInit constructs a value and initializes its members.
func MakeMemberInit(n *New, bindings ...Binding) *MemberInit {
	return &MemberInit{New: n, Bindings: bindings}
}

// ElementInitOf returns an add-method call for a list initializer of t.
func ElementInitOf(t reflect.Type, method string, args ...Node) *ElementInit {
	sig, addr := lookupMethod(t, method)
	checkArgs(sig, 0, args, false)
	return &ElementInit{Method: MethodInfo{Name: method, AddressReceiver: addr}, Args: args}
}

// MakeListInit constructs a value and calls add methods on it.
func MakeListInit(n Node, inits ...*ElementInit) *ListInit {
	if len(inits) == 0 {
		panic("tree: list initializer without elements")
	}
	return &ListInit{New: n, Inits: inits}
}

// IndexOf reads object[key] for slices, arrays, strings and maps.
func IndexOf(object, key Node) *Index {
	t := object.Type()
	var et reflect.Type
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if !IsInteger(key.Type()) {
			panic("tree: index must be an integer")
		}
		et = t.Elem()
	case reflect.String:
		if !IsInteger(key.Type()) {
			panic("tree: index must be an integer")
		}
		et = reflect.TypeOf(byte(0))
	case reflect.Map:
		if !AreReferenceAssignable(t.Key(), key.Type()) {
			panic("tree: map key of type " + key.Type().String())
		}
		et = t.Elem()
	default:
		panic("tree: Index of " + t.String())
	}
	return &Index{Object: object, Key: key, typ: et}
}

// DynamicCall binds the call at run time: the method member of args[0] is
// called with the remaining args, or args[0] itself when member is empty.
func DynamicCall(t reflect.Type, member string, args ...Node) *Dynamic {
	if len(args) == 0 {
		panic("tree: dynamic call without a receiver")
	}
	return &Dynamic{Member: member, Args: args, typ: t}
}

// MarkLine marks the code that follows as coming from lines start..end of
// file.
func MarkLine(file string, start, end int) *DebugInfo {
	if start <= 0 || end < start {
		panic("tree: invalid line range")
	}
	return &DebugInfo{File: file, StartLine: start, EndLine: end}
}

// ClearDebug clears the current source position.
func ClearDebug(file string) *DebugInfo { return &DebugInfo{File: file} }

// RuntimeVars yields live access to vars.
func RuntimeVars(vars ...*Parameter) *RuntimeVariables {
	return &RuntimeVariables{Vars: vars}
}
