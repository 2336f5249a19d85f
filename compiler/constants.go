package compiler

import (
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// constKey identifies a constant for deduplication: by value for
// comparable values, by address for slices and maps.
type constKey struct {
	t   reflect.Type
	v   any
	ptr uintptr
	n   int
}

type typeKey struct{ t reflect.Type }

// keyOf returns the deduplication key of v seen as type t. Funcs and
// values holding incomparable dynamic parts are never shared.
func keyOf(v any, t reflect.Type) (any, bool) {
	if v == nil {
		return constKey{t: t}, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return constKey{t: t, ptr: rv.Pointer(), n: rv.Len()}, true
	case reflect.Map:
		return constKey{t: t, ptr: rv.Pointer()}, true
	case reflect.Func:
		return nil, false
	}
	if !rv.Comparable() {
		return nil, false
	}
	return constKey{t: t, v: v}, true
}

// isInline reports whether the constant is pushed by an instruction
// without a pool entry.
func isInline(v any, t reflect.Type) bool {
	if vm.IsNil(v) {
		return true
	}
	if _, ok := v.(bool); ok {
		return true
	}
	_, ok := immediateOf(v)
	return ok
}

// immediateOf encodes an integer constant of a predeclared type as an
// OPInt instruction.
func immediateOf(v any) (vm.Bytecode, bool) {
	rv := reflect.ValueOf(v)
	if !tree.IsInteger(rv.Type()) {
		return 0, false
	}
	var n int64
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() > vm.MaxImmediate {
			return 0, false
		}
		n = int64(rv.Uint())
	default:
		n = rv.Int()
	}
	return vm.MakeInt(rv.Type(), n)
}

// constantUse counts the references of one constant inside a procedure.
type constantUse struct {
	key   any
	value any
	typ   reflect.Type
	count int
}

// constantCounts is the binder's view of a procedure's constants, in order
// of first reference.
type constantCounts struct {
	uses  []*constantUse
	byKey map[any]*constantUse
}

func newConstantCounts() *constantCounts {
	return &constantCounts{byKey: make(map[any]*constantUse)}
}

// add registers a reference to a non-inline constant.
func (c *constantCounts) add(v any, t reflect.Type) {
	if isInline(v, t) {
		return
	}
	key, ok := keyOf(v, t)
	if !ok {
		return
	}
	u := c.byKey[key]
	if u == nil {
		u = &constantUse{key: key, value: v, typ: t}
		c.byKey[key] = u
		c.uses = append(c.uses, u)
	}
	u.count++
}

// constantPool is the constants array of one compiled procedure.
type constantPool struct {
	values []any
	index  map[any]int
}

func newConstantPool() *constantPool {
	return &constantPool{index: make(map[any]int)}
}

func (p *constantPool) append(v any) int {
	p.values = append(p.values, v)
	return len(p.values) - 1
}

// add returns the index of the constant v of type t, sharing entries
// between equal constants.
func (p *constantPool) add(v any, t reflect.Type) int {
	key, ok := keyOf(v, t)
	if !ok {
		return p.append(v)
	}
	if i, ok := p.index[key]; ok {
		return i
	}
	i := p.append(v)
	p.index[key] = i
	return i
}

func (p *constantPool) addType(t reflect.Type) int {
	key := typeKey{t}
	if i, ok := p.index[key]; ok {
		return i
	}
	i := p.append(t)
	p.index[key] = i
	return i
}

// addClosure stores a nested procedure and its constants in two adjacent
// entries and returns the index of the first.
func (p *constantPool) addClosure(fn *vm.Function, consts []any) int {
	i := p.append(fn)
	p.append(consts)
	return i
}
