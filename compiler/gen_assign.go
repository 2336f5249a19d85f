package compiler

import (
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// location is the target of a store. Its object and key operands have been
// evaluated when the location is created, so the value to store may be
// computed afterwards on an empty stack.
type location interface {
	// load pushes the current value.
	load(c *lambdaCompiler)
	// store pops the value on top of the stack into the location.
	store(c *lambdaCompiler)
	release(c *lambdaCompiler)
}

type varLocation struct{ v *tree.Parameter }

func (l varLocation) load(c *lambdaCompiler)  { c.emitLoad(l.v) }
func (l varLocation) store(c *lambdaCompiler) { c.emitStore(l.v) }
func (l varLocation) release(*lambdaCompiler) {}

// tempLocation holds an operand evaluated ahead of the store.
type tempLocation struct{ v *tree.Parameter }

func (l tempLocation) load(c *lambdaCompiler)    { c.emitLoad(l.v) }
func (l tempLocation) store(c *lambdaCompiler)   { c.emitStore(l.v) }
func (l tempLocation) release(c *lambdaCompiler) { c.freeHidden(l.v) }

type constLocation struct{ n *tree.Constant }

func (l constLocation) load(c *lambdaCompiler) { c.emitConstant(l.n.Value, l.n.Type()) }
func (l constLocation) store(c *lambdaCompiler) {
	fail(unsupportedError("store into a constant"))
}
func (l constLocation) release(*lambdaCompiler) {}

// fieldLocation is a struct field. A field of a struct held by value is
// written by storing a modified copy back into the object.
type fieldLocation struct {
	obj     location
	field   int
	byValue bool
}

func (l fieldLocation) load(c *lambdaCompiler) {
	l.obj.load(c)
	c.emitOp(vm.OPGetField, l.field)
}

func (l fieldLocation) store(c *lambdaCompiler) {
	l.obj.load(c)
	c.emit0(vm.OPSwap)
	if !l.byValue {
		c.emitOp(vm.OPSetField, l.field)
		return
	}
	c.emitOp(vm.OPWithField, l.field)
	l.obj.store(c)
}

func (l fieldLocation) release(c *lambdaCompiler) { l.obj.release(c) }

type propertyLocation struct {
	obj   location
	info  tree.MemberInfo
	owner reflect.Type
}

func (l propertyLocation) load(c *lambdaCompiler) {
	l.obj.load(c)
	c.emitMemberRead(l.info)
}

func (l propertyLocation) store(c *lambdaCompiler) {
	setter := c.consts.append(&vm.HostMethod{Name: l.info.Setter})
	if !l.info.SetterByAddress {
		l.obj.load(c)
		c.emit0(vm.OPSwap)
		c.emitOp2(vm.OPCallMethod, setter, 1)
		return
	}
	// the setter mutates a boxed copy that is stored back
	pt := reflect.PointerTo(l.owner)
	p := c.allocLocal(pt)
	l.obj.load(c)
	c.emitType(vm.OPBox, l.owner)
	c.emit0(vm.OPDup)
	c.emitOp(vm.OPSetLocal, p)
	c.emit0(vm.OPSwap)
	c.emitOp2(vm.OPCallMethod, setter, 1)
	c.emitOp(vm.OPGetLocal, p)
	c.emit0(vm.OPDeref)
	l.obj.store(c)
	c.freeLocal(p, pt)
}

func (l propertyLocation) release(c *lambdaCompiler) { l.obj.release(c) }

// indexLocation is an element of a map, a slice or an array. Arrays are
// values: the modified copy is stored back into the object.
type indexLocation struct {
	obj     location
	key     location
	byValue bool
}

func (l indexLocation) load(c *lambdaCompiler) {
	l.obj.load(c)
	l.key.load(c)
	c.emit0(vm.OPIndex)
}

func (l indexLocation) store(c *lambdaCompiler) {
	l.obj.load(c)
	c.emit0(vm.OPSwap)
	l.key.load(c)
	c.emit0(vm.OPSwap)
	if !l.byValue {
		c.emit0(vm.OPSetIndex)
		return
	}
	c.emit0(vm.OPWithIndex)
	l.obj.store(c)
}

func (l indexLocation) release(c *lambdaCompiler) {
	l.key.release(c)
	l.obj.release(c)
}

// locationOf evaluates the operands of the writable node n.
func (c *lambdaCompiler) locationOf(n tree.Node) location {
	switch n := n.(type) {
	case *tree.Parameter:
		return varLocation{n}
	case *tree.Member:
		obj := c.objectLocation(n.Expr)
		if n.Info.Property {
			return propertyLocation{obj: obj, info: n.Info, owner: n.Expr.Type()}
		}
		return fieldLocation{obj: obj, field: c.fieldConst(n.Info), byValue: n.Expr.Type().Kind() == reflect.Struct}
	case *tree.Index:
		obj := c.objectLocation(n.Object)
		key := c.operandLocation(n.Key)
		return indexLocation{obj: obj, key: key, byValue: n.Object.Type().Kind() == reflect.Array}
	}
	fail(unsupportedError("assignment to " + n.Kind().String()))
	return nil
}

// objectLocation is the object of a member or an element. Values held in
// a writable place are updated in place; other objects are evaluated once.
func (c *lambdaCompiler) objectLocation(n tree.Node) location {
	switch n := n.(type) {
	case *tree.Parameter:
		return varLocation{n}
	case *tree.Constant:
		return constLocation{n}
	}
	if tree.IsValueType(n.Type()) && tree.IsWritable(n) {
		return c.locationOf(n)
	}
	return c.operandLocation(n)
}

func (c *lambdaCompiler) operandLocation(n tree.Node) location {
	if k, ok := n.(*tree.Constant); ok {
		return constLocation{k}
	}
	c.emit(n, emitValue)
	v := c.hiddenVar(n.Type())
	c.emitStore(v)
	return tempLocation{v}
}

func (c *lambdaCompiler) emitAssign(n *tree.Binary, flags emitFlags) {
	if v, ok := n.Left.(*tree.Parameter); ok {
		c.emit(n.Right, emitValue)
		if flags.value() {
			c.emit0(vm.OPDup)
		}
		c.emitStore(v)
		return
	}
	loc := c.locationOf(n.Left)
	c.emit(n.Right, emitValue)
	if flags.value() {
		c.emit0(vm.OPDup)
	}
	loc.store(c)
	loc.release(c)
}

func (c *lambdaCompiler) emitCompoundAssign(n *tree.Binary, flags emitFlags) {
	loc := c.locationOf(n.Left)
	loc.load(c)
	c.emit(n.Right, emitValue)
	c.emitBinaryOp(n.Op.Underlying(), n.Left.Type(), n.Right.Type(), n.Type(), n.Method)
	if flags.value() {
		c.emit0(vm.OPDup)
	}
	loc.store(c)
	loc.release(c)
}

// emitIncDecAssign emits the four increment and decrement assignments. The
// postfix forms yield the value read before the update.
func (c *lambdaCompiler) emitIncDecAssign(n *tree.Unary, flags emitFlags) {
	op := tree.Increment
	if n.Op == tree.PreDecrementAssign || n.Op == tree.PostDecrementAssign {
		op = tree.Decrement
	}
	post := n.Op == tree.PostIncrementAssign || n.Op == tree.PostDecrementAssign
	t := n.Operand.Type()

	loc := c.locationOf(n.Operand)
	loc.load(c)
	if post && flags.value() {
		c.emit0(vm.OPDup)
	}
	c.emitUnaryOp(op, t, n.Type(), n.Method)
	if !post && flags.value() {
		c.emit0(vm.OPDup)
	}
	loc.store(c)
	loc.release(c)
}
