package compiler

import (
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

var frameType = reflect.TypeOf((*vm.ClosureFrame)(nil))

type storageKind uint8

const (
	storageArg storageKind = iota
	storageLocal
)

// variable is where a variable of the procedure lives when it is not
// hoisted into a frame.
type variable struct {
	kind  storageKind
	index int
	byRef bool // the argument is a pointer to the value
}

// newLocal adds a local slot. Until its first store the slot holds the zero
// value of t, so a jump that skips the entry of a scope still reads a typed
// value. A nil t is for slots stored at procedure entry.
func (c *lambdaCompiler) newLocal(t reflect.Type) int {
	var zero any
	if t != nil && t != tree.Void && !tree.CanBeNil(t) {
		zero = vm.Zero(t)
	}
	c.fn.Locals = append(c.fn.Locals, zero)
	c.fn.LocalCount++
	return c.fn.LocalCount - 1
}

// allocLocal returns a local for a value of type t, reusing one released
// by a scope that has ended.
func (c *lambdaCompiler) allocLocal(t reflect.Type) int {
	if free := c.free[t]; len(free) > 0 {
		l := free[len(free)-1]
		c.free[t] = free[:len(free)-1]
		return l
	}
	return c.newLocal(t)
}

func (c *lambdaCompiler) freeLocal(l int, t reflect.Type) {
	c.free[t] = append(c.free[t], l)
}

// enterScope emits the entry of s. Variables that are not hoisted get a
// local, hoisted ones become the cells of a new frame linked to the frame
// of the enclosing scope. init pushes the initial value of a variable and
// reports false to start from the zero value.
func (c *lambdaCompiler) enterScope(s *scope, init func(v *tree.Parameter) bool) {
	c.scope = s
	for _, v := range s.vars {
		if s.hoisted[v] {
			continue
		}
		if _, ok := c.vars[v]; ok {
			continue
		}
		l := c.allocLocal(v.Type())
		c.vars[v] = variable{kind: storageLocal, index: l}
		if init == nil || !init(v) {
			c.emitZero(v.Type())
		}
		c.emitOp(vm.OPSetLocal, l)
	}
	if !s.hasFrame() {
		return
	}
	c.emitFrame(frameScope(s.parent))
	cells := s.cells()
	for _, v := range cells {
		if init == nil || !init(v) {
			c.emitZero(v.Type())
		}
	}
	c.emitOp(vm.OPNewFrame, len(cells))
	l := c.allocLocal(frameType)
	c.frames[s] = l
	c.emitOp(vm.OPSetLocal, l)
}

// exitScope releases the locals of s.
func (c *lambdaCompiler) exitScope(s *scope) {
	for _, v := range s.vars {
		if st, ok := c.vars[v]; ok && st.kind == storageLocal {
			c.freeLocal(st.index, v.Type())
			delete(c.vars, v)
		}
	}
	if l, ok := c.frames[s]; ok {
		c.freeLocal(l, frameType)
		delete(c.frames, s)
	}
	c.scope = s.parent
}

// enterNodeScope enters the scope the binder opened for node, if any.
func (c *lambdaCompiler) enterNodeScope(node any, init func(v *tree.Parameter) bool) *scope {
	s, ok := c.a.scopes[node]
	if !ok || s.node != node {
		return nil
	}
	c.enterScope(s, init)
	return s
}

// hops counts the frames between the frame of from and the frame of
// target, an enclosing scope with a frame.
func hops(from, target *scope) int {
	n := 0
	for s := from; s != target; {
		s = s.parent
		if s.hasFrame() {
			n++
		}
	}
	return n
}

// emitFrame pushes the frame of s, or nil.
func (c *lambdaCompiler) emitFrame(s *scope) {
	switch {
	case s == nil:
		c.emit0(vm.OPNil)
	case s.lambda == c.lambda:
		c.emitOp(vm.OPGetLocal, c.frames[s])
	default:
		c.emit0(vm.OPClosureFrame)
		if n := hops(c.start, s); n > 0 {
			c.emitOp(vm.OPFrameParent, n)
		}
	}
}

// declaring returns the scope declaring v.
func (c *lambdaCompiler) declaring(v *tree.Parameter) *scope {
	for s := c.scope; s != nil; s = s.parent {
		if s.declared[v] {
			return s
		}
	}
	fail(undefinedVariableError(v, c.fn.Name))
	return nil
}

// emitCell pushes the cell of a hoisted variable.
func (c *lambdaCompiler) emitCell(v *tree.Parameter) {
	s := c.declaring(v)
	if s.lambda != c.lambda {
		if l, ok := c.cachedCells[v]; ok {
			c.emitOp(vm.OPGetLocal, l)
			return
		}
	}
	c.emitFrame(s)
	c.emitOp(vm.OPFrameCell, s.cell(v))
}

// emitLoad pushes the value of v.
func (c *lambdaCompiler) emitLoad(v *tree.Parameter) {
	if l, ok := c.hidden[v]; ok {
		c.emitOp(vm.OPGetLocal, l)
		return
	}
	if st, ok := c.vars[v]; ok {
		if st.kind == storageLocal {
			c.emitOp(vm.OPGetLocal, st.index)
			return
		}
		c.emitOp(vm.OPGetArg, st.index)
		if st.byRef {
			c.emit0(vm.OPDeref)
		}
		return
	}
	c.emitCell(v)
	c.emit0(vm.OPCellGet)
}

// emitStore pops the value on top of the stack into v.
func (c *lambdaCompiler) emitStore(v *tree.Parameter) {
	if l, ok := c.hidden[v]; ok {
		c.emitOp(vm.OPSetLocal, l)
		return
	}
	if st, ok := c.vars[v]; ok {
		switch {
		case st.kind == storageLocal:
			c.emitOp(vm.OPSetLocal, st.index)
		case st.byRef:
			c.emitOp(vm.OPGetArg, st.index)
			c.emit0(vm.OPSwap)
			c.emit0(vm.OPStoreRef)
		default:
			c.emitOp(vm.OPSetArg, st.index)
		}
		return
	}
	c.emitCell(v)
	c.emit0(vm.OPSwap)
	c.emit0(vm.OPCellSet)
}

// refArg returns the argument of a by-reference parameter, which holds the
// pointer itself.
func (c *lambdaCompiler) refArg(n tree.Node) (int, bool) {
	v, ok := n.(*tree.Parameter)
	if !ok {
		return 0, false
	}
	st, ok := c.vars[v]
	if !ok || st.kind != storageArg || !st.byRef {
		return 0, false
	}
	return st.index, true
}

// hiddenVar returns a variable living in a fresh local, for lowerings that
// build tree nodes over compiler temporaries.
func (c *lambdaCompiler) hiddenVar(t reflect.Type) *tree.Parameter {
	v := tree.Var(t, "")
	c.hidden[v] = c.allocLocal(t)
	return v
}

func (c *lambdaCompiler) freeHidden(v *tree.Parameter) {
	c.freeLocal(c.hidden[v], v.Type())
	delete(c.hidden, v)
}

// cacheOuterCells loads the cells of outer variables used often into
// locals at procedure entry.
func (c *lambdaCompiler) cacheOuterCells() {
	for _, v := range c.info.outerOrder {
		if c.info.outerRefs[v] <= c.opts.ConstantCacheThreshold {
			continue
		}
		s := c.declaring(v)
		c.emitFrame(s)
		c.emitOp(vm.OPFrameCell, s.cell(v))
		l := c.newLocal(nil)
		c.emitOp(vm.OPSetLocal, l)
		c.cachedCells[v] = l
	}
}

// cacheConstants loads constants used often into locals at procedure
// entry.
func (c *lambdaCompiler) cacheConstants() {
	for _, u := range c.info.constants.uses {
		if u.count <= c.opts.ConstantCacheThreshold {
			continue
		}
		c.emitOp(vm.OPConst, c.consts.add(u.value, u.typ))
		l := c.newLocal(nil)
		c.emitOp(vm.OPSetLocal, l)
		c.cachedConsts[u.key] = l
	}
}

// emitConstant pushes v as a constant of type t.
func (c *lambdaCompiler) emitConstant(v any, t reflect.Type) {
	if vm.IsNil(v) {
		c.emit0(vm.OPNil)
		return
	}
	if b, ok := v.(bool); ok {
		if b {
			c.emit0(vm.OPTrue)
		} else {
			c.emit0(vm.OPFalse)
		}
		return
	}
	if ins, ok := immediateOf(v); ok {
		c.emitInstr(ins)
		return
	}
	if key, ok := keyOf(v, t); ok {
		if l, ok := c.cachedConsts[key]; ok {
			c.emitOp(vm.OPGetLocal, l)
			return
		}
	}
	c.emitOp(vm.OPConst, c.consts.add(v, t))
}

// emitZero pushes the zero value of t.
func (c *lambdaCompiler) emitZero(t reflect.Type) {
	switch {
	case t == tree.Void:
	case tree.CanBeNil(t):
		c.emit0(vm.OPNil)
	case t == tree.BoolType:
		c.emit0(vm.OPFalse)
	default:
		if ins, ok := vm.MakeInt(t, 0); ok {
			c.emitInstr(ins)
			return
		}
		c.emitType(vm.OPDefault, t)
	}
}
