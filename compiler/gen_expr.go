package compiler

import (
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

var binaryOperators = map[tree.BinaryOp]vm.Operator{
	tree.Add:                vm.OpAdd,
	tree.Subtract:           vm.OpSub,
	tree.Multiply:           vm.OpMul,
	tree.Divide:             vm.OpDiv,
	tree.Modulo:             vm.OpMod,
	tree.Power:              vm.OpPow,
	tree.And:                vm.OpAnd,
	tree.Or:                 vm.OpOr,
	tree.ExclusiveOr:        vm.OpXor,
	tree.LeftShift:          vm.OpShl,
	tree.RightShift:         vm.OpShr,
	tree.Equal:              vm.OpEq,
	tree.NotEqual:           vm.OpNe,
	tree.LessThan:           vm.OpLt,
	tree.LessThanOrEqual:    vm.OpLe,
	tree.GreaterThan:        vm.OpGt,
	tree.GreaterThanOrEqual: vm.OpGe,
}

var unaryOperators = map[tree.UnaryOp]vm.Operator{
	tree.Negate:         vm.OpNeg,
	tree.UnaryPlus:      vm.OpPlus,
	tree.Not:            vm.OpNot,
	tree.OnesComplement: vm.OpComplement,
	tree.Increment:      vm.OpInc,
	tree.Decrement:      vm.OpDec,
}

func (c *lambdaCompiler) emitUnary(n *tree.Unary, flags emitFlags) {
	switch {
	case n.Op == tree.Quote:
		if flags.value() {
			c.emitQuote(n)
		}
		return
	case n.Op == tree.Throw:
		c.emitThrow(n)
		return
	case n.Op.IsAssign():
		c.emitIncDecAssign(n, flags)
		return
	}
	c.emit(n.Operand, emitValue)
	ot := n.Operand.Type()
	switch n.Op {
	case tree.Convert:
		c.emitConvert(ot, n.Type(), n.Method)
	case tree.TypeAs:
		c.emitType(vm.OPTypeAs, n.Type())
	case tree.ArrayLength:
		c.emitOp(vm.OPUnary, int(vm.OpLen))
	case tree.IsTrue, tree.IsFalse:
		c.emitTruth(n.Op == tree.IsTrue, ot)
	default:
		c.emitUnaryOp(n.Op, ot, n.Type(), n.Method)
	}
	c.discard(n, flags)
}

// emitUnaryOp applies op to the operand on top of the stack. Optional
// operands are lifted: no value gives no value.
func (c *lambdaCompiler) emitUnaryOp(op tree.UnaryOp, ot, t reflect.Type, method reflect.Value) {
	lifted := tree.IsNullable(ot) && !(method.IsValid() && method.Type().In(0) == ot)
	if !lifted {
		c.applyUnary(op, method)
		return
	}
	c.emit0(vm.OPDup)
	none := c.emitJump(vm.OPJumpIfNil)
	c.emit0(vm.OPUnwrap)
	c.applyUnary(op, method)
	if tree.IsNullable(t) {
		c.emitType(vm.OPBox, t.Elem())
	}
	end := c.emitJump(vm.OPJump)
	c.patch(none)
	c.emit0(vm.OPPop)
	c.emit0(vm.OPNil)
	c.patch(end)
}

func (c *lambdaCompiler) applyUnary(op tree.UnaryOp, method reflect.Value) {
	if method.IsValid() {
		c.emitCallHost(&vm.HostFunc{Fn: method, Result: true}, 1)
		return
	}
	c.emitOp(vm.OPUnary, int(unaryOperators[op]))
}

// emitTruth tests the boolean on top of the stack. An optional boolean
// without a value is neither true nor false.
func (c *lambdaCompiler) emitTruth(isTrue bool, ot reflect.Type) {
	if !tree.IsNullable(ot) {
		if !isTrue {
			c.emitOp(vm.OPUnary, int(vm.OpNot))
		}
		return
	}
	c.emit0(vm.OPDup)
	none := c.emitJump(vm.OPJumpIfNil)
	c.emit0(vm.OPUnwrap)
	if !isTrue {
		c.emitOp(vm.OPUnary, int(vm.OpNot))
	}
	c.emitConvert(ot.Elem(), tree.BoolType, reflect.Value{})
	end := c.emitJump(vm.OPJump)
	c.patch(none)
	c.emit0(vm.OPPop)
	c.emit0(vm.OPFalse)
	c.patch(end)
}

func (c *lambdaCompiler) emitThrow(n *tree.Unary) {
	if n.Operand == nil {
		if len(c.exceptions) == 0 || c.exceptions[len(c.exceptions)-1] < 0 {
			fail(rethrowOutsideCatchError(c.fn.Name))
		}
		c.emitOp(vm.OPGetLocal, c.exceptions[len(c.exceptions)-1])
	} else {
		c.emit(n.Operand, emitValue)
	}
	c.emit0(vm.OPThrow)
}

// emitConvert converts the value on top of the stack from type from to
// type to.
func (c *lambdaCompiler) emitConvert(from, to reflect.Type, method reflect.Value) {
	if method.IsValid() {
		mt := method.Type()
		if tree.IsNullable(from) && mt.In(0) == from.Elem() {
			c.emitLiftedCall(method, to)
			return
		}
		c.emitCallHost(&vm.HostFunc{Fn: method, Result: true}, 1)
		if out := mt.Out(0); out != to {
			c.emitConvert(out, to, reflect.Value{})
		}
		return
	}
	switch {
	case from == to:
	case to.Kind() == reflect.Interface:
		if from.Kind() == reflect.Interface && !from.Implements(to) {
			c.emitType(vm.OPConvert, to)
		}
	case from.Kind() == reflect.Interface:
		c.emitType(vm.OPTypeAssert, to)
	case tree.IsNullable(from) && tree.IsNullable(to):
		c.emit0(vm.OPDup)
		some := c.emitJump(vm.OPJumpIfNotNil)
		c.emit0(vm.OPPop)
		c.emit0(vm.OPNil)
		end := c.emitJump(vm.OPJump)
		c.patch(some)
		c.emit0(vm.OPUnwrap)
		c.emitConvert(from.Elem(), to.Elem(), reflect.Value{})
		c.emitType(vm.OPBox, to.Elem())
		c.patch(end)
	case tree.IsNullable(to) && !tree.IsNullable(from):
		c.emitConvert(from, to.Elem(), reflect.Value{})
		c.emitType(vm.OPBox, to.Elem())
	case tree.IsNullable(from):
		c.emit0(vm.OPUnwrap)
		c.emitConvert(from.Elem(), to, reflect.Value{})
	default:
		c.emitType(vm.OPConvert, to)
	}
}

// emitLiftedCall applies the one-argument method to the optional value on
// top of the stack.
func (c *lambdaCompiler) emitLiftedCall(method reflect.Value, to reflect.Type) {
	c.emit0(vm.OPDup)
	none := c.emitJump(vm.OPJumpIfNil)
	c.emit0(vm.OPUnwrap)
	c.emitCallHost(&vm.HostFunc{Fn: method, Result: true}, 1)
	if tree.IsNullable(to) {
		c.emitType(vm.OPBox, to.Elem())
	}
	end := c.emitJump(vm.OPJump)
	c.patch(none)
	c.emit0(vm.OPPop)
	c.emitZero(to)
	c.patch(end)
}

func (c *lambdaCompiler) emitBinary(n *tree.Binary, flags emitFlags) {
	switch {
	case n.Op == tree.AndAlso || n.Op == tree.OrElse:
		c.emitLogical(n, flags)
		return
	case n.Op == tree.Coalesce:
		c.emitCoalesce(n, flags)
		return
	case n.Op == tree.Assign:
		c.emitAssign(n, flags)
		return
	case n.Op.IsCompoundAssign():
		c.emitCompoundAssign(n, flags)
		return
	}
	c.emit(n.Left, emitValue)
	c.emit(n.Right, emitValue)
	if n.Op == tree.ArrayIndex {
		c.emit0(vm.OPIndex)
	} else {
		c.emitBinaryOp(n.Op, n.Left.Type(), n.Right.Type(), n.Type(), n.Method)
	}
	c.discard(n, flags)
}

// emitBinaryOp applies op to the two operands on top of the stack.
func (c *lambdaCompiler) emitBinaryOp(op tree.BinaryOp, lt, rt, t reflect.Type, method reflect.Value) {
	lifted := tree.IsNullable(lt) || tree.IsNullable(rt)
	if method.IsValid() {
		mt := method.Type()
		lifted = mt.In(0) != lt || mt.In(1) != rt
	}
	if !lifted {
		c.applyBinary(op, method)
		return
	}
	c.emitLiftedBinary(op, lt, rt, t, method)
}

func (c *lambdaCompiler) applyBinary(op tree.BinaryOp, method reflect.Value) {
	if method.IsValid() {
		c.emitCallHost(&vm.HostFunc{Fn: method, Result: true}, 2)
		return
	}
	c.emitOp(vm.OPBinary, int(binaryOperators[op]))
}

// emitLiftedBinary applies op to optional operands. Arithmetic and
// comparisons lifted to null yield no value when an operand has none;
// other comparisons yield false, except equality which compares the
// presence of the values.
func (c *lambdaCompiler) emitLiftedBinary(op tree.BinaryOp, lt, rt, t reflect.Type, method reflect.Value) {
	b := c.hiddenVar(rt)
	a := c.hiddenVar(lt)
	c.emitStore(b)
	c.emitStore(a)

	var none []int
	if tree.IsNullable(lt) {
		c.emitLoad(a)
		none = append(none, c.emitJump(vm.OPJumpIfNil))
	}
	if tree.IsNullable(rt) {
		c.emitLoad(b)
		none = append(none, c.emitJump(vm.OPJumpIfNil))
	}
	c.emitLoad(a)
	if tree.IsNullable(lt) {
		c.emit0(vm.OPUnwrap)
	}
	c.emitLoad(b)
	if tree.IsNullable(rt) {
		c.emit0(vm.OPUnwrap)
	}
	c.applyBinary(op, method)
	if tree.IsNullable(t) {
		c.emitType(vm.OPBox, t.Elem())
	}
	end := c.emitJump(vm.OPJump)

	c.patchAll(none)
	switch {
	case tree.IsNullable(t):
		c.emit0(vm.OPNil)
	case op == tree.Equal || op == tree.NotEqual:
		c.emitLoad(a)
		c.emit0(vm.OPIsNil)
		c.emitLoad(b)
		c.emit0(vm.OPIsNil)
		c.emitOp(vm.OPBinary, int(binaryOperators[op]))
	default:
		c.emit0(vm.OPFalse)
	}
	c.patch(end)
	c.freeHidden(a)
	c.freeHidden(b)
}

// emitLogical emits AndAlso and OrElse. The right operand only runs when
// the left one does not decide the result.
func (c *lambdaCompiler) emitLogical(n *tree.Binary, flags emitFlags) {
	and := n.Op == tree.AndAlso
	decide := vm.OPJumpIfTrue
	if and {
		decide = vm.OPJumpIfFalse
	}
	if tree.IsNullable(n.Left.Type()) && !n.Method.IsValid() {
		c.emitLiftedLogical(n, and)
		c.discard(n, flags)
		return
	}
	if n.Method.IsValid() {
		c.emitLogicalMethod(n, decide, flags)
		return
	}
	c.emit(n.Left, emitValue)
	if !flags.value() {
		end := c.emitJump(decide)
		c.emit(n.Right, 0)
		c.patch(end)
		return
	}
	c.emit0(vm.OPDup)
	end := c.emitJump(decide)
	c.emit0(vm.OPPop)
	c.emit(n.Right, emitValue)
	c.patch(end)
	c.discard(n, flags)
}

// emitLogicalMethod emits a logical operator with a user method: the left
// operand decides alone or is combined with the right one by the method.
// The left value waits in a local so the right operand runs on the stack
// the operator started with.
func (c *lambdaCompiler) emitLogicalMethod(n *tree.Binary, decide vm.Bytecode, flags emitFlags) {
	a := c.hiddenVar(n.Left.Type())
	c.emit(n.Left, emitValue)
	c.emitStore(a)
	c.emitLoad(a)
	decided := c.emitJump(decide)
	c.emit(n.Right, emitValue)
	b := c.hiddenVar(n.Right.Type())
	c.emitStore(b)
	c.emitLoad(a)
	c.emitLoad(b)
	c.freeHidden(b)
	c.emitCallHost(&vm.HostFunc{Fn: n.Method, Result: true}, 2)
	end := c.emitJump(vm.OPJump)
	c.patch(decided)
	c.emitLoad(a)
	c.patch(end)
	c.freeHidden(a)
	c.discard(n, flags)
}

// emitLiftedLogical is the three-valued AndAlso and OrElse of optional
// booleans: a deciding operand wins over a missing one.
func (c *lambdaCompiler) emitLiftedLogical(n *tree.Binary, and bool) {
	t := n.Type()
	decide := vm.OPJumpIfTrue
	if and {
		decide = vm.OPJumpIfFalse
	}
	a := c.hiddenVar(n.Left.Type())
	b := c.hiddenVar(n.Right.Type())

	c.emit(n.Left, emitValue)
	c.emitStore(a)
	c.emitLoad(a)
	right := c.emitJump(vm.OPJumpIfNil)
	c.emitLoad(a)
	c.emit0(vm.OPUnwrap)
	decided := []int{c.emitJump(decide)}

	c.patch(right)
	c.emit(n.Right, emitValue)
	c.emitStore(b)
	c.emitLoad(b)
	none := []int{c.emitJump(vm.OPJumpIfNil)}
	c.emitLoad(b)
	c.emit0(vm.OPUnwrap)
	decided = append(decided, c.emitJump(decide))
	c.emitLoad(a)
	none = append(none, c.emitJump(vm.OPJumpIfNil))
	if and {
		c.emit0(vm.OPTrue)
	} else {
		c.emit0(vm.OPFalse)
	}
	c.emitType(vm.OPBox, t.Elem())
	end := []int{c.emitJump(vm.OPJump)}

	c.patchAll(none)
	c.emit0(vm.OPNil)
	end = append(end, c.emitJump(vm.OPJump))

	c.patchAll(decided)
	if and {
		c.emit0(vm.OPFalse)
	} else {
		c.emit0(vm.OPTrue)
	}
	c.emitType(vm.OPBox, t.Elem())
	c.patchAll(end)
	c.freeHidden(b)
	c.freeHidden(a)
}

// emitCoalesce evaluates the right operand only when the left one is nil.
// An optional left operand is unwrapped when the result is its value type.
func (c *lambdaCompiler) emitCoalesce(n *tree.Binary, flags emitFlags) {
	lt := n.Left.Type()
	c.emit(n.Left, emitValue)
	c.emit0(vm.OPDup)
	right := c.emitJump(vm.OPJumpIfNil)
	if tree.IsNullable(lt) && n.Type() == lt.Elem() {
		c.emit0(vm.OPUnwrap)
	}
	end := c.emitJump(vm.OPJump)
	c.patch(right)
	c.emit0(vm.OPPop)
	c.emit(n.Right, emitValue)
	c.patch(end)
	c.discard(n, flags)
}

// emitMemberRead reads a field or property of the value on top of the
// stack.
func (c *lambdaCompiler) emitMemberRead(info tree.MemberInfo) {
	if info.Property {
		c.emitOp2(vm.OPCallMethod, c.consts.append(&vm.HostMethod{Name: info.Name, Result: true}), 0)
		return
	}
	c.emitOp(vm.OPGetField, c.fieldConst(info))
}

func (c *lambdaCompiler) fieldConst(info tree.MemberInfo) int {
	return c.consts.add(&vm.Field{Name: info.Name, Index: info.Index, Type: info.Type}, nil)
}

func (c *lambdaCompiler) emitCallHost(h *vm.HostFunc, n int) {
	c.emitOp2(vm.OPCallHost, c.consts.append(h), n)
}
