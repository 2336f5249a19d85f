package compiler

import (
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// writeback copies a value passed by reference back into its location
// once the call returns.
type writeback struct {
	loc location
	ptr int
	t   reflect.Type
}

// emitByRef pushes a pointer to the value of the writable node n. A
// by-reference parameter is passed on as it is.
func (c *lambdaCompiler) emitByRef(n tree.Node) *writeback {
	if i, ok := c.refArg(n); ok {
		c.emitOp(vm.OPGetArg, i)
		return nil
	}
	loc := c.locationOf(n)
	loc.load(c)
	c.emitType(vm.OPBox, n.Type())
	c.emit0(vm.OPDup)
	pt := reflect.PointerTo(n.Type())
	p := c.allocLocal(pt)
	c.emitOp(vm.OPSetLocal, p)
	return &writeback{loc: loc, ptr: p, t: pt}
}

func (c *lambdaCompiler) emitWritebacks(wbs []*writeback) {
	for _, wb := range wbs {
		c.emitOp(vm.OPGetLocal, wb.ptr)
		c.emit0(vm.OPDeref)
		wb.loc.store(c)
		wb.loc.release(c)
		c.freeLocal(wb.ptr, wb.t)
	}
}

// emitArgs pushes the arguments of a call to a function with parameter
// types pts.
func (c *lambdaCompiler) emitArgs(args []tree.Node, pts []reflect.Type) []*writeback {
	var wbs []*writeback
	for i, a := range args {
		if tree.IsByRefArg(pts[i], a) {
			if wb := c.emitByRef(a); wb != nil {
				wbs = append(wbs, wb)
			}
			continue
		}
		c.emit(a, emitValue)
	}
	return wbs
}

// passesByRef reports whether a call hands a reference to one of its
// arguments to the callee. Such a call cannot replace the caller's frame.
func passesByRef(args []tree.Node, pts []reflect.Type) bool {
	for i, a := range args {
		if tree.IsByRefArg(pts[i], a) {
			return true
		}
	}
	return false
}

func (c *lambdaCompiler) emitCall(n *tree.Call) {
	var wbs []*writeback
	if n.Object != nil {
		if n.Method.AddressReceiver {
			if wb := c.emitByRef(n.Object); wb != nil {
				wbs = append(wbs, wb)
			}
		} else {
			c.emit(n.Object, emitValue)
		}
	}
	wbs = append(wbs, c.emitArgs(n.Args, n.ParamTypes())...)
	result := n.Type() != tree.Void
	if n.Object == nil {
		c.emitCallHost(&vm.HostFunc{Fn: n.Func, Spread: n.Spread, Throws: n.Throws, Result: result}, len(n.Args))
	} else {
		m := &vm.HostMethod{Name: n.Method.Name, Spread: n.Spread, Throws: n.Throws, Result: result}
		c.emitOp2(vm.OPCallMethod, c.consts.append(m), len(n.Args))
	}
	c.emitWritebacks(wbs)
}

func (c *lambdaCompiler) emitInvoke(n *tree.Invoke, flags emitFlags) {
	if l, ok := inlinable(n); ok {
		c.emitInline(n, l, flags)
		return
	}
	ft := n.Expr.Type()
	if ft.IsVariadic() {
		fail(variadicForbiddenError(ft.String()))
	}
	c.emit(n.Expr, emitValue)
	pts := make([]reflect.Type, len(n.Args))
	for i := range pts {
		pts[i] = ft.In(i)
	}
	wbs := c.emitArgs(n.Args, pts)
	if flags.tail() && c.fn.TailCall && c.tryDepth == 0 && !passesByRef(n.Args, pts) &&
		(n.Type() == tree.Void) == !c.fn.HasResult {
		c.emitOp(vm.OPTailInvoke, len(n.Args))
		return
	}
	c.emitOp(vm.OPInvoke, len(n.Args))
	c.emitWritebacks(wbs)
	c.discard(n, flags)
}

// emitInline compiles the body of an invoked lambda literal in place. The
// arguments are evaluated first, then bound to the parameters.
func (c *lambdaCompiler) emitInline(n *tree.Invoke, l *tree.Lambda, flags emitFlags) {
	temps := make([]*tree.Parameter, len(n.Args))
	for i, a := range n.Args {
		c.emit(a, emitValue)
		temps[i] = c.hiddenVar(l.Params[i].Type())
	}
	for i := len(temps) - 1; i >= 0; i-- {
		c.emitStore(temps[i])
	}
	index := make(map[*tree.Parameter]int, len(l.Params))
	for i, p := range l.Params {
		index[p] = i
	}
	s := c.enterNodeScope(n, func(v *tree.Parameter) bool {
		i, ok := index[v]
		if ok {
			c.emitLoad(temps[i])
		}
		return ok
	})
	for _, t := range temps {
		c.freeHidden(t)
	}
	c.emit(l.Body, flags)
	if flags.value() && l.Body.Type() == tree.Void && n.Type() != tree.Void {
		c.emitZero(n.Type())
	}
	if s != nil {
		c.exitScope(s)
	}
}

func (c *lambdaCompiler) emitNew(n *tree.New) {
	if !n.Ctor.IsValid() {
		c.emitType(vm.OPNew, n.Type())
		return
	}
	ft := n.Ctor.Type()
	wbs := c.emitArgs(n.Args, ctorParams(ft, len(n.Args)))
	c.emitCallHost(&vm.HostFunc{Fn: n.Ctor, Result: true}, len(n.Args))
	c.emitWritebacks(wbs)
}

func (c *lambdaCompiler) emitNewArray(n *tree.NewArray) {
	t := n.Type()
	if n.Bounds {
		c.emit(n.Exprs[0], emitValue)
		c.emitType(vm.OPMakeSlice, t)
		return
	}
	k := c.consts.addType(t)
	if len(n.Exprs) <= vm.MaxShortOperand && k <= vm.MaxShortOperand {
		for _, e := range n.Exprs {
			c.emit(e, emitValue)
		}
		c.emitOp2(vm.OPNewArray, k, len(n.Exprs))
		return
	}
	c.emitConstant(len(n.Exprs), tree.IntType)
	c.emitOp(vm.OPMakeSlice, k)
	for i, e := range n.Exprs {
		c.emit0(vm.OPDup)
		c.emitConstant(i, tree.IntType)
		c.emit(e, emitValue)
		c.emit0(vm.OPSetIndex)
	}
}

// emitDynamic emits a call site of its own: the binding it caches belongs
// to this node.
func (c *lambdaCompiler) emitDynamic(n *tree.Dynamic) {
	for _, a := range n.Args {
		c.emit(a, emitValue)
	}
	site := &vm.DynamicSite{Member: n.Member}
	if n.Type() != tree.Void {
		site.Result = n.Type()
	}
	c.emitOp2(vm.OPDynamic, c.consts.append(site), len(n.Args))
}

func (c *lambdaCompiler) emitRuntimeVariables(n *tree.RuntimeVariables) {
	for _, v := range n.Vars {
		c.emitCell(v)
	}
	c.emitOp(vm.OPRuntimeVars, len(n.Vars))
}

// emitQuote pushes the quoted lambda. When it refers to variables of the
// enclosing code, a copy is made at run time whose references go through
// the live cells of those variables.
func (c *lambdaCompiler) emitQuote(n *tree.Unary) {
	l := n.Operand.(*tree.Lambda)
	free := c.a.quotes[n]
	if len(free) == 0 {
		c.emitOp(vm.OPConst, c.consts.add(l, tree.LambdaType))
		return
	}
	for _, v := range free {
		c.emitCell(v)
	}
	c.emitOp(vm.OPRuntimeVars, len(free))
	bind := func(vs tree.VariableSet) *tree.Lambda {
		return bindQuote(l, free, vs)
	}
	c.emitCallHost(&vm.HostFunc{Fn: reflect.ValueOf(bind), Result: true}, 1)
}

// bindQuote rewrites the free variables of l into reads and writes of vs.
func bindQuote(l *tree.Lambda, free []*tree.Parameter, vs tree.VariableSet) *tree.Lambda {
	index := make(map[*tree.Parameter]int, len(free))
	for i, v := range free {
		index[v] = i
	}
	set := tree.TypedConst(vs, tree.VariableSetType)
	reads := make(map[tree.Node]int)
	out := tree.Rewrite(l, func(n tree.Node) tree.Node {
		switch n := n.(type) {
		case *tree.Parameter:
			i, ok := index[n]
			if !ok {
				return n
			}
			r := tree.ConvertTo(tree.CallMethod(set, "Get", tree.Const(i)), n.Type())
			reads[r] = i
			return r
		case *tree.Binary:
			i, ok := reads[n.Left]
			if !ok || n.Op != tree.Assign {
				return n
			}
			t := n.Left.Type()
			tmp := tree.Var(t, "")
			return tree.MakeBlockTyped(t, []*tree.Parameter{tmp},
				tree.Set(tmp, n.Right),
				tree.CallMethod(set, "Set", tree.Const(i), tree.ConvertTo(tmp, tree.AnyType)),
				tmp)
		}
		return n
	})
	return out.(*tree.Lambda)
}
