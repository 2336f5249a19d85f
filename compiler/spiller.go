package compiler

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vida-lang/lambdac/tree"
)

// Try, Loop, labels, gotos and throws need an empty operand stack. The
// spiller rewrites a tree so that they only occur where nothing is pushed:
// when one appears below a node that has already pushed operands, those
// operands are saved into temporaries and the node is rebuilt on top of
// them as a sequence.
//
// The rewrite also lowers member and list initializers into blocks that
// construct into a temporary.

type stackState uint8

const (
	stackEmpty stackState = iota
	stackNonEmpty
)

type spillAction uint8

const (
	spillNone  spillAction = 0
	spillCopy  spillAction = 1 // the node was rebuilt
	spillStack spillAction = 3 // the node must move to an empty stack
)

type spillResult struct {
	node   tree.Node
	action spillAction
}

type spiller struct {
	guard *stackGuard
	log   *slog.Logger
	temps int
}

// spill returns l rewritten so that it can be compiled with an empty stack
// at every control transfer.
func spill(l *tree.Lambda, guard *stackGuard, log *slog.Logger) *tree.Lambda {
	s := &spiller{guard: guard, log: log}
	out := s.lambda(l)
	if s.temps > 0 {
		log.Debug("spilled", "lambda", l.Name, "temps", s.temps)
	}
	return out
}

func (s *spiller) temp(t reflect.Type) *tree.Parameter {
	s.temps++
	return tree.Var(t, fmt.Sprintf("$spill%d", s.temps))
}

func (s *spiller) lambda(l *tree.Lambda) *tree.Lambda {
	r := s.rewrite(l.Body, stackEmpty)
	if r.action == spillNone {
		return l
	}
	c := *l
	c.Body = r.node
	return &c
}

func (s *spiller) rewrite(n tree.Node, state stackState) (r spillResult) {
	if n == nil {
		return spillResult{}
	}
	s.guard.run(func() { r = s.rewriteNode(n, state) })
	return r
}

// needsEmpty is the result of a node that can only run on an empty stack.
func needsEmpty(n tree.Node, action spillAction, state stackState) spillResult {
	if state == stackNonEmpty {
		return spillResult{n, spillStack}
	}
	return spillResult{n, action}
}

func (s *spiller) rewriteNode(n tree.Node, state stackState) spillResult {
	switch n := n.(type) {
	case *tree.Constant, *tree.Parameter, *tree.Default, *tree.DebugInfo, *tree.RuntimeVariables:
		return spillResult{n, spillNone}
	case *tree.Lambda:
		l := s.lambda(n)
		if l == n {
			return spillResult{n, spillNone}
		}
		return spillResult{l, spillCopy}
	case *tree.Unary:
		return s.unary(n, state)
	case *tree.Binary:
		return s.binary(n, state)
	case *tree.TypeBinary:
		r := s.rewrite(n.Expr, state)
		if r.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Expr = r.node
		return spillResult{&c, r.action}
	case *tree.Member:
		r := s.rewrite(n.Expr, state)
		if r.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Expr = r.node
		return spillResult{&c, r.action}
	case *tree.Index:
		cr := s.children(state)
		cr.add(n.Object, false)
		cr.add(n.Key, false)
		if cr.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Object, c.Key = cr.nodes[0], cr.nodes[1]
		return cr.finish(&c)
	case *tree.Call:
		return s.call(n, state)
	case *tree.Invoke:
		return s.invoke(n, state)
	case *tree.New:
		cr := s.children(state)
		var pts []reflect.Type
		if n.Ctor.IsValid() {
			pts = ctorParams(n.Ctor.Type(), len(n.Args))
		}
		for i, a := range n.Args {
			cr.add(a, pts != nil && tree.IsByRefArg(pts[i], a))
		}
		if cr.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Args = cr.nodes
		return cr.finish(&c)
	case *tree.NewArray:
		cr := s.children(state)
		for _, e := range n.Exprs {
			cr.add(e, false)
		}
		if cr.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Exprs = cr.nodes
		return cr.finish(&c)
	case *tree.Dynamic:
		cr := s.children(state)
		for _, a := range n.Args {
			cr.add(a, false)
		}
		if cr.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Args = cr.nodes
		return cr.finish(&c)
	case *tree.Conditional:
		t := s.rewrite(n.Test, state)
		a := s.rewrite(n.IfTrue, state)
		b := s.rewrite(n.IfFalse, state)
		action := t.action | a.action | b.action
		if action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Test, c.IfTrue, c.IfFalse = t.node, a.node, b.node
		return spillResult{&c, action}
	case *tree.Block:
		var action spillAction
		exprs := make([]tree.Node, len(n.Exprs))
		for i, e := range n.Exprs {
			r := s.rewrite(e, state)
			exprs[i] = r.node
			action |= r.action
		}
		if action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Exprs = exprs
		return spillResult{&c, action}
	case *tree.Switch:
		return s.switchNode(n, state)
	case *tree.Loop:
		r := s.rewrite(n.Body, stackEmpty)
		if r.action == spillNone {
			return needsEmpty(n, spillNone, state)
		}
		c := *n
		c.Body = r.node
		return needsEmpty(&c, spillCopy, state)
	case *tree.Try:
		return s.try(n, state)
	case *tree.LabelExpr:
		r := s.rewrite(n.Default, stackEmpty)
		if r.action == spillNone {
			return needsEmpty(n, spillNone, state)
		}
		c := *n
		c.Default = r.node
		return needsEmpty(&c, spillCopy, state)
	case *tree.Goto:
		r := s.rewrite(n.Value, stackEmpty)
		if r.action == spillNone {
			return needsEmpty(n, spillNone, state)
		}
		c := *n
		c.Value = r.node
		return needsEmpty(&c, spillCopy, state)
	case *tree.MemberInit:
		r := s.rewrite(s.lowerMemberInit(n), state)
		r.action |= spillCopy
		return r
	case *tree.ListInit:
		r := s.rewrite(s.lowerListInit(n), state)
		r.action |= spillCopy
		return r
	case tree.Reducible:
		r := s.rewrite(n.Reduce(), state)
		r.action |= spillCopy
		return r
	}
	fail(unsupportedError(fmt.Sprintf("node kind %v", n.Kind())))
	return spillResult{}
}

func (s *spiller) unary(n *tree.Unary, state stackState) spillResult {
	switch {
	case n.Op == tree.Quote:
		return spillResult{n, spillNone}
	case n.Op == tree.Throw:
		r := s.rewrite(n.Operand, stackEmpty)
		if r.action == spillNone {
			return needsEmpty(n, spillNone, state)
		}
		c := *n
		c.Operand = r.node
		return needsEmpty(&c, spillCopy, state)
	case n.Op.IsAssign():
		r := s.location(n.Operand, state)
		if r.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Operand = r.node
		return spillResult{&c, r.action}
	}
	r := s.rewrite(n.Operand, state)
	if r.action == spillNone {
		return spillResult{n, spillNone}
	}
	c := *n
	c.Operand = r.node
	return spillResult{&c, r.action}
}

func (s *spiller) binary(n *tree.Binary, state stackState) spillResult {
	var l, r spillResult
	switch {
	case n.Op == tree.AndAlso || n.Op == tree.OrElse || n.Op == tree.Coalesce:
		// the right operand runs after the left one is consumed
		l = s.rewrite(n.Left, state)
		r = s.rewrite(n.Right, state)
	case n.Op == tree.Assign:
		// targets evaluate their object and key into temporaries
		l = s.location(n.Left, state)
		r = s.rewrite(n.Right, state)
	case n.Op.IsCompoundAssign():
		// the current value is pushed while the right operand runs
		l = s.location(n.Left, state)
		r = s.rewrite(n.Right, stackNonEmpty)
		if r.action == spillStack {
			lowered := s.lowerCompound(n, l.node, r.node)
			if state == stackNonEmpty {
				return spillResult{lowered, spillStack}
			}
			return spillResult{lowered, spillCopy}
		}
	default:
		cr := s.children(state)
		cr.add(n.Left, false)
		cr.add(n.Right, false)
		if cr.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Left, c.Right = cr.nodes[0], cr.nodes[1]
		return cr.finish(&c)
	}
	action := l.action | r.action
	if action == spillNone {
		return spillResult{n, spillNone}
	}
	c := *n
	c.Left, c.Right = l.node, r.node
	return spillResult{&c, action}
}

// location rewrites the operands of an assignment target. Its object and
// key are evaluated at the state of the assignment.
func (s *spiller) location(n tree.Node, state stackState) spillResult {
	switch n := n.(type) {
	case *tree.Member:
		r := s.rewrite(n.Expr, state)
		if r.action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Expr = r.node
		return spillResult{&c, r.action}
	case *tree.Index:
		o := s.rewrite(n.Object, state)
		k := s.rewrite(n.Key, state)
		action := o.action | k.action
		if action == spillNone {
			return spillResult{n, spillNone}
		}
		c := *n
		c.Object, c.Key = o.node, k.node
		return spillResult{&c, action}
	}
	return spillResult{n, spillNone}
}

// lowerCompound turns a compound assignment whose right operand needs an
// empty stack into a sequence over temporaries:
//
//	tObj = obj; tKey = key; tCur = target; tR = right; target = tCur op tR
func (s *spiller) lowerCompound(n *tree.Binary, target, right tree.Node) tree.Node {
	var vars []*tree.Parameter
	var exprs []tree.Node
	save := func(e tree.Node) tree.Node {
		if _, ok := e.(*tree.Constant); ok {
			return e
		}
		if tree.IsValueType(e.Type()) {
			if _, ok := e.(*tree.Parameter); !ok {
				fail(valueTypeSpillError(e))
			}
			return e
		}
		t := s.temp(e.Type())
		vars = append(vars, t)
		exprs = append(exprs, tree.Set(t, e))
		return t
	}
	switch t := target.(type) {
	case *tree.Member:
		c := *t
		c.Expr = save(t.Expr)
		target = &c
	case *tree.Index:
		c := *t
		c.Object = save(t.Object)
		c.Key = save(t.Key)
		target = &c
	}
	cur := s.temp(target.Type())
	r := s.temp(right.Type())
	vars = append(vars, cur, r)
	exprs = append(exprs, tree.Set(cur, target), tree.Set(r, right))
	var op *tree.Binary
	if n.Method.IsValid() {
		op = tree.MakeBinaryMethod(n.Op.Underlying(), cur, r, n.Method.Interface(), n.LiftToNull)
	} else {
		op = tree.MakeBinary(n.Op.Underlying(), cur, r)
	}
	exprs = append(exprs, tree.Set(target, op))
	s.log.Debug("lowered compound assignment", "op", n.Op.String())
	return tree.MakeBlockTyped(n.Type(), vars, exprs...)
}

func (s *spiller) call(n *tree.Call, state stackState) spillResult {
	cr := s.children(state)
	if n.Object != nil {
		cr.add(n.Object, n.Method.AddressReceiver)
	}
	pts := n.ParamTypes()
	for i, a := range n.Args {
		cr.add(a, tree.IsByRefArg(pts[i], a))
	}
	if cr.action == spillNone {
		return spillResult{n, spillNone}
	}
	c := *n
	nodes := cr.nodes
	if n.Object != nil {
		c.Object, nodes = nodes[0], nodes[1:]
	}
	c.Args = nodes
	return cr.finish(&c)
}

func (s *spiller) invoke(n *tree.Invoke, state stackState) spillResult {
	cr := s.children(state)
	if l, ok := inlinable(n); ok {
		for _, a := range n.Args {
			cr.add(a, false)
		}
		// the arguments are stored before the body runs
		body := s.rewrite(l.Body, state)
		if cr.action == spillNone && body.action == spillNone {
			return spillResult{n, spillNone}
		}
		nl := *l
		nl.Body = body.node
		c := *n
		c.Expr = &nl
		c.Args = cr.nodes
		r := cr.finish(&c)
		r.action |= body.action
		return r
	}
	ft := n.Expr.Type()
	cr.add(n.Expr, false)
	for i, a := range n.Args {
		cr.add(a, tree.IsByRefArg(ft.In(i), a))
	}
	if cr.action == spillNone {
		return spillResult{n, spillNone}
	}
	c := *n
	c.Expr, c.Args = cr.nodes[0], cr.nodes[1:]
	return cr.finish(&c)
}

func (s *spiller) switchNode(n *tree.Switch, state stackState) spillResult {
	// the switch value lives in a local and each test is evaluated before
	// the local is pushed, so tests run at the state of the switch
	v := s.rewrite(n.Value, state)
	action := v.action
	cases := make([]*tree.SwitchCase, len(n.Cases))
	for i, sc := range n.Cases {
		c := *sc
		c.Tests = make([]tree.Node, len(sc.Tests))
		for j, t := range sc.Tests {
			r := s.rewrite(t, state)
			c.Tests[j] = r.node
			action |= r.action
		}
		b := s.rewrite(sc.Body, state)
		c.Body = b.node
		action |= b.action
		cases[i] = &c
	}
	d := s.rewrite(n.Default, state)
	action |= d.action
	if action == spillNone {
		return spillResult{n, spillNone}
	}
	c := *n
	c.Value, c.Cases, c.Default = v.node, cases, d.node
	return spillResult{&c, action}
}

func (s *spiller) try(n *tree.Try, state stackState) spillResult {
	body := s.rewrite(n.Body, stackEmpty)
	action := body.action
	handlers := make([]*tree.CatchBlock, len(n.Handlers))
	for i, h := range n.Handlers {
		c := *h
		f := s.rewrite(h.Filter, stackEmpty)
		b := s.rewrite(h.Body, stackEmpty)
		c.Filter, c.Body = f.node, b.node
		action |= f.action | b.action
		handlers[i] = &c
	}
	fin := s.rewrite(n.Finally, stackEmpty)
	fault := s.rewrite(n.Fault, stackEmpty)
	action |= fin.action | fault.action
	if action == spillNone {
		return needsEmpty(n, spillNone, state)
	}
	c := *n
	c.Body, c.Handlers, c.Finally, c.Fault = body.node, handlers, fin.node, fault.node
	return needsEmpty(&c, spillCopy, state)
}

// lowerMemberInit constructs into a temporary and assigns the bindings
// through it.
func (s *spiller) lowerMemberInit(n *tree.MemberInit) tree.Node {
	t := s.temp(n.Type())
	exprs := []tree.Node{tree.Set(t, n.New)}
	exprs = s.bindings(exprs, t, n.Bindings)
	exprs = append(exprs, t)
	return tree.MakeBlockTyped(n.Type(), []*tree.Parameter{t}, exprs...)
}

func (s *spiller) lowerListInit(n *tree.ListInit) tree.Node {
	t := s.temp(n.Type())
	exprs := []tree.Node{tree.Set(t, n.New)}
	for _, e := range n.Inits {
		exprs = append(exprs, tree.CallMethod(t, e.Method.Name, e.Args...))
	}
	exprs = append(exprs, t)
	return tree.MakeBlockTyped(n.Type(), []*tree.Parameter{t}, exprs...)
}

func (s *spiller) bindings(exprs []tree.Node, obj tree.Node, bs []tree.Binding) []tree.Node {
	for _, b := range bs {
		switch b := b.(type) {
		case *tree.Assignment:
			exprs = append(exprs, tree.Set(&tree.Member{Expr: obj, Info: b.Info}, b.Expr))
		case *tree.MemberBinding:
			m := s.boundMember(obj, b.Info)
			exprs = s.bindings(exprs, m, b.Bindings)
		case *tree.ListBinding:
			m := s.boundMember(obj, b.Info)
			for _, e := range b.Inits {
				exprs = append(exprs, tree.CallMethod(m, e.Method.Name, e.Args...))
			}
		}
	}
	return exprs
}

// boundMember is the member a nested binding initializes in place. A value
// type property would be initialized on a copy.
func (s *spiller) boundMember(obj tree.Node, info tree.MemberInfo) tree.Node {
	if info.Property && tree.IsValueType(info.Type) {
		fail(valueTypePropertyInitError(info.Name))
	}
	return &tree.Member{Expr: obj, Info: info}
}

// ctorParams returns the parameter types of a constructor for n arguments.
func ctorParams(ft reflect.Type, n int) []reflect.Type {
	ts := make([]reflect.Type, n)
	last := ft.NumIn() - 1
	for i := range ts {
		if ft.IsVariadic() && i >= last {
			ts[i] = ft.In(last).Elem()
		} else {
			ts[i] = ft.In(i)
		}
	}
	return ts
}

// childRewriter rewrites the operands of a node pushed one after the other.
// The first operand runs at the state of the node, the others on top of
// their predecessors.
type childRewriter struct {
	s         *spiller
	start     stackState
	state     stackState
	nodes     []tree.Node
	pinned    []bool
	action    spillAction
	lastSpill int
}

func (s *spiller) children(state stackState) *childRewriter {
	return &childRewriter{s: s, start: state, state: state, lastSpill: -1}
}

func (cr *childRewriter) add(n tree.Node, pinned bool) {
	r := cr.s.rewrite(n, cr.state)
	if r.action == spillStack {
		cr.lastSpill = len(cr.nodes)
	}
	cr.action |= r.action
	cr.nodes = append(cr.nodes, r.node)
	cr.pinned = append(cr.pinned, pinned)
	cr.state = stackNonEmpty
}

// finish wraps the rebuilt node n. When an operand needs an empty stack,
// it and every operand before it are saved into temporaries first.
func (cr *childRewriter) finish(n tree.Node) spillResult {
	if cr.lastSpill < 0 {
		return spillResult{n, cr.action}
	}
	var vars []*tree.Parameter
	var exprs []tree.Node
	for i := 0; i <= cr.lastSpill; i++ {
		c := cr.nodes[i]
		switch c.(type) {
		case nil, *tree.Constant, *tree.Default:
			continue
		}
		if cr.pinned[i] {
			if _, ok := c.(*tree.Parameter); ok {
				continue
			}
			fail(valueTypeSpillError(c))
		}
		if c.Type() == tree.Void {
			exprs = append(exprs, c)
			cr.nodes[i] = tree.Empty()
			continue
		}
		t := cr.s.temp(c.Type())
		vars = append(vars, t)
		exprs = append(exprs, tree.Set(t, c))
		cr.nodes[i] = t
	}
	n = rebuild(n, cr.nodes)
	exprs = append(exprs, n)
	block := tree.MakeBlockTyped(n.Type(), vars, exprs...)
	if cr.start == stackNonEmpty {
		return spillResult{block, spillStack}
	}
	return spillResult{block, spillCopy}
}

// rebuild stores the saved operands back into the node built by the caller.
func rebuild(n tree.Node, nodes []tree.Node) tree.Node {
	switch n := n.(type) {
	case *tree.Index:
		n.Object, n.Key = nodes[0], nodes[1]
	case *tree.Binary:
		n.Left, n.Right = nodes[0], nodes[1]
	case *tree.Call:
		if n.Object != nil {
			n.Object, nodes = nodes[0], nodes[1:]
		}
		n.Args = nodes
	case *tree.Invoke:
		if _, ok := inlinable(n); ok {
			n.Args = nodes
		} else {
			n.Expr, n.Args = nodes[0], nodes[1:]
		}
	case *tree.New:
		n.Args = nodes
	case *tree.NewArray:
		n.Exprs = nodes
	case *tree.Dynamic:
		n.Args = nodes
	}
	return n
}
