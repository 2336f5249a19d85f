package compiler

import (
	"github.com/vida-lang/lambdac/tree"
)

// scope is the lexical region of a lambda, a block, a catch block or an
// inlined invocation. Variables referenced from a nested procedure, a
// quote or a RuntimeVariables node are hoisted into the scope's closure
// frame; the frame exists iff at least one variable is hoisted.
type scope struct {
	node     any
	parent   *scope
	lambda   *tree.Lambda // procedure the scope's code belongs to
	vars     []*tree.Parameter
	declared map[*tree.Parameter]bool
	hoisted  map[*tree.Parameter]bool

	cellList  []*tree.Parameter
	cellIndex map[*tree.Parameter]int
}

func (s *scope) declare(v *tree.Parameter) {
	if s.declared[v] {
		return
	}
	s.declared[v] = true
	s.vars = append(s.vars, v)
}

func (s *scope) hoist(v *tree.Parameter) {
	s.hoisted[v] = true
	s.cellList = nil
}

func (s *scope) hasFrame() bool { return len(s.hoisted) > 0 }

// cells returns the hoisted variables in declaration order, the order of
// the cells of the scope's frame.
func (s *scope) cells() []*tree.Parameter {
	if s.cellList == nil && len(s.hoisted) > 0 {
		s.cellIndex = make(map[*tree.Parameter]int, len(s.hoisted))
		for _, v := range s.vars {
			if s.hoisted[v] {
				s.cellIndex[v] = len(s.cellList)
				s.cellList = append(s.cellList, v)
			}
		}
	}
	return s.cellList
}

func (s *scope) cell(v *tree.Parameter) int {
	s.cells()
	return s.cellIndex[v]
}

// frameScope returns the nearest scope from s outwards that owns a frame,
// crossing procedure boundaries, or nil.
func frameScope(s *scope) *scope {
	for ; s != nil; s = s.parent {
		if s.hasFrame() {
			return s
		}
	}
	return nil
}

// procedureInfo is what the binder learns about one compiled procedure.
type procedureInfo struct {
	lambda    *tree.Lambda
	scope     *scope
	constants *constantCounts
	// references to variables of enclosing procedures, in first use order
	outerRefs  map[*tree.Parameter]int
	outerOrder []*tree.Parameter
}

func (p *procedureInfo) outerRef(v *tree.Parameter) {
	if _, ok := p.outerRefs[v]; !ok {
		p.outerOrder = append(p.outerOrder, v)
	}
	p.outerRefs[v]++
}

// analysis is the result of binding a lambda.
type analysis struct {
	scopes     map[any]*scope
	procedures map[*tree.Lambda]*procedureInfo
	quotes     map[*tree.Unary][]*tree.Parameter
}

type binder struct {
	a     *analysis
	guard *stackGuard
	scope *scope
	proc  *procedureInfo
}

// bind resolves every variable reference of l and its nested lambdas.
func bind(l *tree.Lambda, guard *stackGuard) *analysis {
	b := &binder{
		a: &analysis{
			scopes:     make(map[any]*scope),
			procedures: make(map[*tree.Lambda]*procedureInfo),
			quotes:     make(map[*tree.Unary][]*tree.Parameter),
		},
		guard: guard,
	}
	b.lambda(l)
	return b.a
}

// inlinable returns the lambda literal invoked by n when its body can be
// compiled in place.
func inlinable(n *tree.Invoke) (*tree.Lambda, bool) {
	l, ok := n.Expr.(*tree.Lambda)
	if !ok {
		return nil, false
	}
	for _, p := range l.Params {
		if p.ByRef {
			return nil, false
		}
	}
	return l, true
}

func (b *binder) visit(n tree.Node) {
	b.guard.run(func() { b.visitNode(n) })
}

func (b *binder) visitNode(n tree.Node) {
	switch n := n.(type) {
	case nil:
	case *tree.Parameter:
		b.reference(n)
	case *tree.Constant:
		b.proc.constants.add(n.Value, n.Type())
	case *tree.Lambda:
		b.lambda(n)
	case *tree.Block:
		b.block(n)
	case *tree.Try:
		b.try(n)
	case *tree.Invoke:
		if l, ok := inlinable(n); ok {
			b.inline(n, l)
			return
		}
		b.visit(n.Expr)
		for _, a := range n.Args {
			b.visit(a)
		}
	case *tree.Unary:
		if n.Op == tree.Quote {
			b.quote(n)
			return
		}
		b.visit(n.Operand)
	case *tree.RuntimeVariables:
		for _, v := range n.Vars {
			if b.capture(v) == nil {
				fail(undefinedVariableError(v, b.proc.lambda.Name))
			}
		}
	default:
		for _, c := range tree.Children(n) {
			b.visit(c)
		}
	}
}

func (b *binder) push(node any, vars []*tree.Parameter) *scope {
	s := &scope{
		node:     node,
		parent:   b.scope,
		lambda:   b.proc.lambda,
		declared: make(map[*tree.Parameter]bool),
		hoisted:  make(map[*tree.Parameter]bool),
	}
	for _, v := range vars {
		s.declare(v)
	}
	b.a.scopes[node] = s
	b.scope = s
	return s
}

func (b *binder) pop() {
	b.scope = b.scope.parent
}

func (b *binder) lambda(l *tree.Lambda) {
	savedScope, savedProc := b.scope, b.proc
	b.proc = &procedureInfo{
		lambda:    l,
		constants: newConstantCounts(),
		outerRefs: make(map[*tree.Parameter]int),
	}
	b.a.procedures[l] = b.proc
	b.proc.scope = b.push(l, l.Params)
	if body, ok := l.Body.(*tree.Block); ok && b.mergeable(body) {
		b.merge(body)
	} else {
		b.visit(l.Body)
	}
	b.scope, b.proc = savedScope, savedProc
}

// mergeable reports whether the variables of n can join the current
// scope without shadowing one of its variables.
func (b *binder) mergeable(n *tree.Block) bool {
	if len(n.Variables) == 0 {
		return false
	}
	for _, v := range n.Variables {
		if b.scope.declared[v] {
			return false
		}
	}
	return true
}

func (b *binder) merge(n *tree.Block) {
	for _, v := range n.Variables {
		b.scope.declare(v)
	}
	b.a.scopes[n] = b.scope
	b.blockExprs(n)
}

func (b *binder) block(n *tree.Block) {
	if len(n.Variables) == 0 {
		for _, e := range n.Exprs {
			b.visit(e)
		}
		return
	}
	b.push(n, n.Variables)
	b.blockExprs(n)
	b.pop()
}

// blockExprs visits the expressions of a block owning the current scope.
// Directly nested blocks merge into it.
func (b *binder) blockExprs(n *tree.Block) {
	for _, e := range n.Exprs {
		if inner, ok := e.(*tree.Block); ok && b.mergeable(inner) {
			b.guard.run(func() { b.merge(inner) })
			continue
		}
		b.visit(e)
	}
}

func (b *binder) try(n *tree.Try) {
	b.visit(n.Body)
	for _, h := range n.Handlers {
		if h.Variable != nil {
			b.push(h, []*tree.Parameter{h.Variable})
		}
		b.visit(h.Filter)
		b.visit(h.Body)
		if h.Variable != nil {
			b.pop()
		}
	}
	b.visit(n.Finally)
	b.visit(n.Fault)
}

// inline binds an invocation of a lambda literal as a scope of the
// current procedure.
func (b *binder) inline(n *tree.Invoke, l *tree.Lambda) {
	for _, a := range n.Args {
		b.visit(a)
	}
	b.push(n, l.Params)
	b.visit(l.Body)
	b.pop()
}

func (b *binder) resolve(v *tree.Parameter) *scope {
	for s := b.scope; s != nil; s = s.parent {
		if s.declared[v] {
			return s
		}
	}
	return nil
}

func (b *binder) reference(v *tree.Parameter) {
	s := b.resolve(v)
	if s == nil {
		fail(undefinedVariableError(v, b.proc.lambda.Name))
	}
	if s.lambda != b.proc.lambda {
		if v.ByRef {
			fail(captureByRefError(v))
		}
		s.hoist(v)
		b.proc.outerRef(v)
	}
}

// capture hoists v whatever procedure refers to it. It returns the
// declaring scope, nil when v is not in scope.
func (b *binder) capture(v *tree.Parameter) *scope {
	s := b.resolve(v)
	if s == nil {
		return nil
	}
	if v.ByRef {
		fail(captureByRefError(v))
	}
	s.hoist(v)
	if s.lambda != b.proc.lambda {
		b.proc.outerRef(v)
	}
	return s
}

// quote finds the variables a quoted lambda shares with the enclosing
// code. They are hoisted so that the quoted tree reads and writes the
// live cells. Variables not in scope stay free in the quoted tree.
func (b *binder) quote(n *tree.Unary) {
	l := n.Operand.(*tree.Lambda)
	declared := make(map[*tree.Parameter]bool)
	tree.Inspect(l, func(c tree.Node) bool {
		switch c := c.(type) {
		case *tree.Lambda:
			for _, p := range c.Params {
				declared[p] = true
			}
		case *tree.Block:
			for _, v := range c.Variables {
				declared[v] = true
			}
		case *tree.Try:
			for _, h := range c.Handlers {
				if h.Variable != nil {
					declared[h.Variable] = true
				}
			}
		}
		return true
	})
	seen := make(map[*tree.Parameter]bool)
	var free []*tree.Parameter
	tree.Inspect(l, func(c tree.Node) bool {
		var target tree.Node
		switch c := c.(type) {
		case *tree.Parameter:
			if !declared[c] && !seen[c] {
				seen[c] = true
				if b.capture(c) != nil {
					free = append(free, c)
				}
			}
		case *tree.Unary:
			if c.Op.IsAssign() {
				target = c.Operand
			}
		case *tree.Binary:
			if c.Op.IsCompoundAssign() {
				target = c.Left
			}
		}
		if v, ok := target.(*tree.Parameter); ok && !declared[v] {
			fail(unsupportedError("compound assignment of quoted variable " + v.String()))
		}
		return true
	})
	b.a.quotes[n] = free
}
