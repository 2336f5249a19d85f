package tree

// Inspect traverses the tree rooted at n in depth-first order. If f returns
// false the children of a node are skipped. Nested lambdas are entered.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	for _, c := range Children(n) {
		Inspect(c, f)
	}
}

// Children returns the direct child nodes of n in evaluation order.
func Children(n Node) []Node {
	switch n := n.(type) {
	case *Unary:
		if n.Operand == nil {
			return nil
		}
		return []Node{n.Operand}
	case *Binary:
		return []Node{n.Left, n.Right}
	case *TypeBinary:
		return []Node{n.Expr}
	case *Call:
		if n.Object != nil {
			return append([]Node{n.Object}, n.Args...)
		}
		return n.Args
	case *Member:
		if n.Expr == nil {
			return nil
		}
		return []Node{n.Expr}
	case *Conditional:
		return []Node{n.Test, n.IfTrue, n.IfFalse}
	case *Block:
		out := make([]Node, 0, len(n.Variables)+len(n.Exprs))
		for _, v := range n.Variables {
			out = append(out, v)
		}
		return append(out, n.Exprs...)
	case *Loop:
		return []Node{n.Body}
	case *Switch:
		out := []Node{n.Value}
		for _, c := range n.Cases {
			out = append(out, c.Tests...)
			out = append(out, c.Body)
		}
		if n.Default != nil {
			out = append(out, n.Default)
		}
		return out
	case *Try:
		out := []Node{n.Body}
		for _, h := range n.Handlers {
			if h.Variable != nil {
				out = append(out, h.Variable)
			}
			if h.Filter != nil {
				out = append(out, h.Filter)
			}
			out = append(out, h.Body)
		}
		if n.Finally != nil {
			out = append(out, n.Finally)
		}
		if n.Fault != nil {
			out = append(out, n.Fault)
		}
		return out
	case *LabelExpr:
		if n.Default == nil {
			return nil
		}
		return []Node{n.Default}
	case *Goto:
		if n.Value == nil {
			return nil
		}
		return []Node{n.Value}
	case *Lambda:
		out := make([]Node, 0, len(n.Params)+1)
		for _, p := range n.Params {
			out = append(out, p)
		}
		return append(out, n.Body)
	case *Invoke:
		return append([]Node{n.Expr}, n.Args...)
	case *New:
		return n.Args
	case *NewArray:
		return n.Exprs
	case *MemberInit:
		out := []Node{n.New}
		return appendBindings(out, n.Bindings)
	case *ListInit:
		out := []Node{n.New}
		for _, e := range n.Inits {
			out = append(out, e.Args...)
		}
		return out
	case *Index:
		return []Node{n.Object, n.Key}
	case *Dynamic:
		return n.Args
	case *RuntimeVariables:
		out := make([]Node, len(n.Vars))
		for i, v := range n.Vars {
			out[i] = v
		}
		return out
	}
	return nil
}

func appendBindings(out []Node, bs []Binding) []Node {
	for _, b := range bs {
		switch b := b.(type) {
		case *Assignment:
			out = append(out, b.Expr)
		case *MemberBinding:
			out = appendBindings(out, b.Bindings)
		case *ListBinding:
			for _, e := range b.Inits {
				out = append(out, e.Args...)
			}
		}
	}
	return out
}

// Rewrite rebuilds the tree rooted at n bottom-up, replacing each node with
// the result of f. Variable and label identities are preserved; nodes
// whose children are unchanged are passed to f as they are.
func Rewrite(n Node, f func(Node) Node) Node {
	if n == nil {
		return nil
	}
	r := func(c Node) Node { return Rewrite(c, f) }
	list := func(ns []Node) ([]Node, bool) {
		var out []Node
		for i, c := range ns {
			nc := r(c)
			if nc != c && out == nil {
				out = append(make([]Node, 0, len(ns)), ns[:i]...)
			}
			if out != nil {
				out = append(out, nc)
			}
		}
		if out == nil {
			return ns, false
		}
		return out, true
	}
	switch n := n.(type) {
	case *Unary:
		if op := r(n.Operand); op != n.Operand {
			c := *n
			c.Operand = op
			return f(&c)
		}
	case *Binary:
		l, rt := r(n.Left), r(n.Right)
		if l != n.Left || rt != n.Right {
			c := *n
			c.Left, c.Right = l, rt
			return f(&c)
		}
	case *TypeBinary:
		if e := r(n.Expr); e != n.Expr {
			c := *n
			c.Expr = e
			return f(&c)
		}
	case *Call:
		obj := r(n.Object)
		args, changed := list(n.Args)
		if changed || obj != n.Object {
			c := *n
			c.Object, c.Args = obj, args
			return f(&c)
		}
	case *Member:
		if e := r(n.Expr); e != n.Expr {
			c := *n
			c.Expr = e
			return f(&c)
		}
	case *Conditional:
		t, a, b := r(n.Test), r(n.IfTrue), r(n.IfFalse)
		if t != n.Test || a != n.IfTrue || b != n.IfFalse {
			c := *n
			c.Test, c.IfTrue, c.IfFalse = t, a, b
			return f(&c)
		}
	case *Block:
		if exprs, changed := list(n.Exprs); changed {
			c := *n
			c.Exprs = exprs
			return f(&c)
		}
	case *Loop:
		if b := r(n.Body); b != n.Body {
			c := *n
			c.Body = b
			return f(&c)
		}
	case *Switch:
		changed := false
		v := r(n.Value)
		cases := make([]*SwitchCase, len(n.Cases))
		for i, sc := range n.Cases {
			tests, ch := list(sc.Tests)
			body := r(sc.Body)
			if ch || body != sc.Body {
				changed = true
				cases[i] = &SwitchCase{Tests: tests, Body: body}
			} else {
				cases[i] = sc
			}
		}
		def := r(n.Default)
		if changed || v != n.Value || def != n.Default {
			c := *n
			c.Value, c.Cases, c.Default = v, cases, def
			return f(&c)
		}
	case *Try:
		changed := false
		body := r(n.Body)
		handlers := make([]*CatchBlock, len(n.Handlers))
		for i, h := range n.Handlers {
			filter, hb := r(h.Filter), r(h.Body)
			if filter != h.Filter || hb != h.Body {
				changed = true
				handlers[i] = &CatchBlock{Test: h.Test, Variable: h.Variable, Filter: filter, Body: hb}
			} else {
				handlers[i] = h
			}
		}
		fin, fault := r(n.Finally), r(n.Fault)
		if changed || body != n.Body || fin != n.Finally || fault != n.Fault {
			c := *n
			c.Body, c.Handlers, c.Finally, c.Fault = body, handlers, fin, fault
			return f(&c)
		}
	case *LabelExpr:
		if d := r(n.Default); d != n.Default {
			c := *n
			c.Default = d
			return f(&c)
		}
	case *Goto:
		if v := r(n.Value); v != n.Value {
			c := *n
			c.Value = v
			return f(&c)
		}
	case *Lambda:
		if b := r(n.Body); b != n.Body {
			c := *n
			c.Body = b
			return f(&c)
		}
	case *Invoke:
		e := r(n.Expr)
		args, changed := list(n.Args)
		if changed || e != n.Expr {
			c := *n
			c.Expr, c.Args = e, args
			return f(&c)
		}
	case *New:
		if args, changed := list(n.Args); changed {
			c := *n
			c.Args = args
			return f(&c)
		}
	case *NewArray:
		if exprs, changed := list(n.Exprs); changed {
			c := *n
			c.Exprs = exprs
			return f(&c)
		}
	case *Index:
		o, k := r(n.Object), r(n.Key)
		if o != n.Object || k != n.Key {
			c := *n
			c.Object, c.Key = o, k
			return f(&c)
		}
	case *Dynamic:
		if args, changed := list(n.Args); changed {
			c := *n
			c.Args = args
			return f(&c)
		}
	}
	return f(n)
}
