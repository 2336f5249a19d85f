package compiler

import (
	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

// regionKind classifies the label regions of a procedure. Jumps may enter
// the first four kinds; the others can only be left.
type regionKind uint8

const (
	regionStatement regionKind = iota
	regionBlock
	regionSwitch
	regionLambda
	regionTry
	regionCatch
	regionFinally
	regionFilter
	regionExpression
)

func (k regionKind) canJumpInto() bool { return k <= regionLambda }

type region struct {
	kind   regionKind
	parent *region
	labels map[*tree.LabelTarget]*labelInfo
}

func (r *region) contains(t *tree.LabelTarget) bool {
	_, ok := r.labels[t]
	return ok
}

func (r *region) add(l *labelInfo) {
	if r.labels == nil {
		r.labels = make(map[*tree.LabelTarget]*labelInfo)
	}
	r.labels[l.target] = l
}

// commonRegion returns the innermost region enclosing both a and b.
func commonRegion(a, b *region) *region {
	seen := make(map[*region]bool)
	for r := a; r != nil; r = r.parent {
		seen[r] = true
	}
	for r := b; r != nil; r = r.parent {
		if seen[r] {
			return r
		}
	}
	return nil
}

type jumpKind uint8

const (
	jumpLeave jumpKind = iota
	jumpBranch
	jumpReturn
)

type labelInfo struct {
	target    *tree.LabelTarget
	defs      []*region
	refs      []*region
	across    bool // a reference jumps into a sibling region
	canReturn bool // the label ends the procedure body
	kind      jumpKind
	value     int // local carrying the value of the label, -1 if void
	pc        int // position once marked, -1 before
	fixups    []int
}

func (l *labelInfo) defined(r *region) bool {
	for _, d := range l.defs {
		if d == r {
			return true
		}
	}
	return false
}

// validate checks the jump from region ref and selects the instruction
// that performs it.
func (l *labelInfo) validate(ref *region) {
	l.kind = jumpBranch
	if l.canReturn {
		l.kind = jumpReturn
	}
	for r := ref; r != nil; r = r.parent {
		if l.defined(r) {
			return
		}
		if r.kind == regionFinally || r.kind == regionFilter {
			break
		}
		if r.kind == regionTry || r.kind == regionCatch {
			l.kind = jumpLeave
		}
	}

	l.across = true
	if l.target.Type() != tree.Void {
		fail(nonLocalJumpWithValueError(l.target))
	}
	if len(l.defs) > 1 {
		fail(ambiguousJumpError(l.target))
	}

	def := l.defs[0]
	common := commonRegion(def, ref)
	l.kind = jumpBranch
	if l.canReturn {
		l.kind = jumpReturn
	}
	for r := ref; r != common; r = r.parent {
		switch r.kind {
		case regionFinally:
			fail(leaveFinallyError(l.target))
		case regionFilter:
			fail(leaveFilterError(l.target))
		case regionTry, regionCatch:
			l.kind = jumpLeave
		}
	}
	for r := def; r != common; r = r.parent {
		if !r.kind.canJumpInto() {
			if r.kind == regionExpression {
				fail(jumpIntoExpressionError(l.target))
			}
			fail(jumpIntoTryError(l.target))
		}
	}
}

func (c *lambdaCompiler) pushRegion(kind regionKind) {
	c.region = &region{kind: kind, parent: c.region}
}

func (c *lambdaCompiler) popRegion() {
	c.region = c.region.parent
}

// label returns the state of a jump target of the procedure. Jumps without
// a target share nothing and get a fresh state.
func (c *lambdaCompiler) label(t *tree.LabelTarget) *labelInfo {
	if t == nil {
		return &labelInfo{target: tree.Label(tree.Void, ""), value: -1, pc: -1}
	}
	if l, ok := c.labels[t]; ok {
		return l
	}
	l := &labelInfo{target: t, value: -1, pc: -1}
	if t.Type() != tree.Void {
		l.value = c.newLocal(t.Type())
	}
	c.labels[t] = l
	c.labelOrder = append(c.labelOrder, l)
	return l
}

// defineLabel defines t in the current region.
func (c *lambdaCompiler) defineLabel(t *tree.LabelTarget) *labelInfo {
	l := c.label(t)
	if t == nil {
		return l
	}
	for r := c.region; r != nil; r = r.parent {
		if r.contains(t) {
			fail(labelAlreadyDefinedError(t))
		}
	}
	l.defs = append(l.defs, c.region)
	c.region.add(l)
	if len(l.defs) == 1 {
		for _, ref := range l.refs {
			l.validate(ref)
		}
		return l
	}
	if l.across {
		fail(ambiguousJumpError(t))
	}
	// jumps made from now on go to the new definition
	l.pc = -1
	l.fixups = nil
	return l
}

// reference records a jump to l from the current region.
func (c *lambdaCompiler) reference(l *labelInfo) {
	l.refs = append(l.refs, c.region)
	if len(l.defs) > 0 {
		l.validate(c.region)
	} else {
		l.kind = jumpLeave
	}
}

// defineBlockLabels defines the labels placed directly in a block so that
// jumps may reach them before they are emitted.
func (c *lambdaCompiler) defineBlockLabels(n tree.Node) {
	b, ok := n.(*tree.Block)
	if !ok {
		return
	}
	for _, e := range b.Exprs {
		if le, ok := e.(*tree.LabelExpr); ok {
			c.defineLabel(le.Target)
		}
	}
}

// pushLabelRegion opens the label region of n, if it has one.
func (c *lambdaCompiler) pushLabelRegion(n tree.Node) bool {
	switch n := n.(type) {
	case *tree.Block:
		c.pushRegion(regionBlock)
		if c.region.parent.kind != regionSwitch {
			c.defineBlockLabels(n)
		}
		return true
	case *tree.Switch:
		c.pushRegion(regionSwitch)
		for _, sc := range n.Cases {
			c.defineBlockLabels(sc.Body)
		}
		c.defineBlockLabels(n.Default)
		return true
	case *tree.Conditional, *tree.Loop, *tree.Goto:
		c.pushRegion(regionStatement)
		return true
	case *tree.LabelExpr:
		if c.region.kind == regionBlock {
			if c.region.contains(n.Target) {
				return false
			}
			if p := c.region.parent; p != nil && p.kind == regionSwitch && p.contains(n.Target) {
				return false
			}
		}
		c.pushRegion(regionStatement)
		return true
	case *tree.DebugInfo, *tree.Default:
		return false
	}
	if c.region.kind != regionExpression {
		c.pushRegion(regionExpression)
		return true
	}
	return false
}

// findLabel returns the label of a LabelExpr emitted in the current
// region, defining it when no enclosing block did.
func (c *lambdaCompiler) findLabel(t *tree.LabelTarget) *labelInfo {
	if c.region.kind == regionBlock {
		if l, ok := c.region.labels[t]; ok {
			return l
		}
		if p := c.region.parent; p != nil && p.kind == regionSwitch {
			if l, ok := p.labels[t]; ok {
				return l
			}
		}
	}
	return c.defineLabel(t)
}

// markLabel places l at the current position. The value on top of the
// stack, if any, becomes the value of the label.
func (c *lambdaCompiler) markLabel(l *labelInfo, hasValue, asValue bool) {
	if hasValue {
		c.emitOp(vm.OPSetLocal, l.value)
	}
	l.pc = len(c.fn.Code)
	for _, at := range l.fixups {
		c.fn.Code[at] = vm.Make(c.fn.Code[at].Opcode(), l.pc)
	}
	l.fixups = nil
	if hasValue && asValue {
		c.emitOp(vm.OPGetLocal, l.value)
	}
}

// emitJumpTo jumps to l with the jump instruction selected by validate.
// A value for l is on top of the stack when the label carries one.
func (c *lambdaCompiler) emitJumpTo(l *labelInfo, hasValue bool) {
	if l.kind == jumpReturn {
		if hasValue {
			c.emitOp(vm.OPReturn, 1)
		} else {
			c.emitOp(vm.OPReturn, 0)
		}
		return
	}
	if hasValue {
		c.emitOp(vm.OPSetLocal, l.value)
	}
	op := vm.OPLeave
	if l.kind == jumpBranch {
		op = vm.OPJump
	}
	if l.pc >= 0 {
		c.emitOp(op, l.pc)
		return
	}
	l.fixups = append(l.fixups, c.emitOp(op, 0))
}

// addReturnLabel finds the label ending the procedure body: jumps to it
// return directly.
func (c *lambdaCompiler) addReturnLabel(l *tree.Lambda) {
	n := l.Body
	for {
		switch b := n.(type) {
		case *tree.LabelExpr:
			if b.Target.Type() == l.ReturnType {
				info := c.label(b.Target)
				info.canReturn = true
			}
			return
		case *tree.Block:
			i := len(b.Exprs) - 1
			for i > 0 && !significant(b.Exprs[i]) {
				i--
			}
			n = b.Exprs[i]
		default:
			return
		}
	}
}

// significant reports whether n emits code.
func significant(n tree.Node) bool {
	switch n := n.(type) {
	case *tree.DebugInfo:
		return false
	case *tree.Default:
		return n.Type() != tree.Void
	}
	return true
}

// checkLabels reports a jump to a label never placed in the procedure.
func (c *lambdaCompiler) checkLabels() {
	for _, l := range c.labelOrder {
		if len(l.refs) > 0 && len(l.defs) == 0 {
			fail(undefinedLabelError(l.target))
		}
	}
}
