package compiler

import (
	"math"
	"reflect"
	"sort"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

func (c *lambdaCompiler) emitConditional(n *tree.Conditional, flags emitFlags) {
	if n.Type() == tree.Void {
		flags &^= emitValue
	}
	c.emit(n.Test, emitValue)
	els := c.emitJump(vm.OPJumpIfFalse)
	c.emit(n.IfTrue, flags)
	if d, ok := n.IfFalse.(*tree.Default); ok && d.Type() == tree.Void {
		c.patch(els)
		return
	}
	end := c.emitJump(vm.OPJump)
	c.patch(els)
	c.emit(n.IfFalse, flags)
	c.patch(end)
}

func (c *lambdaCompiler) emitBlock(n *tree.Block, flags emitFlags) {
	s := c.enterNodeScope(n, nil)
	last := len(n.Exprs) - 1
	for _, e := range n.Exprs[:last] {
		c.emit(e, 0)
	}
	if n.Type() == tree.Void {
		flags &^= emitValue
		if c.fn.HasResult {
			flags &^= emitTail
		}
	}
	c.emit(n.Exprs[last], flags)
	if s != nil {
		c.exitScope(s)
	}
}

func (c *lambdaCompiler) emitLoop(n *tree.Loop, flags emitFlags) {
	brk := c.defineLabel(n.Break)
	cont := c.defineLabel(n.Continue)
	c.markLabel(cont, false, false)
	c.emit(n.Body, 0)
	c.emitOp(vm.OPJump, cont.pc)
	c.markLabel(brk, false, false)
	if flags.value() && n.Type() != tree.Void {
		c.emitOp(vm.OPGetLocal, brk.value)
	}
}

func (c *lambdaCompiler) emitLabel(n *tree.LabelExpr, flags emitFlags) {
	l := c.findLabel(n.Target)
	hasValue := n.Target.Type() != tree.Void
	switch {
	case hasValue && n.Default != nil:
		c.emit(n.Default, emitValue)
	case hasValue:
		c.emitZero(n.Target.Type())
	case n.Default != nil:
		c.emit(n.Default, 0)
	}
	c.markLabel(l, hasValue, flags.value())
}

func (c *lambdaCompiler) emitGoto(n *tree.Goto) {
	l := c.label(n.Target)
	c.reference(l)
	hasValue := n.Value != nil && n.Target.Type() != tree.Void
	if n.Value != nil {
		var vf emitFlags
		if hasValue {
			vf = emitValue
			if l.kind == jumpReturn {
				vf |= emitTail
			}
		}
		c.emit(n.Value, vf)
	}
	c.emitJumpTo(l, hasValue)
}

// switchKey is a case constant of an integral switch.
type switchKey struct {
	key   int64
	value any
	index int // case
}

// pendingTable is a jump table whose targets are case indexes until the
// case bodies are placed; -1 selects the default.
type pendingTable struct {
	table int
	cases []int
}

func (c *lambdaCompiler) emitSwitch(n *tree.Switch, flags emitFlags) {
	if n.Type() == tree.Void {
		flags &^= emitValue
	}
	vt := n.Value.Type()
	c.emit(n.Value, emitValue)
	if len(n.Cases) == 0 {
		c.emit0(vm.OPPop)
		c.emitSwitchDefault(n, flags)
		return
	}
	v := c.hiddenVar(vt)
	c.emitStore(v)

	jumps := make([][]int, len(n.Cases))
	var tables []pendingTable
	if keys, ok := integralKeys(n); ok {
		c.log.Debug("switch", "strategy", "table", "cases", len(n.Cases), "keys", len(keys))
		buckets := bucketKeys(keys, c.opts.JumpTableSpanRatio)
		c.emitSwitchBuckets(v, vt, buckets, 0, len(buckets)-1, jumps, &tables)
	} else if keys, ok := hashKeys(n, c.opts.HashSwitchThreshold); ok {
		c.log.Debug("switch", "strategy", "hash", "cases", len(n.Cases), "keys", len(keys))
		t := len(c.fn.Tables)
		c.fn.Tables = append(c.fn.Tables, vm.JumpTable{Keys: keys})
		c.emitLoad(v)
		c.emitOp(vm.OPMapSwitch, t)
		c.fn.Tables[t].Default = c.pc()
		cases := make([]int, len(n.Cases))
		for i := range cases {
			cases[i] = i
		}
		tables = append(tables, pendingTable{table: t, cases: cases})
	} else {
		c.log.Debug("switch", "strategy", "sequential", "cases", len(n.Cases))
		for i, sc := range n.Cases {
			for _, test := range sc.Tests {
				operand, saved := test, (*tree.Parameter)(nil)
				switch test.(type) {
				case *tree.Constant, *tree.Parameter, *tree.Default:
				default:
					saved = c.hiddenVar(test.Type())
					c.emit(test, emitValue)
					c.emitStore(saved)
					operand = saved
				}
				var cmp tree.Node
				if n.Comparison.IsValid() {
					cmp = tree.CallFunc(n.Comparison, v, operand)
				} else {
					cmp = tree.Eq(v, operand)
				}
				c.emit(cmp, emitValue)
				if saved != nil {
					c.freeHidden(saved)
				}
				jumps[i] = append(jumps[i], c.emitJump(vm.OPJumpIfTrue))
			}
		}
	}
	c.freeHidden(v)
	def := c.emitJump(vm.OPJump)

	starts := make([]int, len(n.Cases))
	var ends []int
	for i, sc := range n.Cases {
		starts[i] = c.pc()
		c.patchAll(jumps[i])
		c.emit(sc.Body, flags)
		if flags.value() && sc.Body.Type() == tree.Void {
			c.emitZero(n.Type())
		}
		ends = append(ends, c.emitJump(vm.OPJump))
	}
	defStart := c.pc()
	c.patch(def)
	c.emitSwitchDefault(n, flags)
	c.patchAll(ends)

	for _, p := range tables {
		table := &c.fn.Tables[p.table]
		table.Targets = make([]int, len(p.cases))
		for i, k := range p.cases {
			if k < 0 {
				table.Targets[i] = defStart
			} else {
				table.Targets[i] = starts[k]
			}
		}
	}
}

func (c *lambdaCompiler) emitSwitchDefault(n *tree.Switch, flags emitFlags) {
	switch {
	case n.Default != nil:
		c.emit(n.Default, flags)
	case flags.value():
		c.emitZero(n.Type())
	}
}

// integralKeys returns the sorted distinct case constants of a switch over
// integers compared by equality. The first case wins for a repeated key.
func integralKeys(n *tree.Switch) ([]switchKey, bool) {
	vt := n.Value.Type()
	if n.Comparison.IsValid() || !tree.IsInteger(vt) {
		return nil, false
	}
	seen := make(map[int64]bool)
	var keys []switchKey
	for i, sc := range n.Cases {
		for _, test := range sc.Tests {
			k, ok := test.(*tree.Constant)
			if !ok {
				return nil, false
			}
			key, ok := intKey(k.Value)
			if !ok {
				return nil, false
			}
			if !seen[key] {
				seen[key] = true
				keys = append(keys, switchKey{key: key, value: k.Value, index: i})
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })
	return keys, true
}

func intKey(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int(), true
	case rv.CanUint():
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

// hashKeys returns the map dispatch of a switch over strings or floats
// with enough distinct constants.
func hashKeys(n *tree.Switch, threshold int) (map[any]int, bool) {
	vt := n.Value.Type()
	if n.Comparison.IsValid() || (vt.Kind() != reflect.String && !tree.IsFloat(vt)) {
		return nil, false
	}
	keys := make(map[any]int)
	for i, sc := range n.Cases {
		for _, test := range sc.Tests {
			k, ok := test.(*tree.Constant)
			if !ok {
				return nil, false
			}
			if _, dup := keys[k.Value]; !dup {
				keys[k.Value] = i
			}
		}
	}
	return keys, len(keys) >= threshold
}

// fitsInBucket reports whether count more keys up to key keep the bucket
// dense enough for a jump table.
func fitsInBucket(bucket []switchKey, key int64, count, ratio int) bool {
	span := uint64(key-bucket[0].key) + 1
	if span > math.MaxInt32 {
		return false
	}
	return uint64(len(bucket)+count)*uint64(ratio) > span
}

// bucketKeys groups sorted keys into dense runs, merging a run into its
// predecessor whenever the union stays dense.
func bucketKeys(keys []switchKey, ratio int) [][]switchKey {
	var buckets [][]switchKey
	for _, k := range keys {
		if n := len(buckets); n > 0 && fitsInBucket(buckets[n-1], k.key, 1, ratio) {
			buckets[n-1] = append(buckets[n-1], k)
			for len(buckets) > 1 {
				first, second := buckets[len(buckets)-2], buckets[len(buckets)-1]
				if !fitsInBucket(first, second[len(second)-1].key, len(second), ratio) {
					break
				}
				buckets[len(buckets)-2] = append(first, second...)
				buckets = buckets[:len(buckets)-1]
			}
			continue
		}
		buckets = append(buckets, []switchKey{k})
	}
	return buckets
}

// emitSwitchBuckets bisects the buckets first..last with comparisons so
// that a value reaches its bucket in a logarithmic number of tests. A
// value matching no bucket falls through.
func (c *lambdaCompiler) emitSwitchBuckets(v *tree.Parameter, vt reflect.Type, buckets [][]switchKey, first, last int, jumps [][]int, tables *[]pendingTable) {
	if first == last {
		c.emitSwitchBucket(v, vt, buckets[first], jumps, tables)
		return
	}
	mid := (first + last + 1) / 2
	if first == mid-1 {
		c.emitSwitchBucket(v, vt, buckets[first], jumps, tables)
	} else {
		b := buckets[mid-1]
		c.emitLoad(v)
		c.emitConstant(b[len(b)-1].value, vt)
		c.emitOp(vm.OPBinary, int(vm.OpGt))
		second := c.emitJump(vm.OPJumpIfTrue)
		c.emitSwitchBuckets(v, vt, buckets, first, mid-1, jumps, tables)
		c.patch(second)
	}
	c.emitSwitchBuckets(v, vt, buckets, mid, last, jumps, tables)
}

func (c *lambdaCompiler) emitSwitchBucket(v *tree.Parameter, vt reflect.Type, b []switchKey, jumps [][]int, tables *[]pendingTable) {
	if len(b) == 1 {
		c.emitLoad(v)
		c.emitConstant(b[0].value, vt)
		c.emitOp(vm.OPBinary, int(vm.OpEq))
		jumps[b[0].index] = append(jumps[b[0].index], c.emitJump(vm.OPJumpIfTrue))
		return
	}
	lo := b[0].key
	cases := make([]int, b[len(b)-1].key-lo+1)
	for i := range cases {
		cases[i] = -1
	}
	for _, k := range b {
		cases[k.key-lo] = k.index
	}
	t := len(c.fn.Tables)
	c.fn.Tables = append(c.fn.Tables, vm.JumpTable{Min: lo})
	c.emitLoad(v)
	c.emitOp(vm.OPTableSwitch, t)
	c.fn.Tables[t].Default = c.pc()
	*tables = append(*tables, pendingTable{table: t, cases: cases})
}

// emitTry emits a protected region and its handlers. Every way out of the
// body and of the catch handlers is a leave to the end of the statement,
// which runs the finally block on the way.
func (c *lambdaCompiler) emitTry(n *tree.Try, flags emitFlags) {
	hasValue := flags.value() && n.Type() != tree.Void
	var bodyFlags emitFlags
	result := -1
	if hasValue {
		bodyFlags = emitValue
		result = c.allocLocal(n.Type())
	}
	c.tryDepth++
	start := c.pc()

	var leaves []int
	leave := func() {
		if hasValue {
			c.emitOp(vm.OPSetLocal, result)
		}
		leaves = append(leaves, c.emitJump(vm.OPLeave))
	}

	c.pushRegion(regionTry)
	c.emit(n.Body, bodyFlags)
	c.popRegion()
	leave()
	tryEnd := c.pc()

	var handlers []vm.Handler
	for _, h := range n.Handlers {
		handlers = append(handlers, c.emitCatch(h, start, tryEnd, bodyFlags, leave))
	}
	catchEnd := c.pc()

	if code := finallyCode(n); code != nil {
		h := vm.Handler{Kind: vm.HandlerFinally, TryStart: start, TryEnd: catchEnd, HandlerStart: c.pc()}
		if n.Finally == nil {
			h.Kind = vm.HandlerFault
		}
		c.exceptions = append(c.exceptions, -1)
		c.pushRegion(regionFinally)
		c.emit(code, 0)
		c.popRegion()
		c.exceptions = c.exceptions[:len(c.exceptions)-1]
		c.emit0(vm.OPEndFinally)
		h.HandlerEnd = c.pc()
		handlers = append(handlers, h)
	}
	c.fn.Handlers = append(c.fn.Handlers, handlers...)

	c.patchAll(leaves)
	c.tryDepth--
	if hasValue {
		c.emitOp(vm.OPGetLocal, result)
		c.freeLocal(result, n.Type())
	}
}

func finallyCode(n *tree.Try) tree.Node {
	if n.Finally != nil {
		return n.Finally
	}
	return n.Fault
}

// emitCatch emits one catch handler. The handler and its filter start with
// the exception on the stack; it is kept in a local for the catch
// variable and for rethrows.
func (c *lambdaCompiler) emitCatch(h *tree.CatchBlock, start, tryEnd int, flags emitFlags, leave func()) vm.Handler {
	test := h.Test
	if test == nil {
		test = tree.AnyType
	}
	hd := vm.Handler{Kind: vm.HandlerCatch, TryStart: start, TryEnd: tryEnd, CatchType: test}
	exc := c.allocLocal(tree.AnyType)
	init := func(v *tree.Parameter) bool {
		if v != h.Variable {
			return false
		}
		c.emitOp(vm.OPGetLocal, exc)
		return true
	}

	var s *scope
	if h.Filter != nil {
		hd.Kind = vm.HandlerFilter
		hd.FilterStart = c.pc()
		c.emitOp(vm.OPSetLocal, exc)
		s = c.enterNodeScope(h, init)
		c.exceptions = append(c.exceptions, -1)
		c.pushRegion(regionFilter)
		c.emit(h.Filter, emitValue)
		c.popRegion()
		c.exceptions = c.exceptions[:len(c.exceptions)-1]
		c.emit0(vm.OPEndFilter)
		hd.HandlerStart = c.pc()
		c.emitOp(vm.OPSetLocal, exc)
	} else {
		hd.HandlerStart = c.pc()
		c.emitOp(vm.OPSetLocal, exc)
		s = c.enterNodeScope(h, init)
	}

	c.exceptions = append(c.exceptions, exc)
	c.pushRegion(regionCatch)
	c.emit(h.Body, flags)
	c.popRegion()
	c.exceptions = c.exceptions[:len(c.exceptions)-1]
	leave()
	hd.HandlerEnd = c.pc()

	if s != nil {
		c.exitScope(s)
	}
	c.freeLocal(exc, tree.AnyType)
	return hd
}
