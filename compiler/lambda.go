package compiler

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/vida-lang/lambdac/tree"
	"github.com/vida-lang/lambdac/vm"
)

type emitFlags uint8

const (
	emitValue emitFlags = 1 << iota // leave the result on the stack
	emitTail                        // the result is the result of the procedure
)

func (f emitFlags) value() bool { return f&emitValue != 0 }
func (f emitFlags) tail() bool  { return f&emitTail != 0 }

// lambdaCompiler generates the code of one procedure. Lambdas nested in its
// body get their own compiler; invoked lambda literals are compiled in
// place.
type lambdaCompiler struct {
	a      *analysis
	opts   *Options
	guard  *stackGuard
	log    *slog.Logger
	lambda *tree.Lambda
	info   *procedureInfo
	fn     *vm.Function
	consts *constantPool

	scope *scope
	start *scope // the scope whose frame the closure holds

	vars         map[*tree.Parameter]variable
	hidden       map[*tree.Parameter]int
	frames       map[*scope]int
	free         map[reflect.Type][]int
	cachedConsts map[any]int
	cachedCells  map[*tree.Parameter]int

	region     *region
	labels     map[*tree.LabelTarget]*labelInfo
	labelOrder []*labelInfo

	tryDepth   int
	exceptions []int // locals of the exceptions being handled; -1 outside catch code

	line     int
	lastLine int
}

func newLambdaCompiler(a *analysis, opts *Options, guard *stackGuard, l *tree.Lambda, name string) *lambdaCompiler {
	return &lambdaCompiler{
		a:      a,
		opts:   opts,
		guard:  guard,
		log:    opts.Logger,
		lambda: l,
		info:   a.procedures[l],
		fn: &vm.Function{
			Name:      name,
			Type:      l.Type(),
			Arity:     len(l.Params),
			Lines:     make(map[int]int),
			TailCall:  l.TailCall && opts.tailCalls(),
			MaxFrames: opts.MaxFrames,
			HasResult: l.ReturnType != tree.Void,
		},
		consts:       newConstantPool(),
		vars:         make(map[*tree.Parameter]variable),
		hidden:       make(map[*tree.Parameter]int),
		frames:       make(map[*scope]int),
		free:         make(map[reflect.Type][]int),
		cachedConsts: make(map[any]int),
		cachedCells:  make(map[*tree.Parameter]int),
		labels:       make(map[*tree.LabelTarget]*labelInfo),
	}
}

// compile generates the procedure and returns it with its constants.
func (c *lambdaCompiler) compile() (*vm.Function, []any) {
	l := c.lambda
	c.start = frameScope(c.info.scope.parent)
	c.region = &region{kind: regionLambda}
	c.addReturnLabel(l)

	params := make(map[*tree.Parameter]int, len(l.Params))
	for i, p := range l.Params {
		params[p] = i
		if !c.info.scope.hoisted[p] {
			c.vars[p] = variable{kind: storageArg, index: i, byRef: p.ByRef}
		}
	}
	c.enterScope(c.info.scope, func(v *tree.Parameter) bool {
		i, ok := params[v]
		if ok {
			c.emitOp(vm.OPGetArg, i)
		}
		return ok
	})
	c.cacheOuterCells()
	c.cacheConstants()

	if c.fn.HasResult {
		c.emit(l.Body, emitValue|emitTail)
		c.emitOp(vm.OPReturn, 1)
	} else {
		c.emit(l.Body, emitTail)
		c.emitOp(vm.OPReturn, 0)
	}
	c.checkLabels()

	c.log.Debug("lambda compiled",
		"name", c.fn.Name,
		"code", len(c.fn.Code),
		"constants", len(c.consts.values),
		"locals", c.fn.LocalCount,
		"handlers", len(c.fn.Handlers))
	return c.fn, c.consts.values
}

func (c *lambdaCompiler) emitInstr(ins vm.Bytecode) int {
	pc := len(c.fn.Code)
	if c.line != c.lastLine {
		c.fn.Lines[pc] = c.line
		c.lastLine = c.line
	}
	c.fn.Code = append(c.fn.Code, ins)
	return pc
}

func (c *lambdaCompiler) emit0(op vm.Bytecode) int {
	return c.emitInstr(op)
}

func (c *lambdaCompiler) emitOp(op vm.Bytecode, operand int) int {
	return c.emitInstr(vm.Make(op, operand))
}

func (c *lambdaCompiler) emitOp2(op vm.Bytecode, a, b int) int {
	if a > vm.MaxShortOperand || b > vm.MaxShortOperand {
		fail(unsupportedError(fmt.Sprintf("%v with operands %d, %d", op, a, b)))
	}
	return c.emitInstr(vm.Make2(op, a, b))
}

func (c *lambdaCompiler) emitType(op vm.Bytecode, t reflect.Type) int {
	return c.emitOp(op, c.consts.addType(t))
}

// emitJump emits a forward jump to be patched.
func (c *lambdaCompiler) emitJump(op vm.Bytecode) int {
	return c.emitOp(op, 0)
}

// patch points the jump at to the current position.
func (c *lambdaCompiler) patch(at int) {
	c.patchTo(at, len(c.fn.Code))
}

func (c *lambdaCompiler) patchTo(at, pc int) {
	c.fn.Code[at] = vm.Make(c.fn.Code[at].Opcode(), pc)
}

func (c *lambdaCompiler) patchAll(jumps []int) {
	for _, at := range jumps {
		c.patch(at)
	}
}

func (c *lambdaCompiler) pc() int { return len(c.fn.Code) }

// discard pops the value of n when the caller does not want it.
func (c *lambdaCompiler) discard(n tree.Node, flags emitFlags) {
	if !flags.value() && n.Type() != tree.Void {
		c.emit0(vm.OPPop)
	}
}

func (c *lambdaCompiler) emit(n tree.Node, flags emitFlags) {
	c.guard.run(func() { c.emitNode(n, flags) })
}

func (c *lambdaCompiler) emitNode(n tree.Node, flags emitFlags) {
	pushed := c.pushLabelRegion(n)
	switch n := n.(type) {
	case *tree.Constant:
		if flags.value() {
			c.emitConstant(n.Value, n.Type())
		}
	case *tree.Parameter:
		if flags.value() {
			c.emitLoad(n)
		}
	case *tree.Default:
		if flags.value() {
			c.emitZero(n.Type())
		}
	case *tree.DebugInfo:
		c.emitDebugInfo(n)
	case *tree.Unary:
		c.emitUnary(n, flags)
	case *tree.Binary:
		c.emitBinary(n, flags)
	case *tree.TypeBinary:
		c.emit(n.Expr, emitValue)
		if n.Op == tree.TypeEqual {
			c.emitType(vm.OPTypeEqual, n.Operand)
		} else {
			c.emitType(vm.OPTypeIs, n.Operand)
		}
		c.discard(n, flags)
	case *tree.Member:
		c.emit(n.Expr, emitValue)
		c.emitMemberRead(n.Info)
		c.discard(n, flags)
	case *tree.Index:
		c.emit(n.Object, emitValue)
		c.emit(n.Key, emitValue)
		c.emit0(vm.OPIndex)
		c.discard(n, flags)
	case *tree.Call:
		c.emitCall(n)
		c.discard(n, flags)
	case *tree.Invoke:
		c.emitInvoke(n, flags)
	case *tree.New:
		c.emitNew(n)
		c.discard(n, flags)
	case *tree.NewArray:
		c.emitNewArray(n)
		c.discard(n, flags)
	case *tree.Dynamic:
		c.emitDynamic(n)
		c.discard(n, flags)
	case *tree.Lambda:
		c.emitLambda(n)
		c.discard(n, flags)
	case *tree.Conditional:
		c.emitConditional(n, flags)
	case *tree.Block:
		c.emitBlock(n, flags)
	case *tree.Loop:
		c.emitLoop(n, flags)
	case *tree.Switch:
		c.emitSwitch(n, flags)
	case *tree.Try:
		c.emitTry(n, flags)
	case *tree.LabelExpr:
		c.emitLabel(n, flags)
	case *tree.Goto:
		c.emitGoto(n)
	case *tree.RuntimeVariables:
		c.emitRuntimeVariables(n)
		c.discard(n, flags)
	case tree.Reducible:
		c.emit(n.Reduce(), flags)
	default:
		fail(unsupportedError(fmt.Sprintf("node kind %v", n.Kind())))
	}
	if pushed {
		c.popRegion()
	}
}

// emitLambda compiles a nested procedure and creates its closure over the
// innermost frame.
func (c *lambdaCompiler) emitLambda(l *tree.Lambda) {
	h := nestedHost()
	name := h.name(c.fn.Name, l.Name)
	fn, consts := newLambdaCompiler(c.a, c.opts, c.guard, l, name).compile()
	h.add(c.fn.Name)
	c.emitFrame(frameScope(c.scope))
	c.emitOp(vm.OPMakeClosure, c.consts.addClosure(fn, consts))
}

func (c *lambdaCompiler) emitDebugInfo(n *tree.DebugInfo) {
	if c.fn.File == "" {
		c.fn.File = n.File
	}
	c.line = n.StartLine
}
