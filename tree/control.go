package tree

import (
	"fmt"
	"reflect"
)

// Condition returns test ? ifTrue : ifFalse. Branches must have the same
// type unless the conditional is void.
func Condition(test, ifTrue, ifFalse Node) *Conditional {
	requireBool("Condition", test.Type())
	if IsNullable(test.Type()) {
		panic("tree: Condition test must not be optional")
	}
	t := ifTrue.Type()
	if t != ifFalse.Type() {
		if t != Void && ifFalse.Type() != Void {
			panic(fmt.Sprintf("tree: Condition branches differ: %v and %v", t, ifFalse.Type()))
		}
		t = Void
	}
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse, typ: t}
}

// ConditionTyped is Condition with an explicit result type. Passing Void
// discards the values of both branches.
func ConditionTyped(test, ifTrue, ifFalse Node, t reflect.Type) *Conditional {
	requireBool("Condition", test.Type())
	if t != Void && (!AreReferenceAssignable(t, ifTrue.Type()) || !AreReferenceAssignable(t, ifFalse.Type())) {
		panic("tree: Condition branches are not assignable to " + t.String())
	}
	return &Conditional{Test: test, IfTrue: ifTrue, IfFalse: ifFalse, typ: t}
}

// IfThen is a void conditional without an else branch.
func IfThen(test, ifTrue Node) *Conditional {
	return ConditionTyped(test, ifTrue, Empty(), Void)
}

// IfThenElse is a void conditional.
func IfThenElse(test, ifTrue, ifFalse Node) *Conditional {
	return ConditionTyped(test, ifTrue, ifFalse, Void)
}

// MakeBlock returns a block whose type is that of its last expression.
func MakeBlock(vars []*Parameter, exprs ...Node) *Block {
	if len(exprs) == 0 {
		panic("tree: empty block")
	}
	return &Block{Variables: vars, Exprs: exprs, typ: exprs[len(exprs)-1].Type()}
}

// MakeBlockTyped returns a block of type t. A void block discards the
// value of its last expression.
func MakeBlockTyped(t reflect.Type, vars []*Parameter, exprs ...Node) *Block {
	if len(exprs) == 0 {
		panic("tree: empty block")
	}
	if t != Void && !AreReferenceAssignable(t, exprs[len(exprs)-1].Type()) {
		panic("tree: block result is not assignable to " + t.String())
	}
	return &Block{Variables: vars, Exprs: exprs, typ: t}
}

// Seq is a block without variables.
func Seq(exprs ...Node) *Block { return MakeBlock(nil, exprs...) }

// MakeLoop returns a loop. brk and cont may be nil.
func MakeLoop(body Node, brk, cont *LabelTarget) *Loop {
	if cont != nil && cont.Type() != Void {
		panic("tree: continue label must be void")
	}
	return &Loop{Body: body, Break: brk, Continue: cont}
}

// Case returns a switch arm.
func Case(body Node, tests ...Node) *SwitchCase {
	if len(tests) == 0 {
		panic("tree: switch case without tests")
	}
	return &SwitchCase{Tests: tests, Body: body}
}

// MakeSwitch returns a switch. The result type is taken from the first
// case body; def may be nil only for void switches.
func MakeSwitch(value Node, def Node, cases ...*SwitchCase) *Switch {
	t := Void
	if len(cases) > 0 {
		t = cases[0].Body.Type()
	} else if def != nil {
		t = def.Type()
	}
	return MakeSwitchTyped(t, value, def, reflect.Value{}, cases...)
}

// MakeSwitchTyped returns a switch of type t using the optional comparison
// function cmp, a func(V, T) bool.
func MakeSwitchTyped(t reflect.Type, value, def Node, cmp reflect.Value, cases ...*SwitchCase) *Switch {
	if value.Type() == Void {
		panic("tree: switch value must not be void")
	}
	for _, c := range cases {
		if t != Void && !AreReferenceAssignable(t, c.Body.Type()) {
			panic(fmt.Sprintf("tree: switch case of type %v in a switch of type %v", c.Body.Type(), t))
		}
		for _, test := range c.Tests {
			if cmp.IsValid() {
				continue
			}
			if test.Type() != value.Type() {
				panic(fmt.Sprintf("tree: switch test of type %v for value of type %v", test.Type(), value.Type()))
			}
		}
	}
	if def == nil && t != Void && len(cases) > 0 {
		panic("tree: non-void switch needs a default")
	}
	if def != nil && t != Void && !AreReferenceAssignable(t, def.Type()) {
		panic("tree: switch default is not assignable to " + t.String())
	}
	if cmp.IsValid() {
		ct := cmp.Type()
		if ct.Kind() != reflect.Func || ct.NumIn() != 2 || ct.NumOut() != 1 || ct.Out(0) != BoolType {
			panic("tree: switch comparison must be func(V, T) bool")
		}
	}
	return &Switch{Value: value, Cases: cases, Default: def, Comparison: cmp, typ: t}
}

// Catch returns a handler for values assignable to test. v may be nil.
func Catch(test reflect.Type, v *Parameter, body Node) *CatchBlock {
	if v != nil && v.Type() != test {
		panic("tree: catch variable type differs from the caught type")
	}
	return &CatchBlock{Test: test, Variable: v, Body: body}
}

// CatchIf returns a handler guarded by a boolean filter.
func CatchIf(test reflect.Type, v *Parameter, body, filter Node) *CatchBlock {
	c := Catch(test, v, body)
	if filter != nil && filter.Type() != BoolType {
		panic("tree: catch filter must be bool")
	}
	c.Filter = filter
	return c
}

// TryCatch protects body with handlers.
func TryCatch(body Node, handlers ...*CatchBlock) *Try {
	return makeTry(body.Type(), body, nil, nil, handlers)
}

// TryFinally runs fin whenever body is left.
func TryFinally(body, fin Node) *Try {
	return makeTry(body.Type(), body, fin, nil, nil)
}

// TryCatchFinally combines handlers and a finally block.
func TryCatchFinally(body, fin Node, handlers ...*CatchBlock) *Try {
	return makeTry(body.Type(), body, fin, nil, handlers)
}

// TryFault runs fault only when body is left by an exception.
func TryFault(body, fault Node) *Try {
	return makeTry(body.Type(), body, nil, fault, nil)
}

// MakeTry is the general constructor.
func MakeTry(t reflect.Type, body, fin, fault Node, handlers ...*CatchBlock) *Try {
	return makeTry(t, body, fin, fault, handlers)
}

func makeTry(t reflect.Type, body, fin, fault Node, handlers []*CatchBlock) *Try {
	if fault != nil && (fin != nil || len(handlers) > 0) {
		panic("tree: fault cannot be combined with finally or handlers")
	}
	if fin == nil && fault == nil && len(handlers) == 0 {
		panic("tree: try needs a handler, finally or fault")
	}
	if t != Void {
		if !AreReferenceAssignable(t, body.Type()) {
			panic("tree: try body is not assignable to " + t.String())
		}
		for _, h := range handlers {
			if !AreReferenceAssignable(t, h.Body.Type()) {
				panic("tree: catch body is not assignable to " + t.String())
			}
		}
	}
	return &Try{Body: body, Handlers: handlers, Finally: fin, Fault: fault, typ: t}
}

// Label returns a new jump target carrying values of type t.
func Label(t reflect.Type, name string) *LabelTarget {
	if t == nil {
		t = Void
	}
	return &LabelTarget{Name: name, typ: t}
}

// LabelAt places target in the tree. def is the value when control falls
// through to the label; it is required for non-void targets.
func LabelAt(target *LabelTarget, def Node) *LabelExpr {
	if target.Type() != Void {
		if def == nil {
			panic("tree: non-void label needs a default value")
		}
		if !AreReferenceAssignable(target.Type(), def.Type()) {
			panic("tree: label default is not assignable to " + target.Type().String())
		}
	}
	return &LabelExpr{Target: target, Default: def}
}

// MakeGoto returns a jump. The node's own type is Void.
func MakeGoto(kind GotoKind, target *LabelTarget, value Node) *Goto {
	return MakeGotoTyped(kind, target, value, Void)
}

// MakeGotoTyped returns a jump placed where a value of type t is expected.
func MakeGotoTyped(kind GotoKind, target *LabelTarget, value Node, t reflect.Type) *Goto {
	if target.Type() == Void {
		if value != nil {
			panic("tree: value passed to a void label")
		}
	} else {
		if value == nil {
			panic("tree: jump to " + target.String() + " needs a value")
		}
		if !AreReferenceAssignable(target.Type(), value.Type()) {
			panic("tree: jump value is not assignable to " + target.Type().String())
		}
	}
	return &Goto{GotoKind: kind, Target: target, Value: value, typ: t}
}

func GotoLabel(target *LabelTarget) *Goto            { return MakeGoto(GotoJump, target, nil) }
func Return(target *LabelTarget, value Node) *Goto   { return MakeGoto(GotoReturn, target, value) }
func Break(target *LabelTarget) *Goto                { return MakeGoto(GotoBreak, target, nil) }
func BreakWith(target *LabelTarget, v Node) *Goto    { return MakeGoto(GotoBreak, target, v) }
func Continue(target *LabelTarget) *Goto             { return MakeGoto(GotoContinue, target, nil) }
func GotoWith(target *LabelTarget, value Node) *Goto { return MakeGoto(GotoJump, target, value) }

// NewLambda returns a lambda whose return type is the body type.
func NewLambda(name string, body Node, params ...*Parameter) *Lambda {
	return LambdaTyped(name, body.Type(), body, params...)
}

// LambdaTyped returns a lambda returning ret. A Void result discards the
// body value.
func LambdaTyped(name string, ret reflect.Type, body Node, params ...*Parameter) *Lambda {
	seen := make(map[*Parameter]bool, len(params))
	for _, p := range params {
		if seen[p] {
			panic("tree: duplicate lambda parameter " + p.String())
		}
		seen[p] = true
	}
	if ret != Void && !AreReferenceAssignable(ret, body.Type()) {
		panic(fmt.Sprintf("tree: lambda body of type %v is not assignable to %v", body.Type(), ret))
	}
	return &Lambda{Name: name, Params: params, Body: body, ReturnType: ret, typ: FuncType(params, ret)}
}

// WithTailCall returns a copy of l compiled with tail calls enabled.
func (l *Lambda) WithTailCall() *Lambda {
	c := *l
	c.TailCall = true
	return &c
}

// InvokeOf calls a func-typed expression. The final argument of a variadic
// func is its slice.
func InvokeOf(fn Node, args ...Node) *Invoke {
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		panic("tree: Invoke of non-func type " + ft.String())
	}
	if ft.NumIn() != len(args) {
		panic(fmt.Sprintf("tree: Invoke of %v with %d arguments", ft, len(args)))
	}
	for i, a := range args {
		if !AreReferenceAssignable(ft.In(i), a.Type()) {
			if ft.In(i).Kind() == reflect.Pointer && ft.In(i).Elem() == a.Type() && IsWritable(a) {
				continue
			}
			panic(fmt.Sprintf("tree: Invoke argument %d: %v is not assignable to %v", i, a.Type(), ft.In(i)))
		}
	}
	t := Void
	switch ft.NumOut() {
	case 0:
	case 1:
		t = ft.Out(0)
	default:
		panic("tree: Invoke of multi-result func " + ft.String())
	}
	return &Invoke{Expr: fn, Args: args, typ: t}
}
