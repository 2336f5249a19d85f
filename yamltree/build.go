package yamltree

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vida-lang/lambdac/tree"
)

var binaryForms = map[string]tree.BinaryOp{
	"add":        tree.Add,
	"sub":        tree.Subtract,
	"mul":        tree.Multiply,
	"div":        tree.Divide,
	"mod":        tree.Modulo,
	"pow":        tree.Power,
	"and":        tree.And,
	"or":         tree.Or,
	"xor":        tree.ExclusiveOr,
	"shl":        tree.LeftShift,
	"shr":        tree.RightShift,
	"andalso":    tree.AndAlso,
	"orelse":     tree.OrElse,
	"eq":         tree.Equal,
	"ne":         tree.NotEqual,
	"lt":         tree.LessThan,
	"le":         tree.LessThanOrEqual,
	"gt":         tree.GreaterThan,
	"ge":         tree.GreaterThanOrEqual,
	"coalesce":   tree.Coalesce,
	"index":      tree.ArrayIndex,
	"set":        tree.Assign,
	"add_assign": tree.AddAssign,
	"sub_assign": tree.SubtractAssign,
	"mul_assign": tree.MultiplyAssign,
	"div_assign": tree.DivideAssign,
	"mod_assign": tree.ModuloAssign,
	"pow_assign": tree.PowerAssign,
	"and_assign": tree.AndAssign,
	"or_assign":  tree.OrAssign,
	"xor_assign": tree.ExclusiveOrAssign,
	"shl_assign": tree.LeftShiftAssign,
	"shr_assign": tree.RightShiftAssign,
}

var unaryForms = map[string]tree.UnaryOp{
	"neg":        tree.Negate,
	"plus":       tree.UnaryPlus,
	"not":        tree.Not,
	"complement": tree.OnesComplement,
	"len":        tree.ArrayLength,
	"inc":        tree.Increment,
	"dec":        tree.Decrement,
	"preinc":     tree.PreIncrementAssign,
	"predec":     tree.PreDecrementAssign,
	"postinc":    tree.PostIncrementAssign,
	"postdec":    tree.PostDecrementAssign,
	"istrue":     tree.IsTrue,
	"isfalse":    tree.IsFalse,
}

var gotoForms = map[string]tree.GotoKind{
	"goto":     tree.GotoJump,
	"return":   tree.GotoReturn,
	"break":    tree.GotoBreak,
	"continue": tree.GotoContinue,
}

// builder turns YAML nodes into tree nodes. Errors unwind as panics of
// *Error; tree constructors panic with strings on ill-typed input, which
// are reported at the node being built.
type builder struct {
	file   string
	funcs  map[string]any
	line   int
	col    int
	scopes []map[string]*tree.Parameter
	labels []map[string]*tree.LabelTarget
}

func (b *builder) at(n *yaml.Node) {
	if n.Line > 0 {
		b.line, b.col = n.Line, n.Column
	}
}

func (b *builder) fail(format string, args ...any) {
	panic(&Error{File: b.file, Line: b.line, Column: b.col, Msg: fmt.Sprintf(format, args...)})
}

func (b *builder) recovered(r any) error {
	switch r := r.(type) {
	case *Error:
		return r
	case string:
		return &Error{File: b.file, Line: b.line, Column: b.col, Msg: strings.TrimPrefix(r, "tree: ")}
	}
	panic(r)
}

func (b *builder) typ(s string) reflect.Type {
	t, err := ParseType(s)
	if err != nil {
		b.fail("%v", err)
	}
	return t
}

func (b *builder) lookup(name string) *tree.Parameter {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if p, ok := b.scopes[i][name]; ok {
			return p
		}
	}
	b.fail("undefined variable %q", name)
	return nil
}

// label returns the target named name in the current lambda. Targets not
// declared in the labels list are void.
func (b *builder) label(name string) *tree.LabelTarget {
	if name == "" {
		return nil
	}
	ls := b.labels[len(b.labels)-1]
	if l, ok := ls[name]; ok {
		return l
	}
	l := tree.Label(tree.Void, name)
	ls[name] = l
	return l
}

// declare parses a list of single-entry {name: type} mappings.
func (b *builder) declare(decls []map[string]string, byRef bool) ([]*tree.Parameter, map[string]*tree.Parameter) {
	vars := make([]*tree.Parameter, 0, len(decls))
	scope := make(map[string]*tree.Parameter, len(decls))
	for _, d := range decls {
		if len(d) != 1 {
			b.fail("a declaration is a single {name: type} entry")
		}
		for name, ts := range d {
			if _, dup := scope[name]; dup {
				b.fail("%q declared twice", name)
			}
			var p *tree.Parameter
			if rest, ok := strings.CutPrefix(ts, "ref "); ok && byRef {
				p = tree.RefParam(b.typ(rest), name)
			} else {
				p = tree.Var(b.typ(ts), name)
			}
			vars = append(vars, p)
			scope[name] = p
		}
	}
	return vars, scope
}

func (b *builder) lambda(doc *document) *tree.Lambda {
	b.at(&doc.Body)
	if doc.Body.Kind == 0 {
		b.fail("lambda %q has no body", doc.Name)
	}
	params, scope := b.declare(doc.Params, true)
	labels := make(map[string]*tree.LabelTarget)
	for _, d := range doc.Labels {
		for name, ts := range d {
			labels[name] = tree.Label(b.typ(ts), name)
		}
	}
	b.scopes = append(b.scopes, scope)
	b.labels = append(b.labels, labels)
	body := b.expr(&doc.Body)
	b.scopes = b.scopes[:len(b.scopes)-1]
	b.labels = b.labels[:len(b.labels)-1]

	var l *tree.Lambda
	if doc.Returns != "" {
		l = tree.LambdaTyped(doc.Name, b.typ(doc.Returns), body, params...)
	} else {
		l = tree.NewLambda(doc.Name, body, params...)
	}
	if doc.TailCall {
		l = l.WithTailCall()
	}
	return l
}

func (b *builder) nested(n *yaml.Node) *tree.Lambda {
	b.at(n)
	var doc document
	if err := n.Decode(&doc); err != nil {
		b.fail("%v", err)
	}
	return b.lambda(&doc)
}

func (b *builder) expr(n *yaml.Node) tree.Node {
	b.at(n)
	switch n.Kind {
	case yaml.AliasNode:
		return b.expr(n.Alias)
	case yaml.ScalarNode:
		return b.scalar(n, false)
	case yaml.SequenceNode:
		return tree.Seq(b.list(n)...)
	case yaml.MappingNode:
		return b.form(n)
	}
	b.fail("unexpected YAML node")
	return nil
}

func (b *builder) list(n *yaml.Node) []tree.Node {
	if n == nil {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return []tree.Node{b.expr(n)}
	}
	out := make([]tree.Node, len(n.Content))
	for i, c := range n.Content {
		out[i] = b.expr(c)
	}
	return out
}

// scalar builds a constant or a variable reference. With literal set,
// unquoted strings are constants too.
func (b *builder) scalar(n *yaml.Node, literal bool) tree.Node {
	if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
		return tree.Const(n.Value)
	}
	switch n.ShortTag() {
	case "!!int":
		var v int
		if err := n.Decode(&v); err != nil {
			b.fail("%v", err)
		}
		return tree.Const(v)
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			b.fail("%v", err)
		}
		return tree.Const(v)
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			b.fail("%v", err)
		}
		return tree.Const(v)
	case "!!null":
		b.fail("null has no type; write {const: null, type: T}")
	}
	if literal {
		return tree.Const(n.Value)
	}
	return b.lookup(n.Value)
}

func (b *builder) constant(v, t *yaml.Node) tree.Node {
	if t == nil {
		if v.Kind != yaml.ScalarNode {
			b.fail("a constant without a type must be a scalar")
		}
		return b.scalar(v, true)
	}
	ct := b.typ(t.Value)
	if v.ShortTag() == "!!null" {
		return tree.TypedConst(nil, ct)
	}
	return tree.TypedConst(b.value(v, ct), ct)
}

// fields splits a form mapping into its head and its modifiers, rejecting
// modifiers the form does not take.
func (b *builder) fields(n *yaml.Node, allowed ...string) (string, *yaml.Node, map[string]*yaml.Node) {
	if len(n.Content) == 0 {
		b.fail("empty expression")
	}
	head, val := n.Content[0].Value, n.Content[1]
	mods := make(map[string]*yaml.Node)
	for i := 2; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		ok := false
		for _, a := range allowed {
			ok = ok || a == k.Value
		}
		if !ok {
			b.at(k)
			b.fail("%q does not take %q", head, k.Value)
		}
		mods[k.Value] = n.Content[i+1]
	}
	return head, val, mods
}

func (b *builder) pair(n *yaml.Node) (tree.Node, tree.Node) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 {
		b.fail("expected two operands")
	}
	return b.expr(n.Content[0]), b.expr(n.Content[1])
}

func (b *builder) typeOf(mods map[string]*yaml.Node, required bool) reflect.Type {
	t, ok := mods["type"]
	if !ok {
		if required {
			b.fail("missing type")
		}
		return nil
	}
	b.at(t)
	return b.typ(t.Value)
}

func (b *builder) form(n *yaml.Node) tree.Node {
	if len(n.Content) == 0 {
		b.fail("empty expression")
	}
	head := n.Content[0].Value
	if op, ok := binaryForms[head]; ok {
		_, val, mods := b.fields(n, "lift")
		l, r := b.pair(val)
		bin := tree.MakeBinary(op, l, r)
		if lift, ok := mods["lift"]; ok && lift.Value == "true" {
			bin = bin.LiftedToNull()
		}
		return bin
	}
	if op, ok := unaryForms[head]; ok {
		_, val, _ := b.fields(n)
		return tree.MakeUnary(op, b.expr(val), nil)
	}
	if kind, ok := gotoForms[head]; ok {
		_, val, mods := b.fields(n, "value")
		var v tree.Node
		if m, ok := mods["value"]; ok {
			v = b.expr(m)
		}
		return tree.MakeGoto(kind, b.label(val.Value), v)
	}

	switch head {
	case "const":
		_, val, mods := b.fields(n, "type")
		return b.constant(val, mods["type"])
	case "var":
		_, val, _ := b.fields(n)
		return b.lookup(val.Value)
	case "zero":
		_, val, _ := b.fields(n)
		return tree.Zero(b.typ(val.Value))
	case "convert":
		_, val, mods := b.fields(n, "type")
		return tree.ConvertTo(b.expr(val), b.typeOf(mods, true))
	case "as":
		_, val, mods := b.fields(n, "type")
		return tree.As(b.expr(val), b.typeOf(mods, true))
	case "is":
		_, val, mods := b.fields(n, "type")
		return tree.TypeIsOf(b.expr(val), b.typeOf(mods, true))
	case "typeeq":
		_, val, mods := b.fields(n, "type")
		return tree.TypeEqualOf(b.expr(val), b.typeOf(mods, true))
	case "throw":
		_, val, mods := b.fields(n, "type")
		t := b.typeOf(mods, false)
		if t == nil {
			t = tree.Void
		}
		return tree.ThrowTyped(b.expr(val), t)
	case "rethrow":
		_, val, _ := b.fields(n)
		return tree.MakeUnary(tree.Throw, nil, b.typ(val.Value))
	case "if":
		return b.conditional(n)
	case "do":
		return b.block(n)
	case "loop":
		_, val, mods := b.fields(n, "break", "continue")
		var brk, cont *tree.LabelTarget
		if m, ok := mods["break"]; ok {
			brk = b.label(m.Value)
		}
		if m, ok := mods["continue"]; ok {
			cont = b.label(m.Value)
		}
		return tree.MakeLoop(b.expr(val), brk, cont)
	case "label":
		_, val, mods := b.fields(n, "default")
		var def tree.Node
		if m, ok := mods["default"]; ok {
			def = b.expr(m)
		}
		return tree.LabelAt(b.label(val.Value), def)
	case "call":
		_, val, mods := b.fields(n, "args", "spread")
		fn, ok := b.funcs[val.Value]
		if !ok {
			b.fail("unknown function %q", val.Value)
		}
		args := b.list(mods["args"])
		if m, ok := mods["spread"]; ok && m.Value == "true" {
			return tree.CallSpread(fn, args...)
		}
		return tree.CallFunc(fn, args...)
	case "method":
		_, val, mods := b.fields(n, "on", "args")
		on, ok := mods["on"]
		if !ok {
			b.fail("method %q needs a receiver", val.Value)
		}
		return tree.CallMethod(b.expr(on), val.Value, b.list(mods["args"])...)
	case "field":
		_, val, mods := b.fields(n, "of")
		of, ok := mods["of"]
		if !ok {
			b.fail("field %q needs an operand", val.Value)
		}
		return tree.Field(b.expr(of), val.Value)
	case "at":
		_, val, _ := b.fields(n)
		obj, key := b.pair(val)
		return tree.IndexOf(obj, key)
	case "new":
		_, val, _ := b.fields(n)
		return tree.NewZero(b.typ(val.Value))
	case "array":
		_, val, mods := b.fields(n, "type")
		return tree.NewArrayInit(b.typeOf(mods, true), b.list(val)...)
	case "make":
		_, val, mods := b.fields(n, "len")
		ln, ok := mods["len"]
		if !ok {
			b.fail("make needs a length")
		}
		return tree.NewArrayBounds(b.typ(val.Value), b.expr(ln))
	case "lambda":
		_, val, _ := b.fields(n)
		return b.nested(val)
	case "quote":
		_, val, _ := b.fields(n)
		return tree.QuoteLambda(b.nested(val))
	case "invoke":
		_, val, mods := b.fields(n, "args")
		return tree.InvokeOf(b.expr(val), b.list(mods["args"])...)
	case "switch":
		return b.switchExpr(n)
	case "try":
		return b.try(n)
	case "line":
		_, val, _ := b.fields(n)
		var line int
		if err := val.Decode(&line); err != nil {
			b.fail("%v", err)
		}
		return tree.MarkLine(b.file, line, line)
	case "vars":
		_, val, _ := b.fields(n)
		var vars []*tree.Parameter
		for _, c := range val.Content {
			b.at(c)
			vars = append(vars, b.lookup(c.Value))
		}
		return tree.RuntimeVars(vars...)
	}
	b.fail("unknown form %q", head)
	return nil
}

func (b *builder) conditional(n *yaml.Node) tree.Node {
	_, val, mods := b.fields(n, "type")
	parts := b.list(val)
	t := b.typeOf(mods, false)
	switch {
	case len(parts) == 2 && t == nil:
		return tree.IfThen(parts[0], parts[1])
	case len(parts) == 2:
		return tree.ConditionTyped(parts[0], parts[1], tree.Empty(), t)
	case len(parts) == 3 && t == nil:
		return tree.Condition(parts[0], parts[1], parts[2])
	case len(parts) == 3:
		return tree.ConditionTyped(parts[0], parts[1], parts[2], t)
	}
	b.fail("if takes a test, a branch and an optional else branch")
	return nil
}

func (b *builder) block(n *yaml.Node) tree.Node {
	_, val, mods := b.fields(n, "vars", "type")
	var decls []map[string]string
	if m, ok := mods["vars"]; ok {
		if err := m.Decode(&decls); err != nil {
			b.fail("%v", err)
		}
	}
	vars, scope := b.declare(decls, false)
	b.scopes = append(b.scopes, scope)
	exprs := b.list(val)
	b.scopes = b.scopes[:len(b.scopes)-1]
	if len(exprs) == 0 {
		b.fail("empty block")
	}
	if t := b.typeOf(mods, false); t != nil {
		return tree.MakeBlockTyped(t, vars, exprs...)
	}
	return tree.MakeBlock(vars, exprs...)
}

type caseDoc struct {
	When yaml.Node `yaml:"when"`
	Then yaml.Node `yaml:"then"`
}

func (b *builder) switchExpr(n *yaml.Node) tree.Node {
	_, val, mods := b.fields(n, "cases", "default", "type")
	value := b.expr(val)
	var cases []*tree.SwitchCase
	if m, ok := mods["cases"]; ok {
		for _, c := range m.Content {
			b.at(c)
			var cd caseDoc
			if err := c.Decode(&cd); err != nil {
				b.fail("%v", err)
			}
			if cd.When.Kind == 0 || cd.Then.Kind == 0 {
				b.fail("a case needs when and then")
			}
			var tests []tree.Node
			if cd.When.Kind == yaml.SequenceNode {
				for _, w := range cd.When.Content {
					tests = append(tests, b.switchTest(w))
				}
			} else {
				tests = append(tests, b.switchTest(&cd.When))
			}
			cases = append(cases, tree.Case(b.expr(&cd.Then), tests...))
		}
	}
	var def tree.Node
	if m, ok := mods["default"]; ok {
		def = b.expr(m)
	}
	if t := b.typeOf(mods, false); t != nil {
		return tree.MakeSwitchTyped(t, value, def, reflect.Value{}, cases...)
	}
	return tree.MakeSwitch(value, def, cases...)
}

// switchTest reads a case constant. Unquoted strings are constants here.
func (b *builder) switchTest(n *yaml.Node) tree.Node {
	b.at(n)
	if n.Kind == yaml.ScalarNode {
		return b.scalar(n, true)
	}
	return b.expr(n)
}

type catchDoc struct {
	Type string    `yaml:"type"`
	Var  string    `yaml:"var"`
	When yaml.Node `yaml:"when"`
	Do   yaml.Node `yaml:"do"`
}

func (b *builder) try(n *yaml.Node) tree.Node {
	_, val, mods := b.fields(n, "catch", "finally", "fault", "type")
	body := b.expr(val)
	var handlers []*tree.CatchBlock
	if m, ok := mods["catch"]; ok {
		for _, c := range m.Content {
			b.at(c)
			var cd catchDoc
			if err := c.Decode(&cd); err != nil {
				b.fail("%v", err)
			}
			if cd.Do.Kind == 0 {
				b.fail("a catch needs a do body")
			}
			test := tree.AnyType
			if cd.Type != "" {
				test = b.typ(cd.Type)
			}
			var v *tree.Parameter
			scope := map[string]*tree.Parameter{}
			if cd.Var != "" {
				v = tree.Var(test, cd.Var)
				scope[cd.Var] = v
			}
			b.scopes = append(b.scopes, scope)
			var filter tree.Node
			if cd.When.Kind != 0 {
				filter = b.expr(&cd.When)
			}
			handler := b.expr(&cd.Do)
			b.scopes = b.scopes[:len(b.scopes)-1]
			handlers = append(handlers, tree.CatchIf(test, v, handler, filter))
		}
	}
	var fin, fault tree.Node
	if m, ok := mods["finally"]; ok {
		fin = b.expr(m)
	}
	if m, ok := mods["fault"]; ok {
		fault = b.expr(m)
	}
	t := b.typeOf(mods, false)
	if t == nil {
		t = body.Type()
	}
	return tree.MakeTry(t, body, fin, fault, handlers...)
}
