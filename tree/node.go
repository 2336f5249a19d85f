// Package tree defines the expression tree grammar that the compiler
// consumes: immutable, typed nodes built from Go types and Go values.
//
// Constructors compute result types and panic on ill-typed input, the same
// way the reflect package reports misuse.
package tree

import (
	"fmt"
	"reflect"
)

// Kind identifies the concrete node type.
type Kind uint8

// Node kinds.
const (
	KindConstant Kind = iota
	KindParameter
	KindUnary
	KindBinary
	KindTypeBinary
	KindCall
	KindMember
	KindConditional
	KindBlock
	KindLoop
	KindSwitch
	KindTry
	KindLabel
	KindGoto
	KindLambda
	KindInvoke
	KindNew
	KindNewArray
	KindMemberInit
	KindListInit
	KindIndex
	KindDynamic
	KindDefault
	KindDebugInfo
	KindRuntimeVariables
	KindExtension
)

var kindNames = [...]string{
	KindConstant:         "Constant",
	KindParameter:        "Parameter",
	KindUnary:            "Unary",
	KindBinary:           "Binary",
	KindTypeBinary:       "TypeBinary",
	KindCall:             "Call",
	KindMember:           "Member",
	KindConditional:      "Conditional",
	KindBlock:            "Block",
	KindLoop:             "Loop",
	KindSwitch:           "Switch",
	KindTry:              "Try",
	KindLabel:            "Label",
	KindGoto:             "Goto",
	KindLambda:           "Lambda",
	KindInvoke:           "Invoke",
	KindNew:              "New",
	KindNewArray:         "NewArray",
	KindMemberInit:       "MemberInit",
	KindListInit:         "ListInit",
	KindIndex:            "Index",
	KindDynamic:          "Dynamic",
	KindDefault:          "Default",
	KindDebugInfo:        "DebugInfo",
	KindRuntimeVariables: "RuntimeVariables",
	KindExtension:        "Extension",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Node is an expression tree node.
type Node interface {
	Kind() Kind
	Type() reflect.Type
}

// Reducible is implemented by extension nodes. The compiler replaces an
// extension node with the result of Reduce before compiling it.
type Reducible interface {
	Node
	Reduce() Node
}

// VariableSet is the value produced by a RuntimeVariables node: live access
// to a list of variables.
type VariableSet interface {
	Len() int
	Get(i int) any
	Set(i int, v any)
}

// VariableSetType is the static type of RuntimeVariables nodes.
var VariableSetType = reflect.TypeOf((*VariableSet)(nil)).Elem()

// Constant is a literal value.
type Constant struct {
	Value any
	typ   reflect.Type
}

func (n *Constant) Kind() Kind         { return KindConstant }
func (n *Constant) Type() reflect.Type { return n.typ }

// Parameter is a variable: a lambda parameter, a block variable or a catch
// variable. Identity is the pointer.
type Parameter struct {
	Name  string
	ByRef bool
	typ   reflect.Type
}

func (n *Parameter) Kind() Kind         { return KindParameter }
func (n *Parameter) Type() reflect.Type { return n.typ }

// SignatureType is the type the parameter has in a Go func signature.
func (n *Parameter) SignatureType() reflect.Type {
	if n.ByRef {
		return reflect.PointerTo(n.typ)
	}
	return n.typ
}

func (n *Parameter) String() string {
	if n.Name == "" {
		return fmt.Sprintf("$var%p", n)
	}
	return n.Name
}

// Unary applies a one-operand operator.
type Unary struct {
	Op      UnaryOp
	Operand Node
	Method  reflect.Value
	typ     reflect.Type
}

func (n *Unary) Kind() Kind         { return KindUnary }
func (n *Unary) Type() reflect.Type { return n.typ }

// Binary applies a two-operand operator.
type Binary struct {
	Op         BinaryOp
	Left       Node
	Right      Node
	Method     reflect.Value
	LiftToNull bool
	typ        reflect.Type
}

func (n *Binary) Kind() Kind         { return KindBinary }
func (n *Binary) Type() reflect.Type { return n.typ }

// IsLifted reports whether the operator works on optional operands.
func (n *Binary) IsLifted() bool {
	if n.Op == Coalesce || n.Op == Assign || n.Op.IsCompoundAssign() {
		return false
	}
	return IsNullable(n.Left.Type()) || IsNullable(n.Right.Type())
}

// TypeBinary tests the dynamic type of a value.
type TypeBinary struct {
	Op      TypeBinaryOp
	Expr    Node
	Operand reflect.Type
}

func (n *TypeBinary) Kind() Kind         { return KindTypeBinary }
func (n *TypeBinary) Type() reflect.Type { return BoolType }

// TypeBinaryOp is TypeIs or TypeEqual.
type TypeBinaryOp uint8

const (
	TypeIs TypeBinaryOp = iota
	TypeEqual
)

// Call calls a Go function or a method.
type Call struct {
	Object Node          // receiver, nil for function calls
	Func   reflect.Value // function value for function calls
	Method MethodInfo    // method descriptor for method calls
	Args   []Node
	Spread bool // the last argument is passed as the variadic slice
	Sig    reflect.Type
	Throws bool // the last Go result is an error
	typ    reflect.Type
}

func (n *Call) Kind() Kind         { return KindCall }
func (n *Call) Type() reflect.Type { return n.typ }

// MethodInfo describes a method resolved by name.
type MethodInfo struct {
	Name string
	// AddressReceiver is set when the method has a pointer receiver and the
	// receiver node has the struct type: the call needs the receiver's address.
	AddressReceiver bool
}

// Member reads a struct field or a property.
type Member struct {
	Expr Node
	Info MemberInfo
}

func (n *Member) Kind() Kind         { return KindMember }
func (n *Member) Type() reflect.Type { return n.Info.Type }

// MemberInfo describes a field or a property of a type.
type MemberInfo struct {
	Name     string
	Owner    reflect.Type
	Type     reflect.Type
	Index    []int // field index path; nil for properties
	Property bool
	Setter   string // property setter method, empty when read-only
	// SetterByAddress is set when the setter has a pointer receiver and the
	// owner is a struct type.
	SetterByAddress bool
}

// Conditional evaluates one of two branches.
type Conditional struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
	typ     reflect.Type
}

func (n *Conditional) Kind() Kind         { return KindConditional }
func (n *Conditional) Type() reflect.Type { return n.typ }

// Block evaluates expressions in order within a variable scope.
type Block struct {
	Variables []*Parameter
	Exprs     []Node
	typ       reflect.Type
}

func (n *Block) Kind() Kind         { return KindBlock }
func (n *Block) Type() reflect.Type { return n.typ }

// Result returns the last expression of the block.
func (n *Block) Result() Node { return n.Exprs[len(n.Exprs)-1] }

// Loop repeats its body until a jump leaves it.
type Loop struct {
	Body     Node
	Break    *LabelTarget
	Continue *LabelTarget
}

func (n *Loop) Kind() Kind { return KindLoop }
func (n *Loop) Type() reflect.Type {
	if n.Break == nil {
		return Void
	}
	return n.Break.Type()
}

// Switch selects a case by comparing the switch value with test values.
type Switch struct {
	Value      Node
	Cases      []*SwitchCase
	Default    Node
	Comparison reflect.Value // optional func(value, test) bool
	typ        reflect.Type
}

func (n *Switch) Kind() Kind         { return KindSwitch }
func (n *Switch) Type() reflect.Type { return n.typ }

// SwitchCase is one arm of a Switch.
type SwitchCase struct {
	Tests []Node
	Body  Node
}

// Try is a protected region with handlers.
type Try struct {
	Body     Node
	Handlers []*CatchBlock
	Finally  Node
	Fault    Node
	typ      reflect.Type
}

func (n *Try) Kind() Kind         { return KindTry }
func (n *Try) Type() reflect.Type { return n.typ }

// CatchBlock handles thrown values assignable to Test.
type CatchBlock struct {
	Test     reflect.Type
	Variable *Parameter
	Filter   Node
	Body     Node
}

// LabelTarget identifies a jump target. Identity is the pointer.
type LabelTarget struct {
	Name string
	typ  reflect.Type
}

// Type is the type of the value carried by jumps to the target.
func (t *LabelTarget) Type() reflect.Type { return t.typ }

func (t *LabelTarget) String() string {
	if t.Name == "" {
		return fmt.Sprintf("$label%p", t)
	}
	return t.Name
}

// LabelExpr marks the position of a label target in the tree.
type LabelExpr struct {
	Target  *LabelTarget
	Default Node
}

func (n *LabelExpr) Kind() Kind         { return KindLabel }
func (n *LabelExpr) Type() reflect.Type { return n.Target.Type() }

// GotoKind distinguishes the forms of jumps for readability; all compile
// alike.
type GotoKind uint8

const (
	GotoJump GotoKind = iota
	GotoReturn
	GotoBreak
	GotoContinue
)

// Goto jumps to a label, optionally carrying a value.
type Goto struct {
	GotoKind GotoKind
	Target   *LabelTarget
	Value    Node
	typ      reflect.Type
}

func (n *Goto) Kind() Kind         { return KindGoto }
func (n *Goto) Type() reflect.Type { return n.typ }

// Lambda is a procedure definition, the unit of compilation.
type Lambda struct {
	Name       string
	Params     []*Parameter
	Body       Node
	ReturnType reflect.Type
	TailCall   bool
	typ        reflect.Type
}

func (n *Lambda) Kind() Kind         { return KindLambda }
func (n *Lambda) Type() reflect.Type { return n.typ }

// Invoke calls a func-typed value.
type Invoke struct {
	Expr Node
	Args []Node
	typ  reflect.Type
}

func (n *Invoke) Kind() Kind         { return KindInvoke }
func (n *Invoke) Type() reflect.Type { return n.typ }

// New constructs a value, with a constructor function or as the zero value
// (a fresh allocation for pointer-to-struct types).
type New struct {
	Ctor reflect.Value
	Args []Node
	typ  reflect.Type
}

func (n *New) Kind() Kind         { return KindNew }
func (n *New) Type() reflect.Type { return n.typ }

// NewArray builds a slice from elements or from a length.
type NewArray struct {
	Bounds bool
	Exprs  []Node
	typ    reflect.Type
}

func (n *NewArray) Kind() Kind         { return KindNewArray }
func (n *NewArray) Type() reflect.Type { return n.typ }

// MemberInit constructs a value and assigns members.
type MemberInit struct {
	New      *New
	Bindings []Binding
}

func (n *MemberInit) Kind() Kind         { return KindMemberInit }
func (n *MemberInit) Type() reflect.Type { return n.New.Type() }

// ListInit constructs a value and calls an add method for each element.
type ListInit struct {
	New   Node
	Inits []*ElementInit
}

func (n *ListInit) Kind() Kind         { return KindListInit }
func (n *ListInit) Type() reflect.Type { return n.New.Type() }

// ElementInit is one add-method call of a list initializer.
type ElementInit struct {
	Method MethodInfo
	Args   []Node
}

// Binding is a member initializer: *Assignment, *MemberBinding or *ListBinding.
type Binding interface {
	Member() MemberInfo
}

// Assignment sets a member to a value.
type Assignment struct {
	Info MemberInfo
	Expr Node
}

func (b *Assignment) Member() MemberInfo { return b.Info }

// MemberBinding initializes members of a member.
type MemberBinding struct {
	Info     MemberInfo
	Bindings []Binding
}

func (b *MemberBinding) Member() MemberInfo { return b.Info }

// ListBinding calls add methods on a member.
type ListBinding struct {
	Info  MemberInfo
	Inits []*ElementInit
}

func (b *ListBinding) Member() MemberInfo { return b.Info }

// Index reads an element of a slice, array, string or map.
type Index struct {
	Object Node
	Key    Node
	typ    reflect.Type
}

func (n *Index) Kind() Kind         { return KindIndex }
func (n *Index) Type() reflect.Type { return n.typ }

// Dynamic is a call bound at run time against the dynamic type of the
// receiver, Args[0]. An empty Member invokes the receiver itself.
type Dynamic struct {
	Member string
	Args   []Node
	typ    reflect.Type
}

func (n *Dynamic) Kind() Kind         { return KindDynamic }
func (n *Dynamic) Type() reflect.Type { return n.typ }

// Default is the zero value of a type.
type Default struct {
	typ reflect.Type
}

func (n *Default) Kind() Kind         { return KindDefault }
func (n *Default) Type() reflect.Type { return n.typ }

// DebugInfo attaches a source position to the code that follows.
type DebugInfo struct {
	File      string
	StartLine int
	EndLine   int
}

func (n *DebugInfo) Kind() Kind         { return KindDebugInfo }
func (n *DebugInfo) Type() reflect.Type { return Void }

// IsClear reports whether the node clears the current position.
func (n *DebugInfo) IsClear() bool { return n.StartLine == 0 }

// RuntimeVariables yields live access to variables as a VariableSet.
type RuntimeVariables struct {
	Vars []*Parameter
}

func (n *RuntimeVariables) Kind() Kind         { return KindRuntimeVariables }
func (n *RuntimeVariables) Type() reflect.Type { return VariableSetType }
