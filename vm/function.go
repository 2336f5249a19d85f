package vm

import (
	"fmt"
	"reflect"
	"sync"
)

// Function is the compiled code of one procedure.
type Function struct {
	Name       string
	Type       reflect.Type // Go func type of the procedure
	Arity      int
	LocalCount int
	Locals     []any // initial values of the local slots; nil when short
	Code       []Bytecode
	Lines      map[int]int // pc -> source line
	File       string
	Handlers   []Handler // innermost regions first
	Tables     []JumpTable
	TailCall   bool
	MaxFrames  int
	HasResult  bool
}

// HandlerKind is the kind of a protected region.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

var handlerKindNames = [...]string{"catch", "filter", "finally", "fault"}

func (k HandlerKind) String() string { return handlerKindNames[k] }

// Handler is a protected region [TryStart, TryEnd) and the handler code
// [HandlerStart, HandlerEnd). Filter code runs from FilterStart up to
// HandlerStart.
type Handler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int
	CatchType    reflect.Type
}

func (h *Handler) protects(pc int) bool { return pc >= h.TryStart && pc < h.TryEnd }

func (h *Handler) inHandler(pc int) bool {
	start := h.HandlerStart
	if h.Kind == HandlerFilter {
		start = h.FilterStart
	}
	return pc >= start && pc < h.HandlerEnd
}

// JumpTable is a switch dispatch table. Integer values index Targets
// starting at Min; Keys maps values to Targets indexes for hashed
// dispatch.
type JumpTable struct {
	Min     int64
	Keys    map[any]int
	Targets []int
	Default int
}

// Closure is a function bound to its constants and its closure frame.
type Closure struct {
	Function  *Function
	Constants []any
	Frame     *ClosureFrame

	once sync.Once
	fn   reflect.Value
}

func (c *Closure) String() string {
	return fmt.Sprintf("closure(%v)", c.Function.Name)
}

// ClosureFrame holds the cells of the captured variables of one scope.
type ClosureFrame struct {
	Parent *ClosureFrame
	Cells  []*Cell
}

// Ancestor returns the frame hops levels up.
func (f *ClosureFrame) Ancestor(hops int) *ClosureFrame {
	for ; hops > 0; hops-- {
		f = f.Parent
	}
	return f
}

// Cell is a shared single-value slot. Every closure reaching the cell
// through its frame chain sees the same value.
type Cell struct {
	Value any
}

// RuntimeVariables gives live access to a list of cells.
type RuntimeVariables struct {
	cells []*Cell
}

// NewRuntimeVariables wraps cells.
func NewRuntimeVariables(cells ...*Cell) *RuntimeVariables {
	return &RuntimeVariables{cells: cells}
}

func (r *RuntimeVariables) Len() int         { return len(r.cells) }
func (r *RuntimeVariables) Get(i int) any    { return r.cells[i].Value }
func (r *RuntimeVariables) Set(i int, v any) { r.cells[i].Value = v }
func (r *RuntimeVariables) Cell(i int) *Cell { return r.cells[i] }

// HostFunc describes a call of a Go function.
type HostFunc struct {
	Fn     reflect.Value
	Spread bool
	Throws bool
	Result bool
}

// HostMethod describes a call of a method looked up by name on the
// receiver.
type HostMethod struct {
	Name   string
	Spread bool
	Throws bool
	Result bool
}

// DynamicSite is a call site bound at run time. Resolved methods are
// cached per receiver type.
type DynamicSite struct {
	Member string
	Result reflect.Type // nil for void sites

	cache sync.Map // reflect.Type -> int (method index)
}

// Field describes a struct field access.
type Field struct {
	Name  string
	Index []int
	Type  reflect.Type
}
