package vm

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

const (
	stackSize = 256
	// DefaultMaxFrames bounds the call depth of a machine when the entry
	// function does not set MaxFrames.
	DefaultMaxFrames = 10000
)

// machinePool keeps machines for reuse; every call from the host borrows one.
var machinePool = sync.Pool{
	New: func() any {
		return &Machine{stack: make([]any, stackSize), frames: make([]Frame, 0, 16)}
	},
}

// Machine runs closures. A machine is used by one goroutine at a time;
// host calls that re-enter compiled code borrow another machine.
type Machine struct {
	stack     []any
	top       int
	frames    []Frame
	maxFrames int
	// resumption point of an exception dispatch interrupted by a filter
	resumeAt    int
	resumeIndex int
}

// Frame is the activation record of a running function. Arguments and
// locals live on the stack: args at fp, locals at lp, operands from sp.
type Frame struct {
	closure *Closure
	code    []Bytecode
	consts  []any
	fp      int
	lp      int
	sp      int
	pc      int
	conts   []continuation
	filter  *filterState
}

// Call runs the closure with args on a pooled machine.
func Call(c *Closure, args ...any) (any, error) {
	if len(args) != c.Function.Arity {
		return nil, fmt.Errorf("%v expects %v arguments, got %v", c.Function.Name, c.Function.Arity, len(args))
	}
	m := machinePool.Get().(*Machine)
	defer m.release()
	m.maxFrames = c.Function.MaxFrames
	if m.maxFrames <= 0 {
		m.maxFrames = DefaultMaxFrames
	}
	m.push(c)
	for _, a := range args {
		m.push(a)
	}
	m.enter(c, len(args))
	return m.run()
}

func (m *Machine) release() {
	clear(m.stack)
	m.top = 0
	for i := range m.frames {
		m.frames[i] = Frame{}
	}
	m.frames = m.frames[:0]
	m.resumeIndex = 0
	machinePool.Put(m)
}

func (m *Machine) push(v any) {
	if m.top == len(m.stack) {
		grown := make([]any, 2*len(m.stack))
		copy(grown, m.stack)
		m.stack = grown
	}
	m.stack[m.top] = v
	m.top++
}

func (m *Machine) pop() any {
	m.top--
	v := m.stack[m.top]
	m.stack[m.top] = nil
	return v
}

func (m *Machine) peek() any { return m.stack[m.top-1] }

func (m *Machine) current() *Frame { return &m.frames[len(m.frames)-1] }

// enter pushes a frame for c whose n arguments are on top of the stack,
// just above the callee slot.
func (m *Machine) enter(c *Closure, n int) {
	fn := c.Function
	fp := m.top - n
	for i := 0; i < fn.LocalCount; i++ {
		var v any
		if i < len(fn.Locals) {
			v = fn.Locals[i]
		}
		m.push(v)
	}
	m.frames = append(m.frames, Frame{
		closure: c,
		code:    fn.Code,
		consts:  c.Constants,
		fp:      fp,
		lp:      fp + n,
		sp:      fp + n + fn.LocalCount,
	})
}

// tailEnter replaces the current frame with a frame for c.
func (m *Machine) tailEnter(c *Closure, n int) {
	f := m.current()
	copy(m.stack[f.fp:], m.stack[m.top-n:m.top])
	m.stack[f.fp-1] = c
	for i := f.fp + n; i < m.top; i++ {
		m.stack[i] = nil
	}
	m.top = f.fp + n
	fp := f.fp
	m.frames = m.frames[:len(m.frames)-1]
	m.enter(c, n)
	m.current().fp = fp
}

// ret pops the current frame. It reports whether the entry frame returned.
func (m *Machine) ret(result any, hasValue bool) bool {
	f := m.current()
	if len(m.frames) == 1 {
		return true
	}
	for i := f.fp - 1; i < m.top; i++ {
		m.stack[i] = nil
	}
	m.top = f.fp - 1
	m.frames[len(m.frames)-1] = Frame{}
	m.frames = m.frames[:len(m.frames)-1]
	if hasValue {
		m.push(result)
	}
	return false
}

func (m *Machine) run() (any, error) {
	for {
		result, thrown, done := m.exec()
		if done {
			return result, nil
		}
		if exc := m.dispatch(thrown); exc != nil {
			return nil, exc
		}
	}
}

func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return reflect.ValueOf(v).Bool()
}

// exec runs instructions until the entry frame returns or a value is
// thrown. Invalid casts raised while converting values are thrown; any
// other panic is a fault of the machine itself and is not recovered.
func (m *Machine) exec() (result any, thrown any, done bool) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrInvalidCast) {
				panic(r)
			}
			result, thrown, done = nil, err, false
		}
	}()
	f := m.current()
	for {
		instruction := f.code[f.pc]
		f.pc++
		operand := int(instruction >> instructionShift)
		switch instruction & opcodeMask {
		case OPNop:
		case OPConst:
			m.push(f.consts[operand])
		case OPInt:
			m.push(immediate(operand))
		case OPTrue:
			m.push(true)
		case OPFalse:
			m.push(false)
		case OPNil:
			m.push(nil)
		case OPDefault:
			m.push(Zero(f.consts[operand].(reflect.Type)))
		case OPPop:
			m.pop()
		case OPDup:
			m.push(m.peek())
		case OPSwap:
			m.stack[m.top-1], m.stack[m.top-2] = m.stack[m.top-2], m.stack[m.top-1]
		case OPGetArg:
			m.push(m.stack[f.fp+operand])
		case OPSetArg:
			m.stack[f.fp+operand] = m.pop()
		case OPGetLocal:
			m.push(m.stack[f.lp+operand])
		case OPSetLocal:
			m.stack[f.lp+operand] = m.pop()
		case OPClosureFrame:
			m.push(f.closure.Frame)
		case OPFrameParent:
			frame, _ := m.pop().(*ClosureFrame)
			m.push(frame.Ancestor(operand))
		case OPFrameCell:
			frame, _ := m.pop().(*ClosureFrame)
			if frame == nil {
				// a jump into a block skips the creation of its frame
				return nil, NilDereferenceError("closure frame not created"), false
			}
			m.push(frame.Cells[operand])
		case OPCellGet:
			m.push(m.pop().(*Cell).Value)
		case OPCellSet:
			v := m.pop()
			m.pop().(*Cell).Value = v
		case OPNewFrame:
			cells := make([]*Cell, operand)
			for i := range cells {
				cells[i] = &Cell{Value: m.stack[m.top-operand+i]}
			}
			m.top -= operand
			clear(m.stack[m.top : m.top+operand])
			parent, _ := m.pop().(*ClosureFrame)
			m.push(&ClosureFrame{Parent: parent, Cells: cells})
		case OPMakeClosure:
			frame, _ := m.pop().(*ClosureFrame)
			m.push(&Closure{
				Function:  f.consts[operand].(*Function),
				Constants: f.consts[operand+1].([]any),
				Frame:     frame,
			})
		case OPBinary:
			rhs := m.pop()
			v, err := Binary(Operator(operand), m.pop(), rhs)
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPUnary:
			v, err := Unary(Operator(operand), m.pop())
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPConvert:
			v, err := convert(m.pop(), f.consts[operand].(reflect.Type))
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPTypeAssert:
			v, err := typeAssert(m.pop(), f.consts[operand].(reflect.Type))
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPTypeAs:
			m.push(typeAs(m.pop(), f.consts[operand].(reflect.Type)))
		case OPTypeIs:
			m.push(IsAssignable(m.pop(), f.consts[operand].(reflect.Type)))
		case OPTypeEqual:
			v := m.pop()
			m.push(!IsNil(v) && TypeOf(v) == f.consts[operand].(reflect.Type))
		case OPIsNil:
			m.push(IsNil(m.pop()))
		case OPBox:
			m.push(box(m.pop(), f.consts[operand].(reflect.Type)))
		case OPUnwrap:
			p := m.pop()
			if IsNil(p) {
				return nil, NoValueError(), false
			}
			v, _ := deref(p)
			m.push(v)
		case OPDeref:
			v, err := deref(m.pop())
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPStoreRef:
			v := m.pop()
			if err := storeRef(m.pop(), v); err != nil {
				return nil, err, false
			}
		case OPJump:
			f.pc = operand
		case OPJumpIfFalse:
			if !truthy(m.pop()) {
				f.pc = operand
			}
		case OPJumpIfTrue:
			if truthy(m.pop()) {
				f.pc = operand
			}
		case OPJumpIfNil:
			if IsNil(m.pop()) {
				f.pc = operand
			}
		case OPJumpIfNotNil:
			if !IsNil(m.pop()) {
				f.pc = operand
			}
		case OPTableSwitch:
			table := &f.closure.Function.Tables[operand]
			f.pc = table.Default
			if k, ok := toIndex(m.pop()); ok {
				if i := k - table.Min; i >= 0 && i < int64(len(table.Targets)) {
					f.pc = table.Targets[i]
				}
			}
		case OPMapSwitch:
			table := &f.closure.Function.Tables[operand]
			if i, ok := table.Keys[m.pop()]; ok {
				f.pc = table.Targets[i]
			} else {
				f.pc = table.Default
			}
		case OPCallHost:
			k, n := instruction.Operands()
			host := f.consts[k].(*HostFunc)
			v, err := callHost(host.Fn, m.stack[m.top-n:m.top], host.Spread, host.Throws, host.Result)
			clear(m.stack[m.top-n : m.top])
			m.top -= n
			if err != nil {
				return nil, thrownBy(err), false
			}
			if host.Result {
				m.push(v)
			}
		case OPCallMethod:
			k, n := instruction.Operands()
			host := f.consts[k].(*HostMethod)
			fn, err := method(m.stack[m.top-n-1], host.Name)
			if err != nil {
				return nil, err, false
			}
			v, err := callHost(fn, m.stack[m.top-n:m.top], host.Spread, host.Throws, host.Result)
			clear(m.stack[m.top-n-1 : m.top])
			m.top -= n + 1
			if err != nil {
				return nil, thrownBy(err), false
			}
			if host.Result {
				m.push(v)
			}
		case OPInvoke:
			callee := m.stack[m.top-operand-1]
			if c, ok := callee.(*Closure); ok {
				if len(m.frames) >= m.maxFrames {
					return nil, StackOverflowError(m.maxFrames), false
				}
				m.enter(c, operand)
				f = m.current()
				continue
			}
			v, has, err := callValue(callee, m.stack[m.top-operand:m.top])
			clear(m.stack[m.top-operand-1 : m.top])
			m.top -= operand + 1
			if err != nil {
				return nil, thrownBy(err), false
			}
			if has {
				m.push(v)
			}
		case OPTailInvoke:
			callee := m.stack[m.top-operand-1]
			if c, ok := callee.(*Closure); ok {
				m.tailEnter(c, operand)
				f = m.current()
				continue
			}
			v, has, err := callValue(callee, m.stack[m.top-operand:m.top])
			if err != nil {
				return nil, thrownBy(err), false
			}
			if m.ret(v, has) {
				return v, nil, true
			}
			f = m.current()
		case OPDynamic:
			k, n := instruction.Operands()
			site := f.consts[k].(*DynamicSite)
			v, err := site.call(m.stack[m.top-n : m.top])
			clear(m.stack[m.top-n : m.top])
			m.top -= n
			if err != nil {
				return nil, thrownBy(err), false
			}
			if site.Result != nil {
				m.push(v)
			}
		case OPReturn:
			var v any
			if operand == 1 {
				v = m.pop()
			}
			if m.ret(v, operand == 1) {
				return v, nil, true
			}
			f = m.current()
		case OPThrow:
			v := m.pop()
			if IsNil(v) {
				v = NilDereferenceError("throw of a nil value")
			}
			return nil, v, false
		case OPLeave:
			m.leave(f, operand, f.pc-1)
		case OPEndFinally:
			c := f.conts[len(f.conts)-1]
			f.conts = f.conts[:len(f.conts)-1]
			if c.kind == contThrow {
				return nil, c.value, false
			}
			m.leave(f, c.target, f.pc-1)
		case OPEndFilter:
			accept := truthy(m.pop())
			fs := f.filter
			f.filter = nil
			if !accept {
				m.resumeAt, m.resumeIndex = fs.at, fs.index+1
				return nil, fs.exc, false
			}
			m.enterHandler(f, fs.at, f.closure.Function.Handlers[fs.index].HandlerStart)
			m.push(fs.exc)
		case OPGetField:
			v, err := getField(m.pop(), f.consts[operand].(*Field))
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPSetField:
			v := m.pop()
			if err := setField(m.pop(), f.consts[operand].(*Field), v); err != nil {
				return nil, err, false
			}
		case OPWithField:
			v := m.pop()
			s, err := withField(m.pop(), f.consts[operand].(*Field), v)
			if err != nil {
				return nil, err, false
			}
			m.push(s)
		case OPIndex:
			key := m.pop()
			v, err := index(m.pop(), key)
			if err != nil {
				return nil, err, false
			}
			m.push(v)
		case OPSetIndex:
			v := m.pop()
			key := m.pop()
			if err := setIndex(m.pop(), key, v); err != nil {
				return nil, err, false
			}
		case OPWithIndex:
			v := m.pop()
			key := m.pop()
			a, err := withIndex(m.pop(), key, v)
			if err != nil {
				return nil, err, false
			}
			m.push(a)
		case OPNew:
			m.push(newValue(f.consts[operand].(reflect.Type)))
		case OPNewArray:
			k, n := instruction.Operands()
			elems := make([]any, n)
			copy(elems, m.stack[m.top-n:m.top])
			clear(m.stack[m.top-n : m.top])
			m.top -= n
			m.push(newArray(f.consts[k].(reflect.Type), elems))
		case OPMakeSlice:
			s, err := makeSlice(f.consts[operand].(reflect.Type), m.pop())
			if err != nil {
				return nil, err, false
			}
			m.push(s)
		case OPRuntimeVars:
			cells := make([]*Cell, operand)
			for i := range cells {
				cells[i] = m.stack[m.top-operand+i].(*Cell)
			}
			clear(m.stack[m.top-operand : m.top])
			m.top -= operand
			m.push(NewRuntimeVariables(cells...))
		default:
			panic(fmt.Sprintf("vm: unknown opcode %v", instruction&opcodeMask))
		}
	}
}

// call runs a dynamic call site: args[0] is the receiver.
func (s *DynamicSite) call(args []any) (any, error) {
	recv := args[0]
	if recv == nil {
		return nil, NilDereferenceError("dynamic call")
	}
	var v any
	var err error
	if s.Member == "" {
		if c, ok := recv.(*Closure); ok {
			v, err = Call(c, append([]any(nil), args[1:]...)...)
		} else {
			v, _, err = callValue(recv, args[1:])
		}
	} else {
		var fn reflect.Value
		fn, err = s.resolve(recv)
		if err != nil {
			return nil, err
		}
		v, _, err = callValue(fn.Interface(), args[1:])
	}
	if err != nil || s.Result == nil {
		return nil, err
	}
	return convert(v, s.Result)
}

func (s *DynamicSite) resolve(recv any) (reflect.Value, error) {
	rv := reflect.ValueOf(recv)
	t := rv.Type()
	if i, ok := s.cache.Load(t); ok {
		return rv.Method(i.(int)), nil
	}
	m, ok := t.MethodByName(s.Member)
	if !ok {
		return reflect.Value{}, MethodNotDefined(s.Member, recv)
	}
	s.cache.Store(t, m.Index)
	return rv.Method(m.Index), nil
}
