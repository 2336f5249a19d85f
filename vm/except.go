package vm

// continuation kinds: what a finally or fault block does when it ends.
const (
	contLeave byte = iota
	contThrow
)

// continuation is pushed when control enters a finally or fault handler.
type continuation struct {
	kind    byte
	target  int // leave target
	value   any // exception being propagated
	handler int // index of the region whose handler runs
}

// filterState remembers the exception whose filter is running.
type filterState struct {
	exc   any
	index int
	at    int
}

// enterHandler transfers control to target after an exception or a leave
// raised at pc at. Continuations of handlers that control leaves are
// dropped and the operand stack is emptied.
func (m *Machine) enterHandler(f *Frame, at, target int) {
	handlers := f.closure.Function.Handlers
	for len(f.conts) > 0 {
		h := &handlers[f.conts[len(f.conts)-1].handler]
		if !h.inHandler(at) || h.inHandler(target) {
			break
		}
		f.conts = f.conts[:len(f.conts)-1]
	}
	for i := f.sp; i < m.top; i++ {
		m.stack[i] = nil
	}
	m.top = f.sp
	f.pc = target
}

// leave jumps from at to target, running the innermost finally block
// protecting at but not target first. The finally block resumes the leave
// when it ends.
func (m *Machine) leave(f *Frame, target, at int) {
	handlers := f.closure.Function.Handlers
	for i := range handlers {
		h := &handlers[i]
		if h.Kind == HandlerFinally && h.protects(at) && !h.protects(target) {
			m.enterHandler(f, at, h.HandlerStart)
			f.conts = append(f.conts, continuation{kind: contLeave, target: target, handler: i})
			return
		}
	}
	m.enterHandler(f, at, target)
}

// dispatch looks for a handler for the thrown value v, unwinding frames
// until one is found. It returns the exception to report when none is.
func (m *Machine) dispatch(v any) *Exception {
	f := m.current()
	at, start := f.pc-1, 0
	if m.resumeIndex > 0 {
		at, start = m.resumeAt, m.resumeIndex
		m.resumeIndex = 0
	}
	exc := &Exception{
		Value:    v,
		Function: f.closure.Function.Name,
		Line:     f.closure.Function.LineAt(at),
	}
	for {
		handlers := f.closure.Function.Handlers
		if fs := f.filter; fs != nil {
			h := &handlers[fs.index]
			if at >= h.FilterStart && at < h.HandlerStart {
				// A throwing filter rejects the exception it was testing.
				v, at, start = fs.exc, fs.at, fs.index+1
				f.filter = nil
			}
		}
		for i := start; i < len(handlers); i++ {
			h := &handlers[i]
			if !h.protects(at) {
				continue
			}
			switch h.Kind {
			case HandlerCatch:
				if !IsAssignable(v, h.CatchType) {
					continue
				}
				m.enterHandler(f, at, h.HandlerStart)
				m.push(v)
				return nil
			case HandlerFilter:
				if !IsAssignable(v, h.CatchType) {
					continue
				}
				m.enterHandler(f, at, h.FilterStart)
				f.filter = &filterState{exc: v, index: i, at: at}
				m.push(v)
				return nil
			case HandlerFinally, HandlerFault:
				m.enterHandler(f, at, h.HandlerStart)
				f.conts = append(f.conts, continuation{kind: contThrow, value: v, handler: i})
				return nil
			}
		}
		if len(m.frames) == 1 {
			exc.Value = v
			return exc
		}
		for i := f.fp - 1; i < m.top; i++ {
			m.stack[i] = nil
		}
		m.top = f.fp - 1
		m.frames[len(m.frames)-1] = Frame{}
		m.frames = m.frames[:len(m.frames)-1]
		f = m.current()
		at, start = f.pc-1, 0
	}
}

// LineAt returns the source line of the instruction at pc, or 0.
func (fn *Function) LineAt(pc int) int {
	best, line := -1, 0
	for at, l := range fn.Lines {
		if at <= pc && at > best {
			best, line = at, l
		}
	}
	return line
}
