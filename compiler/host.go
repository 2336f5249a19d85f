package compiler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// procedureHost is the process-wide home of nested procedures. It names
// anonymous procedures and counts what it hosts.
type procedureHost struct {
	counter atomic.Uint64
	mu      sync.Mutex
	hosted  map[string]int // base name -> nested procedures compiled
}

var host atomic.Pointer[procedureHost]

// nestedHost returns the host, creating it on first use.
func nestedHost() *procedureHost {
	if h := host.Load(); h != nil {
		return h
	}
	h := &procedureHost{hosted: make(map[string]int)}
	if host.CompareAndSwap(nil, h) {
		return h
	}
	return host.Load()
}

// name returns a process-unique name for a nested procedure of parent.
func (h *procedureHost) name(parent, name string) string {
	n := h.counter.Add(1)
	if name == "" {
		name = "lambda"
	}
	return fmt.Sprintf("%s.%s#%d", parent, name, n)
}

func (h *procedureHost) add(parent string) {
	h.mu.Lock()
	h.hosted[parent]++
	h.mu.Unlock()
}

// HostedProcedures reports how many nested procedures have been compiled
// inside procedures named parent.
func HostedProcedures(parent string) int {
	h := nestedHost()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosted[parent]
}
