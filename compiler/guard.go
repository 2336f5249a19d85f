package compiler

import "log/slog"

// stackGuard bounds the recursion depth of the compiler walks. Past the
// limit the walk continues on a fresh goroutine, whose stack starts empty,
// and the caller waits for it. Panics are forwarded to the caller.
type stackGuard struct {
	depth int
	max   int
	hops  int
	log   *slog.Logger
}

func newStackGuard(max int, log *slog.Logger) *stackGuard {
	return &stackGuard{max: max, log: log}
}

func (g *stackGuard) run(f func()) {
	if g.depth < g.max {
		g.depth++
		defer func() { g.depth-- }()
		f()
		return
	}
	saved := g.depth
	g.depth = 0
	g.hops++
	g.log.Debug("trampoline", "hop", g.hops, "depth", saved)
	var p any
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { p = recover() }()
		f()
	}()
	<-done
	g.depth = saved
	if p != nil {
		panic(p)
	}
}
