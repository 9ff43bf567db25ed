package sandbox

import (
	"sync/atomic"

	"github.com/dontdude/codebox/internal/domain"
)

// oneShot commits a result exactly once. Only the first claimant builds and delivers
// its result; every later claim is rejected silently.
type oneShot struct {
	claimed atomic.Bool
	ch      chan domain.CompilationResult
}

func newOneShot() *oneShot {
	return &oneShot{ch: make(chan domain.CompilationResult, 1)}
}

// resolve claims the shot and, if it won, delivers build().
func (o *oneShot) resolve(build func() domain.CompilationResult) bool {
	if !o.claimed.CompareAndSwap(false, true) {
		return false
	}
	o.ch <- build()
	return true
}

func (o *oneShot) resolved() bool {
	return o.claimed.Load()
}

func (o *oneShot) result() <-chan domain.CompilationResult {
	return o.ch
}
