// Package workerpool offloads blocking probe and logic-analyzer I/O off
// whatever goroutine is also expected to keep servicing HTTP requests. Go
// has no separate async reactor to starve, but the Probe Runner's calls
// into a debug probe can legitimately block for seconds (flashing an
// image), so dispatch still goes through a bounded pool rather than an
// unbounded "go func()" per run.
package workerpool

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/bobmcallan/hilci/internal/common"
)

// Pool bounds concurrent blocking work to a fixed number of slots and
// recovers panics the way the reference stack's safeGo helper does: logged,
// not propagated, so one run's bug cannot take down the Executor.
type Pool struct {
	sem    chan struct{}
	logger *common.Logger
	wg     sync.WaitGroup
}

// New returns a Pool with size concurrent slots.
func New(size int, logger *common.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size), logger: logger}
}

// Go acquires a slot (blocking until one is free), runs fn in a new
// goroutine with panic recovery, and releases the slot when fn returns.
// Callers that need to know when fn has finished should use their own
// synchronization (the barrier, in the Probe Runner's case) — Go only
// guarantees the slot is released.
func (p *Pool) Go(name string, fn func()) {
	p.wg.Add(1)
	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("worker", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Wait blocks until every Go call so far has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
