// Package barrier provides the synchronization point every run worker in a
// job must cross together before any of them proceeds to drain its target's
// log output. It is sized to the job's total run count before any worker is
// spawned — getting that count wrong deadlocks the job.
package barrier

import "sync"

// Barrier is a single-use rendezvous for a fixed number of parties.
type Barrier struct {
	wg *sync.WaitGroup
}

// New returns a Barrier for n parties.
func New(n int) *Barrier {
	wg := &sync.WaitGroup{}
	wg.Add(n)
	return &Barrier{wg: wg}
}

// Token is one party's handle on the barrier. Release must be called
// exactly once, on every exit path of the worker that holds it — a worker
// that fails during setup still has to drop its token, or its siblings
// never cross. Release is idempotent so a defer alongside an explicit call
// on the success path is always safe.
type Token struct {
	once sync.Once
	wg   *sync.WaitGroup
}

// NewToken returns a Token bound to this Barrier.
func (b *Barrier) NewToken() *Token {
	return &Token{wg: b.wg}
}

// Release drops this party's token. Safe to call more than once.
func (t *Token) Release() {
	t.once.Do(func() { t.wg.Done() })
}

// Wait blocks until every party's token has been released.
func (b *Barrier) Wait() {
	b.wg.Wait()
}
