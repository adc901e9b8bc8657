// Package quit implements the server's shutdown broadcast edge: a
// fire-once, multi-observer signal that any number of goroutines can wait
// on concurrently.
package quit

import "sync"

// Chan is a one-shot broadcast signal. The zero value is not usable; use
// New. A Chan may be fired from any goroutine and waited on from any number
// of goroutines concurrently.
type Chan struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an armed Chan.
func New() *Chan {
	return &Chan{ch: make(chan struct{})}
}

// Fire transitions the Chan from armed to fired. It is idempotent: only
// the first call has any effect, and concurrent or later calls are no-ops.
func (q *Chan) Fire() {
	q.once.Do(func() {
		close(q.ch)
	})
}

// Done returns a wait handle that is closed once Fire has been called. It
// is safe to use Done's channel in a select alongside other channels, so a
// single blocking wait can observe "new work OR quit" at once.
func (q *Chan) Done() <-chan struct{} {
	return q.ch
}

// Fired reports whether Fire has been called, without blocking.
func (q *Chan) Fired() bool {
	select {
	case <-q.ch:
		return true
	default:
		return false
	}
}
