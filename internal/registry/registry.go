// Package registry tracks every spawned connection handler, reclaims
// finished handlers promptly via a reaper goroutine, and on shutdown
// guarantees every handler has been joined before Stop returns.
//
// The shape is a locked collection plus a WaitGroup-shaped drain barrier:
// entries are mutated under a mutex and released before any blocking join,
// so the lock is never held across a handler's lifetime.
package registry

import (
	"log"
	"net"
	"sync"
	"sync/atomic"

	multierror "github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/maxwallstedt/go-maxserver/internal/logging"
	"github.com/maxwallstedt/go-maxserver/internal/metrics"
	"github.com/maxwallstedt/go-maxserver/internal/quit"
)

const initialCapacity = 64

const (
	finishTag byte = 0
	stopTag   byte = 1
)

// HandlerFunc is invoked once per accepted connection, in its own
// goroutine. It receives the connection (owned for its duration; closed by
// the registry after the call returns) and a read-only quit wait handle it
// must incorporate into any blocking wait it performs.
type HandlerFunc func(conn net.Conn, quit <-chan struct{})

type entry struct {
	id       uint64
	name     string // optional, set by SpawnNamed; "" otherwise
	finished atomic.Bool
	done     chan struct{}
}

// Registry is the handler entry collection, its lock, and its reaper.
type Registry struct {
	mu      sync.Mutex
	entries []*entry

	notify chan byte

	quit    *quit.Chan
	logger  *log.Logger
	metrics *metrics.Sink

	nextID   uint64
	useUUID  bool
	names    *namedIndex // non-nil only when SpawnNamed has ever been used
	reaperWG sync.WaitGroup
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithUUIDIdentity causes handler entries to receive ids derived from a
// go-uuid value (folded into a uint64) instead of a monotonic counter. The
// default counter is cheaper and already satisfies the "unique within the
// process lifetime" contract.
func WithUUIDIdentity() Option {
	return func(r *Registry) { r.useUUID = true }
}

// New allocates the registry, starts its reaper, and returns it. It cannot
// fail; an id-generation failure under WithUUIDIdentity is reported by the
// Spawn call that needed the id.
func New(q *quit.Chan, logger *log.Logger, sink *metrics.Sink, opts ...Option) *Registry {
	r := &Registry{
		entries: make([]*entry, 0, initialCapacity),
		notify:  make(chan byte, initialCapacity),
		quit:    q,
		logger:  logger,
		metrics: sink,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.reaperWG.Add(1)
	go r.reap()

	return r
}

// Spawn allocates a handler entry, inserts it with finished=false, then
// runs handle in its own goroutine. The entry is inserted before the
// handler starts user code, so every running handler is always observable
// through the registry. On error the connection is closed and not handed
// to handle.
func (r *Registry) Spawn(conn net.Conn, handle HandlerFunc) error {
	_, err := r.spawn("", conn, handle)
	return err
}

// SpawnNamed behaves like Spawn but additionally indexes the entry by name
// in a radix tree, enabling CountPrefix introspection queries.
func (r *Registry) SpawnNamed(name string, conn net.Conn, handle HandlerFunc) error {
	_, err := r.spawn(name, conn, handle)
	return err
}

func (r *Registry) spawn(name string, conn net.Conn, handle HandlerFunc) (uint64, error) {
	id, err := r.allocateID()
	if err != nil {
		conn.Close()
		return 0, err
	}

	e := &entry{id: id, name: name, done: make(chan struct{})}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	if name != "" {
		if r.names == nil {
			r.names = newNamedIndex()
		}
		r.names.insert(name, id)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncrActiveHandlers(1)
	}

	go func() {
		handle(conn, r.quit.Done())
		r.markFinished(id)
		conn.Close()
		close(e.done)
	}()

	return id, nil
}

func (r *Registry) allocateID() (uint64, error) {
	if r.useUUID {
		s, err := uuid.GenerateUUID()
		if err != nil {
			return 0, err
		}
		// Fold the UUID's entropy into a uint64 identity; the string form
		// is preserved nowhere else, since all that's required of an id
		// is that it be sufficient to join the handler it names.
		var v uint64
		for i := 0; i < len(s); i++ {
			v = v*131 + uint64(s[i])
		}
		return v, nil
	}
	return atomic.AddUint64(&r.nextID, 1), nil
}

// markFinished sets the entry's finished flag under the lock, then emits
// finishTag on the notification edge. The set-then-notify ordering is load
// bearing: the reaper's scan, once it observes finishTag, is guaranteed at
// least one finished entry exists (modulo the post-STOP tolerance
// documented on reap()).
func (r *Registry) markFinished(id uint64) {
	r.mu.Lock()
	for _, e := range r.entries {
		if e.id == id {
			e.finished.Store(true)
			break
		}
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.IncrActiveHandlers(-1)
	}

	// While the server runs, wait for buffer room so every finishTag
	// reaches the reaper. Once quit has fired the reaper may already be
	// gone, so the tag is dropped instead of blocking on a full buffer —
	// Stop()'s second phase drains every entry by join regardless of
	// whether its finishTag was ever seen.
	select {
	case r.notify <- finishTag:
	case <-r.quit.Done():
		select {
		case r.notify <- finishTag:
		default:
		}
	}
}

// reap blocks reading one byte at a time from the notification edge.
func (r *Registry) reap() {
	defer r.reaperWG.Done()

	for tag := range r.notify {
		switch tag {
		case finishTag:
			r.reapOne()
		case stopTag:
			return
		}
	}
}

// reapOne joins and removes the first finished entry, if any. A spurious
// finishTag with no finished entry present is harmless.
func (r *Registry) reapOne() {
	r.mu.Lock()
	var id uint64
	var done chan struct{}
	found := false
	for _, e := range r.entries {
		if e.finished.Load() {
			id, done, found = e.id, e.done, true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return
	}

	<-done // join, outside the lock

	r.remove(id)
}

// remove deletes the entry with the given id via linear scan and a
// left-shift of the tail, under the lock.
func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			if e.name != "" && r.names != nil {
				r.names.remove(e.name, e.id)
			}
			copy(r.entries[i:], r.entries[i+1:])
			r.entries[len(r.entries)-1] = nil
			r.entries = r.entries[:len(r.entries)-1]
			return
		}
	}
}

// Stop signals the reaper to quit, joins it, then drains every remaining
// entry by repeatedly taking the first entry's id under the lock,
// releasing, joining, and removing, until the registry is empty. Any
// per-entry join failure is accumulated rather than aborting the drain;
// there is none in this implementation (channel receives cannot fail),
// but the multierror accumulation point is kept so teardown failures are
// always reported, never silently dropped.
func (r *Registry) Stop() error {
	var result *multierror.Error

	r.notify <- stopTag
	r.reaperWG.Wait()

	for {
		r.mu.Lock()
		if len(r.entries) == 0 {
			r.mu.Unlock()
			break
		}
		e := r.entries[0]
		r.mu.Unlock()

		<-e.done
		r.remove(e.id)
	}

	close(r.notify)

	if r.logger != nil {
		logging.Infof(r.logger, "registry: drained, all handlers joined")
	}

	return result.ErrorOrNil()
}

// Len reports the number of active (not yet removed) entries. Intended for
// tests and administrative introspection, not for control flow.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CountPrefix returns the number of named, still-active entries whose name
// begins with prefix. Returns 0 if SpawnNamed has never been used.
func (r *Registry) CountPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		return 0
	}
	return r.names.countPrefix(prefix)
}
