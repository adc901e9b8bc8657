// Package accept implements the acceptor: the single activity that waits
// on the listening endpoint and the quit channel, accepts connections, and
// hands each off to the handler registry.
//
// Go's net.Listener has no native "wait on accept OR another channel"
// multi-wait. Instead, the accept loop gives *net.TCPListener a short
// accept deadline and polls the quit channel between attempts.
package accept

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/maxwallstedt/go-maxserver/internal/logging"
	"github.com/maxwallstedt/go-maxserver/internal/metrics"
	"github.com/maxwallstedt/go-maxserver/internal/netutil"
	"github.com/maxwallstedt/go-maxserver/internal/quit"
	"github.com/maxwallstedt/go-maxserver/internal/registry"
)

// pollInterval bounds how long a single Accept() call blocks before the
// loop re-checks the quit channel. Short enough that shutdown converges
// within bounded time, long enough not to busy-loop.
const pollInterval = 200 * time.Millisecond

// Acceptor owns the listening endpoint's accept loop.
type Acceptor struct {
	ln         net.Listener
	quit       *quit.Chan
	registry   *registry.Registry
	handler    registry.HandlerFunc
	namePrefix string
	seqCounter uint64
	logger     *log.Logger
	metrics    *metrics.Sink
	done       chan struct{}
}

// Start builds an Acceptor, launches its accept loop in its own goroutine,
// and returns immediately. reg must already be constructed (its reaper is
// assumed running); the acceptor only spawns handlers through it. If
// namePrefix is non-empty, every accepted connection is spawned via
// Registry.SpawnNamed using namePrefix plus the connection's sequence
// number as its name, enabling CountPrefix introspection.
func Start(ln net.Listener, q *quit.Chan, reg *registry.Registry, handler registry.HandlerFunc, namePrefix string, logger *log.Logger, sink *metrics.Sink) *Acceptor {
	a := &Acceptor{
		ln:         ln,
		quit:       q,
		registry:   reg,
		handler:    handler,
		namePrefix: namePrefix,
		logger:     logger,
		metrics:    sink,
		done:       make(chan struct{}),
	}

	go a.loop()

	return a
}

func (a *Acceptor) loop() {
	defer close(a.done)

	tl, usesDeadline := a.ln.(*net.TCPListener)

	for {
		if a.quit.Fired() {
			return
		}

		if usesDeadline {
			tl.SetDeadline(time.Now().Add(pollInterval))
		}

		conn, err := a.ln.Accept()
		if err != nil {
			if a.quit.Fired() {
				return
			}
			var netErr net.Error
			if usesDeadline && errors.As(err, &netErr) && netErr.Timeout() {
				// Equivalent of the reference's EINTR retry: re-poll Q.
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				// The listener itself is gone and will never accept again.
				// Treat this as fatal: fire quit so the rest of the
				// teardown converges instead of blocking forever on its
				// own select.
				logging.Errorf(a.logger, "accept", "accept", err)
				a.quit.Fire()
				return
			}
			logging.Errorf(a.logger, "accept", "accept", err)
			if a.metrics != nil {
				a.metrics.IncrRejected()
			}
			continue
		}

		a.handleAccepted(conn)
	}
}

func (a *Acceptor) handleAccepted(conn net.Conn) {
	if a.quit.Fired() {
		conn.Close()
		return
	}

	peer := netutil.PeerName(conn)
	logging.Infof(a.logger, "accepted connection from %s", peer)

	if a.metrics != nil {
		a.metrics.IncrAccepted()
	}

	var err error
	if a.namePrefix != "" {
		err = a.registry.SpawnNamed(fmt.Sprintf("%s.%d", a.namePrefix, a.seq()), conn, a.handler)
	} else {
		err = a.registry.Spawn(conn, a.handler)
	}
	if err != nil {
		logging.Errorf(a.logger, "accept", "spawn", err)
	}
}

func (a *Acceptor) seq() uint64 {
	return atomic.AddUint64(&a.seqCounter, 1)
}

// Stop joins the acceptor's goroutine, then stops the handler registry,
// as a single call: the registry must not be torn down while the acceptor
// might still be spawning into it.
func (a *Acceptor) Stop() error {
	var result *multierror.Error

	<-a.done

	if err := a.registry.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
