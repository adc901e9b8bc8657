// Package maxserver is a small embeddable TCP server framework whose
// single contribution is a correct connection lifecycle and shutdown
// coordinator. Run binds a listening endpoint, accepts incoming TCP
// connections, dispatches each to an independently scheduled handler, and
// guarantees that on orderly shutdown every in-flight handler is notified
// and fully drained before control returns to the caller.
//
// The server is built from three cooperating activities: an acceptor, a
// handler registry with its own reaper, and a single quit broadcast that
// every blocking wait in the system selects on.
package maxserver

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/maxwallstedt/go-maxserver/internal/accept"
	"github.com/maxwallstedt/go-maxserver/internal/logging"
	"github.com/maxwallstedt/go-maxserver/internal/metrics"
	"github.com/maxwallstedt/go-maxserver/internal/netutil"
	"github.com/maxwallstedt/go-maxserver/internal/quit"
	"github.com/maxwallstedt/go-maxserver/internal/registry"
)

// HandlerFunc is invoked once per accepted connection, in its own
// goroutine. It receives the connection handle (owned for the handler's
// duration; closed by the core after it returns) and a read-only quit wait
// handle it must incorporate into any blocking wait it performs. Its
// return value is ignored.
type HandlerFunc = registry.HandlerFunc

// Options configures a Run invocation beyond the required service port and
// handler. The zero value is a usable default configuration.
type Options struct {
	// Logger receives all operator output. Defaults to a logutils-filtered
	// logger writing to os.Stderr at INFO level.
	Logger *log.Logger

	// Metrics, if non-nil, receives lifecycle counters (accepted,
	// rejected, active handler gauge). Nil disables instrumentation
	// entirely at zero cost.
	Metrics *metrics.Sink

	// ControllingInput, if non-nil, is read byte-by-byte; reaching EOF on
	// it fires the quit channel exactly once, same as SIGINT. Defaults to
	// os.Stdin. Set to an always-open reader (or leave nil and never close
	// stdin) to disable this trigger.
	ControllingInput *os.File

	// Named, when true, spawns handlers via Registry.SpawnNamed using the
	// service port as the static name prefix, so CountPrefix introspection
	// has something to answer. Off by default; the core spec makes no use
	// of it.
	Named bool
}

// Run starts the server on port/service service, and calls handler once
// per incoming client connection, each in its own goroutine. This function
// blocks until SIGINT is received or end-of-file is read from the
// controlling input stream. It returns 0 on any clean shutdown path, -1 on
// setup failure before the accept loop began.
func Run(service string, handler HandlerFunc) int {
	return RunWithOptions(service, handler, Options{})
}

// RunWithOptions is Run with explicit Options; see Options' fields for what
// each one changes.
func RunWithOptions(service string, handler HandlerFunc, opts Options) int {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Prefix: "maxserver: "})
	}

	ln, err := netutil.Listen(service)
	if err != nil {
		logging.Errorf(logger, "maxserver", "listen", err)
		return -1
	}

	q := quit.New()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	reg := registry.New(q, logger, opts.Metrics)

	namePrefix := ""
	if opts.Named {
		namePrefix = service
	}
	acceptor := accept.Start(ln, q, reg, handler, namePrefix, logger, opts.Metrics)

	controllingInput := opts.ControllingInput
	if controllingInput == nil {
		controllingInput = os.Stdin
	}
	eofCh := watchEOF(controllingInput, q)

	select {
	case sig := <-sigCh:
		_ = sig
		q.Fire()
		fmt.Fprintln(os.Stdout)
	case <-eofCh:
		q.Fire()
	case <-q.Done():
		// The acceptor or another internal component fired quit on its
		// own, e.g. after a fatal accept error.
	}

	var result *multierror.Error

	if err := acceptor.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if result.ErrorOrNil() != nil {
		logging.Errorf(logger, "maxserver", "teardown", result)
	}

	return 0
}

// watchEOF reads r byte-by-byte in its own goroutine and closes the
// returned channel when EOF is observed, firing q exactly once. If r is
// nil the returned channel never closes.
//
// On the SIGINT shutdown path this goroutine's blocking ReadByte is never
// woken by q firing — ReadByte only returns on the next byte or on r's own
// EOF/error — so it leaks past Run's return whenever r is a real,
// never-closed controlling stream (e.g. the process' os.Stdin) and SIGINT
// is the trigger that ended Run. It exits promptly once r reaches EOF or
// is closed out from under it, which is always true in the EOF-shutdown
// path and in tests that close their pipe's write end.
func watchEOF(r *os.File, q *quit.Chan) <-chan struct{} {
	ch := make(chan struct{})
	if r == nil {
		return ch
	}

	go func() {
		defer close(ch)
		scanner := bufio.NewReader(r)
		for {
			if q.Fired() {
				return
			}
			_, err := scanner.ReadByte()
			if err != nil {
				q.Fire()
				return
			}
		}
	}()

	return ch
}
