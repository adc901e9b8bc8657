package adminrpc

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/maxwallstedt/go-maxserver/internal/logging"
	"github.com/maxwallstedt/go-maxserver/internal/metrics"
	"github.com/maxwallstedt/go-maxserver/internal/quit"
	"github.com/maxwallstedt/go-maxserver/internal/registry"
)

var msgpackHandle = &codec.MsgpackHandle{}

const acceptPollInterval = 200 * time.Millisecond

// Server answers StatsRequest connections with a snapshot of a sink's
// counters. It runs its own accept loop on its own listener, independent
// of the handler registry it reports on, so an admin connection is never
// itself counted as an active handler.
type Server struct {
	ln     net.Listener
	sink   *metrics.Sink
	reg    *registry.Registry
	logger *log.Logger
	quit   *quit.Chan
	done   chan struct{}
}

// Serve starts a Server listening on ln and returns immediately. Call
// Stop to join its accept loop.
func Serve(ln net.Listener, sink *metrics.Sink, reg *registry.Registry, logger *log.Logger, q *quit.Chan) *Server {
	s := &Server{ln: ln, sink: sink, reg: reg, logger: logger, quit: q, done: make(chan struct{})}
	go s.loop()
	return s
}

func (s *Server) loop() {
	defer close(s.done)

	tl, usesDeadline := s.ln.(*net.TCPListener)

	for {
		if s.quit.Fired() {
			return
		}
		if usesDeadline {
			tl.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if s.quit.Fired() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Errorf(s.logger, "adminrpc", "accept", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))

	dec := codec.NewDecoder(conn, msgpackHandle)
	enc := codec.NewEncoder(conn, msgpackHandle)

	var req StatsRequest
	if err := dec.Decode(&req); err != nil {
		logging.Errorf(s.logger, "adminrpc", "decode", err)
		return
	}

	resp := StatsResponse{ActiveHandlers: s.reg.Len()}
	for _, c := range s.sink.Snapshot() {
		resp.Counters = append(resp.Counters, CounterValue{Name: c.Name, Count: c.Count, Sum: c.Sum})
	}

	if err := enc.Encode(&resp); err != nil {
		logging.Errorf(s.logger, "adminrpc", "encode", err)
	}
}

// Stop joins the accept loop. The caller is responsible for closing the
// listener first so Accept unblocks promptly.
func (s *Server) Stop() {
	<-s.done
}
