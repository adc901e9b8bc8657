// Package adminrpc is a tiny msgpack-framed request/response protocol for
// querying a running server's own lifecycle counters: accepted, rejected,
// and currently active handler counts, plus the raw counter snapshot from
// the metrics sink. One request, one response, one connection — no
// streaming, no multiplexed sequence numbers.
package adminrpc

// StatsRequest is the only request this protocol supports today. Its
// Command field gives the wire format room to grow further commands
// without breaking the encoding; the server does not inspect it.
type StatsRequest struct {
	Command string // "stats"
}

// CounterValue mirrors metrics.CounterSnapshot in a form safe to encode
// independently of the metrics package's own evolution.
type CounterValue struct {
	Name  string
	Count int
	Sum   float64
}

// StatsResponse answers a StatsRequest.
type StatsResponse struct {
	Err            string
	ActiveHandlers int
	Counters       []CounterValue
}
