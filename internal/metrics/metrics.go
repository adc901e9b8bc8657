// Package metrics instruments the server's own lifecycle — accepted
// connections, active handlers, rejected accepts — via armon/go-metrics.
// This is process instrumentation only, not a business-data aggregation
// surface.
package metrics

import (
	"sort"
	"sync/atomic"
	"time"

	gometrics "github.com/armon/go-metrics"
)

// Sink wraps an in-memory go-metrics sink scoped to this server's own
// counters. A nil *Sink is valid and every method on it is a no-op, so
// instrumentation can be threaded through optionally without nil checks at
// every call site.
type Sink struct {
	inmem  *gometrics.InmemSink
	m      *gometrics.Metrics
	active int64 // current active-handler count, kept so SetGauge always receives an absolute value
}

// New creates a Sink with a ten-second interval, one-minute retention
// window — enough resolution for an operator polling Snapshot() without
// unbounded memory growth.
func New(serviceName string) *Sink {
	inmem := gometrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	m, _ := gometrics.New(cfg, inmem)
	return &Sink{inmem: inmem, m: m}
}

// IncrAccepted counts one accepted connection.
func (s *Sink) IncrAccepted() {
	if s == nil {
		return
	}
	s.m.IncrCounter([]string{"maxserver", "accepted"}, 1)
}

// IncrRejected counts one rejected/failed accept attempt.
func (s *Sink) IncrRejected() {
	if s == nil {
		return
	}
	s.m.IncrCounter([]string{"maxserver", "rejected"}, 1)
}

// IncrActiveHandlers adjusts the active-handler gauge by delta (positive on
// spawn, negative on finish). "Currently active" is a point-in-time level,
// not an accumulating count, so it is driven through SetGauge with the
// running total rather than IncrCounter.
func (s *Sink) IncrActiveHandlers(delta float32) {
	if s == nil {
		return
	}
	val := atomic.AddInt64(&s.active, int64(delta))
	s.m.SetGauge([]string{"maxserver", "active_handlers"}, float32(val))
}

// CounterSnapshot is one named counter's latest sampled value, reported by
// the adminrpc stats response.
type CounterSnapshot struct {
	Name  string
	Count int
	Sum   float64
}

// Snapshot returns the most recent interval's counters and gauges, sorted
// by name for stable CLI output. Gauges (e.g. active_handlers) report their
// current value in Sum with Count left at zero, since a gauge has no
// sample count of its own.
func (s *Sink) Snapshot() []CounterSnapshot {
	if s == nil {
		return nil
	}
	data := s.inmem.Data()
	if len(data) == 0 {
		return nil
	}
	latest := data[len(data)-1]

	out := make([]CounterSnapshot, 0, len(latest.Counters)+len(latest.Gauges))
	for name, v := range latest.Counters {
		out = append(out, CounterSnapshot{Name: name, Count: v.Count, Sum: v.Sum})
	}
	for _, g := range latest.Gauges {
		out = append(out, CounterSnapshot{Name: g.Name, Sum: float64(g.Value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
