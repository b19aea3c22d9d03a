// Package metrics records in-process operation counters and RPC latency
// using armon/go-metrics, the counters library the rest of the retrieval
// pack reaches for (incubusfree-consul's leader_metrics.go). The sink is an
// in-memory one; spec.md's Non-goals exclude durable audit logging, but the
// ambient-stack rule still carries basic observability.
package metrics

import (
	"time"

	gometrics "github.com/armon/go-metrics"
)

// Sink wraps an in-memory go-metrics sink and exposes the handful of
// counters the coordination core wants: lock outcomes and RPC timing.
type Sink struct {
	inmem  *gometrics.InmemSink
	metric *gometrics.Metrics
}

// New constructs a Sink aggregating samples into 10-second intervals and
// retaining one minute of them.
func New(serviceName string) *Sink {
	inmem := gometrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	m, err := gometrics.New(cfg, inmem)
	if err != nil {
		// DefaultConfig+InmemSink never fails in practice; fall back to a
		// detached instance rather than panic in a constructor.
		m = gometrics.NewGlobal(cfg, inmem)
	}
	return &Sink{inmem: inmem, metric: m}
}

// IncrLockOutcome counts an acquire/release/check outcome by reason.
func (s *Sink) IncrLockOutcome(op, reason string) {
	s.metric.IncrCounter([]string{"lock", op, reason}, 1)
}

// ObserveRPCLatency records how long an RPC operation took.
func (s *Sink) ObserveRPCLatency(op string, d time.Duration) {
	s.metric.AddSample([]string{"rpc", op, "latency_ms"}, float32(d.Milliseconds()))
}

// Snapshot returns the most recent interval's summary, suitable for
// folding into health_check or a standalone introspection endpoint.
func (s *Sink) Snapshot() gometrics.IntervalMetrics {
	intervals := s.inmem.Data()
	if len(intervals) == 0 {
		return gometrics.IntervalMetrics{}
	}
	return *intervals[len(intervals)-1]
}

// CounterSnapshot flattens the current interval's counters into a
// name->count view, small enough to fold directly into health_check's
// response alongside the backend connectivity block.
func (s *Sink) CounterSnapshot() map[string]int {
	counts := make(map[string]int)
	for name, sv := range s.Snapshot().Counters {
		counts[name] = sv.Count
	}
	return counts
}
