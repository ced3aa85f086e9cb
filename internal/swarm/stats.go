// Package swarm runs the in-process load swarm: virtual-user scheduling under
// a load shape, per-endpoint statistics, real-time sampling, token-stat
// accumulation, and the result-file contract.
package swarm

import (
	"sync"
	"time"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/metricbus"
)

const (
	aggregateKey = "\x00aggregate"
	// rateWindow is the sliding window, in seconds, for current-rate
	// snapshots.
	rateWindow = 10
	// maxFailureSamples bounds the failure details kept per endpoint.
	maxFailureSamples = 5
)

type rateBucket struct {
	sec   int64
	reqs  int64
	fails int64
}

// Stats aggregates per-endpoint request outcomes for one run. It implements
// the response processor's Recorder. Safe for concurrent use.
type Stats struct {
	mu             sync.Mutex
	bus            *metricbus.Bus
	start          time.Time
	order          []string
	seen           map[string]struct{}
	failures       map[string]int64
	failureSamples map[string][]string
	buckets        [rateWindow + 2]rateBucket
	totalReqs      int64
	totalFails     int64
}

// NewStats returns an empty registry; the run clock starts now.
func NewStats() *Stats {
	return &Stats{
		bus:            metricbus.New(),
		start:          time.Now(),
		seen:           make(map[string]struct{}),
		failures:       make(map[string]int64),
		failureSamples: make(map[string][]string),
	}
}

// Success records one completed request for an endpoint.
func (s *Stats) Success(name string, latency time.Duration, contentLength int) {
	ms := float64(latency) / float64(time.Millisecond)
	s.bus.Fire(name, ms, contentLength)
	s.bus.Fire(aggregateKey, ms, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.note(name)
	s.bump(time.Now(), false)
}

// Failure records one failed request. Failures still count toward
// num_requests and the latency series, matching the upstream stats model.
func (s *Stats) Failure(name string, latency time.Duration, detail string) {
	ms := float64(latency) / float64(time.Millisecond)
	s.bus.Fire(name, ms, 0)
	s.bus.Fire(aggregateKey, ms, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.note(name)
	s.failures[name]++
	if len(s.failureSamples[name]) < maxFailureSamples {
		s.failureSamples[name] = append(s.failureSamples[name], detail)
	}
	s.bump(time.Now(), true)
}

func (s *Stats) note(name string) {
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.order = append(s.order, name)
}

func (s *Stats) bump(now time.Time, fail bool) {
	sec := now.Unix()
	b := &s.buckets[sec%int64(len(s.buckets))]
	if b.sec != sec {
		b.sec, b.reqs, b.fails = sec, 0, 0
	}
	b.reqs++
	s.totalReqs++
	if fail {
		b.fails++
		s.totalFails++
	}
}

func (s *Stats) currentRates(now time.Time) (rps, fps float64) {
	lo := now.Unix() - rateWindow
	var reqs, fails int64
	for i := range s.buckets {
		b := s.buckets[i]
		if b.sec > lo && b.sec <= now.Unix() {
			reqs += b.reqs
			fails += b.fails
		}
	}
	// Early in a run the window is only as wide as the run itself.
	window := now.Sub(s.start).Seconds()
	if window > rateWindow {
		window = rateWindow
	}
	if window < 1 {
		window = 1
	}
	return float64(reqs) / window, float64(fails) / window
}

// Rows converts the per-endpoint aggregates into result rows.
func (s *Stats) Rows(taskID string) []domain.StatRow {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	failures := make(map[string]int64, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	elapsed := time.Since(s.start).Seconds()
	s.mu.Unlock()

	if elapsed <= 0 {
		elapsed = 1
	}
	rows := make([]domain.StatRow, 0, len(order))
	for _, name := range order {
		sum, ok := s.bus.Summary(name)
		if !ok {
			continue
		}
		rows = append(rows, domain.StatRow{
			TaskID:           taskID,
			MetricType:       name,
			NumRequests:      sum.Count,
			NumFailures:      failures[name],
			AvgLatency:       sum.Avg,
			MinLatency:       sum.Min,
			MaxLatency:       sum.Max,
			MedianLatency:    sum.Median,
			P95Latency:       sum.P95,
			RPS:              float64(sum.Count) / elapsed,
			AvgContentLength: sum.AvgContentLength,
		})
	}
	return rows
}

// FailureSamples returns the retained failure details per endpoint, for the
// run log.
func (s *Stats) FailureSamples() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.failureSamples))
	for k, v := range s.failureSamples {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Totals returns the run-wide request and failure counts.
func (s *Stats) Totals() (reqs, fails int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalReqs, s.totalFails
}

// Sample snapshots the in-flight metrics for the real-time sidecar.
func (s *Stats) Sample(taskID string, users int) domain.RealtimeSample {
	now := time.Now()
	s.mu.Lock()
	rps, fps := s.currentRates(now)
	totalReqs, totalFails := s.totalReqs, s.totalFails
	s.mu.Unlock()

	out := domain.RealtimeSample{
		TaskID:            taskID,
		Timestamp:         float64(now.UnixNano()) / 1e9,
		CurrentUsers:      users,
		CurrentRPS:        rps,
		CurrentFailPerSec: fps,
		TotalRequests:     totalReqs,
		TotalFailures:     totalFails,
	}
	if agg, ok := s.bus.Summary(aggregateKey); ok {
		out.AvgResponseTime = agg.Avg
		out.MinResponseTime = agg.Min
		out.MaxResponseTime = agg.Max
		out.MedianResponseTime = agg.Median
		out.P95ResponseTime = agg.P95
	}
	return out
}
