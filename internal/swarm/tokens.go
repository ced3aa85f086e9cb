package swarm

import (
	"sync"
	"time"

	"github.com/lmeterx/st-engine/internal/domain"
)

// Collector accumulates token-stat deltas on the master. Users send their
// per-user delta exactly once, at stop; the master sums under a mutex.
type Collector struct {
	mu      sync.Mutex
	total   domain.TokenStats
	ch      chan domain.TokenStats
	drained chan struct{}
	once    sync.Once
}

// NewCollector starts the accumulator.
func NewCollector() *Collector {
	c := &Collector{
		ch:      make(chan domain.TokenStats, 256),
		drained: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Collector) loop() {
	for d := range c.ch {
		c.mu.Lock()
		c.total.Reqs += d.Reqs
		c.total.CompletionTokens += d.CompletionTokens
		c.total.TotalTokens += d.TotalTokens
		c.mu.Unlock()
	}
	close(c.drained)
}

// Send submits one delta. Never call after Finalize.
func (c *Collector) Send(d domain.TokenStats) {
	c.ch <- d
}

// Finalize closes the channel and waits up to the sync budget for late
// deltas, then returns the run total.
func (c *Collector) Finalize(wait time.Duration) domain.TokenStats {
	c.once.Do(func() { close(c.ch) })
	select {
	case <-c.drained:
	case <-time.After(wait):
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// SyncWait is the stats-sync budget before finalizing: scaled by concurrency
// so stragglers on large swarms are not cut off.
func SyncWait(users int) time.Duration {
	secs := 10 + 0.1*float64(users)
	if secs < 2 {
		secs = 2
	}
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs * float64(time.Second))
}

// BuildTokenReport derives throughput figures from the accumulated totals.
func BuildTokenReport(t domain.TokenStats, execTime time.Duration) domain.TokenReport {
	secs := execTime.Seconds()
	r := domain.TokenReport{
		ReqsCount:        t.Reqs,
		CompletionTokens: t.CompletionTokens,
		TotalTokens:      t.TotalTokens,
		ExecutionTime:    secs,
	}
	if secs > 0 {
		r.ReqThroughput = float64(t.Reqs) / secs
		r.CompletionTPS = float64(t.CompletionTokens) / secs
		r.TotalTPS = float64(t.TotalTokens) / secs
	}
	if t.Reqs > 0 {
		r.AvgCompletionTokensPerReq = float64(t.CompletionTokens) / float64(t.Reqs)
		r.AvgTotalTokensPerReq = float64(t.TotalTokens) / float64(t.Reqs)
	}
	return r
}
