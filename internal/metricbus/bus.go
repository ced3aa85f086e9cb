// Package metricbus is a single-process registry for named latency metrics
// fired by the response processor and aggregated at test-stop.
package metricbus

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/lmeterx/st-engine/internal/domain"
)

// Custom metric names fired during LLM runs.
const (
	MetricFirstOutputToken     = "Time_to_first_output_token"
	MetricFirstReasoningToken  = "Time_to_first_reasoning_token"
	MetricReasoningCompletion  = "Time_to_reasoning_completion"
	MetricOutputCompletion     = "Time_to_output_completion"
	MetricTotalTime            = "Total_time"
	MetricInputTokens          = "Input_tokens"
	MetricCompletionTokens     = "Completion_tokens"
)

const (
	// maxExact is the per-metric budget for exact median/p95 computation.
	maxExact = 100000
	// tailSize is the exact tail kept alongside the reservoir once the
	// exact budget is exceeded.
	tailSize = 1024
)

type series struct {
	count      int64
	sum        float64
	min        float64
	max        float64
	contentLen float64

	values []float64 // exact series, then reservoir sample
	tail   []float64 // ring of the most recent values
	tailAt int
}

func (s *series) add(v, contentLen float64) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
	s.contentLen += contentLen

	if len(s.values) < maxExact {
		s.values = append(s.values, v)
	} else {
		if j := rand.Int63n(s.count); j < maxExact {
			s.values[j] = v
		}
		if len(s.tail) < tailSize {
			s.tail = append(s.tail, v)
		} else {
			s.tail[s.tailAt] = v
			s.tailAt = (s.tailAt + 1) % tailSize
		}
	}
}

func (s *series) summary() domain.MetricSummary {
	out := domain.MetricSummary{Count: s.count, Min: s.min, Max: s.max}
	if s.count == 0 {
		return out
	}
	out.Avg = s.sum / float64(s.count)
	out.AvgContentLength = s.contentLen / float64(s.count)

	sample := make([]float64, len(s.values), len(s.values)+len(s.tail))
	copy(sample, s.values)
	sample = append(sample, s.tail...)
	sort.Float64s(sample)
	out.Median = percentile(sample, 0.5)
	out.P95 = percentile(sample, 0.95)
	return out
}

// percentile returns the p-quantile of a sorted series.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Bus aggregates fired metric events. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	series map[string]*series
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{series: make(map[string]*series)}
}

// Fire appends one observation to the named metric series.
func (b *Bus) Fire(name string, valueMS float64, contentLength int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[name]
	if !ok {
		s = &series{}
		b.series[name] = s
	}
	s.add(valueMS, float64(contentLength))
}

// Summary returns the aggregate for one metric; ok is false when the metric
// never fired.
func (b *Bus) Summary(name string) (domain.MetricSummary, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[name]
	if !ok {
		return domain.MetricSummary{}, false
	}
	return s.summary(), true
}

// Snapshot returns aggregates for every fired metric.
func (b *Bus) Snapshot() map[string]domain.MetricSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]domain.MetricSummary, len(b.series))
	for name, s := range b.series {
		out[name] = s.summary()
	}
	return out
}
