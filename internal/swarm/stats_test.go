package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRows(t *testing.T) {
	s := NewStats()
	for i := 0; i < 4; i++ {
		s.Success("POST /v1/chat/completions", 100*time.Millisecond, 50)
	}
	s.Failure("POST /v1/chat/completions", 30*time.Millisecond, "http_error: HTTP 500")
	s.Success("GET /health", 5*time.Millisecond, 2)

	rows := s.Rows("task-1")
	require.Len(t, rows, 2)

	chat := rows[0]
	assert.Equal(t, "POST /v1/chat/completions", chat.MetricType)
	assert.Equal(t, "task-1", chat.TaskID)
	assert.Equal(t, int64(5), chat.NumRequests)
	assert.Equal(t, int64(1), chat.NumFailures)
	assert.Equal(t, float64(30), chat.MinLatency)
	assert.Equal(t, float64(100), chat.MaxLatency)
	assert.Greater(t, chat.RPS, float64(0))
	// Failures carry no content.
	assert.InDelta(t, 40, chat.AvgContentLength, 0.01)

	assert.Equal(t, "GET /health", rows[1].MetricType)
	assert.Equal(t, int64(0), rows[1].NumFailures)
}

func TestStatsSample(t *testing.T) {
	s := NewStats()
	s.Success("ep", 10*time.Millisecond, 1)
	s.Success("ep", 20*time.Millisecond, 1)
	s.Failure("ep", 5*time.Millisecond, "timeout: x")

	sample := s.Sample("task-2", 7)
	assert.Equal(t, "task-2", sample.TaskID)
	assert.Equal(t, 7, sample.CurrentUsers)
	assert.Equal(t, int64(3), sample.TotalRequests)
	assert.Equal(t, int64(1), sample.TotalFailures)
	assert.Greater(t, sample.CurrentRPS, float64(0))
	assert.Greater(t, sample.CurrentFailPerSec, float64(0))
	assert.Equal(t, float64(5), sample.MinResponseTime)
	assert.Equal(t, float64(20), sample.MaxResponseTime)
	assert.Greater(t, sample.Timestamp, float64(0))
}

func TestStatsCurrentRatesYoungRun(t *testing.T) {
	s := NewStats()
	s.start = time.Now().Add(-2 * time.Second)
	for i := 0; i < 10; i++ {
		s.Success("ep", time.Millisecond, 0)
	}

	sample := s.Sample("t", 1)
	// 10 requests over ~2s of run time; the rate must not be diluted
	// across the full sliding window.
	assert.InDelta(t, 5, sample.CurrentRPS, 1.5)
}

func TestStatsFailureSamplesCapped(t *testing.T) {
	s := NewStats()
	for i := 0; i < 10; i++ {
		s.Failure("ep", time.Millisecond, "boom")
	}
	assert.Len(t, s.FailureSamples()["ep"], maxFailureSamples)
}

func TestStatsTotals(t *testing.T) {
	s := NewStats()
	s.Success("a", time.Millisecond, 0)
	s.Failure("b", time.Millisecond, "x")
	reqs, fails := s.Totals()
	assert.Equal(t, int64(2), reqs)
	assert.Equal(t, int64(1), fails)
}
