package swarm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmeterx/st-engine/internal/domain"
)

type funcUser struct {
	iterate func(ctx context.Context)
	stop    func()
}

func (u funcUser) Iterate(ctx context.Context) { u.iterate(ctx) }

func (u funcUser) Stop() {
	if u.stop != nil {
		u.stop()
	}
}

func TestControllerRunsUsersUntilShapeStops(t *testing.T) {
	var iterations atomic.Int64
	c := &Controller{
		Shape: FixedShape{Users: 3, SpawnRate: 100, RunTime: 1200 * time.Millisecond},
		NewUser: func() User {
			return funcUser{iterate: func(ctx context.Context) {
				iterations.Add(1)
				time.Sleep(10 * time.Millisecond)
			}}
		},
		StopTimeout: time.Second,
	}

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 3, c.CurrentUsers())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
	assert.Equal(t, 0, c.CurrentUsers())
	assert.Greater(t, iterations.Load(), int64(10))
}

func TestControllerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Shape: FixedShape{Users: 2, SpawnRate: 100},
		NewUser: func() User {
			return funcUser{iterate: func(ctx context.Context) { time.Sleep(5 * time.Millisecond) }}
		},
		StopTimeout: time.Second,
	}
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("controller ignored cancellation")
	}
}

func TestControllerStopHookFiresOncePerUser(t *testing.T) {
	var stops atomic.Int64
	c := &Controller{
		Shape: FixedShape{Users: 4, SpawnRate: 100, RunTime: 500 * time.Millisecond},
		NewUser: func() User {
			return funcUser{
				iterate: func(ctx context.Context) { time.Sleep(time.Millisecond) },
				stop:    func() { stops.Add(1) },
			}
		},
		StopTimeout: time.Second,
	}
	c.Run(context.Background())
	assert.Equal(t, int64(4), stops.Load())
}

func TestControllerStopTimeoutHardKills(t *testing.T) {
	c := &Controller{
		Shape: FixedShape{Users: 1, SpawnRate: 100, RunTime: 300 * time.Millisecond},
		NewUser: func() User {
			// Simulates a hung request that only context cancel unblocks.
			return funcUser{iterate: func(ctx context.Context) { <-ctx.Done() }}
		},
		StopTimeout: 200 * time.Millisecond,
	}
	start := time.Now()
	c.Run(context.Background())
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestCollectorAccumulates(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 5; i++ {
		c.Send(domain.TokenStats{Reqs: 2, CompletionTokens: 10, TotalTokens: 15})
	}
	total := c.Finalize(time.Second)
	assert.Equal(t, domain.TokenStats{Reqs: 10, CompletionTokens: 50, TotalTokens: 75}, total)
	// Finalize is idempotent.
	assert.Equal(t, total, c.Finalize(time.Millisecond))
}

func TestSyncWaitClamp(t *testing.T) {
	assert.Equal(t, 11*time.Second, SyncWait(10))
	assert.Equal(t, 60*time.Second, SyncWait(10000))
	assert.Equal(t, 10*time.Second, SyncWait(0))
}

func TestBuildTokenReport(t *testing.T) {
	r := BuildTokenReport(domain.TokenStats{Reqs: 10, CompletionTokens: 200, TotalTokens: 300}, 20*time.Second)
	assert.Equal(t, float64(0.5), r.ReqThroughput)
	assert.Equal(t, float64(10), r.CompletionTPS)
	assert.Equal(t, float64(15), r.TotalTPS)
	assert.Equal(t, float64(20), r.AvgCompletionTokensPerReq)
	assert.Equal(t, float64(30), r.AvgTotalTokensPerReq)
	assert.Equal(t, float64(20), r.ExecutionTime)

	zero := BuildTokenReport(domain.TokenStats{}, 0)
	assert.Zero(t, zero.ReqThroughput)
	assert.Zero(t, zero.AvgCompletionTokensPerReq)
}
