package swarm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// User is one virtual user. Iterate performs one request; the context is
// canceled only at hard-kill, after the stop-timeout budget. Stop runs once
// after the user's last iteration; users flush their token-stat deltas there.
type User interface {
	Iterate(ctx context.Context)
	Stop()
}

// Controller schedules virtual users under a load shape. One controller per
// run; Run blocks until the shape stops or the context is canceled.
type Controller struct {
	Shape       LoadShape
	NewUser     func() User
	StopTimeout time.Duration

	current atomic.Int64
}

// CurrentUsers reports the number of scheduled users, for the sampler.
func (c *Controller) CurrentUsers() int {
	return int(c.current.Load())
}

// Run ramps users toward the shape's target at 1/spawn-rate intervals,
// re-evaluating the shape every second. On stop it signals all users, waits
// up to StopTimeout for in-flight requests, then cancels hard.
func (c *Controller) Run(ctx context.Context) {
	// Requests outlive the run context so the drain phase can honor the
	// stop-timeout budget.
	reqCtx, hardKill := context.WithCancel(context.WithoutCancel(ctx))
	defer hardKill()

	var (
		wg    sync.WaitGroup
		stops []chan struct{}
	)
	spawnOne := func() {
		stop := make(chan struct{})
		stops = append(stops, stop)
		c.current.Store(int64(len(stops)))
		wg.Add(1)
		go c.runUser(reqCtx, stop, &wg)
	}
	stopOne := func() {
		last := len(stops) - 1
		close(stops[last])
		stops = stops[:last]
		c.current.Store(int64(len(stops)))
	}

	start := time.Now()
	tick, ok := c.Shape.Tick(0)
	target, spawnRate := tick.Users, tick.SpawnRate

	shapeTicker := time.NewTicker(time.Second)
	defer shapeTicker.Stop()
	adjustTicker := time.NewTicker(spawnInterval(spawnRate))
	defer adjustTicker.Stop()

	for ok {
		select {
		case <-ctx.Done():
			ok = false
		case <-shapeTicker.C:
			tick, ok = c.Shape.Tick(time.Since(start))
			if ok && tick.SpawnRate != spawnRate {
				spawnRate = tick.SpawnRate
				adjustTicker.Reset(spawnInterval(spawnRate))
			}
			if ok {
				target = tick.Users
			}
		case <-adjustTicker.C:
			switch {
			case len(stops) < target:
				spawnOne()
			case len(stops) > target:
				stopOne()
			}
		}
	}

	slog.Info("swarm stopping", slog.Int("users", len(stops)))
	for _, stop := range stops {
		close(stop)
	}
	c.current.Store(0)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.StopTimeout):
		slog.Warn("stop-timeout exceeded, canceling in-flight requests")
		hardKill()
		<-drained
	}
}

func (c *Controller) runUser(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	u := c.NewUser()
	defer u.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		u.Iterate(ctx)
	}
}

func spawnInterval(rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	iv := time.Duration(float64(time.Second) / rate)
	if iv < time.Millisecond {
		iv = time.Millisecond
	}
	return iv
}
