package swarm

import "time"

// Tick is one load-shape decision: how many users should be running and how
// fast to spawn toward that target.
type Tick struct {
	Users     int
	SpawnRate float64
}

// LoadShape controls target concurrency over time. Tick is called once per
// second with the elapsed run time; ok=false stops the run.
type LoadShape interface {
	Tick(elapsed time.Duration) (t Tick, ok bool)
}

// FixedShape holds a constant user count for RunTime. RunTime zero means
// unbounded (the caller stops the controller).
type FixedShape struct {
	Users     int
	SpawnRate float64
	RunTime   time.Duration
}

func (s FixedShape) Tick(elapsed time.Duration) (Tick, bool) {
	if s.RunTime > 0 && elapsed >= s.RunTime {
		return Tick{}, false
	}
	return Tick{Users: s.Users, SpawnRate: s.SpawnRate}, true
}

// SteppedShape ramps users in increments: target(t) = min(start + ⌊t/step⌋·inc, max),
// holds max for SustainDuration past the ramp, then stops.
type SteppedShape struct {
	StartUsers      int
	Increment       int
	StepDuration    time.Duration
	MaxUsers        int
	SustainDuration time.Duration
}

// RampTime is the planned ramp length: one step per increment from start to
// max, inclusive of the starting step.
func (s SteppedShape) RampTime() time.Duration {
	inc := s.Increment
	if inc < 1 {
		inc = 1
	}
	steps := (s.MaxUsers-s.StartUsers+inc-1)/inc + 1
	if steps < 1 {
		steps = 1
	}
	return time.Duration(steps) * s.StepDuration
}

// TotalDuration is the planned run length including sustain.
func (s SteppedShape) TotalDuration() time.Duration {
	return s.RampTime() + s.SustainDuration
}

func (s SteppedShape) Tick(elapsed time.Duration) (Tick, bool) {
	if elapsed > s.TotalDuration() {
		return Tick{}, false
	}
	target := s.StartUsers
	if s.StepDuration > 0 {
		target += int(elapsed/s.StepDuration) * s.Increment
	}
	if target > s.MaxUsers || elapsed > s.RampTime() {
		target = s.MaxUsers
	}
	rate := float64(s.Increment)
	if rate < 1 {
		rate = 1
	}
	return Tick{Users: target, SpawnRate: rate}, true
}
