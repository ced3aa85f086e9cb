package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedShape(t *testing.T) {
	s := FixedShape{Users: 10, SpawnRate: 2, RunTime: 5 * time.Second}
	tick, ok := s.Tick(0)
	require.True(t, ok)
	assert.Equal(t, 10, tick.Users)
	assert.Equal(t, float64(2), tick.SpawnRate)

	_, ok = s.Tick(5 * time.Second)
	assert.False(t, ok)
}

func TestFixedShapeUnbounded(t *testing.T) {
	s := FixedShape{Users: 1, SpawnRate: 1}
	_, ok := s.Tick(time.Hour)
	assert.True(t, ok)
}

func TestSteppedShapeRamp(t *testing.T) {
	s := SteppedShape{StartUsers: 1, Increment: 2, StepDuration: 2 * time.Second, MaxUsers: 5, SustainDuration: 2 * time.Second}

	assert.Equal(t, 6*time.Second, s.RampTime())
	assert.Equal(t, 8*time.Second, s.TotalDuration())

	want := map[time.Duration]int{
		0:               1,
		2 * time.Second: 3,
		4 * time.Second: 5,
		6 * time.Second: 5,
		8 * time.Second: 5,
	}
	for elapsed, users := range want {
		tick, ok := s.Tick(elapsed)
		require.True(t, ok, elapsed)
		assert.Equal(t, users, tick.Users, elapsed)
	}

	_, ok := s.Tick(10 * time.Second)
	assert.False(t, ok)
}

func TestSteppedShapeSpawnRateFloor(t *testing.T) {
	s := SteppedShape{StartUsers: 1, Increment: 0, StepDuration: time.Second, MaxUsers: 1, SustainDuration: time.Second}
	tick, ok := s.Tick(0)
	require.True(t, ok)
	assert.Equal(t, float64(1), tick.SpawnRate)
}
