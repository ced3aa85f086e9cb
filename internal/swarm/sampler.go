package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// SampleInterval is the real-time snapshot cadence.
const SampleInterval = 2 * time.Second

// Sampler appends one real-time snapshot per interval to the JSONL sidecar.
type Sampler struct {
	TaskID   string
	Stats    *Stats
	Users    func() int
	Path     string
	Interval time.Duration
}

// Run writes samples until the context is canceled. The sidecar is created
// fresh; a leftover file from a prior run is truncated.
func (s *Sampler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = SampleInterval
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("op=swarm.Sampler.Run: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample := s.Stats.Sample(s.TaskID, s.Users())
			if err := enc.Encode(sample); err != nil {
				slog.Warn("realtime sample write failed", slog.Any("error", err))
			}
		}
	}
}
