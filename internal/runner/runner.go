// Package runner executes one load run inside a loadrunner process: it builds
// the HTTP client, load shape, and virtual-user swarm from the parsed argv,
// then drives the run and writes the result files.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/metricbus"
	"github.com/lmeterx/st-engine/internal/swarm"
)

// Fallbacks when the engine passes no HTTP budgets.
const (
	connectTimeout = 30 * time.Second
	// Streaming generations can take minutes before the last byte.
	llmReadTimeout    = 10 * time.Minute
	commonReadTimeout = 60 * time.Second
)

// envDuration reads an engine-provided duration from the environment.
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("unreadable duration in environment, using default",
			slog.String("key", key), slog.String("value", raw))
		return def
	}
	return d
}

// ParseKV decodes a JSON object of header or cookie pairs. Non-string scalar
// values are coerced to their JSON text.
func ParseKV(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("op=runner.ParseKV: %w: %w", domain.ErrInvalidArgument, err)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("op=runner.ParseKV key=%s: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

// JoinURL glues the target host and API path with exactly one slash.
func JoinURL(host, apiPath string) string {
	host = strings.TrimRight(host, "/")
	if apiPath == "" {
		return host
	}
	return host + "/" + strings.TrimLeft(apiPath, "/")
}

// ShapeFromEnv selects the load shape: stepped when LOAD_MODE=stepped with the
// STEP_* parameters, fixed otherwise. lookup is os.Getenv in production.
func ShapeFromEnv(users int, spawnRate float64, duration int, lookup func(string) string) swarm.LoadShape {
	if lookup("LOAD_MODE") != domain.LoadModeStepped {
		return swarm.FixedShape{
			Users:     users,
			SpawnRate: spawnRate,
			RunTime:   time.Duration(duration) * time.Second,
		}
	}
	atoi := func(key string) int {
		n, err := strconv.Atoi(lookup(key))
		if err != nil {
			slog.Warn("stepped parameter unreadable, using 0", slog.String("key", key))
			return 0
		}
		return n
	}
	return swarm.SteppedShape{
		StartUsers:      atoi("STEP_START_USERS"),
		Increment:       atoi("STEP_INCREMENT"),
		StepDuration:    time.Duration(atoi("STEP_DURATION")) * time.Second,
		MaxUsers:        atoi("STEP_MAX_USERS"),
		SustainDuration: time.Duration(atoi("STEP_SUSTAIN_DURATION")) * time.Second,
	}
}

// finishRun finalizes tokens, assembles the result document, and writes it.
// Shared tail of the LLM and common runs; bus and collector are nil for
// non-LLM runs.
func finishRun(taskID string, stats *swarm.Stats, bus *metricbus.Bus, collector *swarm.Collector, users int, started time.Time) (int64, error) {
	var tokens domain.TokenStats
	if collector != nil {
		tokens = collector.Finalize(swarm.SyncWait(users))
	}
	report := swarm.BuildTokenReport(tokens, time.Since(started))

	res := swarm.BuildRunResult(taskID, stats, bus, report)
	if err := swarm.WriteResult(taskID, res); err != nil {
		return 0, err
	}

	reqs, fails := stats.Totals()
	slog.Info("run finished",
		slog.String("task_id", taskID),
		slog.Int64("requests", reqs),
		slog.Int64("failures", fails))
	for name, samples := range stats.FailureSamples() {
		for _, detail := range samples {
			slog.Warn("request failure", slog.String("endpoint", name), slog.String("detail", detail))
		}
	}
	return fails, nil
}

// startSampler runs the real-time sidecar writer until cancel.
func startSampler(ctx context.Context, taskID string, stats *swarm.Stats, users func() int) (cancel func()) {
	sctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	s := &swarm.Sampler{
		TaskID: taskID,
		Stats:  stats,
		Users:  users,
		Path:   swarm.SamplePath(taskID),
	}
	go func() {
		defer close(done)
		if err := s.Run(sctx); err != nil {
			slog.Warn("sampler stopped", slog.Any("error", err))
		}
	}()
	return func() {
		stop()
		<-done
	}
}
