package swarm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/metricbus"
)

const (
	resultDirName  = "locust_result"
	resultFileName = "result.json"
	sampleFileName = "realtime_metrics.jsonl"
)

// ResultDir is the per-task result directory under the system temp root.
func ResultDir(taskID string) string {
	return filepath.Join(os.TempDir(), resultDirName, taskID)
}

// ResultPath is the final result file for a task.
func ResultPath(taskID string) string {
	return filepath.Join(ResultDir(taskID), resultFileName)
}

// SamplePath is the real-time sidecar for a task.
func SamplePath(taskID string) string {
	return filepath.Join(ResultDir(taskID), sampleFileName)
}

// EnsureResultDir creates the per-task result directory.
func EnsureResultDir(taskID string) error {
	if err := os.MkdirAll(ResultDir(taskID), 0o755); err != nil {
		return fmt.Errorf("op=swarm.EnsureResultDir: %w", err)
	}
	return nil
}

// BuildRunResult assembles the result-file document. bus may be nil for
// non-LLM runs, which carry endpoint stats only.
func BuildRunResult(taskID string, stats *Stats, bus *metricbus.Bus, tokens domain.TokenReport) domain.RunResult {
	res := domain.RunResult{
		CustomMetrics: domain.CustomMetrics{Tokens: tokens},
		Stats:         stats.Rows(taskID),
	}
	if bus != nil {
		res.CustomMetrics.Metrics = bus.Snapshot()
	}
	return res
}

// WriteResult persists the result document to the task's result directory.
func WriteResult(taskID string, res domain.RunResult) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("op=swarm.WriteResult: %w", err)
	}
	if err := os.WriteFile(ResultPath(taskID), raw, 0o644); err != nil {
		return fmt.Errorf("op=swarm.WriteResult: %w", err)
	}
	return nil
}
