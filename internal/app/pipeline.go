package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/metricbus"
	"github.com/lmeterx/st-engine/internal/swarm"
)

// runJob drives one claimed task to a terminal state.
func (e *Engine) runJob(ctx context.Context, store Store, job Job) {
	flavor := job.Flavor
	observability.TasksRunning.WithLabelValues(flavor).Inc()
	defer observability.TasksRunning.WithLabelValues(flavor).Dec()
	start := time.Now()

	sink, err := observability.NewTaskSink(e.Cfg.LogDir, job.ID)
	if err != nil {
		slog.Error("task sink open failed", slog.String("task_id", job.ID), slog.Any("error", err))
		_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailed, err.Error())
		return
	}
	defer func() {
		_ = sink.Close()
		e.stopped.Forget(job.ID)
		e.cleanupUploads(job)
	}()

	final := e.execute(ctx, store, job, sink)
	observability.TaskOutcomesTotal.WithLabelValues(flavor, string(final)).Inc()
	observability.TaskDuration.WithLabelValues(flavor).Observe(time.Since(start).Seconds())
	sink.Logger.Info("task finished",
		slog.String("status", string(final)),
		slog.Duration("elapsed", time.Since(start)))
}

func (e *Engine) execute(ctx context.Context, store Store, job Job, sink *observability.TaskSink) domain.TaskStatus {
	if job.Warmup {
		if stopped := e.runWarmup(ctx, job, sink); stopped {
			e.markStopped(ctx, store, job.ID)
			return domain.StatusStopped
		}
	}

	if err := store.UpdateStatus(ctx, job.ID, domain.StatusRunning, ""); err != nil {
		slog.Error("running transition failed", slog.String("task_id", job.ID), slog.Any("error", err))
		return domain.StatusFailed
	}

	ceiling := time.Duration(job.Duration)*time.Second +
		time.Duration(e.Cfg.StopTimeout)*time.Second +
		e.Cfg.WaitBuffer
	observability.RunnerLaunchesTotal.WithLabelValues(job.Flavor, "main").Inc()
	out, err := e.Runner.Launch(ctx, job.ID, job.Command, sink, ceiling)
	e.Runner.Stop(job.ID)
	if err != nil {
		_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailed, err.Error())
		return domain.StatusFailed
	}

	// A stop may have raced the run; the DB row wins.
	status, gerr := store.GetStatus(ctx, job.ID)
	raced := e.stopped.Has(job.ID) ||
		(gerr == nil && (status == domain.StatusStopping || status == domain.StatusStopped))
	if raced {
		// The runner drains on SIGTERM and still writes its result file.
		// Keep the rows when they parsed; collect removes the result
		// directory either way.
		if res, samples, cerr := e.collect(job.ID); cerr == nil {
			if perr := e.persist(ctx, store, job, res, samples); perr != nil {
				sink.Logger.Warn("stopped-run results not persisted", slog.Any("error", perr))
			}
		}
		e.markStopped(ctx, store, job.ID)
		return domain.StatusStopped
	}

	res, samples, cerr := e.collect(job.ID)
	switch {
	case out.ExitCode == 0 && cerr == nil:
		if err := e.persist(ctx, store, job, res, samples); err != nil {
			_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailed, err.Error())
			return domain.StatusFailed
		}
		_ = store.UpdateStatus(ctx, job.ID, domain.StatusCompleted, "")
		return domain.StatusCompleted
	case out.ExitCode == 1 && cerr == nil:
		// The engine ran cleanly but the load generated request failures.
		if err := e.persist(ctx, store, job, res, samples); err != nil {
			_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailed, err.Error())
			return domain.StatusFailed
		}
		_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailedRequests, failureSummary(res))
		return domain.StatusFailedRequests
	default:
		msg := fmt.Sprintf("runner exited with code %d", out.ExitCode)
		if out.TimedOut {
			msg = "runner exceeded its wait ceiling and was terminated"
		}
		if cerr != nil && out.ExitCode <= 1 {
			msg = cerr.Error()
		}
		if out.Stderr != "" {
			msg += "\n" + out.Stderr
		}
		_ = store.UpdateStatus(ctx, job.ID, domain.StatusFailed, msg)
		return domain.StatusFailed
	}
}

// runWarmup executes the warmup pass and reports whether the task was
// stopped during it. Warmup results are discarded.
func (e *Engine) runWarmup(ctx context.Context, job Job, sink *observability.TaskSink) bool {
	sink.Logger.Info("warmup starting", slog.Int("duration_s", job.WarmupDuration))
	ceiling := time.Duration(job.WarmupDuration)*time.Second +
		time.Duration(e.Cfg.WarmupStopTimeout)*time.Second +
		e.Cfg.WaitBuffer
	observability.RunnerLaunchesTotal.WithLabelValues(job.Flavor, "warmup").Inc()
	out, err := e.Runner.Launch(ctx, job.ID, job.WarmupCommand, sink, ceiling)
	_ = os.RemoveAll(swarm.ResultDir(job.ID))
	if err != nil {
		sink.Logger.Warn("warmup launch failed", slog.Any("error", err))
	}

	killedBySignal := err == nil && out.ExitCode >= 128
	if e.stopped.Has(job.ID) || killedBySignal {
		sink.Logger.Info("task stopped during warmup")
		return true
	}

	// Let downstream caches settle before measuring.
	select {
	case <-ctx.Done():
	case <-time.After(e.settle):
	}
	return e.stopped.Has(job.ID)
}

func (e *Engine) markStopped(ctx context.Context, store Store, id string) {
	status, err := store.GetStatus(ctx, id)
	if err == nil && status == domain.StatusStopped {
		return
	}
	if err := store.UpdateStatus(ctx, id, domain.StatusStopped, ""); err != nil {
		slog.Error("stopped transition failed", slog.String("task_id", id), slog.Any("error", err))
	}
}

func (e *Engine) persist(ctx context.Context, store Store, job Job, res domain.RunResult, samples []domain.RealtimeSample) error {
	rows := res.Stats
	if job.Flavor == FlavorLLM {
		rows = buildLLMRows(job.ID, res)
	}
	for i := range rows {
		rows[i].TaskID = job.ID
	}
	for i := range samples {
		samples[i].TaskID = job.ID
	}
	return store.InsertResults(ctx, rows, samples)
}

// buildLLMRows flattens an LLM run result into result rows: the per-endpoint
// stats, one row per custom metric, and the synthetic token_metrics row
// whose latency columns carry token figures.
func buildLLMRows(taskID string, res domain.RunResult) []domain.StatRow {
	rows := append([]domain.StatRow(nil), res.Stats...)

	for name, m := range res.CustomMetrics.Metrics {
		rows = append(rows, domain.StatRow{
			TaskID:           taskID,
			MetricType:       name,
			NumRequests:      m.Count,
			AvgLatency:       m.Avg,
			MinLatency:       m.Min,
			MaxLatency:       m.Max,
			MedianLatency:    m.Median,
			P95Latency:       m.P95,
			AvgContentLength: m.AvgContentLength,
		})
	}

	tokens := res.CustomMetrics.Tokens
	tokenRow := domain.StatRow{
		TaskID:           taskID,
		MetricType:       domain.MetricTypeTokens,
		NumRequests:      tokens.ReqsCount,
		AvgLatency:       tokens.AvgCompletionTokensPerReq,
		RPS:              tokens.CompletionTPS,
		AvgContentLength: tokens.AvgTotalTokensPerReq,
	}
	// Per-request min/max/median/p95 completion tokens, when observed.
	if m, ok := res.CustomMetrics.Metrics[metricbus.MetricCompletionTokens]; ok {
		tokenRow.MinLatency = m.Min
		tokenRow.MaxLatency = m.Max
		tokenRow.MedianLatency = m.Median
		tokenRow.P95Latency = m.P95
	}
	return append(rows, tokenRow)
}

// failureSummary condenses the failing endpoints into a status message.
func failureSummary(res domain.RunResult) string {
	var parts []string
	for _, row := range res.Stats {
		if row.NumFailures > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d/%d failed", row.MetricType, row.NumFailures, row.NumRequests))
		}
	}
	if len(parts) == 0 {
		return "load generated request failures"
	}
	return "load generated request failures: " + strings.Join(parts, "; ")
}

// cleanupUploads removes per-task files from the shared upload volume.
// Shared files do not embed the task ID and are left in place.
func (e *Engine) cleanupUploads(job Job) {
	for _, path := range job.UploadRefs {
		if !strings.Contains(path, job.ID) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("upload cleanup failed",
				slog.String("task_id", job.ID),
				slog.String("path", path),
				slog.Any("error", err))
		}
	}
	if dir := filepath.Join(e.Cfg.UploadDir, job.ID); dirExists(dir) {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("upload dir cleanup failed",
				slog.String("task_id", job.ID),
				slog.Any("error", err))
		}
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
