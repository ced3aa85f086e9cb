package app

import (
	"log/slog"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/domain"
)

// Messages written to tasks failed by startup reconciliation.
const (
	msgAbortedBeforeExec = "Task was aborted before execution due to an engine restart."
	msgOrphanTerminated  = "Task process was orphaned by an engine restart and has been terminated."
	msgProcessNotFound   = "Task process was not found after an engine restart."
)

// ReconcileOnStartup fails every task left in locked or running by a prior
// engine process. Running tasks with a surviving subprocess get the process
// killed first.
func (e *Engine) ReconcileOnStartup(ctx domain.Context) {
	for _, store := range e.Stores {
		stale, err := store.ListStale(ctx)
		if err != nil {
			slog.Error("stale task scan failed",
				slog.String("flavor", store.Flavor()),
				slog.Any("error", err))
			continue
		}
		for _, job := range stale {
			msg := msgAbortedBeforeExec
			if job.Status == domain.StatusRunning {
				msg = msgProcessNotFound
				if pids := e.findProcs(e.Cfg.RunnerBin, job.ID); len(pids) > 0 {
					for _, pid := range pids {
						e.kill(pid)
					}
					msg = msgOrphanTerminated
				}
			}
			if err := store.UpdateStatus(ctx, job.ID, domain.StatusFailed, msg); err != nil {
				slog.Error("stale task update failed",
					slog.String("task_id", job.ID),
					slog.Any("error", err))
				continue
			}
			observability.ReconciledTasksTotal.WithLabelValues(store.Flavor(), string(job.Status)).Inc()
			slog.Warn("reconciled stale task",
				slog.String("task_id", job.ID),
				slog.String("flavor", store.Flavor()),
				slog.String("prior_status", string(job.Status)),
				slog.String("reason", msg))
		}
	}
}
