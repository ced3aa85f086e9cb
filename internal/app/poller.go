package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/adapter/repo/postgres"
	"github.com/lmeterx/st-engine/internal/domain"
)

// RunCreatePoller reconciles stale rows once, then claims pending tasks on
// the configured cadence. Each claimed task runs in its own goroutine. On a
// poll error the loop backs off, longer when the DB connection looks lost.
func (e *Engine) RunCreatePoller(ctx context.Context) {
	e.ReconcileOnStartup(ctx)

	ticker := time.NewTicker(e.Cfg.CreatePollInterval)
	defer ticker.Stop()
	slog.Info("create poller started", slog.Duration("interval", e.Cfg.CreatePollInterval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("create poller stopped")
			return
		case <-ticker.C:
			e.claimSweep(ctx)
		}
	}
}

// claimSweep drains every store's pending queue.
func (e *Engine) claimSweep(ctx context.Context) {
	for _, store := range e.Stores {
		for {
			job, err := store.ClaimNext(ctx)
			if errors.Is(err, domain.ErrInvalidArgument) {
				// Already marked failed in place; keep claiming.
				slog.Warn("claimed task invalid",
					slog.String("flavor", store.Flavor()),
					slog.Any("error", err))
				continue
			}
			if err != nil {
				if !errors.Is(err, domain.ErrNoTask) {
					e.pollBackoff(ctx, "create", store.Flavor(), err)
				}
				break
			}
			observability.TasksClaimedTotal.WithLabelValues(store.Flavor()).Inc()
			slog.Info("task claimed",
				slog.String("task_id", job.ID),
				slog.String("flavor", job.Flavor))
			go e.runJob(ctx, store, job)
		}
	}
}

// RunStopPoller scans stopping rows on the configured cadence, kills their
// process groups, and finalizes them as stopped.
func (e *Engine) RunStopPoller(ctx context.Context) {
	ticker := time.NewTicker(e.Cfg.StopPollInterval)
	defer ticker.Stop()
	slog.Info("stop poller started", slog.Duration("interval", e.Cfg.StopPollInterval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("stop poller stopped")
			return
		case <-ticker.C:
			e.stopSweep(ctx)
		}
	}
}

func (e *Engine) stopSweep(ctx context.Context) {
	for _, store := range e.Stores {
		ids, err := store.ListStoppingIDs(ctx)
		if err != nil {
			e.pollBackoff(ctx, "stop", store.Flavor(), err)
			continue
		}
		for _, id := range ids {
			// Membership must land before the kill so a pipeline mid-warmup
			// sees the stop.
			e.stopped.Add(id)
			found := e.Runner.Stop(id)
			slog.Info("stop delivered",
				slog.String("task_id", id),
				slog.String("flavor", store.Flavor()),
				slog.Bool("process_found", found))
			if err := store.UpdateStatus(ctx, id, domain.StatusStopped, ""); err != nil {
				slog.Error("stop finalize failed",
					slog.String("task_id", id),
					slog.Any("error", err))
				continue
			}
			observability.TaskOutcomesTotal.WithLabelValues(store.Flavor(), string(domain.StatusStopped)).Inc()
		}
	}
}

// pollBackoff logs a poll error and sleeps out the back-off window, the
// longer one when the DB connection looks lost.
func (e *Engine) pollBackoff(ctx context.Context, poller, flavor string, err error) {
	wait := e.Cfg.PollErrorWait
	kind := "error"
	if postgres.IsConnErr(err) {
		wait = e.Cfg.PollDisconnectWait
		kind = "disconnect"
	}
	observability.PollErrorsTotal.WithLabelValues(poller, kind).Inc()
	slog.Error("poll failed",
		slog.String("poller", poller),
		slog.String("flavor", flavor),
		slog.Duration("backoff", wait),
		slog.Any("error", err))
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
