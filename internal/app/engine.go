package app

import (
	"context"
	"syscall"
	"time"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/config"
	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/supervisor"
)

// Runner abstracts the process supervisor for the pipeline.
type Runner interface {
	Launch(ctx context.Context, taskID string, cmd supervisor.Command, sink *observability.TaskSink, waitCeiling time.Duration) (supervisor.Outcome, error)
	Stop(taskID string) bool
}

// Engine owns the pollers and the per-task pipelines of one worker process.
type Engine struct {
	Cfg    config.Config
	Runner Runner
	Stores []Store

	stopped *StopSet

	// Seams for process discovery and teardown, overridable in tests.
	findProcs func(substrs ...string) []int
	kill      func(pid int)
	collect   func(taskID string) (domain.RunResult, []domain.RealtimeSample, error)
	settle    time.Duration
}

// NewEngine wires an engine over the given stores.
func NewEngine(cfg config.Config, runner Runner, stores ...Store) *Engine {
	return &Engine{
		Cfg:       cfg,
		Runner:    runner,
		Stores:    stores,
		stopped:   NewStopSet(),
		findProcs: supervisor.FindByCmdline,
		kill:      func(pid int) { _ = syscall.Kill(pid, syscall.SIGKILL) },
		collect:   supervisor.CollectResults,
		settle:    cfg.WarmupSettle,
	}
}
