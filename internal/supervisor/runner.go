package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/config"
)

// stderrTail bounds the stderr lines retained for error reporting.
const stderrTail = 100

// Exit codes of the runner contract.
const (
	ExitClean          = 0
	ExitFailedRequests = 1
)

// Outcome is the terminal state of one runner subprocess.
type Outcome struct {
	ExitCode int
	TimedOut bool
	Stderr   string
}

// Supervisor launches runner subprocesses in their own process groups and
// tracks them in the registry.
type Supervisor struct {
	Cfg      config.Config
	Registry *Registry

	portSeq int
	portMu  sync.Mutex
}

// New returns a supervisor over a fresh registry.
func New(cfg config.Config) *Supervisor {
	return &Supervisor{Cfg: cfg, Registry: NewRegistry()}
}

func (s *Supervisor) nextPort() int {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	port := s.Cfg.WorkerBasePort + s.portSeq
	s.portSeq++
	return port
}

// Launch starts the runner and waits for it to exit, draining its output
// into the task sink. waitCeiling bounds the wait; past it the group is
// terminated, then killed after the grace period.
func (s *Supervisor) Launch(ctx context.Context, taskID string, cmd Command, sink *observability.TaskSink, waitCeiling time.Duration) (Outcome, error) {
	port := s.nextPort()
	proc := exec.Command(s.Cfg.RunnerBin, cmd.Args...) //nolint:gosec
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Env = append(proc.Env, fmt.Sprintf("WORKER_PORT=%d", port))

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("op=supervisor.Launch: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("op=supervisor.Launch: %w", err)
	}

	slog.Info("launching runner",
		slog.String("task_id", taskID),
		slog.String("argv", cmd.MaskedArgs()))
	if err := proc.Start(); err != nil {
		return Outcome{}, fmt.Errorf("op=supervisor.Launch: %w", err)
	}
	masterPID := proc.Process.Pid
	s.Registry.Register(taskID, Entry{MasterPID: masterPID, Port: port})

	var (
		drain sync.WaitGroup
		tail  tailBuffer
	)
	drain.Add(2)
	go func() {
		defer drain.Done()
		drainLines(stdout, sink, nil)
	}()
	go func() {
		defer drain.Done()
		drainLines(stderr, sink, &tail)
	}()

	if slices.Contains(cmd.Args, "--processes") {
		go func() {
			if pids := pollWorkers(masterPID); len(pids) > 0 {
				s.Registry.SetWorkers(taskID, pids)
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		drain.Wait()
		done <- proc.Wait()
	}()

	out := Outcome{}
	select {
	case waitErr := <-done:
		out.ExitCode = exitCode(waitErr)
	case <-ctx.Done():
		TerminateGroup(masterPID)
		out.ExitCode = exitCode(<-done)
		out.TimedOut = true
	case <-time.After(waitCeiling):
		slog.Warn("runner exceeded wait ceiling, terminating",
			slog.String("task_id", taskID),
			slog.Duration("ceiling", waitCeiling))
		TerminateGroup(masterPID)
		out.ExitCode = exitCode(<-done)
		out.TimedOut = true
	}
	out.Stderr = tail.String()
	return out, nil
}

// Stop terminates a task's process group: TERM, grace, KILL. The registry
// entry is removed and any leftover runner processes for the task are
// reaped.
func (s *Supervisor) Stop(taskID string) bool {
	entry, ok := s.Registry.Lookup(taskID)
	if ok {
		TerminateGroup(entry.MasterPID)
		for _, pid := range entry.WorkerPIDs {
			if Alive(pid) {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
		}
		s.Registry.Forget(taskID)
	}
	orphans := KillOrphans(s.Cfg.RunnerBin, taskID)
	if orphans > 0 {
		observability.OrphansKilledTotal.Add(float64(orphans))
	}
	return ok
}

func drainLines(r io.Reader, sink *observability.TaskSink, tail *tailBuffer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		_, _ = sink.Write(append(line, '\n'))
		if tail != nil {
			tail.add(string(line))
		}
	}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return ExitClean
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if code := ee.ExitCode(); code >= 0 {
			return code
		}
		// Killed by signal.
		return 128
	}
	return 2
}

type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTail {
		t.lines = t.lines[len(t.lines)-stderrTail:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
