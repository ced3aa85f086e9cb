package app

import (
	"path/filepath"
	"strings"

	"github.com/lmeterx/st-engine/internal/config"
	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/supervisor"
)

// Flavor labels for metrics and logs.
const (
	FlavorLLM    = "llm"
	FlavorCommon = "common"
)

// Job is the flavor-independent view of a claimed task, ready to launch.
type Job struct {
	ID       string
	Flavor   string
	Duration int // seconds, wall-clock budget of the main run

	Warmup         bool
	WarmupDuration int

	Command       supervisor.Command
	WarmupCommand supervisor.Command

	// UploadRefs are per-task files under the shared upload volume, removed
	// when the task reaches a terminal state.
	UploadRefs []string
}

// StaleJob is a row left in a non-terminal state by a prior engine run.
type StaleJob struct {
	ID     string
	Status domain.TaskStatus
}

// Store adapts one task flavor's repositories to the pipeline.
type Store interface {
	Flavor() string
	// ClaimNext claims one pending task, validates it, and builds its runner
	// commands. Invalid tasks are marked failed in place and reported as
	// domain.ErrInvalidArgument; no claimable task is domain.ErrNoTask.
	ClaimNext(ctx domain.Context) (Job, error)
	GetStatus(ctx domain.Context, id string) (domain.TaskStatus, error)
	UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string) error
	ListStoppingIDs(ctx domain.Context) ([]string, error)
	ListStale(ctx domain.Context) ([]StaleJob, error)
	InsertResults(ctx domain.Context, rows []domain.StatRow, samples []domain.RealtimeSample) error
}

// LLMStore adapts the LLM task repositories.
type LLMStore struct {
	Cfg     config.Config
	Tasks   domain.TaskRepository
	Results domain.ResultRepository
}

func (s *LLMStore) Flavor() string { return FlavorLLM }

func (s *LLMStore) ClaimNext(ctx domain.Context) (Job, error) {
	t, err := s.Tasks.ClaimNextPending(ctx)
	if err != nil {
		return Job{}, err
	}
	if err := domain.ValidateTask(t); err != nil {
		_ = s.Tasks.UpdateStatus(ctx, t.ID, domain.StatusFailed, err.Error())
		return Job{}, err
	}

	warmupDur := t.WarmupDuration
	if warmupDur <= 0 {
		warmupDur = s.Cfg.WarmupDuration
	}
	job := Job{
		ID:             t.ID,
		Flavor:         FlavorLLM,
		Duration:       t.Duration,
		Warmup:         t.WarmupEnabled && warmupDur > 0,
		WarmupDuration: warmupDur,
		Command:        supervisor.BuildLLMCommand(s.Cfg, t, false),
		UploadRefs:     uploadRefs(s.Cfg.UploadDir, t.CertFile, t.KeyFile, t.TestData),
	}
	if job.Warmup {
		job.WarmupCommand = supervisor.BuildLLMCommand(s.Cfg, t, true)
	}
	return job, nil
}

func (s *LLMStore) GetStatus(ctx domain.Context, id string) (domain.TaskStatus, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

func (s *LLMStore) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string) error {
	return s.Tasks.UpdateStatus(ctx, id, status, errMsg)
}

func (s *LLMStore) ListStoppingIDs(ctx domain.Context) ([]string, error) {
	return s.Tasks.ListStoppingIDs(ctx)
}

func (s *LLMStore) ListStale(ctx domain.Context) ([]StaleJob, error) {
	tasks, err := s.Tasks.ListStale(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StaleJob, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, StaleJob{ID: t.ID, Status: t.Status})
	}
	return out, nil
}

func (s *LLMStore) InsertResults(ctx domain.Context, rows []domain.StatRow, samples []domain.RealtimeSample) error {
	if err := s.Results.InsertTaskResults(ctx, rows); err != nil {
		return err
	}
	return s.Results.InsertTaskSamples(ctx, samples)
}

// CommonStore adapts the plain REST task repositories.
type CommonStore struct {
	Cfg     config.Config
	Tasks   domain.CommonTaskRepository
	Results domain.ResultRepository
}

func (s *CommonStore) Flavor() string { return FlavorCommon }

func (s *CommonStore) ClaimNext(ctx domain.Context) (Job, error) {
	t, err := s.Tasks.ClaimNextPending(ctx)
	if err != nil {
		return Job{}, err
	}
	if err := domain.ValidateCommonTask(t); err != nil {
		_ = s.Tasks.UpdateStatus(ctx, t.ID, domain.StatusFailed, err.Error())
		return Job{}, err
	}
	return Job{
		ID:         t.ID,
		Flavor:     FlavorCommon,
		Duration:   t.EffectiveDuration(),
		Command:    supervisor.BuildCommonCommand(s.Cfg, t),
		UploadRefs: uploadRefs(s.Cfg.UploadDir, t.DatasetFile),
	}, nil
}

func (s *CommonStore) GetStatus(ctx domain.Context, id string) (domain.TaskStatus, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

func (s *CommonStore) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string) error {
	return s.Tasks.UpdateStatus(ctx, id, status, errMsg)
}

func (s *CommonStore) ListStoppingIDs(ctx domain.Context) ([]string, error) {
	return s.Tasks.ListStoppingIDs(ctx)
}

func (s *CommonStore) ListStale(ctx domain.Context) ([]StaleJob, error) {
	tasks, err := s.Tasks.ListStale(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StaleJob, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, StaleJob{ID: t.ID, Status: t.Status})
	}
	return out, nil
}

func (s *CommonStore) InsertResults(ctx domain.Context, rows []domain.StatRow, samples []domain.RealtimeSample) error {
	if err := s.Results.InsertCommonTaskResults(ctx, rows); err != nil {
		return err
	}
	return s.Results.InsertCommonTaskSamples(ctx, samples)
}

// uploadRefs resolves the per-task file references that live under the
// shared upload volume. Inline values and built-in sentinels are not files.
func uploadRefs(uploadDir string, refs ...string) []string {
	var out []string
	for _, ref := range refs {
		if ref == "" || ref == "default" {
			continue
		}
		if strings.HasPrefix(ref, "{") || strings.HasPrefix(ref, "[") {
			continue
		}
		if !strings.Contains(ref, string(filepath.Separator)) {
			ref = filepath.Join(uploadDir, ref)
		}
		if rel, err := filepath.Rel(uploadDir, ref); err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, ref)
	}
	return out
}
