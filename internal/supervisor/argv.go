// Package supervisor launches and tracks loadrunner subprocesses: argv
// construction, process-group lifecycle, worker-PID discovery, result
// collection, and orphan cleanup.
package supervisor

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/lmeterx/st-engine/internal/config"
	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/pkg/maskx"
)

// Command is a fully built runner invocation.
type Command struct {
	Args []string
	Env  []string
}

// MaskedArgs renders the argv for logs with credentials hidden.
func (c Command) MaskedArgs() string {
	return strings.Join(maskx.Command(c.Args), " ")
}

// BuildLLMCommand builds the runner argv for an LLM task. Warmup runs reuse
// the original request body, skip the dataset, and get the short stop budget.
func BuildLLMCommand(cfg config.Config, t domain.Task, warmup bool) Command {
	duration := t.Duration
	stopTimeout := cfg.StopTimeout
	if warmup {
		duration = t.WarmupDuration
		if duration <= 0 {
			duration = cfg.WarmupDuration
		}
		stopTimeout = cfg.WarmupStopTimeout
	}

	args := []string{
		"llm",
		"--task-id", t.ID,
		"--host", t.TargetHost,
		"--api_path", t.APIPath,
		"--users", strconv.Itoa(t.ConcurrentUsers),
		"--spawn-rate", strconv.Itoa(t.SpawnRate),
		"--run-time", fmt.Sprintf("%ds", duration),
		"--duration", strconv.Itoa(duration),
		"--stop-timeout", strconv.Itoa(stopTimeout),
		"--headless",
		"--only-summary",
		"--model_name", t.Model,
		"--api_type", t.APIType,
		"--stream_mode", strconv.FormatBool(t.StreamMode),
		"--chat_type", strconv.Itoa(t.ChatType),
	}
	if t.Headers != "" {
		args = append(args, "--headers", t.Headers)
	}
	if t.Cookies != "" {
		args = append(args, "--cookies", t.Cookies)
	}
	if t.RequestPayload != "" {
		args = append(args, "--request_payload", t.RequestPayload)
	}
	if t.FieldMapping != "" {
		args = append(args, "--field_mapping", t.FieldMapping)
	}
	if !warmup && t.TestData != "" {
		args = append(args, "--test_data", t.TestData)
	}
	if t.CertFile != "" {
		args = append(args, "--cert_file", t.CertFile)
	}
	if t.KeyFile != "" {
		args = append(args, "--key_file", t.KeyFile)
	}
	if warmup {
		args = append(args, "--warmup_mode")
	}
	if n := ProcessCount(cfg, t.ConcurrentUsers); n > 1 {
		args = append(args, "--processes", strconv.Itoa(n))
	}

	return Command{Args: args, Env: baseEnv(cfg, t.ID)}
}

// baseEnv is the environment every runner gets: the task id and the
// HTTP client budgets.
func baseEnv(cfg config.Config, taskID string) []string {
	env := []string{"TASK_ID=" + taskID}
	if cfg.HTTPConnectTimeout > 0 {
		env = append(env, "HTTP_CONNECT_TIMEOUT="+cfg.HTTPConnectTimeout.String())
	}
	if cfg.HTTPReadTimeout > 0 {
		env = append(env, "HTTP_READ_TIMEOUT="+cfg.HTTPReadTimeout.String())
	}
	return env
}

// BuildCommonCommand builds the runner argv for a plain REST task. Stepped
// parameters travel via environment so the load shape can read them.
func BuildCommonCommand(cfg config.Config, t domain.CommonTask) Command {
	duration := t.EffectiveDuration()
	args := []string{
		"common",
		"--task-id", t.ID,
		"--host", t.TargetHost,
		"--api_path", t.APIPath,
		"--method", t.Method,
		"--users", strconv.Itoa(t.ConcurrentUsers),
		"--spawn-rate", strconv.Itoa(t.SpawnRate),
		"--run-time", fmt.Sprintf("%ds", duration),
		"--duration", strconv.Itoa(duration),
		"--stop-timeout", strconv.Itoa(cfg.StopTimeout),
		"--headless",
		"--only-summary",
	}
	if t.Headers != "" {
		args = append(args, "--headers", t.Headers)
	}
	if t.Cookies != "" {
		args = append(args, "--cookies", t.Cookies)
	}
	if t.RequestBody != "" {
		args = append(args, "--request_body", t.RequestBody)
	}
	if t.DatasetFile != "" {
		args = append(args, "--dataset_file", t.DatasetFile)
	}
	if n := ProcessCount(cfg, t.ConcurrentUsers); n > 1 {
		args = append(args, "--processes", strconv.Itoa(n))
	}

	env := baseEnv(cfg, t.ID)
	if t.LoadMode == domain.LoadModeStepped {
		env = append(env,
			"LOAD_MODE=stepped",
			"STEP_START_USERS="+strconv.Itoa(t.StepStartUsers),
			"STEP_INCREMENT="+strconv.Itoa(t.StepIncrement),
			"STEP_DURATION="+strconv.Itoa(t.StepDuration),
			"STEP_MAX_USERS="+strconv.Itoa(t.StepMaxUsers),
			"STEP_SUSTAIN_DURATION="+strconv.Itoa(t.StepSustainDuration),
		)
	}
	return Command{Args: args, Env: env}
}

// ProcessCount derives the worker process count from concurrency, capped at
// the CPU count.
func ProcessCount(cfg config.Config, users int) int {
	per := cfg.UsersPerProcess
	if per <= 0 {
		per = 500
	}
	n := (users + per - 1) / per
	if n < 1 {
		n = 1
	}
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	return n
}
