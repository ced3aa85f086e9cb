package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmeterx/st-engine/internal/config"
	"github.com/lmeterx/st-engine/internal/domain"
)

func flagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func testCfg() config.Config {
	return config.Config{
		StopTimeout:       99,
		WarmupStopTimeout: 10,
		WarmupDuration:    120,
		UsersPerProcess:   500,
		RunnerBin:         "loadrunner",
	}
}

func llmTask() domain.Task {
	return domain.Task{
		ID:              "task-123",
		TargetHost:      "https://api.example.com",
		APIPath:         "/v1/chat/completions",
		Headers:         `{"Authorization":"Bearer secret-key"}`,
		Model:           "gpt-4",
		APIType:         domain.APITypeOpenAIChat,
		StreamMode:      true,
		ChatType:        domain.ChatTypeText,
		TestData:        "default",
		ConcurrentUsers: 10,
		SpawnRate:       2,
		Duration:        60,
		WarmupEnabled:   true,
		WarmupDuration:  30,
	}
}

func TestBuildLLMCommand(t *testing.T) {
	cmd := BuildLLMCommand(testCfg(), llmTask(), false)
	args := cmd.Args

	assert.Equal(t, "llm", args[0])
	for flag, want := range map[string]string{
		"--task-id":     "task-123",
		"--host":        "https://api.example.com",
		"--api_path":    "/v1/chat/completions",
		"--users":       "10",
		"--spawn-rate":  "2",
		"--run-time":    "60s",
		"--duration":    "60",
		"--stop-timeout": "99",
		"--model_name":  "gpt-4",
		"--api_type":    "openai-chat",
		"--stream_mode": "true",
		"--chat_type":   "0",
		"--test_data":   "default",
	} {
		got, ok := flagValue(args, flag)
		require.True(t, ok, flag)
		assert.Equal(t, want, got, flag)
	}
	assert.True(t, hasFlag(args, "--headless"))
	assert.True(t, hasFlag(args, "--only-summary"))
	assert.False(t, hasFlag(args, "--warmup_mode"))
	assert.False(t, hasFlag(args, "--processes"))
	assert.Contains(t, cmd.Env, "TASK_ID=task-123")
}

func TestBuildLLMCommandWarmup(t *testing.T) {
	cmd := BuildLLMCommand(testCfg(), llmTask(), true)
	args := cmd.Args

	duration, _ := flagValue(args, "--duration")
	assert.Equal(t, "30", duration)
	stopTimeout, _ := flagValue(args, "--stop-timeout")
	assert.Equal(t, "10", stopTimeout)
	assert.True(t, hasFlag(args, "--warmup_mode"))
	// Warmup replays the request body only; the dataset stays out.
	assert.False(t, hasFlag(args, "--test_data"))
}

func TestBuildLLMCommandWarmupDurationFallback(t *testing.T) {
	task := llmTask()
	task.WarmupDuration = 0
	cmd := BuildLLMCommand(testCfg(), task, true)
	duration, _ := flagValue(cmd.Args, "--duration")
	assert.Equal(t, "120", duration)
}

func TestBuildCommonCommandSteppedEnv(t *testing.T) {
	task := domain.CommonTask{
		ID:                  "ct-1",
		TargetHost:          "https://svc.internal",
		APIPath:             "/api/search",
		Method:              "POST",
		RequestBody:         `{"q":"x"}`,
		LoadMode:            domain.LoadModeStepped,
		ConcurrentUsers:     5,
		SpawnRate:           1,
		StepStartUsers:      1,
		StepIncrement:       2,
		StepDuration:        2,
		StepMaxUsers:        5,
		StepSustainDuration: 2,
	}
	cmd := BuildCommonCommand(testCfg(), task)

	assert.Equal(t, "common", cmd.Args[0])
	method, _ := flagValue(cmd.Args, "--method")
	assert.Equal(t, "POST", method)
	body, _ := flagValue(cmd.Args, "--request_body")
	assert.Equal(t, `{"q":"x"}`, body)
	// Planned stepped run time: 3 steps of 2s plus 2s sustain.
	duration, _ := flagValue(cmd.Args, "--duration")
	assert.Equal(t, "8", duration)

	for _, kv := range []string{
		"LOAD_MODE=stepped",
		"STEP_START_USERS=1",
		"STEP_INCREMENT=2",
		"STEP_DURATION=2",
		"STEP_MAX_USERS=5",
		"STEP_SUSTAIN_DURATION=2",
	} {
		assert.Contains(t, cmd.Env, kv)
	}
}

func TestBuildCommonCommandFixedNoStepEnv(t *testing.T) {
	task := domain.CommonTask{ID: "ct-2", TargetHost: "h", APIPath: "/p", Method: "GET", ConcurrentUsers: 2, SpawnRate: 1, Duration: 10}
	cmd := BuildCommonCommand(testCfg(), task)
	for _, kv := range cmd.Env {
		assert.NotContains(t, kv, "STEP_")
	}
}

func TestMaskedArgsHidesAuthorization(t *testing.T) {
	cmd := BuildLLMCommand(testCfg(), llmTask(), false)
	masked := cmd.MaskedArgs()
	assert.NotContains(t, masked, "secret-key")
	assert.Contains(t, masked, "task-123")
}

func TestProcessCount(t *testing.T) {
	cfg := testCfg()
	assert.Equal(t, 1, ProcessCount(cfg, 100))
	assert.Equal(t, 1, ProcessCount(cfg, 500))
	n := ProcessCount(cfg, 1600)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 4)
}
