package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrNoTask          = errors.New("no claimable task")
	ErrStopped         = errors.New("task stopped")
	ErrInternal        = errors.New("internal error")
)

// Context is a local alias to keep port signatures compact.
type Context = context.Context

// TaskStatus enumerates the job lifecycle states.
type TaskStatus string

const (
	StatusCreated        TaskStatus = "created"
	StatusLocked         TaskStatus = "locked"
	StatusRunning        TaskStatus = "running"
	StatusStopping       TaskStatus = "stopping"
	StatusStopped        TaskStatus = "stopped"
	StatusCompleted      TaskStatus = "completed"
	StatusFailed         TaskStatus = "failed"
	StatusFailedRequests TaskStatus = "failed_requests"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed, StatusFailedRequests:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> t is on the allowed status
// graph: created -> locked -> running -> {completed|failed|failed_requests|stopping};
// stopping -> stopped; locked -> failed; created/running -> stopping (external stop).
func (s TaskStatus) CanTransitionTo(t TaskStatus) bool {
	switch s {
	case StatusCreated:
		return t == StatusLocked || t == StatusStopping
	case StatusLocked:
		return t == StatusRunning || t == StatusFailed || t == StatusStopping
	case StatusRunning:
		return t == StatusCompleted || t == StatusFailed || t == StatusFailedRequests || t == StatusStopping
	case StatusStopping:
		return t == StatusStopped
	}
	return false
}

// API flavors for LLM tasks.
const (
	APITypeOpenAIChat = "openai-chat"
	APITypeClaudeChat = "claude-chat"
	APITypeEmbeddings = "embeddings"
	APITypeCustom     = "custom"
)

// Chat types select the built-in dataset and payload shape.
const (
	ChatTypeText   = 0
	ChatTypeImage  = 1
	ChatTypeVision = 2
)

// Load modes.
const (
	LoadModeFixed   = "fixed"
	LoadModeStepped = "stepped"
)

// MaxErrorMessageLen bounds the error_message column payload.
const MaxErrorMessageLen = 65000

// TruncateError bounds msg to MaxErrorMessageLen, appending an explicit
// suffix carrying the original length.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen-100] + fmt.Sprintf("\n... (truncated, original length: %d)", len(msg))
}

// Task is an LLM load-test job.
type Task struct {
	ID           string `validate:"required,max=40"`
	Name         string
	CreatedBy    string
	Status       TaskStatus
	ErrorMessage string

	TargetHost string `validate:"required"`
	APIPath    string `validate:"required"`
	Headers    string // JSON object string
	Cookies    string // JSON object string

	Model      string `validate:"required"`
	APIType    string `validate:"required,oneof=openai-chat claude-chat embeddings custom"`
	StreamMode bool
	ChatType   int `validate:"min=0,max=2"`

	RequestPayload string
	FieldMapping   string // JSON override, optional
	TestData       string // "", "default", inline JSON/JSONL, or a file path
	CertFile       string
	KeyFile        string

	ConcurrentUsers int `validate:"min=1"`
	SpawnRate       int `validate:"min=1"`
	Duration        int `validate:"min=1"` // seconds

	// Warmup columns may be absent in older schemas; defaults apply.
	WarmupEnabled  bool
	WarmupDuration int // seconds

	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
}

// CommonTask is a plain REST load-test job.
type CommonTask struct {
	ID           string `validate:"required,max=40"`
	Name         string
	CreatedBy    string
	Status       TaskStatus
	ErrorMessage string

	TargetHost string `validate:"required"`
	APIPath    string `validate:"required"`
	Method     string `validate:"required"`
	Headers    string
	Cookies    string

	RequestBody string
	DatasetFile string

	LoadMode        string `validate:"omitempty,oneof=fixed stepped"`
	ConcurrentUsers int
	SpawnRate       int
	Duration        int

	StepStartUsers      int
	StepIncrement       int
	StepDuration        int
	StepMaxUsers        int
	StepSustainDuration int

	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
}

// SteppedTotalDuration derives the planned run time of a stepped profile:
// ceil((max-start)/increment + 1) * step_duration + sustain.
func SteppedTotalDuration(start, increment, stepDuration, maxUsers, sustain int) int {
	if start <= 0 {
		start = 1
	}
	if increment <= 0 {
		increment = 1
	}
	if stepDuration <= 0 {
		stepDuration = 30
	}
	if maxUsers < start {
		maxUsers = start
	}
	steps := (maxUsers-start+increment-1)/increment + 1
	if steps < 1 {
		steps = 1
	}
	return steps*stepDuration + sustain
}

// EffectiveDuration returns the wall-clock budget of the run for either mode.
func (t CommonTask) EffectiveDuration() int {
	if t.LoadMode == LoadModeStepped {
		return SteppedTotalDuration(t.StepStartUsers, t.StepIncrement, t.StepDuration, t.StepMaxUsers, t.StepSustainDuration)
	}
	return t.Duration
}

// StatRow is one per-endpoint (or token_metrics) aggregate. The JSON tags are
// the result-file contract between the engine and the loadrunner subprocess.
type StatRow struct {
	ID               string  `json:"-"`
	TaskID           string  `json:"task_id"`
	MetricType       string  `json:"metric_type"`
	NumRequests      int64   `json:"num_requests"`
	NumFailures      int64   `json:"num_failures"`
	AvgLatency       float64 `json:"avg_latency"`
	MinLatency       float64 `json:"min_latency"`
	MaxLatency       float64 `json:"max_latency"`
	MedianLatency    float64 `json:"median_latency"`
	P95Latency       float64 `json:"p95_latency"`
	RPS              float64 `json:"rps"`
	AvgContentLength float64 `json:"avg_content_length"`
	CreatedAt        time.Time
}

// MetricTypeTokens names the synthetic result row carrying token throughput.
const MetricTypeTokens = "token_metrics"

// MetricSummary aggregates one named custom metric over a run.
type MetricSummary struct {
	Count            int64   `json:"count"`
	Avg              float64 `json:"avg"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Median           float64 `json:"median"`
	P95              float64 `json:"p95"`
	AvgContentLength float64 `json:"avg_content_length"`
}

// TokenReport is the master's final token accounting for an LLM run.
type TokenReport struct {
	ReqsCount                 int64   `json:"reqs_count"`
	CompletionTokens          int64   `json:"completion_tokens"`
	TotalTokens               int64   `json:"total_tokens"`
	ReqThroughput             float64 `json:"req_throughput"`
	CompletionTPS             float64 `json:"completion_tps"`
	TotalTPS                  float64 `json:"total_tps"`
	AvgCompletionTokensPerReq float64 `json:"avg_completion_tokens_per_req"`
	AvgTotalTokensPerReq      float64 `json:"avg_total_tokens_per_req"`
	ExecutionTime             float64 `json:"execution_time"`
}

// CustomMetrics is the custom_metrics object of the result file.
type CustomMetrics struct {
	Metrics map[string]MetricSummary `json:"metrics,omitempty"`
	Tokens  TokenReport              `json:"tokens"`
}

// RunResult is the result.json contract written by the loadrunner at
// test-stop and consumed by the task pipeline.
type RunResult struct {
	CustomMetrics CustomMetrics `json:"custom_metrics"`
	Stats         []StatRow     `json:"locust_stats"`
}

// RealtimeSample is one 2-second snapshot of in-flight run metrics.
type RealtimeSample struct {
	ID                 string  `json:"-"`
	TaskID             string  `json:"task_id"`
	Timestamp          float64 `json:"timestamp"` // epoch seconds
	CurrentUsers       int     `json:"current_users"`
	CurrentRPS         float64 `json:"current_rps"`
	CurrentFailPerSec  float64 `json:"current_fail_per_sec"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	MinResponseTime    float64 `json:"min_response_time"`
	MaxResponseTime    float64 `json:"max_response_time"`
	MedianResponseTime float64 `json:"median_response_time"`
	P95ResponseTime    float64 `json:"p95_response_time"`
	TotalRequests      int64   `json:"total_requests"`
	TotalFailures      int64   `json:"total_failures"`
}

// PromptRecord is one immutable dataset entry rotated through the shared
// round-robin queue.
type PromptRecord struct {
	ID          string
	Prompt      string
	ImageURL    string
	ImageBase64 string // raw base64, no data-URI prefix
	ImageMIME   string // sniffed media type for base64 images, e.g. image/jpeg
}

// TokenStats is the per-worker token delta sent to the master at test-stop.
type TokenStats struct {
	Reqs             int64
	CompletionTokens int64
	TotalTokens      int64
}

// Repositories (ports)

type TaskRepository interface {
	ClaimNextPending(ctx Context) (Task, error)
	Get(ctx Context, id string) (Task, error)
	UpdateStatus(ctx Context, id string, status TaskStatus, errMsg string) error
	ListStoppingIDs(ctx Context) ([]string, error)
	ListStale(ctx Context) ([]Task, error)
}

type CommonTaskRepository interface {
	ClaimNextPending(ctx Context) (CommonTask, error)
	Get(ctx Context, id string) (CommonTask, error)
	UpdateStatus(ctx Context, id string, status TaskStatus, errMsg string) error
	ListStoppingIDs(ctx Context) ([]string, error)
	ListStale(ctx Context) ([]CommonTask, error)
}

type ResultRepository interface {
	InsertTaskResults(ctx Context, rows []StatRow) error
	InsertCommonTaskResults(ctx Context, rows []StatRow) error
	InsertTaskSamples(ctx Context, samples []RealtimeSample) error
	InsertCommonTaskSamples(ctx Context, samples []RealtimeSample) error
}
