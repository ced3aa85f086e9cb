package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmeterx/st-engine/internal/dataset"
	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/fieldmap"
	"github.com/lmeterx/st-engine/internal/metricbus"
	"github.com/lmeterx/st-engine/internal/payload"
	"github.com/lmeterx/st-engine/internal/stream"
	"github.com/lmeterx/st-engine/internal/swarm"
	"github.com/lmeterx/st-engine/internal/tokencount"
)

// LLMOptions is the parsed argv of an llm run.
type LLMOptions struct {
	TaskID      string
	Host        string
	APIPath     string
	Users       int
	SpawnRate   float64
	Duration    int
	StopTimeout int

	HeadersJSON string
	CookiesJSON string

	Model        string
	APIType      string
	Stream       bool
	ChatType     int
	Payload      string
	FieldMapping string
	TestData     string
	CertFile     string
	KeyFile      string
	Warmup       bool
}

type llmUser struct {
	proc      *stream.Processor
	builder   payload.Builder
	queue     *dataset.Queue
	collector *swarm.Collector
	url       string
	headers   map[string]string
	cookies   map[string]string
	warmup    bool

	local domain.TokenStats
}

func (u *llmUser) Iterate(ctx context.Context) {
	rec, _ := u.queue.Next()
	body, err := u.builder.Build(rec)
	if err != nil {
		u.proc.Stats.Failure(u.proc.Name, 0, stream.FailRequest+": "+err.Error())
		return
	}
	res := u.proc.Do(ctx, stream.Request{
		URL:        u.url,
		Headers:    u.headers,
		Cookies:    u.cookies,
		Body:       body,
		PromptText: rec.Prompt,
	})
	if res.OK && !u.warmup {
		u.local.Reqs++
		u.local.CompletionTokens += int64(res.Usage.CompletionTokens)
		u.local.TotalTokens += int64(res.Usage.TotalTokens)
	}
}

// Stop flushes the user's token delta. Warmup runs keep no token accounting.
func (u *llmUser) Stop() {
	if !u.warmup {
		u.collector.Send(u.local)
	}
}

// RunLLM executes one LLM load run to completion and returns the failed
// request count.
func RunLLM(ctx context.Context, opts LLMOptions) (int64, error) {
	headers, err := ParseKV(opts.HeadersJSON)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunLLM headers: %w", err)
	}
	cookies, err := ParseKV(opts.CookiesJSON)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunLLM cookies: %w", err)
	}
	mapping, err := fieldmap.Resolve(opts.APIType, opts.Stream, opts.FieldMapping)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunLLM: %w", err)
	}

	loader := dataset.Loader{}
	if td := strings.TrimSpace(opts.TestData); td != "" && td != "default" &&
		!strings.HasPrefix(td, "{") && !strings.HasPrefix(td, "[") {
		loader.BaseDirs = []string{filepath.Dir(td)}
	}
	queue, err := loader.Load(opts.TestData, opts.ChatType)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunLLM: %w", err)
	}

	client, err := stream.NewClient(stream.ClientConfig{
		ConnectTimeout: envDuration("HTTP_CONNECT_TIMEOUT", connectTimeout),
		ReadTimeout:    envDuration("HTTP_READ_TIMEOUT", llmReadTimeout),
		CertFile:       opts.CertFile,
		KeyFile:        opts.KeyFile,
	})
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunLLM: %w", err)
	}

	if err := swarm.EnsureResultDir(opts.TaskID); err != nil {
		return 0, err
	}

	bus := metricbus.New()
	stats := swarm.NewStats()
	collector := swarm.NewCollector()
	name := http.MethodPost + " " + opts.APIPath
	proc := &stream.Processor{
		Client:  client,
		Mapping: mapping,
		Model:   opts.Model,
		Stream:  opts.Stream,
		Name:    name,
		Bus:     bus,
		Stats:   stats,
		Counter: tokencount.DefaultCounter,
	}
	builder := payload.Builder{
		APIType:  opts.APIType,
		Model:    opts.Model,
		Stream:   opts.Stream,
		Template: opts.Payload,
		Mapping:  mapping,
	}
	url := JoinURL(opts.Host, opts.APIPath)

	ctrl := &swarm.Controller{
		Shape: swarm.FixedShape{
			Users:     opts.Users,
			SpawnRate: opts.SpawnRate,
			RunTime:   time.Duration(opts.Duration) * time.Second,
		},
		NewUser: func() swarm.User {
			return &llmUser{
				proc:      proc,
				builder:   builder,
				queue:     queue,
				collector: collector,
				url:       url,
				headers:   headers,
				cookies:   cookies,
				warmup:    opts.Warmup,
			}
		},
		StopTimeout: time.Duration(opts.StopTimeout) * time.Second,
	}

	slog.Info("llm run starting",
		slog.String("task_id", opts.TaskID),
		slog.String("run_id", uuid.NewString()),
		slog.String("url", url),
		slog.String("model", opts.Model),
		slog.Int("users", opts.Users),
		slog.Int("duration_s", opts.Duration),
		slog.Bool("stream", opts.Stream),
		slog.Bool("warmup", opts.Warmup),
		slog.Int("dataset_records", queue.Len()))

	started := time.Now()
	stopSampler := startSampler(ctx, opts.TaskID, stats, ctrl.CurrentUsers)
	ctrl.Run(ctx)
	stopSampler()

	return finishRun(opts.TaskID, stats, bus, collector, opts.Users, started)
}
