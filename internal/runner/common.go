package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmeterx/st-engine/internal/dataset"
	"github.com/lmeterx/st-engine/internal/stream"
	"github.com/lmeterx/st-engine/internal/swarm"
)

// CommonOptions is the parsed argv of a common (plain REST) run.
type CommonOptions struct {
	TaskID      string
	Host        string
	APIPath     string
	Method      string
	Users       int
	SpawnRate   float64
	Duration    int
	StopTimeout int

	HeadersJSON string
	CookiesJSON string
	RequestBody string
	DatasetFile string

	// Env is the environment lookup for the load-mode parameters;
	// defaults to os.Getenv.
	Env func(string) string
}

type commonUser struct {
	simple  *stream.Simple
	queue   *dataset.Queue
	url     string
	headers map[string]string
	cookies map[string]string
	body    []byte
}

func (u *commonUser) Iterate(ctx context.Context) {
	body := u.body
	// Dataset records rotate through as request bodies when present.
	if rec, ok := u.queue.Next(); ok {
		body = []byte(rec.Prompt)
	}
	u.simple.Do(ctx, u.url, u.headers, u.cookies, body)
}

func (u *commonUser) Stop() {}

// RunCommon executes one plain REST load run to completion and returns the
// failed request count.
func RunCommon(ctx context.Context, opts CommonOptions) (int64, error) {
	if opts.Env == nil {
		opts.Env = os.Getenv
	}
	headers, err := ParseKV(opts.HeadersJSON)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunCommon headers: %w", err)
	}
	cookies, err := ParseKV(opts.CookiesJSON)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunCommon cookies: %w", err)
	}

	queue, err := dataset.Loader{}.Load(opts.DatasetFile, 0)
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunCommon: %w", err)
	}

	client, err := stream.NewClient(stream.ClientConfig{
		ConnectTimeout: envDuration("HTTP_CONNECT_TIMEOUT", connectTimeout),
		ReadTimeout:    envDuration("HTTP_READ_TIMEOUT", commonReadTimeout),
	})
	if err != nil {
		return 0, fmt.Errorf("op=runner.RunCommon: %w", err)
	}

	if err := swarm.EnsureResultDir(opts.TaskID); err != nil {
		return 0, err
	}

	stats := swarm.NewStats()
	method := strings.ToUpper(opts.Method)
	name := method + " " + opts.APIPath
	simple := &stream.Simple{Client: client, Method: method, Name: name, Stats: stats}
	url := JoinURL(opts.Host, opts.APIPath)

	shape := ShapeFromEnv(opts.Users, opts.SpawnRate, opts.Duration, opts.Env)
	ctrl := &swarm.Controller{
		Shape: shape,
		NewUser: func() swarm.User {
			return &commonUser{
				simple:  simple,
				queue:   queue,
				url:     url,
				headers: headers,
				cookies: cookies,
				body:    []byte(opts.RequestBody),
			}
		},
		StopTimeout: time.Duration(opts.StopTimeout) * time.Second,
	}

	slog.Info("common run starting",
		slog.String("task_id", opts.TaskID),
		slog.String("run_id", uuid.NewString()),
		slog.String("url", url),
		slog.String("method", method),
		slog.Int("users", opts.Users),
		slog.Int("duration_s", opts.Duration),
		slog.Int("dataset_records", queue.Len()))

	started := time.Now()
	stopSampler := startSampler(ctx, opts.TaskID, stats, ctrl.CurrentUsers)
	ctrl.Run(ctx)
	stopSampler()

	return finishRun(opts.TaskID, stats, nil, nil, opts.Users, started)
}
