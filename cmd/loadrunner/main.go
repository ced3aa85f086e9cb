// Package main provides the loadrunner entry point: the per-task subprocess
// the engine launches to generate load. Exit code 0 means a clean run, 1 a
// clean run with failed requests, anything higher a runner failure.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmeterx/st-engine/internal/runner"
)

const (
	exitClean          = 0
	exitFailedRequests = 1
	exitRunnerError    = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if len(args) < 1 {
		slog.Error("usage: loadrunner <llm|common> [flags]")
		return exitRunnerError
	}

	// The engine stops a run with SIGTERM to the process group; the swarm
	// drains in-flight requests and the result file is still written.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var (
		fails int64
		err   error
	)
	switch args[0] {
	case "llm":
		fails, err = runLLM(ctx, args[1:])
	case "common":
		fails, err = runCommon(ctx, args[1:])
	default:
		slog.Error("unknown subcommand", slog.String("subcommand", args[0]))
		return exitRunnerError
	}
	if err != nil {
		slog.Error("run failed", slog.Any("error", err))
		return exitRunnerError
	}
	if fails > 0 {
		return exitFailedRequests
	}
	return exitClean
}

func runLLM(ctx context.Context, args []string) (int64, error) {
	fs := flag.NewFlagSet("llm", flag.ContinueOnError)
	var opts runner.LLMOptions
	addSharedFlags(fs, &opts.TaskID, &opts.Host, &opts.APIPath,
		&opts.Users, &opts.SpawnRate, &opts.Duration, &opts.StopTimeout,
		&opts.HeadersJSON, &opts.CookiesJSON)
	fs.StringVar(&opts.Model, "model_name", "", "target model name")
	fs.StringVar(&opts.APIType, "api_type", "openai-chat", "API flavor")
	fs.BoolVar(&opts.Stream, "stream_mode", true, "streaming responses")
	fs.IntVar(&opts.ChatType, "chat_type", 0, "0 text, 1 multimodal")
	fs.StringVar(&opts.Payload, "request_payload", "", "request body template")
	fs.StringVar(&opts.FieldMapping, "field_mapping", "", "field mapping override JSON")
	fs.StringVar(&opts.TestData, "test_data", "", "dataset pointer")
	fs.StringVar(&opts.CertFile, "cert_file", "", "client certificate path")
	fs.StringVar(&opts.KeyFile, "key_file", "", "client key path")
	fs.BoolVar(&opts.Warmup, "warmup_mode", false, "single-shot warmup run")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return runner.RunLLM(ctx, opts)
}

func runCommon(ctx context.Context, args []string) (int64, error) {
	fs := flag.NewFlagSet("common", flag.ContinueOnError)
	var opts runner.CommonOptions
	addSharedFlags(fs, &opts.TaskID, &opts.Host, &opts.APIPath,
		&opts.Users, &opts.SpawnRate, &opts.Duration, &opts.StopTimeout,
		&opts.HeadersJSON, &opts.CookiesJSON)
	fs.StringVar(&opts.Method, "method", "GET", "HTTP method")
	fs.StringVar(&opts.RequestBody, "request_body", "", "request body")
	fs.StringVar(&opts.DatasetFile, "dataset_file", "", "request-body dataset path")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return runner.RunCommon(ctx, opts)
}

// addSharedFlags registers the flags common to both subcommands, including
// the compatibility flags the engine always passes.
func addSharedFlags(fs *flag.FlagSet, taskID, host, apiPath *string,
	users *int, spawnRate *float64, duration, stopTimeout *int,
	headers, cookies *string) {
	fs.StringVar(taskID, "task-id", "", "task identifier")
	fs.StringVar(host, "host", "", "target host base URL")
	fs.StringVar(apiPath, "api_path", "", "API path")
	fs.IntVar(users, "users", 1, "concurrent users")
	fs.Float64Var(spawnRate, "spawn-rate", 1, "users spawned per second")
	fs.IntVar(duration, "duration", 0, "run duration in seconds")
	fs.IntVar(stopTimeout, "stop-timeout", 0, "drain budget in seconds")
	fs.StringVar(headers, "headers", "", "extra request headers JSON")
	fs.StringVar(cookies, "cookies", "", "request cookies JSON")

	// Accepted for argv compatibility; users run as goroutines in-process.
	fs.String("run-time", "", "run duration (informational)")
	fs.Bool("headless", false, "no interactive UI (always)")
	fs.Bool("only-summary", false, "summary output only (always)")
	fs.Int("processes", 0, "worker process hint (informational)")
}
