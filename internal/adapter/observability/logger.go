package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmeterx/st-engine/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

// TaskSink is a per-task append-only log file. One sink is attached when the
// pipeline picks up a task and closed when the task reaches a terminal state.
type TaskSink struct {
	Logger *slog.Logger
	file   *os.File
}

// NewTaskSink opens (or creates) logs/task_<id>.log and returns a logger that
// writes JSON lines to both the file and the process stdout.
func NewTaskSink(logDir, taskID string) (*TaskSink, error) {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("op=observability.NewTaskSink: %w", err)
	}
	path := filepath.Join(logDir, "task_"+taskID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("op=observability.NewTaskSink: %w", err)
	}
	h := slog.NewJSONHandler(io.MultiWriter(f, os.Stdout), &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(h).With(slog.String("task_id", taskID))
	return &TaskSink{Logger: l, file: f}, nil
}

// Write appends raw subprocess output lines to the sink file.
func (s *TaskSink) Write(p []byte) (int, error) {
	if s == nil || s.file == nil {
		return len(p), nil
	}
	return s.file.Write(p)
}

// Close releases the underlying file.
func (s *TaskSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
