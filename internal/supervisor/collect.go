package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/swarm"
)

// CollectResults reads the result file and real-time sidecar of a finished
// run, then deletes the result directory. A missing result file is an error;
// a missing sidecar is not.
func CollectResults(taskID string) (domain.RunResult, []domain.RealtimeSample, error) {
	defer func() {
		if err := os.RemoveAll(swarm.ResultDir(taskID)); err != nil {
			slog.Warn("result directory cleanup failed",
				slog.String("task_id", taskID),
				slog.Any("error", err))
		}
	}()

	raw, err := os.ReadFile(swarm.ResultPath(taskID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.RunResult{}, nil, fmt.Errorf("op=supervisor.CollectResults: %w: no result file for task %s", domain.ErrNotFound, taskID)
		}
		return domain.RunResult{}, nil, fmt.Errorf("op=supervisor.CollectResults: %w", err)
	}
	var res domain.RunResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.RunResult{}, nil, fmt.Errorf("op=supervisor.CollectResults: %w", err)
	}

	samples, err := readSamples(swarm.SamplePath(taskID))
	if err != nil {
		slog.Warn("realtime sidecar unreadable",
			slog.String("task_id", taskID),
			slog.Any("error", err))
	}
	return res, samples, nil
}

func readSamples(path string) ([]domain.RealtimeSample, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []domain.RealtimeSample
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s domain.RealtimeSample
		if err := json.Unmarshal(line, &s); err != nil {
			slog.Debug("skipping malformed sample line", slog.Any("error", err))
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}
