package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmeterx/st-engine/internal/domain"
	"github.com/lmeterx/st-engine/internal/swarm"
)

func writeResultFixture(t *testing.T, taskID string, result, sidecar string) {
	t.Helper()
	dir := swarm.ResultDir(taskID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	t.Cleanup(func() { os.RemoveAll(dir) })
	if result != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte(result), 0o644))
	}
	if sidecar != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "realtime_metrics.jsonl"), []byte(sidecar), 0o644))
	}
}

func TestCollectResults(t *testing.T) {
	const taskID = "collect-ok"
	writeResultFixture(t, taskID,
		`{"custom_metrics":{"tokens":{"reqs_count":3,"completion_tokens":30,"total_tokens":45,"req_throughput":0,"completion_tps":0,"total_tps":0,"avg_completion_tokens_per_req":10,"avg_total_tokens_per_req":15,"execution_time":5}},"locust_stats":[{"task_id":"collect-ok","metric_type":"POST /v1/chat/completions","num_requests":3,"num_failures":0,"avg_latency":12,"min_latency":10,"max_latency":15,"median_latency":12,"p95_latency":15,"rps":0.6,"avg_content_length":40}]}`,
		`{"task_id":"collect-ok","timestamp":1,"current_users":1,"current_rps":0.5,"current_fail_per_sec":0,"avg_response_time":12,"min_response_time":10,"max_response_time":15,"median_response_time":12,"p95_response_time":15,"total_requests":1,"total_failures":0}
not json
{"task_id":"collect-ok","timestamp":3,"current_users":1,"current_rps":0.5,"current_fail_per_sec":0,"avg_response_time":12,"min_response_time":10,"max_response_time":15,"median_response_time":12,"p95_response_time":15,"total_requests":2,"total_failures":0}
`)

	res, samples, err := CollectResults(taskID)
	require.NoError(t, err)
	require.Len(t, res.Stats, 1)
	assert.Equal(t, int64(3), res.Stats[0].NumRequests)
	assert.Equal(t, int64(3), res.CustomMetrics.Tokens.ReqsCount)
	// Malformed lines are skipped.
	require.Len(t, samples, 2)
	assert.Equal(t, int64(2), samples[1].TotalRequests)

	// The result directory is removed after the read.
	_, err = os.Stat(swarm.ResultDir(taskID))
	assert.True(t, os.IsNotExist(err))
}

func TestCollectResultsMissingFile(t *testing.T) {
	const taskID = "collect-missing"
	writeResultFixture(t, taskID, "", "")
	_, _, err := CollectResults(taskID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCollectResultsNoSidecar(t *testing.T) {
	const taskID = "collect-nosidecar"
	writeResultFixture(t, taskID, `{"custom_metrics":{"tokens":{}},"locust_stats":[]}`, "")
	_, samples, err := CollectResults(taskID)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("t1", Entry{MasterPID: 100, Port: 5557})
	r.SetWorkers("t1", []int{101, 102})

	e, ok := r.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, 100, e.MasterPID)
	assert.Equal(t, []int{101, 102}, e.WorkerPIDs)
	assert.Equal(t, 5557, e.Port)

	assert.Equal(t, []string{"t1"}, r.TaskIDs())

	r.Forget("t1")
	_, ok = r.Lookup("t1")
	assert.False(t, ok)

	// SetWorkers on an unknown task is a no-op.
	r.SetWorkers("ghost", []int{1})
	_, ok = r.Lookup("ghost")
	assert.False(t, ok)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitClean, exitCode(nil))
}

func TestAliveSelf(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-5))
}

func TestEqualPIDs(t *testing.T) {
	assert.True(t, equalPIDs([]int{1, 2}, []int{2, 1}))
	assert.False(t, equalPIDs([]int{1}, []int{1, 2}))
	assert.False(t, equalPIDs([]int{1, 3}, []int{1, 2}))
	assert.True(t, equalPIDs(nil, nil))
}
