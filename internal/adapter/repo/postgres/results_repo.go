package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/lmeterx/st-engine/internal/domain"
)

// ResultRepo persists aggregated result rows and real-time samples. Inserts
// are append-only; duplicates on retry are acceptable because readers pick
// the latest rows per metric_type.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

func (r *ResultRepo) insertRows(ctx domain.Context, table string, rows []domain.StatRow) error {
	if len(rows) == 0 {
		return nil
	}
	q := `INSERT INTO ` + table + ` (id, task_id, metric_type, num_requests, num_failures,
		avg_latency, min_latency, max_latency, median_latency, p95_latency, rps, avg_content_length, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, row := range rows {
		id := row.ID
		if id == "" {
			id = ulid.Make().String()
		}
		batch.Queue(q, id, row.TaskID, row.MetricType, row.NumRequests, row.NumFailures,
			row.AvgLatency, row.MinLatency, row.MaxLatency, row.MedianLatency, row.P95Latency,
			row.RPS, row.AvgContentLength, now)
	}
	results := r.Pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("op=result.insert_rows table=%s: %w", table, err)
		}
	}
	return nil
}

func (r *ResultRepo) insertSamples(ctx domain.Context, table string, samples []domain.RealtimeSample) error {
	if len(samples) == 0 {
		return nil
	}
	q := `INSERT INTO ` + table + ` (id, task_id, timestamp, current_users, current_rps, current_fail_per_sec,
		avg_response_time, min_response_time, max_response_time, median_response_time, p95_response_time,
		total_requests, total_failures, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, s := range samples {
		id := s.ID
		if id == "" {
			id = ulid.Make().String()
		}
		batch.Queue(q, id, s.TaskID, s.Timestamp, s.CurrentUsers, s.CurrentRPS, s.CurrentFailPerSec,
			s.AvgResponseTime, s.MinResponseTime, s.MaxResponseTime, s.MedianResponseTime, s.P95ResponseTime,
			s.TotalRequests, s.TotalFailures, now)
	}
	results := r.Pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range samples {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("op=result.insert_samples table=%s: %w", table, err)
		}
	}
	return nil
}

// InsertTaskResults batch-inserts result rows for an LLM task.
func (r *ResultRepo) InsertTaskResults(ctx domain.Context, rows []domain.StatRow) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.InsertTaskResults")
	defer span.End()
	return r.insertRows(ctx, "task_results", rows)
}

// InsertCommonTaskResults batch-inserts result rows for a common task.
func (r *ResultRepo) InsertCommonTaskResults(ctx domain.Context, rows []domain.StatRow) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.InsertCommonTaskResults")
	defer span.End()
	return r.insertRows(ctx, "common_task_results", rows)
}

// InsertTaskSamples batch-inserts drained real-time samples for an LLM task.
func (r *ResultRepo) InsertTaskSamples(ctx domain.Context, samples []domain.RealtimeSample) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.InsertTaskSamples")
	defer span.End()
	return r.insertSamples(ctx, "task_realtime_metrics", samples)
}

// InsertCommonTaskSamples batch-inserts drained samples for a common task.
func (r *ResultRepo) InsertCommonTaskSamples(ctx domain.Context, samples []domain.RealtimeSample) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.InsertCommonTaskSamples")
	defer span.End()
	return r.insertSamples(ctx, "common_task_realtime_metrics", samples)
}
