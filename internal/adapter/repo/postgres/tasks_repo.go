package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/lmeterx/st-engine/internal/domain"
)

// TaskRepo persists and loads LLM load-test tasks from PostgreSQL.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

const taskColumns = `id, COALESCE(name,''), COALESCE(created_by,''), status, COALESCE(error_message,''),
	target_host, api_path, COALESCE(headers,''), COALESCE(cookies,''),
	COALESCE(model,''), COALESCE(api_type,''), COALESCE(stream_mode,false), COALESCE(chat_type,0),
	COALESCE(request_payload,''), COALESCE(field_mapping,''), COALESCE(test_data,''),
	COALESCE(cert_file,''), COALESCE(key_file,''),
	COALESCE(concurrent_users,1), COALESCE(spawn_rate,1), COALESCE(duration,60),
	COALESCE(warmup_enabled,true), COALESCE(warmup_duration,0),
	created_at, updated_at, COALESCE(is_deleted,false)`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.Status, &t.ErrorMessage,
		&t.TargetHost, &t.APIPath, &t.Headers, &t.Cookies,
		&t.Model, &t.APIType, &t.StreamMode, &t.ChatType,
		&t.RequestPayload, &t.FieldMapping, &t.TestData,
		&t.CertFile, &t.KeyFile,
		&t.ConcurrentUsers, &t.SpawnRate, &t.Duration,
		&t.WarmupEnabled, &t.WarmupDuration,
		&t.CreatedAt, &t.UpdatedAt, &t.IsDeleted)
	return t, err
}

// ClaimNextPending selects one created, non-deleted task under a row lock,
// transitions it to locked, and commits. Returns domain.ErrNoTask when no
// claimable row exists; on lock contention other claimers skip the row.
func (r *TaskRepo) ClaimNextPending(ctx domain.Context) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ClaimNextPending")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=task.claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status=$1 AND COALESCE(is_deleted,false)=false
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	t, err := scanTask(tx.QueryRow(ctx, q, domain.StatusCreated))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, domain.ErrNoTask
		}
		return domain.Task{}, fmt.Errorf("op=task.claim: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
		t.ID, domain.StatusLocked, time.Now().UTC()); err != nil {
		return domain.Task{}, fmt.Errorf("op=task.claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("op=task.claim: %w", err)
	}
	t.Status = domain.StatusLocked
	return t, nil
}

// Get loads a task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id=$1`
	t, err := scanTask(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// UpdateStatus updates a task's status and optional error message. The error
// message is truncated to the column budget with an explicit suffix.
func (r *TaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.UpdateStatus")
	defer span.End()
	now := time.Now().UTC()
	var err error
	if errMsg != "" {
		q := `UPDATE tasks SET status=$2, error_message=$3, updated_at=$4 WHERE id=$1`
		_, err = r.Pool.Exec(ctx, q, id, status, domain.TruncateError(errMsg), now)
	} else {
		q := `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`
		_, err = r.Pool.Exec(ctx, q, id, status, now)
	}
	if err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	return nil
}

// ListStoppingIDs returns the ids of tasks currently in state stopping.
func (r *TaskRepo) ListStoppingIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ListStoppingIDs")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT id FROM tasks WHERE status=$1 AND COALESCE(is_deleted,false)=false`, domain.StatusStopping)
	if err != nil {
		return nil, fmt.Errorf("op=task.list_stopping: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=task.list_stopping: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.list_stopping: %w", err)
	}
	return ids, nil
}

// ListStale returns tasks left in running or locked, used by startup
// reconciliation after an engine restart.
func (r *TaskRepo) ListStale(ctx domain.Context) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ListStale")
	defer span.End()
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ANY($1)`
	rows, err := r.Pool.Query(ctx, q, []string{string(domain.StatusRunning), string(domain.StatusLocked)})
	if err != nil {
		return nil, fmt.Errorf("op=task.list_stale: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.list_stale: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.list_stale: %w", err)
	}
	return out, nil
}
