package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/lmeterx/st-engine/internal/domain"
)

// CommonTaskRepo persists and loads plain REST load-test tasks.
type CommonTaskRepo struct{ Pool PgxPool }

// NewCommonTaskRepo constructs a CommonTaskRepo with the given pool.
func NewCommonTaskRepo(p PgxPool) *CommonTaskRepo { return &CommonTaskRepo{Pool: p} }

const commonTaskColumns = `id, COALESCE(name,''), COALESCE(created_by,''), status, COALESCE(error_message,''),
	target_host, api_path, COALESCE(method,'GET'), COALESCE(headers,''), COALESCE(cookies,''),
	COALESCE(request_body,''), COALESCE(dataset_file,''),
	COALESCE(load_mode,'fixed'),
	COALESCE(concurrent_users,1), COALESCE(spawn_rate,1), COALESCE(duration,60),
	COALESCE(step_start_users,1), COALESCE(step_increment,10), COALESCE(step_duration,30),
	COALESCE(step_max_users,100), COALESCE(step_sustain_duration,60),
	created_at, updated_at, COALESCE(is_deleted,false)`

func scanCommonTask(row pgx.Row) (domain.CommonTask, error) {
	var t domain.CommonTask
	err := row.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.Status, &t.ErrorMessage,
		&t.TargetHost, &t.APIPath, &t.Method, &t.Headers, &t.Cookies,
		&t.RequestBody, &t.DatasetFile,
		&t.LoadMode,
		&t.ConcurrentUsers, &t.SpawnRate, &t.Duration,
		&t.StepStartUsers, &t.StepIncrement, &t.StepDuration,
		&t.StepMaxUsers, &t.StepSustainDuration,
		&t.CreatedAt, &t.UpdatedAt, &t.IsDeleted)
	return t, err
}

// ClaimNextPending mirrors TaskRepo.ClaimNextPending for common tasks.
func (r *CommonTaskRepo) ClaimNextPending(ctx domain.Context) (domain.CommonTask, error) {
	tracer := otel.Tracer("repo.common_tasks")
	ctx, span := tracer.Start(ctx, "common_tasks.ClaimNextPending")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.CommonTask{}, fmt.Errorf("op=common_task.claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `SELECT ` + commonTaskColumns + ` FROM common_tasks
		WHERE status=$1 AND COALESCE(is_deleted,false)=false
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`
	t, err := scanCommonTask(tx.QueryRow(ctx, q, domain.StatusCreated))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CommonTask{}, domain.ErrNoTask
		}
		return domain.CommonTask{}, fmt.Errorf("op=common_task.claim: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE common_tasks SET status=$2, updated_at=$3 WHERE id=$1`,
		t.ID, domain.StatusLocked, time.Now().UTC()); err != nil {
		return domain.CommonTask{}, fmt.Errorf("op=common_task.claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.CommonTask{}, fmt.Errorf("op=common_task.claim: %w", err)
	}
	t.Status = domain.StatusLocked
	return t, nil
}

// Get loads a common task by id.
func (r *CommonTaskRepo) Get(ctx domain.Context, id string) (domain.CommonTask, error) {
	tracer := otel.Tracer("repo.common_tasks")
	ctx, span := tracer.Start(ctx, "common_tasks.Get")
	defer span.End()
	q := `SELECT ` + commonTaskColumns + ` FROM common_tasks WHERE id=$1`
	t, err := scanCommonTask(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CommonTask{}, fmt.Errorf("op=common_task.get: %w", domain.ErrNotFound)
		}
		return domain.CommonTask{}, fmt.Errorf("op=common_task.get: %w", err)
	}
	return t, nil
}

// UpdateStatus updates status and optional (truncated) error message.
func (r *CommonTaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string) error {
	tracer := otel.Tracer("repo.common_tasks")
	ctx, span := tracer.Start(ctx, "common_tasks.UpdateStatus")
	defer span.End()
	now := time.Now().UTC()
	var err error
	if errMsg != "" {
		q := `UPDATE common_tasks SET status=$2, error_message=$3, updated_at=$4 WHERE id=$1`
		_, err = r.Pool.Exec(ctx, q, id, status, domain.TruncateError(errMsg), now)
	} else {
		q := `UPDATE common_tasks SET status=$2, updated_at=$3 WHERE id=$1`
		_, err = r.Pool.Exec(ctx, q, id, status, now)
	}
	if err != nil {
		return fmt.Errorf("op=common_task.update_status: %w", err)
	}
	return nil
}

// ListStoppingIDs returns ids of common tasks in state stopping.
func (r *CommonTaskRepo) ListStoppingIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.common_tasks")
	ctx, span := tracer.Start(ctx, "common_tasks.ListStoppingIDs")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT id FROM common_tasks WHERE status=$1 AND COALESCE(is_deleted,false)=false`, domain.StatusStopping)
	if err != nil {
		return nil, fmt.Errorf("op=common_task.list_stopping: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=common_task.list_stopping: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=common_task.list_stopping: %w", err)
	}
	return ids, nil
}

// ListStale returns common tasks left in running or locked.
func (r *CommonTaskRepo) ListStale(ctx domain.Context) ([]domain.CommonTask, error) {
	tracer := otel.Tracer("repo.common_tasks")
	ctx, span := tracer.Start(ctx, "common_tasks.ListStale")
	defer span.End()
	q := `SELECT ` + commonTaskColumns + ` FROM common_tasks WHERE status = ANY($1)`
	rows, err := r.Pool.Query(ctx, q, []string{string(domain.StatusRunning), string(domain.StatusLocked)})
	if err != nil {
		return nil, fmt.Errorf("op=common_task.list_stale: %w", err)
	}
	defer rows.Close()
	var out []domain.CommonTask
	for rows.Next() {
		t, err := scanCommonTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=common_task.list_stale: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=common_task.list_stale: %w", err)
	}
	return out, nil
}
