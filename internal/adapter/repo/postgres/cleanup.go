package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService removes terminal tasks, their result rows, and their
// real-time samples once they age past the retention window.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes data older than the retention period. Only tasks in
// terminal states are eligible; running work is never touched.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)
	terminal := []string{"completed", "failed", "failed_requests", "stopped"}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, pair := range [][2]string{
		{"task_results", "tasks"},
		{"task_realtime_metrics", "tasks"},
		{"common_task_results", "common_tasks"},
		{"common_task_realtime_metrics", "common_tasks"},
	} {
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE task_id IN (SELECT id FROM %s WHERE created_at < $1 AND status = ANY($2))`,
			pair[0], pair[1]), cutoff, terminal)
		if err != nil {
			return fmt.Errorf("op=cleanup.%s: %w", pair[0], err)
		}
		total += tag.RowsAffected()
	}
	for _, table := range []string{"tasks", "common_tasks"} {
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE created_at < $1 AND status = ANY($2)`, table), cutoff, terminal)
		if err != nil {
			return fmt.Errorf("op=cleanup.%s: %w", table, err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}
	slog.Info("data cleanup completed", slog.Int64("deleted_rows", total), slog.Time("cutoff", cutoff))
	return nil
}

// RunPeriodic starts a periodic cleanup job.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
