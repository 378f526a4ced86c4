package storage

import (
	"context"
	"time"

	"github.com/salonops/booker/internal/scheduler"
	"github.com/salonops/booker/libs/db"
)

// taskLease bounds how long a claimed task may sit in 'processing'.
// A worker that crashes after claiming never reports back, so FetchDue
// reclaims rows whose claim is older than the lease. Task handlers are
// idempotent, so a slow worker racing its own reclaimed task only
// causes a duplicate attempt, not a duplicate effect.
const taskLease = 5 * time.Minute

// TaskRepository is the durable scheduler queue. FetchDue claims rows
// with SKIP LOCKED so multiple instances can drain the same table.
type TaskRepository struct {
	pool *db.Pool
}

func NewTaskRepository(pool *db.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) Enqueue(ctx context.Context, task scheduler.Task) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO scheduler_tasks (kind, category, idempotency_key, payload, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, string(task.Kind), string(task.Kind.Category()), task.IdempotencyKey, task.Payload, task.MaxAttempts, task.RunAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TaskRepository) FetchDue(ctx context.Context, category scheduler.Category, now time.Time, limit int) ([]scheduler.Task, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE scheduler_tasks
		SET status = 'processing', updated_at = $2
		WHERE id IN (
			SELECT id FROM scheduler_tasks
			WHERE category = $1
				AND ((status = 'pending' AND run_at <= $2)
					OR (status = 'processing' AND updated_at <= $3))
			ORDER BY run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, idempotency_key, payload, attempts, max_attempts, run_at
	`, string(category), now, now.Add(-taskLease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []scheduler.Task
	for rows.Next() {
		var t scheduler.Task
		var kind string
		if err := rows.Scan(&t.ID, &kind, &t.IdempotencyKey, &t.Payload, &t.Attempts, &t.MaxAttempts, &t.RunAt); err != nil {
			return nil, err
		}
		t.Kind = scheduler.Kind(kind)
		tasks = append(tasks, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tasks, nil
}

func (r *TaskRepository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduler_tasks
		SET status = 'done', updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *TaskRepository) Reschedule(ctx context.Context, id int64, attempts int, runAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduler_tasks
		SET status = 'pending',
			attempts = $2,
			run_at = $3,
			last_error = $4,
			updated_at = now()
		WHERE id = $1
	`, id, attempts, runAt, lastError)
	return err
}

func (r *TaskRepository) MarkExhausted(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduler_tasks
		SET status = 'failed',
			attempts = $2,
			last_error = $3,
			updated_at = now()
		WHERE id = $1
	`, id, attempts, lastError)
	return err
}
