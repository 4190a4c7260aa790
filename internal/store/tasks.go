package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskStore persists tasks and aggregates their progress per file.
// Obtain one via [Store.Tasks]. All methods are safe for concurrent use.
type TaskStore struct {
	pool *pgxpool.Pool
}

const taskColumns = `
	id, file_id, user_id, type, queue, status, progress, attempt,
	error_message, created_at, started_at, completed_at, heartbeat_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.FileID, &t.UserID, &t.Type, &t.Queue, &t.Status, &t.Progress,
		&t.Attempt, &t.ErrorMessage, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
		&t.HeartbeatAt,
	)
	return t, err
}

// Create inserts a new task in the QUEUED state. A zero t.ID is replaced
// with a fresh UUID.
func (s *TaskStore) Create(ctx context.Context, t Task) (Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}

	const q = `
		INSERT INTO tasks (id, file_id, user_id, type, queue, status, attempt)
		VALUES ($1, $2, $3, $4, $5, 'QUEUED', $6)
		RETURNING ` + taskColumns

	stored, err := scanTask(s.pool.QueryRow(ctx, q,
		t.ID, t.FileID, t.UserID, t.Type, t.Queue, t.Attempt,
	))
	if err != nil {
		return Task{}, fmt.Errorf("tasks: create: %w", err)
	}
	return stored, nil
}

// Get returns the task with the given ID, or [ErrNotFound].
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("tasks: get: %w", err)
	}
	return t, nil
}

// Start marks a QUEUED task RUNNING and stamps started_at. Starting an
// already-running or finished task returns [ErrNotFound] so a worker that
// claims a stale queue entry backs off instead of double-executing.
func (s *TaskStore) Start(ctx context.Context, id uuid.UUID) (Task, error) {
	const q = `
		UPDATE tasks
		SET    status = 'RUNNING', started_at = now(), heartbeat_at = now()
		WHERE  id = $1 AND status = 'QUEUED'
		RETURNING ` + taskColumns

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("tasks: start: %w", err)
	}
	return t, nil
}

// UpdateProgress bumps a running task's progress and heartbeat. Progress is
// clamped to [0,100] and never moves backwards.
func (s *TaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	const q = `
		UPDATE tasks
		SET    progress = GREATEST(progress, LEAST($2, 100)), heartbeat_at = now()
		WHERE  id = $1 AND status = 'RUNNING'`

	tag, err := s.pool.Exec(ctx, q, id, progress)
	if err != nil {
		return fmt.Errorf("tasks: update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat bumps heartbeat_at without touching progress. Long-running
// handlers that cannot report granular progress call this periodically so
// recovery does not mistake them for stuck.
func (s *TaskStore) Heartbeat(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE tasks SET heartbeat_at = now() WHERE id = $1 AND status = 'RUNNING'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("tasks: heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks the task COMPLETED with 100% progress.
func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID) (Task, error) {
	const q = `
		UPDATE tasks
		SET    status = 'COMPLETED', progress = 100, completed_at = now(), heartbeat_at = now()
		WHERE  id = $1 AND status IN ('QUEUED', 'RUNNING')
		RETURNING ` + taskColumns

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("tasks: complete: %w", err)
	}
	return t, nil
}

// Fail marks the task FAILED and records the classified error message.
func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, message string) (Task, error) {
	const q = `
		UPDATE tasks
		SET    status = 'FAILED', error_message = $2, completed_at = now(), heartbeat_at = now()
		WHERE  id = $1 AND status IN ('QUEUED', 'RUNNING')
		RETURNING ` + taskColumns

	t, err := scanTask(s.pool.QueryRow(ctx, q, id, message))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("tasks: fail: %w", err)
	}
	return t, nil
}

// Requeue resets a task back to QUEUED for another attempt, incrementing the
// attempt counter and clearing progress and error state.
func (s *TaskStore) Requeue(ctx context.Context, id uuid.UUID) (Task, error) {
	const q = `
		UPDATE tasks
		SET    status = 'QUEUED', progress = 0, attempt = attempt + 1,
		       error_message = '', started_at = NULL, completed_at = NULL,
		       heartbeat_at = now()
		WHERE  id = $1 AND status IN ('RUNNING', 'FAILED')
		RETURNING ` + taskColumns

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("tasks: requeue: %w", err)
	}
	return t, nil
}

// CancelForFile marks every active task of the file CANCELLED and returns
// how many were affected. Running handlers observe cancellation on their
// next progress update; this stops anything still queued.
func (s *TaskStore) CancelForFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	const q = `
		UPDATE tasks
		SET    status = 'CANCELLED', error_message = 'cancelled by user',
		       completed_at = now()
		WHERE  file_id = $1 AND status IN ('QUEUED', 'RUNNING')`

	tag, err := s.pool.Exec(ctx, q, fileID)
	if err != nil {
		return 0, fmt.Errorf("tasks: cancel for file: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListForFile returns all tasks of a file, oldest first.
func (s *TaskStore) ListForFile(ctx context.Context, fileID uuid.UUID) ([]Task, error) {
	const q = `SELECT ` + taskColumns + ` FROM tasks WHERE file_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, fileID)
	if err != nil {
		return nil, fmt.Errorf("tasks: list for file: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("tasks: scan rows: %w", err)
	}
	return tasks, nil
}

// ActiveCount returns the number of QUEUED or RUNNING tasks for the file.
func (s *TaskStore) ActiveCount(ctx context.Context, fileID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM tasks WHERE file_id = $1 AND status IN ('QUEUED', 'RUNNING')`

	var n int
	if err := s.pool.QueryRow(ctx, q, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("tasks: active count: %w", err)
	}
	return n, nil
}

// StaleRunning returns RUNNING tasks whose heartbeat is older than the
// cutoff. Recovery requeues or fails these depending on retry policy.
func (s *TaskStore) StaleRunning(ctx context.Context, cutoff time.Time) ([]Task, error) {
	const q = `
		SELECT ` + taskColumns + `
		FROM   tasks
		WHERE  status = 'RUNNING' AND heartbeat_at < $1
		ORDER  BY heartbeat_at`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("tasks: stale running: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("tasks: scan rows: %w", err)
	}
	return tasks, nil
}

// FileProgress computes the aggregate progress of a file as the mean
// progress over all of its non-cancelled tasks. Files with no tasks report 0.
func (s *TaskStore) FileProgress(ctx context.Context, fileID uuid.UUID) (float64, error) {
	const q = `
		SELECT COALESCE(avg(progress), 0)
		FROM   tasks
		WHERE  file_id = $1 AND status <> 'CANCELLED'`

	var p float64
	if err := s.pool.QueryRow(ctx, q, fileID).Scan(&p); err != nil {
		return 0, fmt.Errorf("tasks: file progress: %w", err)
	}
	return p, nil
}
