// Package recovery brings the pipeline back to a consistent state after
// crashes: tasks interrupted by a restart are failed and their files
// relaunched from the start, tasks whose heartbeat went silent are failed
// along with their file, files stuck in PROCESSING are reset up to the
// retry-policy budget and then orphaned, and aged orphans are flagged for
// force deletion.
//
// Detection is read-only and reconciliation applies findings item by item; a
// failure on one item is logged and counted, never aborts the pass.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/config"
	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/store"
)

// interruptedMessage marks tasks a restart cut short. Surfaced verbatim in
// the task history so the user can tell a crash from a processing failure.
const interruptedMessage = "PROCESSING_ERROR: Task interrupted by system restart"

// stuckMessage marks tasks whose heartbeat went silent while the worker was
// presumed alive.
const stuckMessage = "PROCESSING_ERROR: Task recovered after being stuck in processing"

// FileStore is the slice of the media file store recovery needs.
type FileStore interface {
	Get(ctx context.Context, id uuid.UUID) (store.MediaFile, error)
	StuckSince(ctx context.Context, cutoff time.Time) ([]store.MediaFile, error)
	AbandonedSince(ctx context.Context, cutoff time.Time) ([]store.MediaFile, error)
	OrphanedSince(ctx context.Context, cutoff time.Time) ([]store.MediaFile, error)
	InconsistentProcessing(ctx context.Context) ([]store.MediaFile, error)
	ResetForRecovery(ctx context.Context, id uuid.UUID) (store.MediaFile, error)
	RecordRecoveryAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Transition(ctx context.Context, id uuid.UUID, to store.FileStatus) (store.MediaFile, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (store.MediaFile, error)
	SetForceDeleteEligible(ctx context.Context, id uuid.UUID) error
}

// TaskStore is the slice of the task store recovery needs.
type TaskStore interface {
	StaleRunning(ctx context.Context, cutoff time.Time) ([]store.Task, error)
	Get(ctx context.Context, id uuid.UUID) (store.Task, error)
	Fail(ctx context.Context, id uuid.UUID, message string) (store.Task, error)
	ActiveCount(ctx context.Context, fileID uuid.UUID) (int, error)
	ListForFile(ctx context.Context, fileID uuid.UUID) ([]store.Task, error)
}

// RetryPolicy decides whether a task type has retry budget left.
type RetryPolicy interface {
	ShouldRetry(ctx context.Context, taskType string, attempt int) (bool, error)
}

// ClaimBroker is the slice of the queue broker boot recovery needs.
type ClaimBroker interface {
	ClaimWorkers(ctx context.Context) ([]string, error)
	OrphanedClaims(ctx context.Context, worker string) ([]queue.Job, error)
	DropClaims(ctx context.Context, worker string) error
}

// Resubmitter relaunches a reset file's pipeline. Implemented by the tasks
// package; injected to keep recovery free of handler wiring.
type Resubmitter func(ctx context.Context, file store.MediaFile) error

// Notifier publishes a recovery event for the file's owner. May be nil.
type Notifier func(ctx context.Context, file store.MediaFile, action string)

// Recoverer runs the recovery passes.
type Recoverer struct {
	files  FileStore
	tasks  TaskStore
	retry  RetryPolicy
	broker ClaimBroker

	cfg      config.RecoveryConfig
	resubmit Resubmitter
	notify   Notifier
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New creates a Recoverer. notify may be nil; metrics may be nil to skip
// recording; logger may be nil.
func New(
	files FileStore,
	tasks TaskStore,
	retry RetryPolicy,
	broker ClaimBroker,
	cfg config.RecoveryConfig,
	resubmit Resubmitter,
	notify Notifier,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{
		files:    files,
		tasks:    tasks,
		retry:    retry,
		broker:   broker,
		cfg:      cfg,
		resubmit: resubmit,
		notify:   notify,
		metrics:  metrics,
		log:      logger,
	}
}

func (r *Recoverer) record(ctx context.Context, action string) {
	if r.metrics != nil {
		r.metrics.RecordRecoveryAction(ctx, action)
	}
}

// RecoverBoot reconciles jobs left on the claim lists of workers other than
// current. Each interrupted task is failed with a restart message and its
// file — if it was mid-pipeline — is reset to PENDING and relaunched from
// the start, so a half-done transcription never silently resumes. Called
// once on startup, before the worker pool begins claiming.
func (r *Recoverer) RecoverBoot(ctx context.Context, current string) error {
	workers, err := r.broker.ClaimWorkers(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list claim workers: %w", err)
	}

	resubmitted := make(map[uuid.UUID]bool)
	for _, worker := range workers {
		if worker == current {
			continue
		}
		jobs, err := r.broker.OrphanedClaims(ctx, worker)
		if err != nil {
			r.log.Error("read orphaned claims", "worker", worker, "error", err)
			continue
		}
		recovered := 0
		for _, job := range jobs {
			if err := r.recoverClaim(ctx, job, resubmitted); err != nil {
				r.log.Error("recover orphaned claim",
					"worker", worker, "task_id", job.TaskID, "error", err)
				continue
			}
			recovered++
		}
		if err := r.broker.DropClaims(ctx, worker); err != nil {
			r.log.Error("drop claim list", "worker", worker, "error", err)
			continue
		}
		r.log.Info("recovered dead worker's claims",
			"worker", worker, "recovered", recovered, "total", len(jobs))
	}
	return nil
}

// recoverClaim reconciles one job a dead worker never finished. resubmitted
// dedupes relaunches when several tasks of the same file were in flight.
func (r *Recoverer) recoverClaim(ctx context.Context, job queue.Job, resubmitted map[uuid.UUID]bool) error {
	task, err := r.tasks.Get(ctx, job.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		// Beat-fired system jobs have no task row; the next tick redoes them.
		return nil
	}
	if err != nil {
		return err
	}
	if !task.Status.Active() {
		// Finished while the claim lingered; nothing to redo.
		return nil
	}

	if _, err := r.tasks.Fail(ctx, task.ID, interruptedMessage); err != nil {
		return err
	}
	r.record(ctx, "task_interrupted")

	// Only pipeline entry points relaunch the file. Downstream stages
	// (waveform, summaries) are re-created by the fresh run.
	if task.Type != queue.TypeTranscription && task.Type != queue.TypeYouTubeDownload {
		return nil
	}
	if task.FileID == uuid.Nil || resubmitted[task.FileID] {
		return nil
	}

	f, err := r.files.Get(ctx, task.FileID)
	if err != nil {
		return err
	}
	switch f.Status {
	case store.StatusProcessing:
		if f, err = r.files.ResetForRecovery(ctx, f.ID); err != nil {
			return err
		}
	case store.StatusPending:
		// Interrupted before the first task started; resubmit as-is.
	default:
		// Terminal or winding down; leave it alone.
		return nil
	}

	resubmitted[task.FileID] = true
	if r.resubmit != nil {
		if err := r.resubmit(ctx, f); err != nil {
			return err
		}
	}
	r.record(ctx, "boot_resubmitted")
	if r.notify != nil {
		r.notify(ctx, f, "boot_resubmitted")
	}
	r.log.Warn("interrupted file relaunched after restart",
		"file_id", f.ID, "task_id", task.ID, "task_type", task.Type)
	return nil
}

// Run executes one full recovery pass: stale tasks, inconsistent files,
// stuck files, abandoned files. Suitable as the task_recovery beat body.
// Inconsistency reconciliation runs before the stuck pass so a file whose
// tasks all finished is settled from the task aggregate, not reset.
func (r *Recoverer) Run(ctx context.Context) error {
	now := time.Now()
	r.recoverStaleTasks(ctx, now.Add(-r.cfg.StuckThreshold))
	r.recoverInconsistentFiles(ctx)
	r.recoverStuckFiles(ctx, now.Add(-r.cfg.StuckThreshold))
	r.recoverAbandonedFiles(ctx, now.Add(-r.cfg.AbandonedThreshold))
	return nil
}

// RunOrphanCleanup flags ORPHANED files older than the orphan threshold as
// force-delete eligible. Suitable as the orphan_cleanup beat body.
func (r *Recoverer) RunOrphanCleanup(ctx context.Context) error {
	files, err := r.files.OrphanedSince(ctx, time.Now().Add(-r.cfg.OrphanThreshold))
	if err != nil {
		return fmt.Errorf("recovery: list aged orphans: %w", err)
	}
	for _, f := range files {
		if f.ForceDeleteEligible {
			continue
		}
		if err := r.files.SetForceDeleteEligible(ctx, f.ID); err != nil {
			r.log.Error("flag orphan for deletion", "file_id", f.ID, "error", err)
			continue
		}
		r.record(ctx, "force_delete_eligible")
		r.log.Info("orphan eligible for force deletion", "file_id", f.ID)
	}
	return nil
}

// recoverStaleTasks fails RUNNING tasks whose heartbeat went silent. When
// the failed task was the file's last active one, the file fails with the
// same message; otherwise the surviving tasks keep it in PROCESSING.
func (r *Recoverer) recoverStaleTasks(ctx context.Context, cutoff time.Time) {
	stale, err := r.tasks.StaleRunning(ctx, cutoff)
	if err != nil {
		r.log.Error("list stale tasks", "error", err)
		return
	}
	for _, task := range stale {
		if _, err := r.tasks.Fail(ctx, task.ID, stuckMessage); err != nil {
			r.log.Error("fail stale task", "task_id", task.ID, "error", err)
			continue
		}
		r.record(ctx, "task_failed")
		r.log.Warn("stale task failed",
			"task_id", task.ID, "task_type", task.Type, "attempt", task.Attempt)

		if task.FileID == uuid.Nil {
			continue
		}
		active, err := r.tasks.ActiveCount(ctx, task.FileID)
		if err != nil {
			r.log.Error("count active tasks", "file_id", task.FileID, "error", err)
			continue
		}
		if active > 0 {
			continue
		}
		failed, err := r.files.Fail(ctx, task.FileID, stuckMessage)
		if err != nil {
			r.log.Error("fail file of stale task", "file_id", task.FileID, "error", err)
			continue
		}
		r.record(ctx, "file_failed")
		if r.notify != nil {
			r.notify(ctx, failed, "file_failed")
		}
	}
}

// recoverInconsistentFiles settles PROCESSING files none of whose tasks is
// active anymore: any completed task completes the file, an all-failed task
// set fails it with the last failure's message.
func (r *Recoverer) recoverInconsistentFiles(ctx context.Context) {
	files, err := r.files.InconsistentProcessing(ctx)
	if err != nil {
		r.log.Error("list inconsistent files", "error", err)
		return
	}
	for _, f := range files {
		tasks, err := r.tasks.ListForFile(ctx, f.ID)
		if err != nil {
			r.log.Error("list tasks of inconsistent file", "file_id", f.ID, "error", err)
			continue
		}

		completed := false
		lastError := ""
		for _, t := range tasks {
			switch t.Status {
			case store.TaskCompleted:
				completed = true
			case store.TaskFailed:
				if t.ErrorMessage != "" {
					lastError = t.ErrorMessage
				}
			}
		}

		if completed {
			done, err := r.files.Transition(ctx, f.ID, store.StatusCompleted)
			if err != nil {
				r.log.Error("complete inconsistent file", "file_id", f.ID, "error", err)
				continue
			}
			r.record(ctx, "inconsistent_completed")
			if r.notify != nil {
				r.notify(ctx, done, "inconsistent_completed")
			}
			r.log.Warn("inconsistent file settled as completed", "file_id", f.ID)
			continue
		}

		if lastError == "" {
			lastError = "PROCESSING_ERROR: all tasks failed"
		}
		failed, err := r.files.Fail(ctx, f.ID, lastError)
		if err != nil {
			r.log.Error("fail inconsistent file", "file_id", f.ID, "error", err)
			continue
		}
		r.record(ctx, "inconsistent_failed")
		if r.notify != nil {
			r.notify(ctx, failed, "inconsistent_failed")
		}
		r.log.Warn("inconsistent file settled as failed", "file_id", f.ID)
	}
}

// recoverStuckFiles resets PROCESSING files with no live heartbeat. A file
// past its recovery budget is failed and orphaned instead.
func (r *Recoverer) recoverStuckFiles(ctx context.Context, cutoff time.Time) {
	stuck, err := r.files.StuckSince(ctx, cutoff)
	if err != nil {
		r.log.Error("list stuck files", "error", err)
		return
	}
	for _, f := range stuck {
		r.recoverFile(ctx, f, "stuck")
	}
}

// recoverAbandonedFiles resets PROCESSING files that have no active tasks at
// all, applying the same attempt budget as the stuck pass.
func (r *Recoverer) recoverAbandonedFiles(ctx context.Context, cutoff time.Time) {
	abandoned, err := r.files.AbandonedSince(ctx, cutoff)
	if err != nil {
		r.log.Error("list abandoned files", "error", err)
		return
	}
	for _, f := range abandoned {
		r.recoverFile(ctx, f, "abandoned")
	}
}

// recoverFile resets one detected file, or orphans it once the retry budget
// is spent. The budget comes from the retry policy store, keyed by the
// transcription type since that is the stage recovery relaunches; the
// static config cap is the fallback when the store is unreachable.
func (r *Recoverer) recoverFile(ctx context.Context, f store.MediaFile, reason string) {
	retry, err := r.retry.ShouldRetry(ctx, queue.TypeTranscription, f.RecoveryAttempts)
	if err != nil {
		r.log.Error("consult retry policy", "file_id", f.ID, "error", err)
		retry = f.RecoveryAttempts < r.cfg.MaxAttempts
	}
	if !retry {
		r.orphanFile(ctx, f, reason)
		return
	}

	reset, err := r.files.ResetForRecovery(ctx, f.ID)
	if err != nil {
		r.log.Error("reset file", "file_id", f.ID, "reason", reason, "error", err)
		return
	}
	if r.resubmit != nil {
		if err := r.resubmit(ctx, reset); err != nil {
			r.log.Error("resubmit reset file", "file_id", f.ID, "error", err)
			return
		}
	}
	r.record(ctx, reason+"_reset")
	if r.notify != nil {
		r.notify(ctx, reset, reason+"_reset")
	}
	r.log.Info("file reset for recovery",
		"file_id", f.ID, "reason", reason, "attempt", reset.RecoveryAttempts)
}

// orphanFile retires a file whose recovery budget is spent. The detection
// still counts as an attempt, the file fails, moves to ORPHANED, and is
// immediately eligible for force deletion.
func (r *Recoverer) orphanFile(ctx context.Context, f store.MediaFile, reason string) {
	attempts, err := r.files.RecordRecoveryAttempt(ctx, f.ID)
	if err != nil {
		r.log.Error("record recovery attempt", "file_id", f.ID, "error", err)
		attempts = f.RecoveryAttempts
	}
	failed, err := r.files.Fail(ctx, f.ID,
		"PROCESSING_ERROR: processing stalled repeatedly, recovery attempts exhausted")
	if err != nil {
		r.log.Error("fail exhausted file", "file_id", f.ID, "error", err)
		return
	}
	orphaned, err := r.files.Transition(ctx, failed.ID, store.StatusOrphaned)
	if err != nil {
		r.log.Error("orphan exhausted file", "file_id", f.ID, "error", err)
		return
	}
	if err := r.files.SetForceDeleteEligible(ctx, orphaned.ID); err != nil {
		r.log.Error("flag orphan for deletion", "file_id", f.ID, "error", err)
	}
	r.record(ctx, "orphaned")
	if r.notify != nil {
		r.notify(ctx, orphaned, "orphaned")
	}
	r.log.Warn("file orphaned after exhausting recovery attempts",
		"file_id", f.ID, "reason", reason, "attempts", attempts)
}
