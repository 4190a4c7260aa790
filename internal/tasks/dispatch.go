package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tobfr/verbatim/internal/errclass"
	"github.com/tobfr/verbatim/internal/notify"
	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/store"
)

// heartbeatInterval is how often a running task bumps its heartbeat row.
// Recovery treats anything silent past the stuck threshold as dead, so this
// only needs to be comfortably more frequent than that.
const heartbeatInterval = 30 * time.Second

// Dispatch is the [queue.Dispatcher] the worker pool runs. The outcome of
// every execution is recorded on the task row here; the worker acks the job
// regardless.
func (s *Service) Dispatch(ctx context.Context, job queue.Job) error {
	if sys, ok := s.system[job.Type]; ok {
		// System jobs have no task row; the beat lock already provides
		// single-flight and the outcome is only worth a log line.
		if err := sys(ctx); err != nil {
			s.log.Error("system task failed", "task_type", job.Type, "error", err)
		}
		return nil
	}

	task, err := s.store.Tasks.Start(ctx, job.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		// Cancelled, already executed, or the row is gone. Nothing to run.
		s.log.Info("skipping stale job", "task_id", job.TaskID, "task_type", job.Type)
		return nil
	}
	if err != nil {
		return err
	}

	handler, ok := s.handlers[task.Type]
	if !ok {
		s.recordFailure(ctx, task, errclass.Unknown)
		_, _ = s.store.Tasks.Fail(ctx, task.ID, "UNKNOWN: no handler for task type "+task.Type)
		return nil
	}

	stopHeartbeat := s.startHeartbeat(ctx, task.ID)
	started := time.Now()
	err = handler(ctx, task)
	stopHeartbeat()

	if s.metrics != nil {
		s.metrics.TaskDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(
				observe.Attr("queue", task.Queue),
				observe.Attr("task_type", task.Type)))
	}

	if err != nil {
		s.failTask(ctx, task, err)
		return nil
	}

	if _, err := s.store.Tasks.Complete(ctx, task.ID); err != nil {
		s.log.Error("complete task", "task_id", task.ID, "error", err)
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordTaskOutcome(ctx, task.Type, "completed")
	}
	s.syncFileProgress(ctx, task)
	s.publish(ctx, notify.EventTaskUpdate, task.UserID, task.FileID, map[string]any{
		"task_id":   task.ID,
		"task_type": task.Type,
		"status":    store.TaskCompleted,
	})
	return nil
}

// startHeartbeat bumps the task's heartbeat until the returned stop func is
// called. Uses a context detached from cancellation so a dying dispatch
// cannot strand a final write.
func (s *Service) startHeartbeat(ctx context.Context, taskID uuid.UUID) func() {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := s.store.Tasks.Heartbeat(hctx, taskID); err != nil {
					s.log.Warn("task heartbeat", "task_id", taskID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// failTask records a handler failure: classify, persist the classified
// message, retry within policy for retriable kinds, otherwise surface the
// failure on the file when the stage is pipeline-critical.
func (s *Service) failTask(ctx context.Context, task store.Task, taskErr error) {
	kind := errclass.Classify(taskErr)
	msg := errclass.Message(taskErr)

	if _, err := s.store.Tasks.Fail(ctx, task.ID, msg); err != nil {
		s.log.Error("fail task", "task_id", task.ID, "error", err)
		return
	}
	s.recordFailure(ctx, task, kind)
	s.log.Warn("task failed",
		"task_id", task.ID, "task_type", task.Type,
		"attempt", task.Attempt, "error_kind", kind, "error", taskErr)

	if kind.Retriable() {
		retry, err := s.store.Settings.ShouldRetry(ctx, task.Type, task.Attempt)
		if err != nil {
			s.log.Error("consult retry policy", "task_id", task.ID, "error", err)
		} else if retry {
			s.retryTask(ctx, task)
			return
		}
	}

	s.publish(ctx, notify.EventTaskUpdate, task.UserID, task.FileID, map[string]any{
		"task_id":   task.ID,
		"task_type": task.Type,
		"status":    store.TaskFailed,
		"message":   msg,
	})

	// Child stages are best-effort; only the pipeline spine takes the file
	// down with it.
	if task.Type != queue.TypeTranscription && task.Type != queue.TypeYouTubeDownload {
		return
	}
	f, err := s.store.Files.Fail(ctx, task.FileID, msg)
	if err != nil {
		s.log.Error("fail file", "file_id", task.FileID, "error", err)
		return
	}
	s.publishFileStatus(ctx, f)
}

func (s *Service) retryTask(ctx context.Context, task store.Task) {
	requeued, err := s.store.Tasks.Requeue(ctx, task.ID)
	if err != nil {
		s.log.Error("requeue task", "task_id", task.ID, "error", err)
		return
	}
	job := queue.Job{
		TaskID:  requeued.ID,
		FileID:  requeued.FileID,
		UserID:  requeued.UserID,
		Type:    requeued.Type,
		Attempt: requeued.Attempt,
	}
	if err := s.broker.Enqueue(ctx, task.Queue, job); err != nil {
		s.log.Error("enqueue retry", "task_id", task.ID, "error", err)
		_, _ = s.store.Tasks.Fail(ctx, task.ID, "PROCESSING_ERROR: queue unavailable during retry")
		return
	}
	if s.metrics != nil {
		s.metrics.TaskRetries.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("task_type", task.Type)))
	}
	s.log.Info("task retried",
		"task_id", task.ID, "task_type", task.Type, "attempt", requeued.Attempt)
}

// syncFileProgress recomputes the file's aggregate progress from its task
// rows and publishes it.
func (s *Service) syncFileProgress(ctx context.Context, task store.Task) {
	progress, err := s.store.Tasks.FileProgress(ctx, task.FileID)
	if err != nil {
		s.log.Warn("aggregate file progress", "file_id", task.FileID, "error", err)
		return
	}
	if err := s.store.Files.SetProgress(ctx, task.FileID, progress); err != nil {
		s.log.Warn("store file progress", "file_id", task.FileID, "error", err)
		return
	}
	s.publishProgress(ctx, task.UserID, task.FileID, progress)
}

func (s *Service) recordFailure(ctx context.Context, task store.Task, kind errclass.Kind) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTaskOutcome(ctx, task.Type, "failed")
	s.metrics.RecordTaskFailure(ctx, task.Type, string(kind))
}
