package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// claimTimeout is how long a worker blocks on an empty queue before checking
// its context again.
const claimTimeout = 5 * time.Second

// Dispatcher executes a claimed job. It owns the task's database state: on
// error the job is still acked off the claim list, because the dispatcher is
// expected to have recorded the failure (retry or terminal) itself.
type Dispatcher func(ctx context.Context, job Job) error

// Pool runs the per-queue worker goroutines of one daemon replica.
type Pool struct {
	router   *Router
	broker   *Broker
	dispatch Dispatcher
	workerID string
	log      *slog.Logger

	// TaskDeadline bounds a single job execution. Zero means no deadline.
	TaskDeadline time.Duration

	// AfterTask, when set, runs after every job completes regardless of
	// outcome. The daemon uses it to reset pooled database connections that
	// a killed GPU process may have left half-dead.
	AfterTask func(ctx context.Context)
}

// NewPool creates a worker pool. workerID must be unique per live process
// (the daemon uses hostname + pid); it names the claim list crash recovery
// inspects.
func NewPool(router *Router, broker *Broker, dispatch Dispatcher, workerID string, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		router:   router,
		broker:   broker,
		dispatch: dispatch,
		workerID: workerID,
		log:      logger,
	}
}

// WorkerID returns the pool's claim-list identity.
func (p *Pool) WorkerID() string { return p.workerID }

// Run starts every queue's workers and blocks until ctx ends. Each queue
// gets Concurrency(queue) slots enforced by a weighted semaphore, so a queue
// briefly over-claiming during shutdown cannot exceed its budget.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, queue := range Queues() {
		n := p.router.Concurrency(queue)
		if n < 1 {
			continue
		}
		g.Go(func() error {
			return p.runQueue(ctx, queue, n)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

// runQueue claims jobs for one queue and dispatches them onto its slots.
func (p *Pool) runQueue(ctx context.Context, queue string, slots int) error {
	sem := semaphore.NewWeighted(int64(slots))
	p.log.Info("queue workers started", "queue", queue, "slots", slots)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		claim, err := p.broker.Claim(ctx, queue, p.workerID, claimTimeout)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("claim failed", "queue", queue, "error", err)
			// Back off briefly so a down redis does not spin the loop hot.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if claim == nil {
			sem.Release(1)
			continue
		}

		go func() {
			defer sem.Release(1)
			p.execute(ctx, queue, claim)
		}()
	}
}

// execute runs one claimed job and always clears the claim afterwards.
func (p *Pool) execute(ctx context.Context, queue string, claim *Claim) {
	job := claim.Job
	log := p.log.With("queue", queue, "task_id", job.TaskID, "task_type", job.Type)

	runCtx := ctx
	if p.TaskDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.TaskDeadline)
		defer cancel()
	}

	start := time.Now()
	err := p.safeDispatch(runCtx, job)
	if err != nil {
		log.Warn("task failed", "attempt", job.Attempt, "elapsed", time.Since(start), "error", err)
	} else {
		log.Info("task done", "elapsed", time.Since(start))
	}

	// Ack even on failure: the dispatcher recorded the outcome in the task
	// row, and retries re-enter through a fresh enqueue.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := claim.Ack(ackCtx); err != nil {
		log.Error("ack failed, claim left for boot recovery", "error", err)
	}

	if p.AfterTask != nil {
		p.AfterTask(ackCtx)
	}
}

// safeDispatch shields the pool from a panicking handler.
func (p *Pool) safeDispatch(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return p.dispatch(ctx, job)
}
