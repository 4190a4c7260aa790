package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueUnavailable is returned when the broker cannot reach redis.
// Submitters mark the task failed immediately rather than leaving a row that
// no worker will ever pick up.
var ErrQueueUnavailable = errors.New("queue: broker unavailable")

const (
	queueKeyPrefix = "verbatim:queue:"
	claimKeyPrefix = "verbatim:claims:"
)

func queueKey(queue string) string  { return queueKeyPrefix + queue }
func claimKey(worker string) string { return claimKeyPrefix + worker }

// Broker moves job envelopes through redis lists. All methods are safe for
// concurrent use.
type Broker struct {
	rdb *redis.Client
}

// NewBroker creates a Broker on an existing redis client.
func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Enqueue pushes a job onto its queue.
func (b *Broker) Enqueue(ctx context.Context, queue string, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := b.rdb.LPush(ctx, queueKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Claim is a job a worker has taken off a queue. The raw envelope stays on
// the worker's claim list until Ack or Requeue, so a crash between claim and
// completion leaves a discoverable trace.
type Claim struct {
	Job    Job
	raw    string
	worker string
	b      *Broker
}

// Claim blocks up to timeout for a job on the queue, atomically moving it to
// the worker's claim list. Returns (nil, nil) when the timeout passes with
// nothing to do.
func (b *Broker) Claim(ctx context.Context, queue, worker string, timeout time.Duration) (*Claim, error) {
	raw, err := b.rdb.BLMove(ctx, queueKey(queue), claimKey(worker), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim from %s: %w", queue, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Drop the poison envelope from the claim list so it cannot loop.
		b.rdb.LRem(ctx, claimKey(worker), 1, raw)
		return nil, fmt.Errorf("queue: undecodable job on %s: %w", queue, err)
	}
	return &Claim{Job: job, raw: raw, worker: worker, b: b}, nil
}

// Ack removes the finished job from the claim list.
func (c *Claim) Ack(ctx context.Context) error {
	if err := c.b.rdb.LRem(ctx, claimKey(c.worker), 1, c.raw).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// Requeue puts the job back on its queue and clears the claim. Used when a
// worker must give a job up without failing it (shutdown mid-claim).
func (c *Claim) Requeue(ctx context.Context, queue string) error {
	pipe := c.b.rdb.TxPipeline()
	pipe.LRem(ctx, claimKey(c.worker), 1, c.raw)
	pipe.LPush(ctx, queueKey(queue), c.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: requeue to %s: %w", queue, err)
	}
	return nil
}

// Depth returns the number of jobs waiting on a queue.
func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := b.rdb.LLen(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth of %s: %w", queue, err)
	}
	return n, nil
}

// ClaimWorkers lists the worker IDs that currently hold claim lists,
// including those of dead workers. Boot recovery walks these to find jobs
// that were claimed but never finished.
func (b *Broker) ClaimWorkers(ctx context.Context) ([]string, error) {
	var (
		workers []string
		cursor  uint64
	)
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, claimKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: scan claims: %w", err)
		}
		for _, k := range keys {
			workers = append(workers, strings.TrimPrefix(k, claimKeyPrefix))
		}
		if next == 0 {
			return workers, nil
		}
		cursor = next
	}
}

// OrphanedClaims returns the jobs sitting on a worker's claim list.
func (b *Broker) OrphanedClaims(ctx context.Context, worker string) ([]Job, error) {
	raws, err := b.rdb.LRange(ctx, claimKey(worker), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read claims of %s: %w", worker, err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DropClaims deletes a worker's claim list after its jobs have been dealt
// with.
func (b *Broker) DropClaims(ctx context.Context, worker string) error {
	if err := b.rdb.Del(ctx, claimKey(worker)).Err(); err != nil {
		return fmt.Errorf("queue: drop claims of %s: %w", worker, err)
	}
	return nil
}

// Ping checks broker connectivity. Suitable as a readiness checker.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}
