package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBroker(rdb)
}

func TestEnqueueClaimAck(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := Job{TaskID: uuid.New(), Type: TypeWaveform, Attempt: 1}
	if err := b.Enqueue(ctx, CPU, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := b.Depth(ctx, CPU)
	if err != nil || depth != 1 {
		t.Fatalf("depth = %d, %v; want 1", depth, err)
	}

	claim, err := b.Claim(ctx, CPU, "worker-1", time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim == nil {
		t.Fatal("claim = nil, want job")
	}
	if claim.Job.TaskID != job.TaskID || claim.Job.Type != TypeWaveform {
		t.Errorf("claimed job = %+v, want %+v", claim.Job, job)
	}

	// The job moved from the queue to the claim list.
	if depth, _ = b.Depth(ctx, CPU); depth != 0 {
		t.Errorf("depth after claim = %d, want 0", depth)
	}
	claims, err := b.OrphanedClaims(ctx, "worker-1")
	if err != nil || len(claims) != 1 {
		t.Fatalf("claims = %v, %v; want 1 entry", claims, err)
	}

	if err := claim.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	claims, _ = b.OrphanedClaims(ctx, "worker-1")
	if len(claims) != 0 {
		t.Errorf("claims after ack = %v, want empty", claims)
	}
}

func TestClaim_EmptyQueueTimesOut(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	claim, err := b.Claim(ctx, NLP, "worker-1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim != nil {
		t.Fatalf("claim = %+v, want nil on empty queue", claim)
	}
}

func TestRequeue(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := Job{TaskID: uuid.New(), Type: TypeSummarization, Attempt: 1}
	if err := b.Enqueue(ctx, NLP, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claim, err := b.Claim(ctx, NLP, "worker-1", time.Second)
	if err != nil || claim == nil {
		t.Fatalf("claim: %v", err)
	}

	if err := claim.Requeue(ctx, NLP); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	if depth, _ := b.Depth(ctx, NLP); depth != 1 {
		t.Errorf("depth after requeue = %d, want 1", depth)
	}
	claims, _ := b.OrphanedClaims(ctx, "worker-1")
	if len(claims) != 0 {
		t.Errorf("claims after requeue = %v, want empty", claims)
	}
}

func TestClaimWorkers_FindsDeadWorkers(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	// Two workers claim and never ack — the crash scenario.
	for i, worker := range []string{"host-a:1", "host-b:2"} {
		job := Job{TaskID: uuid.New(), Type: TypeTranscription, Attempt: i + 1}
		if err := b.Enqueue(ctx, GPU, job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := b.Claim(ctx, GPU, worker, time.Second); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}

	workers, err := b.ClaimWorkers(ctx)
	if err != nil {
		t.Fatalf("claim workers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("workers = %v, want 2", workers)
	}

	for _, w := range workers {
		jobs, err := b.OrphanedClaims(ctx, w)
		if err != nil || len(jobs) != 1 {
			t.Errorf("claims of %s = %v, %v; want 1", w, jobs, err)
		}
		if err := b.DropClaims(ctx, w); err != nil {
			t.Errorf("drop claims: %v", err)
		}
	}

	workers, _ = b.ClaimWorkers(ctx)
	if len(workers) != 0 {
		t.Errorf("workers after drop = %v, want empty", workers)
	}
}

func TestClaim_PoisonEnvelopeDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewBroker(rdb)
	ctx := context.Background()

	if err := rdb.LPush(ctx, queueKey(CPU), "{not json").Err(); err != nil {
		t.Fatalf("push garbage: %v", err)
	}

	_, err := b.Claim(ctx, CPU, "worker-1", time.Second)
	if err == nil {
		t.Fatal("expected error for poison envelope")
	}
	// The poison message must not stay on the claim list.
	claims, _ := b.OrphanedClaims(ctx, "worker-1")
	if len(claims) != 0 {
		t.Errorf("claims = %v, want empty", claims)
	}
}
