package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb), mr
}

func TestLock_Exclusive(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	release, acquired, err := l.Acquire(ctx, "beat:task_recovery", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("first acquire = %v, %v; want acquired", acquired, err)
	}

	_, again, err := l.Acquire(ctx, "beat:task_recovery", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if again {
		t.Fatal("second acquire succeeded while lock held")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, again, err = l.Acquire(ctx, "beat:task_recovery", time.Minute)
	if err != nil || !again {
		t.Fatalf("acquire after release = %v, %v; want acquired", again, err)
	}
}

func TestLock_ExpiresOnTTL(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	_, acquired, err := l.Acquire(ctx, "beat:orphan_cleanup", time.Second)
	if err != nil || !acquired {
		t.Fatalf("acquire = %v, %v; want acquired", acquired, err)
	}

	mr.FastForward(2 * time.Second)

	_, again, err := l.Acquire(ctx, "beat:orphan_cleanup", time.Second)
	if err != nil || !again {
		t.Fatalf("acquire after expiry = %v, %v; want acquired", again, err)
	}
}

func TestLock_StaleReleaseIsNoop(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	release, acquired, err := l.Acquire(ctx, "beat:update_gpu_stats", time.Second)
	if err != nil || !acquired {
		t.Fatalf("acquire = %v, %v; want acquired", acquired, err)
	}

	// The lock expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	_, again, err := l.Acquire(ctx, "beat:update_gpu_stats", time.Minute)
	if err != nil || !again {
		t.Fatalf("re-acquire = %v, %v; want acquired", again, err)
	}

	// The stale holder's release must not free the new holder's lock.
	if err := release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	_, taken, err := l.Acquire(ctx, "beat:update_gpu_stats", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if taken {
		t.Fatal("stale release freed a lock held by another token")
	}
}
