package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestBeat_FireExcludesReplicas(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	var runs atomic.Int32
	beat := Beat{
		Name:  "task_recovery",
		Every: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	// Two replicas ticking the same beat: only the first fire runs, the
	// second sees the held lock and skips.
	a := NewScheduler(locker, []Beat{beat}, nil)
	b := NewScheduler(locker, []Beat{beat}, nil)
	a.fire(ctx, beat)
	b.fire(ctx, beat)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestBeat_FireRefiresAfterTTL(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	var runs atomic.Int32
	beat := Beat{
		Name:  "orphan_cleanup",
		Every: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	s := NewScheduler(locker, []Beat{beat}, nil)
	s.fire(ctx, beat)
	mr.FastForward(time.Minute)
	s.fire(ctx, beat)

	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestBeat_FireRunsUnlockedWhenRedisDown(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	mr.Close()

	var runs atomic.Int32
	beat := Beat{
		Name:  "periodic_health_check",
		Every: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	NewScheduler(locker, []Beat{beat}, nil).fire(ctx, beat)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1; a down lock service must not stop beats", got)
	}
}
