package queue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Beat is a named periodic job.
type Beat struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler fires beats on their intervals. Each firing takes a redis lock
// keyed by the beat name, so with several daemon replicas exactly one runs
// any given beat; the others skip that tick.
type Scheduler struct {
	locker *Locker
	beats  []Beat
	log    *slog.Logger
}

// NewScheduler creates a Scheduler. logger may be nil.
func NewScheduler(locker *Locker, beats []Beat, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{locker: locker, beats: beats, log: logger}
}

// Run blocks until ctx ends, ticking every beat on its own interval.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, beat := range s.beats {
		g.Go(func() error {
			s.runBeat(ctx, beat)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runBeat(ctx context.Context, beat Beat) {
	ticker := time.NewTicker(beat.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, beat)
		}
	}
}

// fire runs one tick of a beat under its lock. The lock is deliberately not
// released: its TTL spans the whole interval, so replicas with unaligned
// tickers cannot run the same beat twice within one period.
func (s *Scheduler) fire(ctx context.Context, beat Beat) {
	// TTL slightly under the interval so ticker drift on the holding replica
	// cannot make it skip its own next tick.
	ttl := beat.Every - beat.Every/10
	_, acquired, err := s.locker.Acquire(ctx, "beat:"+beat.Name, ttl)
	switch {
	case err != nil:
		// Locks are best-effort: a down redis must not silence recovery
		// beats, so run without the lock and accept a possible double run.
		s.log.Warn("beat lock unavailable, running unlocked", "beat", beat.Name, "error", err)
	case !acquired:
		s.log.Debug("beat held elsewhere, skipping", "beat", beat.Name)
		return
	}

	start := time.Now()
	if err := beat.Run(ctx); err != nil {
		s.log.Error("beat failed", "beat", beat.Name, "elapsed", time.Since(start), "error", err)
		return
	}
	s.log.Debug("beat done", "beat", beat.Name, "elapsed", time.Since(start))
}
