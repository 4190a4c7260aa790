package tasks

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"

	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/queue"
)

// GPUSample is one device reading from a [GPUProber].
type GPUSample struct {
	Device         string
	UtilizationPct int64
	MemoryUsedMiB  int64
}

// GPUProber reads GPU device stats. Deployments without GPUs, or without a
// stats sidecar, use [NoopProber].
type GPUProber interface {
	Sample(ctx context.Context) ([]GPUSample, error)
}

// NoopProber reports no devices.
type NoopProber struct{}

func (NoopProber) Sample(context.Context) ([]GPUSample, error) { return nil, nil }

// runHealthCheck pings every backing service and logs the outcome. The beat
// exists for the operator's log trail; the /readyz endpoint does the same
// checks on demand.
func (s *Service) runHealthCheck(ctx context.Context) error {
	var failed []error
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			failed = append(failed, err)
			s.log.Error("health check failed", "dependency", name, "error", err)
		}
	}
	check("postgres", s.store.Ping)
	check("redis", s.broker.Ping)
	check("object-store", s.blobs.Ping)

	for _, q := range queue.Queues() {
		depth, err := s.broker.Depth(ctx, q)
		if err != nil {
			continue
		}
		s.log.Debug("queue depth", "queue", q, "depth", depth)
	}

	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	s.log.Info("health check passed")
	return nil
}

// runGPUStats samples the prober and records the device gauges.
func (s *Service) runGPUStats(ctx context.Context) error {
	samples, err := s.gpu.Sample(ctx)
	if err != nil {
		return err
	}
	if s.metrics == nil {
		return nil
	}
	for _, sm := range samples {
		attrs := metric.WithAttributes(observe.Attr("device", sm.Device))
		s.metrics.GPUUtilization.Record(ctx, sm.UtilizationPct, attrs)
		s.metrics.GPUMemoryUsed.Record(ctx, sm.MemoryUsedMiB, attrs)
	}
	return nil
}
