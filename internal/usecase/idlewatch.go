package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// IdleWatcher implements C3's shutdown half: it samples both lanes' queue
// depth on a fixed grid and stops the worker host after enough consecutive
// samples with an empty GPU lane (CPU-lane depth is recorded but does not
// affect the decision). It never starts the host — only Submit does that — and
// it accepts the shutdown-vs-enqueue race described in the design notes:
// a message that lands in the same window as a stop is recovered by
// redelivery plus the next admission's start call.
type IdleWatcher struct {
	Queue             domain.Queue
	Host              domain.WorkerController
	SampleInterval    time.Duration
	ConsecutiveEmpty  int
	Logger            *slog.Logger

	consecutive int
}

// Run blocks, sampling until ctx is cancelled.
func (w *IdleWatcher) Run(ctx context.Context) {
	interval := w.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	threshold := w.ConsecutiveEmpty
	if threshold <= 0 {
		threshold = 6
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sample(ctx, threshold)
		}
	}
}

func (w *IdleWatcher) sample(ctx context.Context, threshold int) {
	state, err := w.Host.State(ctx)
	if err != nil {
		w.Logger.Error("idle watcher: host state check failed", slog.Any("error", err))
		return
	}
	if state != domain.HostRunning {
		w.consecutive = 0
		return
	}

	gpuDepth, err := w.Queue.ApproximateDepth(ctx, domain.LaneGPU)
	if err != nil {
		w.Logger.Error("idle watcher: queue depth check failed", slog.Any("error", err), slog.String("lane", string(domain.LaneGPU)))
		return
	}
	cpuDepth, err := w.Queue.ApproximateDepth(ctx, domain.LaneCPU)
	if err != nil {
		w.Logger.Error("idle watcher: queue depth check failed", slog.Any("error", err), slog.String("lane", string(domain.LaneCPU)))
		return
	}
	observability.QueueDepth.WithLabelValues(string(domain.LaneGPU)).Set(float64(gpuDepth))
	observability.QueueDepth.WithLabelValues(string(domain.LaneCPU)).Set(float64(cpuDepth))

	// The alarm is scoped to the GPU lane specifically: the GPU host is
	// what idles down, and CPU-lane depth says nothing about whether the
	// GPU is doing anything.
	if gpuDepth > 0 {
		w.consecutive = 0
		return
	}

	w.consecutive++
	w.Logger.Debug("idle watcher: empty sample", slog.Int("consecutive", w.consecutive), slog.Int("threshold", threshold))
	if w.consecutive < threshold {
		return
	}

	w.Logger.Info("idle watcher: stopping worker host", slog.Int("consecutive_empty_samples", w.consecutive))
	if err := w.Host.Stop(ctx); err != nil {
		w.Logger.Error("idle watcher: host stop failed", slog.Any("error", err))
		return
	}
	observability.HostStopsTotal.Inc()
	w.consecutive = 0
}
