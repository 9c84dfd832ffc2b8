package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// StuckJobSweeper force-fails jobs that have sat in processing too long,
// guarding against a worker adapter crash leaving a job record orphaned
// after its queue message already expired and redelivered elsewhere. It
// is a defensive net beyond the core mechanism (queue redelivery), not a
// replacement for it.
type StuckJobSweeper struct {
	Jobs           domain.JobStore
	MaxProcessingAge time.Duration
	Interval       time.Duration
	Logger         *slog.Logger
}

// NewStuckJobSweeper builds a sweeper, defaulting Interval to a quarter of
// maxAge (bounded to at least one minute) when interval is zero.
func NewStuckJobSweeper(jobs domain.JobStore, maxAge, interval time.Duration, logger *slog.Logger) *StuckJobSweeper {
	if maxAge <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = maxAge / 4
		if interval < time.Minute {
			interval = time.Minute
		}
	}
	return &StuckJobSweeper{Jobs: jobs, MaxProcessingAge: maxAge, Interval: interval, Logger: logger}
}

// Run blocks, sweeping on Interval until ctx is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweep(ctx context.Context) {
	jobs, err := s.Jobs.QueryByStatus(ctx, domain.JobProcessing, 200)
	if err != nil {
		s.Logger.Error("stuck job sweep: query failed", slog.Any("error", err))
		return
	}
	cutoff := time.Now().Add(-s.MaxProcessingAge)
	for _, job := range jobs {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		err := s.Jobs.Update(ctx, job.ID, func(j *domain.Job) error {
			if j.Status != domain.JobProcessing {
				return nil
			}
			j.Status = domain.JobFailed
			j.ErrorMessage = "stuck in processing past max age"
			return nil
		})
		if err != nil {
			s.Logger.Error("stuck job sweep: update failed", slog.String("job_id", job.ID), slog.Any("error", err))
			continue
		}
		s.Logger.Warn("stuck job force-failed", slog.String("job_id", job.ID), slog.Time("last_updated", job.UpdatedAt))
	}
}
