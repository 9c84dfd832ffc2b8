// Package usecase implements the orchestrator's application services: the
// façade's admission and status logic (C4), and the worker-side adapter
// loop and idle watcher (C5/C3) live in sibling files of this package.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/audit/kafkabus"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// AdmitService implements C4's submit and get_status operations.
type AdmitService struct {
	Jobs    domain.JobStore
	Queue   domain.Queue
	Host    domain.WorkerController
	Retries RetryConfig
	Logger  *slog.Logger
	// Audit is optional; when set, every admitted job is published as an
	// event for downstream analytics. Publish failures never affect
	// admission.
	Audit *kafkabus.Bus
}

// RetryConfig bounds the single extra attempt C4/C5 make against the job
// store before treating a miss as authoritative (spec: ">=1s backoff").
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// Submit admits a new job: validates the job type, checks idempotency,
// persists a pending record, enqueues it, and starts the worker host. It
// must return within about a second — Enqueue and Start are both
// non-blocking by contract of their ports.
func (s *AdmitService) Submit(ctx context.Context, jobType string, body json.RawMessage, idempotencyKey string) (domain.Job, error) {
	if !domain.KnownJobTypes[jobType] {
		return domain.Job{}, fmt.Errorf("job type %q: %w", jobType, domain.ErrInvalidArgument)
	}

	if idempotencyKey != "" {
		existing, err := s.Jobs.FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Job{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	lane := domain.LaneForJobType(jobType)
	now := time.Now().UTC()
	job := domain.Job{
		ID:             uuid.NewString(),
		Status:         domain.JobPending,
		JobType:        jobType,
		Lane:           lane,
		RequestBody:    body,
		CreatedAt:      now,
		UpdatedAt:      now,
		IdempotencyKey: idempotencyKey,
	}

	if err := s.Jobs.Create(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := s.Queue.Enqueue(ctx, lane, job.ID, jobType, body); err != nil {
		// The job row exists but no one will ever pick it up: fail it in
		// place rather than leaving a pending record nobody will process.
		markErr := s.Jobs.Update(ctx, job.ID, func(j *domain.Job) error {
			j.Status = domain.JobFailed
			j.ErrorMessage = "enqueue failed"
			return nil
		})
		if markErr != nil {
			s.Logger.Error("failed to mark job failed after enqueue error",
				slog.String("job_id", job.ID), slog.Any("error", markErr))
		}
		return domain.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	if err := s.Host.Start(ctx); err != nil {
		// The job is durably queued; a host start failure is logged but
		// not fatal to admission; redelivery and the next submit's start
		// call both still give the job a chance to run.
		s.Logger.Error("worker host start failed", slog.String("job_id", job.ID), slog.Any("error", err))
	} else {
		observability.HostStartsTotal.Inc()
	}

	if s.Audit != nil {
		s.Audit.Publish(ctx, kafkabus.Event{
			JobID: job.ID, Lane: job.Lane, Status: job.Status, Timestamp: now,
		})
	}

	return job, nil
}

// GetStatus reads a job record, retrying once on a not-found miss to
// absorb backend read-after-write lag per spec.
func (s *AdmitService) GetStatus(ctx context.Context, id string) (domain.Job, error) {
	job, err := s.Jobs.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Job{}, err
	}

	attempts := s.Retries.Attempts
	backoff := s.Retries.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-time.After(backoff):
		}
		job, err = s.Jobs.Get(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Job{}, err
		}
	}
	return domain.Job{}, err
}
