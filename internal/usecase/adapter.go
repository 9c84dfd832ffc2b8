package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/audit/kafkabus"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// WorkerAdapter is C5: it owns message visibility on the worker host,
// bridging one queue lane to the local inference engine. It receives,
// marks processing, submits to the engine, polls to completion, then
// finalizes the job record and deletes the message — or lets the message
// redeliver on failure, up to the queue's max_receive_count.
type WorkerAdapter struct {
	Lane   domain.Lane
	Jobs   domain.JobStore
	Queue  domain.Queue
	Engine domain.EngineClient

	LongPollWait       time.Duration
	VisibilityTimeout  time.Duration
	MaxMessages        int
	EnginePollInterval time.Duration
	EnginePollTimeout  time.Duration
	EngineJobTimeout   time.Duration
	StoreRetry         RetryConfig
	MaxConsecutiveFailures int

	Logger *slog.Logger
	// Audit is optional; when set, every terminal transition is published
	// for downstream analytics. Publish failures never affect processing.
	Audit *kafkabus.Bus
}

// Run polls the lane until ctx is cancelled, or until consecutive failures
// reach MaxConsecutiveFailures — a circuit-breaker-style stop to avoid a
// crash-looping adapter hammering a broken engine.
func (a *WorkerAdapter) Run(ctx context.Context) error {
	consecutiveFailures := 0
	maxFailures := a.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 10
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := a.Queue.Receive(ctx, a.Lane, a.LongPollWait, a.visibilityTimeout(), a.maxMessages())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.Logger.Error("receive failed", slog.Any("error", err), slog.String("lane", string(a.Lane)))
			consecutiveFailures++
			if consecutiveFailures >= maxFailures {
				return fmt.Errorf("adapter stopping after %d consecutive receive failures: %w", consecutiveFailures, err)
			}
			continue
		}

		if len(msgs) == 0 {
			consecutiveFailures = 0
			continue
		}

		for _, msg := range msgs {
			if err := a.processOne(ctx, msg); err != nil {
				a.Logger.Error("process failed", slog.Any("error", err), slog.String("job_id", msg.JobID))
				consecutiveFailures++
				if consecutiveFailures >= maxFailures {
					return fmt.Errorf("adapter stopping after %d consecutive processing failures: %w", consecutiveFailures, err)
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (a *WorkerAdapter) maxMessages() int {
	if a.MaxMessages <= 0 {
		return 1
	}
	return a.MaxMessages
}

// visibilityTimeout returns the configured lease, falling back to the
// mandated per-lane default (300s GPU / 600s CPU) if unset.
func (a *WorkerAdapter) visibilityTimeout() time.Duration {
	if a.VisibilityTimeout > 0 {
		return a.VisibilityTimeout
	}
	if a.Lane == domain.LaneCPU {
		return 600 * time.Second
	}
	return 300 * time.Second
}

// processOne runs the full step sequence for a single received message:
// decode, mark processing, submit to engine, poll, finalize.
func (a *WorkerAdapter) processOne(ctx context.Context, msg domain.QueueMessage) error {
	if msg.Malformed {
		// Step 2: a poison pill. Delete it and move on without touching
		// any job record — there is no job_id to touch.
		observability.MalformedMessagesTotal.WithLabelValues(string(a.Lane)).Inc()
		a.Logger.Warn("dropping malformed queue message", slog.String("lane", string(a.Lane)))
		return a.Queue.Delete(ctx, msg)
	}

	job, err := a.getJobWithRetry(ctx, msg.JobID)
	if err != nil {
		// The store has not caught up with the enqueue yet, or the job
		// truly doesn't exist; either way leave the message for
		// redelivery rather than guessing.
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}

	if job.Status == domain.JobCompleted || job.Status == domain.JobFailed {
		// A prior attempt already finished this job after we lost the
		// race on deleting the message; just clean up.
		return a.Queue.Delete(ctx, msg)
	}

	if err := a.Jobs.Update(ctx, job.ID, func(j *domain.Job) error {
		j.Status = domain.JobProcessing
		return nil
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	jobType, requestBody := job.JobType, job.RequestBody
	if msg.JobType != "" {
		jobType = msg.JobType
	}
	if len(msg.RequestBody) > 0 {
		requestBody = msg.RequestBody
	}

	engineJobID, err := a.Engine.Submit(ctx, jobType, requestBody)
	if err != nil {
		// Step 4: non-retryable, the message is deleted with the FAILED
		// write.
		return a.failTerminal(ctx, msg, job.ID, fmt.Sprintf("engine submit failed: %v", err))
	}

	if err := a.Jobs.Update(ctx, job.ID, func(j *domain.Job) error {
		j.WorkerJobID = engineJobID
		return nil
	}); err != nil {
		a.Logger.Warn("failed to persist worker job id", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	result, err := a.pollEngine(ctx, engineJobID)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			// Step 6: poll timed out.
			return a.failTerminal(ctx, msg, job.ID, fmt.Sprintf("engine poll timed out: %v", err))
		}
		// Step 7: an unexpected transport error talking to the engine,
		// not one of the steps' named terminal outcomes. Leave the
		// message for redelivery.
		return a.failTransient(ctx, job.ID, fmt.Sprintf("engine poll failed: %v", err))
	}

	if !result.Succeeded {
		// Step 6: engine reported failure.
		return a.failTerminal(ctx, msg, job.ID, result.Error)
	}

	if err := a.Jobs.Update(ctx, job.ID, func(j *domain.Job) error {
		j.Status = domain.JobCompleted
		j.ResultURL = result.ResultURL
		return nil
	}); err != nil {
		// Step 7: the engine finished but the terminal write itself
		// failed unexpectedly; leave the message for redelivery.
		return a.failTransient(ctx, job.ID, fmt.Sprintf("finalize completed job: %v", err))
	}

	observability.JobsCompletedTotal.WithLabelValues(string(a.Lane), "completed").Inc()
	a.publish(ctx, job.ID, domain.JobCompleted, "")
	return a.Queue.Delete(ctx, msg)
}

func (a *WorkerAdapter) publish(ctx context.Context, jobID string, status domain.JobStatus, reason string) {
	if a.Audit == nil {
		return
	}
	a.Audit.Publish(ctx, kafkabus.Event{
		JobID: jobID, Lane: a.Lane, Status: status, Reason: reason, Timestamp: time.Now().UTC(),
	})
}

func (a *WorkerAdapter) getJobWithRetry(ctx context.Context, id string) (domain.Job, error) {
	job, err := a.Jobs.Get(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Job{}, err
	}
	backoff := a.StoreRetry.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for i := 0; i < a.StoreRetry.Attempts; i++ {
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-time.After(backoff):
		}
		job, err = a.Jobs.Get(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Job{}, err
		}
	}
	return domain.Job{}, err
}

// pollEngine polls at EnginePollInterval until the engine reports done,
// EngineJobTimeout elapses, or ctx is cancelled. Each individual poll
// request is itself bounded by EnginePollTimeout.
func (a *WorkerAdapter) pollEngine(ctx context.Context, engineJobID string) (domain.EngineResult, error) {
	deadline := time.Now().Add(a.jobTimeout())
	ticker := time.NewTicker(a.pollInterval())
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return domain.EngineResult{}, fmt.Errorf("engine job %s: %w", engineJobID, domain.ErrUpstreamTimeout)
		}

		pollCtx, cancel := context.WithTimeout(ctx, a.pollTimeout())
		start := time.Now()
		result, err := a.Engine.Poll(pollCtx, engineJobID)
		observability.EnginePollDuration.Observe(time.Since(start).Seconds())
		cancel()
		if err != nil {
			return domain.EngineResult{}, err
		}
		if result.Done {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return domain.EngineResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *WorkerAdapter) pollInterval() time.Duration {
	if a.EnginePollInterval <= 0 {
		return 2 * time.Second
	}
	return a.EnginePollInterval
}

func (a *WorkerAdapter) pollTimeout() time.Duration {
	if a.EnginePollTimeout <= 0 {
		return 10 * time.Second
	}
	return a.EnginePollTimeout
}

func (a *WorkerAdapter) jobTimeout() time.Duration {
	if a.EngineJobTimeout <= 0 {
		return 600 * time.Second
	}
	return a.EngineJobTimeout
}

// failTerminal handles steps 4 and 6: engine-submit failure, engine-
// reported failure, and poll-timeout are all non-retryable outcomes the
// adapter itself has just determined. It writes FAILED and deletes the
// message in the same attempt. A failed delete is only logged; the
// redelivered copy is then deleted by processOne's terminal-status check.
func (a *WorkerAdapter) failTerminal(ctx context.Context, msg domain.QueueMessage, jobID, reason string) error {
	writeErr := a.writeFailed(ctx, jobID, reason)
	if delErr := a.Queue.Delete(ctx, msg); delErr != nil {
		a.Logger.Warn("failed to delete message after terminal failure",
			slog.String("job_id", jobID), slog.Any("error", delErr))
	}
	if writeErr != nil {
		return fmt.Errorf("mark job failed: %w", writeErr)
	}
	return fmt.Errorf("job %s failed: %s", jobID, reason)
}

// failTransient handles step 7 containment: an unexpected failure between
// marking PROCESSING and the terminal write, not one of steps 4/6's named
// outcomes. It attempts a best-effort FAILED write but deliberately does
// not delete the message — visibility-timeout redelivery, up to
// max_receive_count and the DLQ, is the recovery path.
func (a *WorkerAdapter) failTransient(ctx context.Context, jobID, reason string) error {
	if err := a.writeFailed(ctx, jobID, reason); err != nil {
		a.Logger.Warn("failed to write FAILED during error containment",
			slog.String("job_id", jobID), slog.Any("error", err))
	}
	return fmt.Errorf("job %s failed (message left for redelivery): %s", jobID, reason)
}

func (a *WorkerAdapter) writeFailed(ctx context.Context, jobID, reason string) error {
	err := a.Jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.Status = domain.JobFailed
		j.ErrorMessage = reason
		return nil
	})
	observability.JobsCompletedTotal.WithLabelValues(string(a.Lane), "failed").Inc()
	a.publish(ctx, jobID, domain.JobFailed, reason)
	return err
}
