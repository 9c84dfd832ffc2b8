package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]domain.Job)}
}

func (f *fakeJobStore) Create(ctx context.Context, job domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
	}
	if job.IdempotencyKey != "" {
		for _, existing := range f.jobs {
			if existing.IdempotencyKey == job.IdempotencyKey {
				return fmt.Errorf("idempotency key %s: %w", job.IdempotencyKey, domain.ErrConflict)
			}
		}
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) Get(ctx context.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (f *fakeJobStore) FindByIdempotencyKey(ctx context.Context, key string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.IdempotencyKey == key {
			return job, nil
		}
	}
	return domain.Job{}, fmt.Errorf("idempotency key %s: %w", key, domain.ErrNotFound)
}

func (f *fakeJobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err := fn(&job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	f.jobs[id] = job
	return nil
}

func (f *fakeJobStore) QueryByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, job := range f.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	messages map[domain.Lane][]domain.QueueMessage
	enqueued []string
	deleted  []string
	failEnqueue bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{messages: make(map[domain.Lane][]domain.QueueMessage)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, lane domain.Lane, jobID, jobType string, body json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue {
		return fmt.Errorf("enqueue: %w", domain.ErrUnavailable)
	}
	f.messages[lane] = append(f.messages[lane], domain.QueueMessage{
		JobID: jobID, JobType: jobType, RequestBody: body, Lane: lane, ReceiptHandle: "rh-" + jobID,
	})
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

// enqueueMalformed pushes a raw, undecodable message directly onto a
// lane, simulating what sqsqueue.Receive would hand back for a corrupt
// body: a receipt handle but no job fields.
func (f *fakeQueue) enqueueMalformed(lane domain.Lane) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[lane] = append(f.messages[lane], domain.QueueMessage{Lane: lane, ReceiptHandle: "rh-malformed", Malformed: true})
}

func (f *fakeQueue) Receive(ctx context.Context, lane domain.Lane, waitFor, visibilityTimeout time.Duration, maxMessages int) ([]domain.QueueMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[lane]
	if len(msgs) == 0 {
		return nil, nil
	}
	n := maxMessages
	if n <= 0 || n > len(msgs) {
		n = len(msgs)
	}
	out := msgs[:n]
	f.messages[lane] = msgs[n:]
	return out, nil
}

func (f *fakeQueue) Delete(ctx context.Context, msg domain.QueueMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg.ReceiptHandle)
	return nil
}

func (f *fakeQueue) ExtendVisibility(ctx context.Context, msg domain.QueueMessage, newTimeout time.Duration) error {
	return nil
}

func (f *fakeQueue) ApproximateDepth(ctx context.Context, lane domain.Lane) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[lane]), nil
}

type fakeHost struct {
	mu      sync.Mutex
	state   domain.HostState
	starts  int
	stops   int
}

func newFakeHost(state domain.HostState) *fakeHost {
	return &fakeHost{state: state}
}

func (f *fakeHost) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.state = domain.HostRunning
	return nil
}

func (f *fakeHost) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = domain.HostStopped
	return nil
}

func (f *fakeHost) State(ctx context.Context) (domain.HostState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeHost) HealthyAddress(ctx context.Context) (string, bool) {
	return "", false
}

type fakeEngine struct {
	mu      sync.Mutex
	results map[string][]domain.EngineResult
	submitErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{results: make(map[string][]domain.EngineResult)}
}

func (f *fakeEngine) Submit(ctx context.Context, jobType string, body json.RawMessage) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "engine-" + jobType, nil
}

func (f *fakeEngine) Poll(ctx context.Context, engineJobID string) (domain.EngineResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.results[engineJobID]
	if len(seq) == 0 {
		return domain.EngineResult{Done: true, Succeeded: true, ResultURL: "s3://bucket/" + engineJobID}, nil
	}
	next := seq[0]
	f.results[engineJobID] = seq[1:]
	return next, nil
}
