package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

func seedJob(t *testing.T, jobs *fakeJobStore, queue *fakeQueue, jobType string, lane domain.Lane) domain.Job {
	t.Helper()
	job := domain.Job{
		ID: "job-1", Status: domain.JobPending, JobType: jobType, Lane: lane,
		RequestBody: json.RawMessage(`{}`), CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	require.NoError(t, queue.Enqueue(context.Background(), lane, job.ID, jobType, job.RequestBody))
	return job
}

func TestWorkerAdapter_ProcessOne_CompletesSuccessfully(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)

	adapter := &WorkerAdapter{
		Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine,
		EnginePollInterval: time.Millisecond, EngineJobTimeout: time.Second,
		Logger: testLogger(),
	}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, adapter.processOne(context.Background(), msgs[0]))

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.NotEmpty(t, job.ResultURL)
}

func TestWorkerAdapter_ProcessOne_EngineFailureMarksJobFailedAndDeletesMessage(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)
	engine.results["engine-camera-angle"] = []domain.EngineResult{{Done: true, Succeeded: false, Error: "boom"}}

	adapter := &WorkerAdapter{
		Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine,
		EnginePollInterval: time.Millisecond, EngineJobTimeout: time.Second,
		Logger: testLogger(),
	}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 1)
	require.NoError(t, err)

	err = adapter.processOne(context.Background(), msgs[0])
	require.Error(t, err)

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "boom", job.ErrorMessage)
	assert.Contains(t, queue.deleted, msgs[0].ReceiptHandle, "step 6 engine-reported failure must delete the message")
}

func TestWorkerAdapter_ProcessOne_SubmitFailureMarksJobFailedAndDeletesMessage(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	engine.submitErr = fmt.Errorf("connection refused")
	seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)

	adapter := &WorkerAdapter{
		Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine,
		EnginePollInterval: time.Millisecond, EngineJobTimeout: time.Second,
		Logger: testLogger(),
	}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 1)
	require.NoError(t, err)

	err = adapter.processOne(context.Background(), msgs[0])
	require.Error(t, err)

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, queue.deleted, msgs[0].ReceiptHandle, "step 4 submit failure must delete the message")
}

func TestWorkerAdapter_ProcessOne_PollTimeoutMarksJobFailedAndDeletesMessage(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	pending := make([]domain.EngineResult, 1000)
	for i := range pending {
		pending[i] = domain.EngineResult{Done: false}
	}
	engine.results["engine-camera-angle"] = pending
	seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)

	adapter := &WorkerAdapter{
		Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine,
		EnginePollInterval: time.Millisecond, EngineJobTimeout: 5 * time.Millisecond,
		Logger: testLogger(),
	}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 1)
	require.NoError(t, err)

	err = adapter.processOne(context.Background(), msgs[0])
	require.Error(t, err)

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, queue.deleted, msgs[0].ReceiptHandle, "step 6 poll timeout must delete the message")
}

func TestWorkerAdapter_ProcessOne_MalformedMessageIsDeletedAndJobUntouched(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	job := seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)
	queue.enqueueMalformed(domain.LaneGPU)

	adapter := &WorkerAdapter{Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine, Logger: testLogger()}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var malformed domain.QueueMessage
	var wellFormed domain.QueueMessage
	for _, m := range msgs {
		if m.Malformed {
			malformed = m
		} else {
			wellFormed = m
		}
	}

	require.NoError(t, adapter.processOne(context.Background(), malformed))
	assert.Contains(t, queue.deleted, malformed.ReceiptHandle)

	untouched, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, untouched.Status, "the malformed message must not touch any job record")

	// The well-formed message that shared the batch must still process
	// normally — a poison pill must not block it (P8).
	require.NoError(t, adapter.processOne(context.Background(), wellFormed))
	completed, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, completed.Status)
}

func TestWorkerAdapter_ProcessOne_AlreadyTerminalJustDeletes(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	engine := newFakeEngine()
	job := seedJob(t, jobs, queue, "camera-angle", domain.LaneGPU)
	require.NoError(t, jobs.Update(context.Background(), job.ID, func(j *domain.Job) error {
		j.Status = domain.JobCompleted
		return nil
	}))

	adapter := &WorkerAdapter{Lane: domain.LaneGPU, Jobs: jobs, Queue: queue, Engine: engine, Logger: testLogger()}

	msgs, err := queue.Receive(context.Background(), domain.LaneGPU, 0, 0, 1)
	require.NoError(t, err)
	require.NoError(t, adapter.processOne(context.Background(), msgs[0]))
}

func TestWorkerAdapter_PollEngine_TimesOut(t *testing.T) {
	engine := newFakeEngine()
	pending := make([]domain.EngineResult, 1000)
	for i := range pending {
		pending[i] = domain.EngineResult{Done: false}
	}
	engine.results["slow"] = pending
	adapter := &WorkerAdapter{
		EnginePollInterval: time.Millisecond, EngineJobTimeout: 5 * time.Millisecond,
		Logger: testLogger(), Engine: engine,
	}

	_, err := adapter.pollEngine(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}
