package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdmitService_Submit_RejectsUnknownJobType(t *testing.T) {
	svc := &AdmitService{
		Jobs: newFakeJobStore(), Queue: newFakeQueue(), Host: newFakeHost(domain.HostStopped), Logger: testLogger(),
	}

	_, err := svc.Submit(context.Background(), "not-a-real-route", json.RawMessage(`{}`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAdmitService_Submit_EnqueuesAndStartsHost(t *testing.T) {
	host := newFakeHost(domain.HostStopped)
	queue := newFakeQueue()
	svc := &AdmitService{Jobs: newFakeJobStore(), Queue: queue, Host: host, Logger: testLogger()}

	job, err := svc.Submit(context.Background(), "camera-angle", json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)

	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, domain.LaneGPU, job.Lane)
	assert.Equal(t, 1, host.starts)
	assert.Equal(t, []string{job.ID}, queue.enqueued)
}

func TestAdmitService_Submit_CPURouteUsesCPULane(t *testing.T) {
	svc := &AdmitService{Jobs: newFakeJobStore(), Queue: newFakeQueue(), Host: newFakeHost(domain.HostStopped), Logger: testLogger()}

	job, err := svc.Submit(context.Background(), "face-mask", json.RawMessage(`{}`), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LaneCPU, job.Lane)
}

func TestAdmitService_Submit_IdempotentResubmitReturnsSameJob(t *testing.T) {
	svc := &AdmitService{Jobs: newFakeJobStore(), Queue: newFakeQueue(), Host: newFakeHost(domain.HostStopped), Logger: testLogger()}

	first, err := svc.Submit(context.Background(), "camera-angle", json.RawMessage(`{}`), "key-1")
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), "camera-angle", json.RawMessage(`{}`), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestAdmitService_Submit_EnqueueFailureMarksJobFailed(t *testing.T) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	queue.failEnqueue = true
	svc := &AdmitService{Jobs: jobs, Queue: queue, Host: newFakeHost(domain.HostStopped), Logger: testLogger()}

	_, err := svc.Submit(context.Background(), "camera-angle", json.RawMessage(`{}`), "")
	require.Error(t, err)

	var found domain.Job
	for _, j := range jobs.jobs {
		found = j
	}
	assert.Equal(t, domain.JobFailed, found.Status)
}

func TestAdmitService_GetStatus_NotFoundAfterRetries(t *testing.T) {
	svc := &AdmitService{
		Jobs: newFakeJobStore(), Queue: newFakeQueue(), Host: newFakeHost(domain.HostStopped),
		Retries: RetryConfig{Attempts: 1, Backoff: 1},
		Logger:  testLogger(),
	}

	_, err := svc.GetStatus(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
