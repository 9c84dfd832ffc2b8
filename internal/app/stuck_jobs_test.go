package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func (m *memStore) Create(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}
func (m *memStore) Get(ctx context.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j, nil
}
func (m *memStore) FindByIdempotencyKey(ctx context.Context, key string) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (m *memStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	if err := fn(&j); err != nil {
		return err
	}
	m.jobs[id] = j
	return nil
}
func (m *memStore) QueryByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestStuckJobSweeper_ForceFailsOldProcessingJobs(t *testing.T) {
	store := &memStore{jobs: map[string]domain.Job{}}
	old := domain.Job{
		ID: "stale", Status: domain.JobProcessing, RequestBody: json.RawMessage(`{}`),
		CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now().Add(-time.Hour),
	}
	fresh := domain.Job{
		ID: "fresh", Status: domain.JobProcessing, RequestBody: json.RawMessage(`{}`),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), old))
	require.NoError(t, store.Create(context.Background(), fresh))

	sweeper := NewStuckJobSweeper(store, 10*time.Minute, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sweeper.sweep(context.Background())

	staleJob, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, staleJob.Status)

	freshJob, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, freshJob.Status)
}

func TestNewStuckJobSweeper_ZeroMaxAgeDisables(t *testing.T) {
	assert.Nil(t, NewStuckJobSweeper(&memStore{jobs: map[string]domain.Job{}}, 0, 0, nil))
}
