// Package domain holds the core entities and ports of the orchestrator.
//
// It has no dependency on any adapter: every collaborator the use cases
// need (job storage, queues, the worker host, the inference engine) is
// expressed here as an interface and implemented under internal/adapter.
package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a Job. Transitions are strictly
// forward: pending -> processing -> (completed | failed). failed is
// terminal; there is no automatic retry of a failed job once C5 has given
// up on it.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Lane identifies which work queue a job belongs to.
type Lane string

const (
	LaneGPU Lane = "gpu"
	LaneCPU Lane = "cpu"
)

// Job is the durable record of a single submitted task.
type Job struct {
	ID             string
	Status         JobStatus
	JobType        string
	Lane           Lane
	RequestBody    json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	WorkerJobID    string
	ResultURL      string
	ErrorMessage   string
	IdempotencyKey string
}

// QueueMessage is what C2 hands back on receive and what C5 must echo on
// delete/extend. ReceiptHandle is opaque to everyone except the Queue
// adapter; callers must not parse it. JobType and RequestBody carry the
// wire payload (`{job_id, job_type, request_body}`) decoded by the Queue
// adapter; Malformed is set instead of populating those fields when the
// body could not be decoded, so C5 can delete the message as a poison
// pill without ever looking at JobID.
type QueueMessage struct {
	JobID            string
	JobType          string
	RequestBody      json.RawMessage
	Malformed        bool
	Lane             Lane
	ReceiptHandle    string
	ReceiveCount     int
	ApproximateDelay time.Duration
}

// JobStore is the C1 port: durable, put-if-absent job records with a
// status index. Every method must be safe for concurrent use.
type JobStore interface {
	// Create inserts a new job. It returns ErrConflict if a job with the
	// same ID, or the same non-empty IdempotencyKey, already exists.
	Create(ctx context.Context, job Job) error
	// Get returns ErrNotFound if no job with that ID exists.
	Get(ctx context.Context, id string) (Job, error)
	// FindByIdempotencyKey returns ErrNotFound if no job carries that key.
	FindByIdempotencyKey(ctx context.Context, key string) (Job, error)
	// Update applies fn to the current record and persists the result.
	// Implementations must not weaken the forward-only status invariant;
	// callers are expected to pass only legal transitions.
	Update(ctx context.Context, id string, fn func(*Job) error) error
	// QueryByStatus returns jobs in the given status, newest first, up to
	// limit records.
	QueryByStatus(ctx context.Context, status JobStatus, limit int) ([]Job, error)
}

// Queue is the C2 port. One Queue implementation serves both lanes; lane
// selects which underlying queue resource a call targets.
type Queue interface {
	// Enqueue makes the message visible to receivers immediately. The
	// wire body carries job_id, job_type, and request_body so C5 can
	// decode a self-contained unit of work off the message alone.
	Enqueue(ctx context.Context, lane Lane, jobID, jobType string, body json.RawMessage) error
	// Receive long-polls for up to waitFor before returning an empty
	// slice. Messages returned are invisible to other receivers for
	// visibilityTimeout.
	Receive(ctx context.Context, lane Lane, waitFor, visibilityTimeout time.Duration, maxMessages int) ([]QueueMessage, error)
	// Delete acknowledges successful processing; the message will not be
	// redelivered.
	Delete(ctx context.Context, msg QueueMessage) error
	// ExtendVisibility pushes back the redelivery deadline for a message
	// still being processed.
	ExtendVisibility(ctx context.Context, msg QueueMessage, newTimeout time.Duration) error
	// ApproximateDepth returns a point-in-time estimate of in-flight plus
	// visible messages for the lane. Used by the idle-watcher; callers
	// must tolerate eventual consistency.
	ApproximateDepth(ctx context.Context, lane Lane) (int, error)
}

// ObjectStore is the C4 pass-through port onto external artifact storage.
// delete_artifact is documented as a thin pass-through, so this is the
// entire contract: no listing, no existence check.
type ObjectStore interface {
	Delete(ctx context.Context, objectKey string) error
}

// WorkerController is the C3 port over the GPU host's lifecycle.
type WorkerController interface {
	// Start requests the host power on. It must not block on the host
	// becoming ready; callers that need readiness poll HealthyAddress.
	Start(ctx context.Context) error
	// Stop requests the host power off. Implementations must tolerate
	// being called while the host is already stopped or stopping.
	Stop(ctx context.Context) error
	// State reports the host's current lifecycle state.
	State(ctx context.Context) (HostState, error)
	// HealthyAddress returns the host's reachable address once started,
	// or ok=false if the host has no known address yet.
	HealthyAddress(ctx context.Context) (addr string, ok bool)
}

// HostState mirrors the worker host's cloud lifecycle state machine.
type HostState string

const (
	HostPending      HostState = "pending"
	HostRunning      HostState = "running"
	HostStopping     HostState = "stopping"
	HostStopped      HostState = "stopped"
	HostShuttingDown HostState = "shutting-down"
	HostTerminated   HostState = "terminated"
)

// EngineClient is the HTTP contract C5 speaks to the local inference
// engine running on the worker host.
type EngineClient interface {
	Submit(ctx context.Context, jobType string, body json.RawMessage) (engineJobID string, err error)
	Poll(ctx context.Context, engineJobID string) (EngineResult, error)
}

// EngineResult is the terminal outcome of one engine-side job.
type EngineResult struct {
	Done      bool
	Succeeded bool
	ResultURL string
	Error     string
}
