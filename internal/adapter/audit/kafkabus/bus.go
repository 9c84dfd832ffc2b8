// Package kafkabus publishes job status events (admission and each
// terminal transition) to a Kafka/Redpanda topic for downstream analytics. It is deliberately not
// the work queue: SQS already owns delivery, visibility, and DLQ
// semantics for that. This is an audit trail only — publish failures are
// logged and swallowed so they can never affect job admission or
// processing, adapted from the teacher's transactional producer down to
// an at-least-once, non-transactional fire-and-forget publisher.
package kafkabus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// Topic is the single topic every status transition event is published
// to, partitioned by job id so a given job's events stay ordered.
const Topic = "gpu-orchestrator.job-events"

// Event is one status transition record.
type Event struct {
	JobID     string          `json:"job_id"`
	Lane      domain.Lane     `json:"lane"`
	Status    domain.JobStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes Events asynchronously.
type Bus struct {
	client *kgo.Client
	logger *slog.Logger
}

// New builds a client for the given brokers and returns a Bus. Publish
// failures never block callers. New only validates the client options; it
// does not contact the brokers, so an unreachable broker shows up later as
// logged publish failures rather than as an error here.
func New(brokers []string, logger *slog.Logger) (*Bus, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{client: client, logger: logger}, nil
}

// Publish fires an event and returns immediately; delivery is
// best-effort, logged on failure.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal audit event failed", slog.Any("error", err), slog.String("job_id", ev.JobID))
		return
	}
	record := &kgo.Record{
		Topic: Topic,
		Key:   []byte(ev.JobID),
		Value: payload,
	}
	b.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			b.logger.Error("publish audit event failed", slog.Any("error", err), slog.String("job_id", ev.JobID))
		}
	})
}

// Close flushes in-flight records and closes the underlying client.
func (b *Bus) Close() {
	_ = b.client.Flush(context.Background())
	b.client.Close()
}
