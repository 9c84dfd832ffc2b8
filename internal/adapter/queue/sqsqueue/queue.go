// Package sqsqueue implements C2's Queue port on AWS SQS: one standard
// queue per lane, long-polling receives, visibility-timeout extension,
// and a redrive policy on each queue's own DLQ (configured out of band;
// this package only speaks to queue URLs it is given).
package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// wireMessage is the JSON body carried on the wire, per spec §6:
// {"job_id": "...", "job_type": "...", "request_body": {...}}.
type wireMessage struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	RequestBody json.RawMessage `json:"request_body"`
}

// Queue is a domain.Queue backed by two SQS queue URLs.
type Queue struct {
	client  *sqs.Client
	gpuURL  string
	cpuURL  string
}

// New builds a Queue. gpuURL/cpuURL are the two lane queues' URLs.
func New(client *sqs.Client, gpuURL, cpuURL string) *Queue {
	return &Queue{client: client, gpuURL: gpuURL, cpuURL: cpuURL}
}

func (q *Queue) urlFor(lane domain.Lane) (string, error) {
	switch lane {
	case domain.LaneGPU:
		return q.gpuURL, nil
	case domain.LaneCPU:
		return q.cpuURL, nil
	default:
		return "", fmt.Errorf("lane %q: %w", lane, domain.ErrInvalidArgument)
	}
}

// Enqueue sends the full {job_id, job_type, request_body} payload as the
// message body; a visible-immediately send, matching send_message in the
// original adapter.
func (q *Queue) Enqueue(ctx context.Context, lane domain.Lane, jobID, jobType string, body json.RawMessage) error {
	url, err := q.urlFor(lane)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(wireMessage{JobID: jobID, JobType: jobType, RequestBody: body})
	if err != nil {
		return fmt.Errorf("encode message for job %s: %w", jobID, err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", lane, err)
	}
	return nil
}

// Receive long-polls the lane's queue, mirroring sqs_adapter.py's main
// loop: WaitTimeSeconds for the long poll, an explicit VisibilityTimeout
// per call (the lane's mandated 300s/600s, chosen by the caller), and
// ApproximateReceiveCount surfaced so callers can reason about DLQ
// proximity. A body that fails to decode as the wire message format, or
// decodes with no job_id, comes back with Malformed set rather than being
// dropped — the receipt handle is still needed so C5 can delete it.
func (q *Queue) Receive(ctx context.Context, lane domain.Lane, waitFor, visibilityTimeout time.Duration, maxMessages int) ([]domain.QueueMessage, error) {
	url, err := q.urlFor(lane)
	if err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitFor.Seconds()),
		VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
		AttributeNames:      []types.QueueAttributeName{types.QueueAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", lane, err)
	}

	msgs := make([]domain.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		receiveCount := 0
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			fmt.Sscanf(v, "%d", &receiveCount)
		}

		msg := domain.QueueMessage{
			Lane:          lane,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  receiveCount,
		}

		var payload wireMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &payload); err != nil || payload.JobID == "" {
			msg.Malformed = true
		} else {
			msg.JobID = payload.JobID
			msg.JobType = payload.JobType
			msg.RequestBody = payload.RequestBody
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete acknowledges successful processing.
func (q *Queue) Delete(ctx context.Context, msg domain.QueueMessage) error {
	url, err := q.urlFor(msg.Lane)
	if err != nil {
		return err
	}
	_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message for job %s: %w", msg.JobID, err)
	}
	return nil
}

// ExtendVisibility calls ChangeMessageVisibility, mirroring the original's
// helper of the same purpose.
func (q *Queue) ExtendVisibility(ctx context.Context, msg domain.QueueMessage, newTimeout time.Duration) error {
	url, err := q.urlFor(msg.Lane)
	if err != nil {
		return err
	}
	_, err = q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(newTimeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("extend visibility for job %s: %w", msg.JobID, err)
	}
	return nil
}

// ApproximateDepth sums visible and in-flight messages for the lane,
// mirroring get_queue_attributes(ApproximateNumberOfMessages +
// ApproximateNumberOfMessagesNotVisible).
func (q *Queue) ApproximateDepth(ctx context.Context, lane domain.Lane) (int, error) {
	url, err := q.urlFor(lane)
	if err != nil {
		return 0, err
	}
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get queue attributes for %s: %w", lane, err)
	}
	visible := 0
	inFlight := 0
	fmt.Sscanf(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)], "%d", &visible)
	fmt.Sscanf(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)], "%d", &inFlight)
	return visible + inFlight, nil
}
