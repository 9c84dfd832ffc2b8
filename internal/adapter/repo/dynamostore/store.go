// Package dynamostore implements C1's JobStore port on top of DynamoDB,
// the primary, production Job Store backend. It mirrors the original
// system's create_task/update_task_status/get_task_status/
// query_tasks_by_status helpers: put-if-absent via a condition expression,
// a read-modify-write full-item put for updates, and a GSI query for the
// status index.
package dynamostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// statusCreatedAtIndex is the GSI query-by-status relies on, mirroring the
// original's "status-created_at-index".
const statusCreatedAtIndex = "status-created_at-index"

// idempotencyIndex backs FindByIdempotencyKey.
const idempotencyIndex = "idempotency_key-index"

type item struct {
	JobID          string `dynamodbav:"job_id"`
	Status         string `dynamodbav:"status"`
	JobType        string `dynamodbav:"job_type"`
	Lane           string `dynamodbav:"lane"`
	RequestBody    string `dynamodbav:"request_body"`
	CreatedAt      string `dynamodbav:"created_at"`
	UpdatedAt      string `dynamodbav:"updated_at"`
	WorkerJobID    string `dynamodbav:"worker_job_id,omitempty"`
	ResultURL      string `dynamodbav:"result_url,omitempty"`
	ErrorMessage   string `dynamodbav:"error_message,omitempty"`
	IdempotencyKey string `dynamodbav:"idempotency_key,omitempty"`
}

// Store is a domain.JobStore backed by a single DynamoDB table.
type Store struct {
	client *dynamodb.Client
	table  string
}

// New builds a Store for the given table using an already-configured
// client (see internal/adapter/awsruntime for constructing aws.Config).
func New(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

func toItem(j domain.Job) item {
	return item{
		JobID:          j.ID,
		Status:         string(j.Status),
		JobType:        j.JobType,
		Lane:           string(j.Lane),
		RequestBody:    string(j.RequestBody),
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      j.UpdatedAt.UTC().Format(time.RFC3339Nano),
		WorkerJobID:    j.WorkerJobID,
		ResultURL:      j.ResultURL,
		ErrorMessage:   j.ErrorMessage,
		IdempotencyKey: j.IdempotencyKey,
	}
}

func fromItem(it item) (domain.Job, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return domain.Job{
		ID:             it.JobID,
		Status:         domain.JobStatus(it.Status),
		JobType:        it.JobType,
		Lane:           domain.Lane(it.Lane),
		RequestBody:    json.RawMessage(it.RequestBody),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		WorkerJobID:    it.WorkerJobID,
		ResultURL:      it.ResultURL,
		ErrorMessage:   it.ErrorMessage,
		IdempotencyKey: it.IdempotencyKey,
	}, nil
}

// Create put-if-absents a job record, mirroring create_task's
// ConditionExpression='attribute_not_exists(job_id)'. Only job_id is
// conditioned on: a second job carrying an existing idempotency key is not
// rejected with ErrConflict.
func (s *Store) Create(ctx context.Context, job domain.Job) error {
	av, err := attributevalue.MarshalMap(toItem(job))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("job %s: %w", job.ID, domain.ErrConflict)
		}
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// Get fetches a single job by primary key.
func (s *Store) Get(ctx context.Context, id string) (domain.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if out.Item == nil {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return fromItem(it)
}

// FindByIdempotencyKey queries the idempotency GSI.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (domain.Job, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(idempotencyIndex),
		KeyConditionExpression: aws.String("idempotency_key = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: key},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("query idempotency key: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.Job{}, fmt.Errorf("idempotency key %s: %w", key, domain.ErrNotFound)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Items[0], &it); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return fromItem(it)
}

// Update loads the current record, applies fn, and writes the full item
// back. DynamoDB has no optimistic-lock check here by design: the store's
// read-modify-write is acceptable because only one writer (C5, or C4 on
// enqueue failure) ever mutates a given job at a time per the component
// design.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Job) error) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(&job); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	av, err := attributevalue.MarshalMap(toItem(job))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

// QueryByStatus queries the status GSI, newest first (ScanIndexForward:
// false), mirroring query_tasks_by_status.
func (s *Store) QueryByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(statusCreatedAtIndex),
		KeyConditionExpression: aws.String("#s = :status"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query by status %s: %w", status, err)
	}
	jobs := make([]domain.Job, 0, len(out.Items))
	for _, rawItem := range out.Items {
		var it item
		if err := attributevalue.UnmarshalMap(rawItem, &it); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		job, err := fromItem(it)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
