// Package s3store implements C4's delete_artifact pass-through on AWS S3:
// the bucket that result_url points into.
package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
)

// Store is a domain.ObjectStore backed by a single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store against one bucket.
func New(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Delete removes one object. It is a thin pass-through, per spec: no
// existence check, no soft-delete, no tombstone.
func (s *Store) Delete(ctx context.Context, objectKey string) error {
	if objectKey == "" {
		return fmt.Errorf("object key: %w", domain.ErrInvalidArgument)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", objectKey, err)
	}
	return nil
}
