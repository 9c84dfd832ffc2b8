// Package awsruntime builds the shared aws.Config used by every AWS SDK
// v2 client in the orchestrator (SQS, EC2, DynamoDB), so credential
// resolution and region only happen once per process.
package awsruntime

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/fairyhunter13/gpu-orchestrator/internal/config"
)

// Load resolves AWS credentials and region the standard way (environment,
// shared config file, or an EC2/ECS instance profile when running on the
// worker host itself).
func Load(ctx context.Context, cfg config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
}
