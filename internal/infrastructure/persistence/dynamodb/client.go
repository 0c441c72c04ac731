package dynamodb

import (
	"context"
	"time"

	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// ClientConfig selects the table and, for local development, an alternate
// endpoint (DynamoDB Local).
type ClientConfig struct {
	TableName string
	Region    string
	Endpoint  string
	Timeout   time.Duration
}

// NewClient builds a DynamoDB client from the ambient AWS credential chain.
func NewClient(ctx context.Context, cfg ClientConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.NewUnavailable("failed to load AWS configuration", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return client, nil
}
