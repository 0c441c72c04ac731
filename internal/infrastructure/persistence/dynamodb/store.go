package dynamodb

import (
	"context"
	"errors"
	"time"

	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// api is the slice of the DynamoDB client the store uses. Tests substitute a
// stub; production passes *dynamodb.Client.
type api interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store implements repository.Store on a single DynamoDB table. All service
// calls funnel through a shared circuit breaker so a struggling table sheds
// load instead of piling up timeouts.
type Store struct {
	client    api
	tableName string
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	now       func() time.Time

	maxMergeAttempts int
	batchSize        int
}

// StoreConfig tunes the DynamoDB store.
type StoreConfig struct {
	TableName        string
	MaxMergeAttempts int // optimistic retries inside UpsertFact
	BatchSize        int // items per BatchWriteItem request, max 25
}

// NewStore wraps a DynamoDB client as a repository.Store.
func NewStore(client api, cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.MaxMergeAttempts <= 0 {
		cfg.MaxMergeAttempts = 5
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 25 {
		cfg.BatchSize = 25
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		client:           client,
		tableName:        cfg.TableName,
		logger:           logger,
		now:              time.Now,
		maxMergeAttempts: cfg.MaxMergeAttempts,
		batchSize:        cfg.BatchSize,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Conditional failures are business outcomes (duplicate turn, lost
		// merge race), not table health signals.
		IsSuccessful: func(err error) bool {
			return err == nil || isConditionalFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return s
}

// execute runs a raw DynamoDB call through the circuit breaker.
func (s *Store) execute(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewUnavailable("storage circuit open", err)
	}
	return err
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// mapError translates SDK failures into the store's error taxonomy. Callers
// that expect a conditional failure handle it before reaching here.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErrors.IsUnavailable(err) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError", "ServiceUnavailable":
			return appErrors.NewUnavailable("dynamodb "+op+" throttled", err)
		}
	}
	return appErrors.NewInternal("dynamodb "+op+" failed", err)
}

// getItem fetches one item by key with a strongly consistent read. Returns
// (nil, nil) when absent.
func (s *Store) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	var out *dynamodb.GetItemOutput
	err := s.execute(func() error {
		var callErr error
		out, callErr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			Key:            keyOf(pk, sk),
			ConsistentRead: aws.Bool(true),
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// queryAll drains a query across result pages.
func (s *Store) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	input.TableName = aws.String(s.tableName)

	var items []map[string]types.AttributeValue
	for {
		var out *dynamodb.QueryOutput
		err := s.execute(func() error {
			var callErr error
			out, callErr = s.client.Query(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// batchDelete removes keys in BatchWriteItem chunks, retrying unprocessed
// leftovers. DynamoDB offers no multi-item transaction at cascade scale, so
// user deletion is eventually complete rather than atomic; the read paths
// key everything under the user, which keeps partial state invisible.
func (s *Store) batchDelete(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += s.batchSize {
		end := start + s.batchSize
		if end > len(keys) {
			end = len(keys)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		pending := map[string][]types.WriteRequest{s.tableName: requests}
		for attempt := 0; len(pending[s.tableName]) > 0; attempt++ {
			if attempt >= s.maxMergeAttempts {
				return appErrors.NewUnavailable("batch delete kept returning unprocessed items", nil)
			}
			var out *dynamodb.BatchWriteItemOutput
			err := s.execute(func() error {
				var callErr error
				out, callErr = s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
					RequestItems: pending,
				})
				return callErr
			})
			if err != nil {
				return mapError(err, "batch_delete")
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}
