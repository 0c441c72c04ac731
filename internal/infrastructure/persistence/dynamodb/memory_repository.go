package dynamodb

import (
	"context"

	"engram-backend/internal/domain"
	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (s *Store) CreateMemory(ctx context.Context, memory *domain.Memory) error {
	item, err := marshalRecord(newMemoryRecord(memory))
	if err != nil {
		return appErrors.NewInternal("failed to marshal memory", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					ConditionCheck: &types.ConditionCheck{
						TableName:           aws.String(s.tableName),
						Key:                 keyOf(userPK(memory.UserID), skProfile),
						ConditionExpression: aws.String("attribute_exists(PK)"),
					},
				},
				{
					Put: &types.Put{
						TableName:           aws.String(s.tableName),
						Item:                item,
						ConditionExpression: aws.String("attribute_not_exists(PK)"),
					},
				},
			},
		})
		return callErr
	})
	if err != nil {
		switch failedTransactIndex(err) {
		case 0:
			return appErrors.NewNotFound("user", memory.UserID)
		case 1:
			return appErrors.NewUniqueViolation("memory", memory.ID)
		}
		return mapError(err, "create_memory")
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	item, err := s.getItem(ctx, memoryPK(memoryID), skMeta)
	if err != nil {
		return nil, mapError(err, "get_memory")
	}
	if item == nil {
		return nil, appErrors.NewNotFound("memory", memoryID)
	}

	var rec memoryRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal memory", err)
	}
	out := rec.toDomain()
	return &out, nil
}

func (s *Store) ListMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	items, err := s.queryOwnedDescending(ctx, userID, "MEMORY#")
	if err != nil {
		return nil, err
	}

	memories := make([]domain.Memory, 0, len(items))
	for _, item := range items {
		var rec memoryRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal memory", err)
		}
		memories = append(memories, rec.toDomain())
	}
	return memories, nil
}

func (s *Store) UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error {
	score, err := attributevalue.Marshal(relevance)
	if err != nil {
		return appErrors.NewInternal("failed to marshal relevance", err)
	}
	updatedAt, err := attributevalue.Marshal(s.now().UTC())
	if err != nil {
		return appErrors.NewInternal("failed to marshal timestamp", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 keyOf(memoryPK(memoryID), skMeta),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			UpdateExpression:    aws.String("SET relevance = :score, updated_at = :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":score": score,
				":now":   updatedAt,
			},
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewNotFound("memory", memoryID)
	}
	if err != nil {
		return mapError(err, "update_relevance")
	}
	return nil
}

func (s *Store) DeleteMemory(ctx context.Context, memoryID string) error {
	err := s.execute(func() error {
		_, callErr := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 keyOf(memoryPK(memoryID), skMeta),
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewNotFound("memory", memoryID)
	}
	if err != nil {
		return mapError(err, "delete_memory")
	}
	return nil
}

func (s *Store) DeleteMemoriesForUser(ctx context.Context, userID string) error {
	items, err := s.queryOwned(ctx, userID, "MEMORY#")
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, keyOf(stringAttr(item, "PK"), stringAttr(item, "SK")))
	}
	return s.batchDelete(ctx, keys)
}

func (s *Store) queryOwnedDescending(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	items, err := s.queryOwned(ctx, userID, skPrefix)
	if err != nil {
		return nil, err
	}
	// queryOwned pages ascending; newest-first is the contract here.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
