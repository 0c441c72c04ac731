package dynamodb

import (
	"context"

	"engram-backend/internal/domain"
	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	item, err := marshalRecord(newUserRecord(user))
	if err != nil {
		return appErrors.NewInternal("failed to marshal user", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewUniqueViolation("user", user.ID)
	}
	if err != nil {
		return mapError(err, "create_user")
	}

	s.logger.Info("user created", zap.String("user_id", user.ID))
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	item, err := s.getItem(ctx, userPK(userID), skProfile)
	if err != nil {
		return nil, mapError(err, "get_user")
	}
	if item == nil {
		return nil, appErrors.NewNotFound("user", userID)
	}

	var rec userRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal user", err)
	}
	return rec.toDomain(), nil
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	item, err := marshalRecord(newUserRecord(user))
	if err != nil {
		return appErrors.NewInternal("failed to marshal user", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewNotFound("user", user.ID)
	}
	if err != nil {
		return mapError(err, "update_user")
	}
	return nil
}

// DeleteUser removes the user and everything hanging off it: sessions with
// their messages and cards, memories, and facts.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}

	keys := []map[string]types.AttributeValue{keyOf(userPK(userID), skProfile)}

	// Sessions and memories are discovered through the ownership index, then
	// each session's messages and cards through its own partition.
	owned, err := s.queryOwned(ctx, userID, "")
	if err != nil {
		return err
	}
	for _, item := range owned {
		pk := stringAttr(item, "PK")
		sk := stringAttr(item, "SK")
		keys = append(keys, keyOf(pk, sk))

		if stringAttr(item, "entity_type") == entitySession {
			sessionItems, err := s.querySessionPartition(ctx, stringAttr(item, "id"))
			if err != nil {
				return err
			}
			for _, si := range sessionItems {
				if stringAttr(si, "SK") == skMeta {
					continue // already collected via the ownership index
				}
				keys = append(keys, keyOf(stringAttr(si, "PK"), stringAttr(si, "SK")))
			}
		}
	}

	facts, err := s.queryFacts(ctx, userID)
	if err != nil {
		return err
	}
	for _, item := range facts {
		keys = append(keys, keyOf(stringAttr(item, "PK"), stringAttr(item, "SK")))
	}

	if err := s.batchDelete(ctx, keys); err != nil {
		return err
	}

	s.logger.Info("user deleted",
		zap.String("user_id", userID),
		zap.Int("items_removed", len(keys)))
	return nil
}

// queryOwned lists the user's GSI1 items, optionally filtered to one sort key
// prefix ("SESSION#" or "MEMORY#").
func (s *Store) queryOwned(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(userPK(userID)))
	if skPrefix != "" {
		keyCond = keyCond.And(expression.Key("GSI1SK").BeginsWith(skPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build ownership query", err)
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, mapError(err, "query_owned")
	}
	return items, nil
}

// querySessionPartition lists every item under a session: META, messages and
// cards.
func (s *Store) querySessionPartition(ctx context.Context, sessionID string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(sessionPK(sessionID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build session query", err)
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err, "query_session")
	}
	return items, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
