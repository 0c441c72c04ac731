package dynamodb

import (
	"context"
	"sort"

	"engram-backend/internal/domain"
	"engram-backend/internal/repository"
	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// UpsertFact runs the read-merge-write cycle under optimistic concurrency: a
// version counter on the item guards the write, and a lost race re-reads and
// re-merges. DynamoDB cannot run the merge function server side, but the
// version condition gives the same no-lost-update guarantee the contract
// asks for.
func (s *Store) UpsertFact(ctx context.Context, incoming domain.Fact, merge repository.MergeFunc) (*domain.Fact, error) {
	if merge == nil {
		return nil, appErrors.NewValidation("merge function is required")
	}
	if incoming.Category == "" || incoming.Key == "" {
		return nil, appErrors.NewValidation("fact category and key cannot be empty")
	}
	if !domain.ValidConfidence(incoming.Confidence) {
		return nil, appErrors.NewInvalidConfidence(incoming.Confidence)
	}

	for attempt := 0; attempt < s.maxMergeAttempts; attempt++ {
		item, err := s.getItem(ctx, userPK(incoming.UserID), factSK(incoming.Category, incoming.Key))
		if err != nil {
			return nil, mapError(err, "upsert_fact")
		}

		var existing *domain.Fact
		seenVer := 0
		if item != nil {
			var rec factRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, appErrors.NewInternal("failed to unmarshal fact", err)
			}
			f := rec.toDomain()
			existing = &f
			seenVer = rec.Ver
		}

		merged := merge(existing, incoming)
		if !domain.ValidConfidence(merged.Confidence) {
			return nil, appErrors.NewInvalidConfidence(merged.Confidence)
		}
		newItem, err := marshalRecord(newFactRecord(&merged, seenVer+1))
		if err != nil {
			return nil, appErrors.NewInternal("failed to marshal fact", err)
		}

		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      newItem,
		}
		if existing == nil {
			input.ConditionExpression = aws.String("attribute_not_exists(SK)")
		} else {
			seen, err := attributevalue.Marshal(seenVer)
			if err != nil {
				return nil, appErrors.NewInternal("failed to marshal version", err)
			}
			input.ConditionExpression = aws.String("ver = :seen")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{":seen": seen}
		}

		err = s.execute(func() error {
			_, callErr := s.client.PutItem(ctx, input)
			return callErr
		})
		if isConditionalFailure(err) {
			s.logger.Debug("fact merge lost a write race, retrying",
				zap.String("user_id", incoming.UserID),
				zap.String("category", incoming.Category),
				zap.String("key", incoming.Key),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, mapError(err, "upsert_fact")
		}
		return &merged, nil
	}
	return nil, appErrors.NewUnavailable("fact merge kept losing write races", nil)
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	items, err := s.queryFacts(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := make(domain.Profile)
	for _, item := range items {
		var rec factRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal fact", err)
		}
		fact := rec.toDomain()
		profile[fact.Category] = append(profile[fact.Category], fact)
	}
	for _, facts := range profile {
		sort.Slice(facts, func(i, j int) bool {
			return facts[i].LastUpdated.After(facts[j].LastUpdated)
		})
	}
	return profile, nil
}

// ClearProvenance finds facts extracted from the memory through the
// provenance index and drops their back reference, one conditional update
// per fact.
func (s *Store) ClearProvenance(ctx context.Context, memoryID string) error {
	keyCond := expression.Key("GSI2PK").Equal(expression.Value(provenanceGSI2PK(memoryID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return appErrors.NewInternal("failed to build provenance query", err)
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(gsi2Name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return mapError(err, "clear_provenance")
	}

	for _, item := range items {
		key := keyOf(stringAttr(item, "PK"), stringAttr(item, "SK"))
		err := s.execute(func() error {
			_, callErr := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(s.tableName),
				Key:                 key,
				ConditionExpression: aws.String("attribute_exists(PK)"),
				UpdateExpression:    aws.String("REMOVE source_memory_id, GSI2PK"),
			})
			return callErr
		})
		if isConditionalFailure(err) {
			continue // fact deleted between query and update
		}
		if err != nil {
			return mapError(err, "clear_provenance")
		}
	}
	return nil
}

func (s *Store) DeleteFactsForUser(ctx context.Context, userID string) error {
	items, err := s.queryFacts(ctx, userID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, keyOf(stringAttr(item, "PK"), stringAttr(item, "SK")))
	}
	return s.batchDelete(ctx, keys)
}

func (s *Store) queryFacts(ctx context.Context, userID string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(userPK(userID))).
		And(expression.Key("SK").BeginsWith("FACT#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build fact query", err)
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err, "query_facts")
	}
	return items, nil
}
