package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"engram-backend/internal/domain"
	appErrors "engram-backend/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	item, err := marshalRecord(newSessionRecord(session, 1))
	if err != nil {
		return appErrors.NewInternal("failed to marshal session", err)
	}

	// The owning user must exist; checking it in the same transaction keeps
	// sessions from outliving a concurrent user deletion.
	err = s.execute(func() error {
		_, callErr := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					ConditionCheck: &types.ConditionCheck{
						TableName:           aws.String(s.tableName),
						Key:                 keyOf(userPK(session.UserID), skProfile),
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
			return appErrors.NewNotFound("user", session.UserID)
		case 1:
			return appErrors.NewUniqueViolation("session", session.ID)
		}
		return mapError(err, "create_session")
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID))
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	rec, err := s.getSessionRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

func (s *Store) getSessionRecord(ctx context.Context, sessionID string) (*sessionRecord, error) {
	item, err := s.getItem(ctx, sessionPK(sessionID), skMeta)
	if err != nil {
		return nil, mapError(err, "get_session")
	}
	if item == nil {
		return nil, appErrors.NewNotFound("session", sessionID)
	}

	var rec sessionRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal session", err)
	}
	return &rec, nil
}

func (s *Store) FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(userPK(userID))).
		And(expression.Key("GSI1SK").BeginsWith("SESSION#"))
	filter := expression.Name("active").Equal(expression.Value(true)).
		And(expression.Name("kind").Equal(expression.Value(string(kind))))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build session query", err)
	}

	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	})
	if err != nil {
		return nil, mapError(err, "find_active_sessions")
	}

	sessions := make([]domain.Session, 0, len(items))
	for _, item := range items {
		var rec sessionRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal session", err)
		}
		sessions = append(sessions, *rec.toDomain())
	}
	return sessions, nil
}

// AppendMessage claims the session's next turn number in one transaction:
// the session counter advances only if no concurrent writer moved it, and
// the message item is written only if the turn is free. Losing either race
// surfaces as DUPLICATE_TURN for the caller's retry loop.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error) {
	rec, err := s.getSessionRecord(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !rec.Active {
		return 0, appErrors.NewNotFound("session", sessionID)
	}

	turn := rec.NextTurn
	msg := messageRecord{
		PK:         sessionPK(sessionID),
		SK:         messageSK(turn),
		EntityType: entityMessage,
		SessionID:  sessionID,
		TurnNumber: turn,
		Role:       role,
		Content:    content,
		Attributes: attrs,
		CreatedAt:  s.now().UTC(),
	}
	item, err := marshalRecord(msg)
	if err != nil {
		return 0, appErrors.NewInternal("failed to marshal message", err)
	}

	seen, err := attributevalue.Marshal(turn)
	if err != nil {
		return 0, appErrors.NewInternal("failed to marshal turn number", err)
	}
	next, err := attributevalue.Marshal(turn + 1)
	if err != nil {
		return 0, appErrors.NewInternal("failed to marshal turn number", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Update: &types.Update{
						TableName:           aws.String(s.tableName),
						Key:                 keyOf(sessionPK(sessionID), skMeta),
						ConditionExpression: aws.String("active = :true AND next_turn = :seen"),
						UpdateExpression:    aws.String("SET next_turn = :next"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":true": &types.AttributeValueMemberBOOL{Value: true},
							":seen": seen,
							":next": next,
						},
					},
				},
				{
					Put: &types.Put{
						TableName:           aws.String(s.tableName),
						Item:                item,
						ConditionExpression: aws.String("attribute_not_exists(SK)"),
					},
				},
			},
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return 0, appErrors.NewDuplicateTurn(sessionID, turn)
	}
	if err != nil {
		return 0, mapError(err, "append_message")
	}
	return turn, nil
}

func (s *Store) AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error {
	msgItem, err := s.getItem(ctx, sessionPK(sessionID), messageSK(turnNumber))
	if err != nil {
		return mapError(err, "attach_cards")
	}
	if msgItem == nil {
		if _, err := s.getSessionRecord(ctx, sessionID); err != nil {
			return err
		}
		return appErrors.NewInvalidTurn(sessionID, turnNumber)
	}

	shownAt := s.now().UTC()
	writes := make([]types.TransactWriteItem, 0, len(cards))
	for order, card := range cards {
		item, err := marshalRecord(cardRecord{
			PK:           sessionPK(sessionID),
			SK:           cardSK(turnNumber, order),
			EntityType:   entityCard,
			SessionID:    sessionID,
			TurnNumber:   turnNumber,
			CardType:     card.CardType,
			Payload:      card.Payload,
			DisplayOrder: order,
			ShownAt:      shownAt,
		})
		if err != nil {
			return appErrors.NewInternal("failed to marshal card", err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(SK)"),
			},
		})
	}

	err = s.execute(func() error {
		_, callErr := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes,
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewUniqueViolation("card", fmt.Sprintf("%s/%d", sessionID, turnNumber))
	}
	if err != nil {
		return mapError(err, "attach_cards")
	}
	return nil
}

func (s *Store) History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error) {
	items, err := s.querySessionPartition(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sawMeta := false
	messages := make(map[int]domain.Message)
	cardsByTurn := make(map[int][]domain.UICard)
	for _, item := range items {
		switch stringAttr(item, "entity_type") {
		case entitySession:
			sawMeta = true
		case entityMessage:
			var rec messageRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, appErrors.NewInternal("failed to unmarshal message", err)
			}
			messages[rec.TurnNumber] = rec.toDomain()
		case entityCard:
			var rec cardRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, appErrors.NewInternal("failed to unmarshal card", err)
			}
			cardsByTurn[rec.TurnNumber] = append(cardsByTurn[rec.TurnNumber], rec.toDomain())
		}
	}
	if !sawMeta {
		return nil, appErrors.NewNotFound("session", sessionID)
	}

	turnNumbers := make([]int, 0, len(messages))
	for n := range messages {
		turnNumbers = append(turnNumbers, n)
	}
	sort.Ints(turnNumbers)
	if lastN > 0 && len(turnNumbers) > lastN {
		turnNumbers = turnNumbers[len(turnNumbers)-lastN:]
	}

	turns := make([]domain.Turn, 0, len(turnNumbers))
	for _, n := range turnNumbers {
		cards := cardsByTurn[n]
		sort.Slice(cards, func(i, j int) bool { return cards[i].DisplayOrder < cards[j].DisplayOrder })
		turns = append(turns, domain.Turn{Message: messages[n], Cards: cards})
	}
	return turns, nil
}

func (s *Store) CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error) {
	rec, err := s.getSessionRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	target := rec.NextTurn - 1 - turnsBack
	coordinate := fmt.Sprintf("%s/turn-%d/order-%d", sessionID, target, displayOrder)
	if target < 1 {
		return nil, appErrors.NewNotFound("card", coordinate)
	}

	item, err := s.getItem(ctx, sessionPK(sessionID), cardSK(target, displayOrder))
	if err != nil {
		return nil, mapError(err, "card_at_offset")
	}
	if item == nil {
		return nil, appErrors.NewNotFound("card", coordinate)
	}

	var card cardRecord
	if err := attributevalue.UnmarshalMap(item, &card); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal card", err)
	}
	out := card.toDomain()
	return &out, nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	endedAt, err := attributevalue.Marshal(s.now().UTC())
	if err != nil {
		return appErrors.NewInternal("failed to marshal timestamp", err)
	}

	err = s.execute(func() error {
		_, callErr := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 keyOf(sessionPK(sessionID), skMeta),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			UpdateExpression:    aws.String("SET active = :false, ended_at = if_not_exists(ended_at, :now)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":false": &types.AttributeValueMemberBOOL{Value: false},
				":now":   endedAt,
			},
		})
		return callErr
	})
	if isConditionalFailure(err) {
		return appErrors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return mapError(err, "end_session")
	}
	return nil
}

// failedTransactIndex returns the position of the first transact item whose
// condition failed, or -1 when the error is not a conditional cancellation.
func failedTransactIndex(err error) int {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return -1
	}
	for i, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}
