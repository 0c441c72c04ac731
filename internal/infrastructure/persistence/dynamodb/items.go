package dynamodb

import (
	"time"

	"engram-backend/internal/domain"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Record types mirror the single-table items. Every record carries PK/SK and
// an entity type discriminator so mixed-entity queries can be parsed.

type userRecord struct {
	PK         string            `dynamodbav:"PK"`
	SK         string            `dynamodbav:"SK"`
	EntityType string            `dynamodbav:"entity_type"`
	ID         string            `dynamodbav:"id"`
	Name       string            `dynamodbav:"name"`
	Email      string            `dynamodbav:"email,omitempty"`
	Attributes domain.Attributes `dynamodbav:"attributes,omitempty"`
	CreatedAt  time.Time         `dynamodbav:"created_at"`
	LastActive time.Time         `dynamodbav:"last_active"`
}

type sessionRecord struct {
	PK         string             `dynamodbav:"PK"`
	SK         string             `dynamodbav:"SK"`
	GSI1PK     string             `dynamodbav:"GSI1PK"`
	GSI1SK     string             `dynamodbav:"GSI1SK"`
	EntityType string             `dynamodbav:"entity_type"`
	ID         string             `dynamodbav:"id"`
	UserID     string             `dynamodbav:"user_id"`
	Kind       domain.SessionKind `dynamodbav:"kind"`
	Attributes domain.Attributes  `dynamodbav:"attributes,omitempty"`
	StartedAt  time.Time          `dynamodbav:"started_at"`
	EndedAt    *time.Time         `dynamodbav:"ended_at,omitempty"`
	Active     bool               `dynamodbav:"active"`
	// NextTurn is the number the next message will claim. The append
	// transaction conditions on it, which is what makes turn assignment
	// gapless under concurrent writers.
	NextTurn int `dynamodbav:"next_turn"`
}

type messageRecord struct {
	PK         string            `dynamodbav:"PK"`
	SK         string            `dynamodbav:"SK"`
	EntityType string            `dynamodbav:"entity_type"`
	SessionID  string            `dynamodbav:"session_id"`
	TurnNumber int               `dynamodbav:"turn_number"`
	Role       domain.Role       `dynamodbav:"role"`
	Content    string            `dynamodbav:"content"`
	Attributes domain.Attributes `dynamodbav:"attributes,omitempty"`
	CreatedAt  time.Time         `dynamodbav:"created_at"`
}

type cardRecord struct {
	PK           string            `dynamodbav:"PK"`
	SK           string            `dynamodbav:"SK"`
	EntityType   string            `dynamodbav:"entity_type"`
	SessionID    string            `dynamodbav:"session_id"`
	TurnNumber   int               `dynamodbav:"turn_number"`
	CardType     string            `dynamodbav:"card_type"`
	Payload      domain.Attributes `dynamodbav:"payload"`
	DisplayOrder int               `dynamodbav:"display_order"`
	ShownAt      time.Time         `dynamodbav:"shown_at"`
}

type memoryRecord struct {
	PK         string            `dynamodbav:"PK"`
	SK         string            `dynamodbav:"SK"`
	GSI1PK     string            `dynamodbav:"GSI1PK"`
	GSI1SK     string            `dynamodbav:"GSI1SK"`
	EntityType string            `dynamodbav:"entity_type"`
	ID         string            `dynamodbav:"id"`
	UserID     string            `dynamodbav:"user_id"`
	Text       string            `dynamodbav:"text"`
	Embedding  []float32         `dynamodbav:"embedding"`
	Type       domain.MemoryType `dynamodbav:"type"`
	Attributes domain.Attributes `dynamodbav:"attributes,omitempty"`
	Relevance  float64           `dynamodbav:"relevance"`
	CreatedAt  time.Time         `dynamodbav:"created_at"`
	UpdatedAt  time.Time         `dynamodbav:"updated_at"`
}

type factRecord struct {
	PK             string            `dynamodbav:"PK"`
	SK             string            `dynamodbav:"SK"`
	GSI2PK         string            `dynamodbav:"GSI2PK,omitempty"`
	EntityType     string            `dynamodbav:"entity_type"`
	ID             string            `dynamodbav:"id"`
	UserID         string            `dynamodbav:"user_id"`
	Category       string            `dynamodbav:"category"`
	Key            string            `dynamodbav:"key"`
	Value          domain.Attributes `dynamodbav:"value"`
	Confidence     int               `dynamodbav:"confidence"`
	SourceMemoryID string            `dynamodbav:"source_memory_id,omitempty"`
	FirstMentioned time.Time         `dynamodbav:"first_mentioned"`
	LastUpdated    time.Time         `dynamodbav:"last_updated"`
	// Ver guards the read-merge-write cycle in UpsertFact.
	Ver int `dynamodbav:"ver"`
}

const (
	entityUser    = "USER"
	entitySession = "SESSION"
	entityMessage = "MESSAGE"
	entityCard    = "CARD"
	entityMemory  = "MEMORY"
	entityFact    = "FACT"
)

func newUserRecord(u *domain.User) userRecord {
	return userRecord{
		PK:         userPK(u.ID),
		SK:         skProfile,
		EntityType: entityUser,
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Attributes: u.Attributes,
		CreatedAt:  u.CreatedAt,
		LastActive: u.LastActive,
	}
}

func (r userRecord) toDomain() *domain.User {
	return &domain.User{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Attributes: r.Attributes,
		CreatedAt:  r.CreatedAt,
		LastActive: r.LastActive,
	}
}

func newSessionRecord(s *domain.Session, nextTurn int) sessionRecord {
	return sessionRecord{
		PK:         sessionPK(s.ID),
		SK:         skMeta,
		GSI1PK:     userPK(s.UserID),
		GSI1SK:     sessionGSI1SK(s.StartedAt, s.ID),
		EntityType: entitySession,
		ID:         s.ID,
		UserID:     s.UserID,
		Kind:       s.Kind,
		Attributes: s.Attributes,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Active:     s.Active,
		NextTurn:   nextTurn,
	}
}

func (r sessionRecord) toDomain() *domain.Session {
	return &domain.Session{
		ID:         r.ID,
		UserID:     r.UserID,
		Kind:       r.Kind,
		Attributes: r.Attributes,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		Active:     r.Active,
	}
}

func (r messageRecord) toDomain() domain.Message {
	return domain.Message{
		SessionID:  r.SessionID,
		TurnNumber: r.TurnNumber,
		Role:       r.Role,
		Content:    r.Content,
		Attributes: r.Attributes,
		CreatedAt:  r.CreatedAt,
	}
}

func (r cardRecord) toDomain() domain.UICard {
	return domain.UICard{
		SessionID:    r.SessionID,
		TurnNumber:   r.TurnNumber,
		CardType:     r.CardType,
		Payload:      r.Payload,
		DisplayOrder: r.DisplayOrder,
		ShownAt:      r.ShownAt,
	}
}

func newMemoryRecord(m *domain.Memory) memoryRecord {
	return memoryRecord{
		PK:         memoryPK(m.ID),
		SK:         skMeta,
		GSI1PK:     userPK(m.UserID),
		GSI1SK:     memoryGSI1SK(m.CreatedAt, m.ID),
		EntityType: entityMemory,
		ID:         m.ID,
		UserID:     m.UserID,
		Text:       m.Text,
		Embedding:  m.Embedding,
		Type:       m.Type,
		Attributes: m.Attributes,
		Relevance:  m.Relevance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (r memoryRecord) toDomain() domain.Memory {
	return domain.Memory{
		ID:         r.ID,
		UserID:     r.UserID,
		Text:       r.Text,
		Embedding:  r.Embedding,
		Type:       r.Type,
		Attributes: r.Attributes,
		Relevance:  r.Relevance,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newFactRecord(f *domain.Fact, ver int) factRecord {
	rec := factRecord{
		PK:             userPK(f.UserID),
		SK:             factSK(f.Category, f.Key),
		EntityType:     entityFact,
		ID:             f.ID,
		UserID:         f.UserID,
		Category:       f.Category,
		Key:            f.Key,
		Value:          f.Value,
		Confidence:     f.Confidence,
		SourceMemoryID: f.SourceMemoryID,
		FirstMentioned: f.FirstMentioned,
		LastUpdated:    f.LastUpdated,
		Ver:            ver,
	}
	if f.SourceMemoryID != "" {
		rec.GSI2PK = provenanceGSI2PK(f.SourceMemoryID)
	}
	return rec
}

func (r factRecord) toDomain() domain.Fact {
	return domain.Fact{
		ID:             r.ID,
		UserID:         r.UserID,
		Category:       r.Category,
		Key:            r.Key,
		Value:          r.Value,
		Confidence:     r.Confidence,
		SourceMemoryID: r.SourceMemoryID,
		FirstMentioned: r.FirstMentioned,
		LastUpdated:    r.LastUpdated,
	}
}

func marshalRecord(rec interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}
