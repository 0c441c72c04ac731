package domain

import "time"

// MemoryType tags what kind of information a memory carries.
type MemoryType string

const (
	MemoryTypeFact         MemoryType = "fact"
	MemoryTypePreference   MemoryType = "preference"
	MemoryTypeConversation MemoryType = "conversation"
	MemoryTypeSkill        MemoryType = "skill"
)

// ValidMemoryType reports whether t is a recognized memory type.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypeConversation, MemoryTypeSkill:
		return true
	}
	return false
}

// Memory is a free-text, vector-embedded span of user-specific information
// used for semantic retrieval. Content and embedding are immutable; only the
// relevance score may change. New memories supersede, they never overwrite.
type Memory struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Embedding  []float32  `json:"embedding"`
	Type       MemoryType `json:"type"`
	Attributes Attributes `json:"attributes,omitempty"`
	Relevance  float64    `json:"relevance"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ScoredMemory pairs a memory with its similarity to a query embedding.
type ScoredMemory struct {
	Memory     Memory  `json:"memory"`
	Similarity float64 `json:"similarity"`
}
