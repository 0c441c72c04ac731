package domain

import "time"

// Fact is a structured, confidence-scored statement about a user, uniquely
// keyed by (UserID, Category, Key). Facts are merged in place on
// re-extraction, never duplicated.
//
// SourceMemoryID is a weak back-reference to the memory the fact was
// extracted from: deleting that memory clears the reference but leaves the
// fact intact.
type Fact struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Category       string     `json:"category"`
	Key            string     `json:"key"`
	Value          Attributes `json:"value"`
	Confidence     int        `json:"confidence"`
	SourceMemoryID string     `json:"source_memory_id,omitempty"`
	FirstMentioned time.Time  `json:"first_mentioned"`
	LastUpdated    time.Time  `json:"last_updated"`
}

// ValidConfidence reports whether c lies in [0,100].
func ValidConfidence(c int) bool {
	return c >= 0 && c <= 100
}

// Profile groups a user's facts by category, each group ordered by
// LastUpdated descending.
type Profile map[string][]Fact
