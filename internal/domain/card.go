package domain

import "time"

// UICard is a structured visual artifact shown to the user during a turn.
// Cards are immutable once written; (SessionID, TurnNumber, DisplayOrder) is
// unique, DisplayOrder being the card's position among those shown at the
// same turn. The offset-addressed lookup "the second card from three
// questions ago" resolves through these two coordinates.
type UICard struct {
	SessionID    string     `json:"session_id"`
	TurnNumber   int        `json:"turn_number"`
	CardType     string     `json:"card_type"`
	Payload      Attributes `json:"payload"`
	DisplayOrder int        `json:"display_order"`
	ShownAt      time.Time  `json:"shown_at"`
}

// CardInput is a card as supplied by the caller; the store assigns
// DisplayOrder from list position and stamps ShownAt.
type CardInput struct {
	CardType string     `json:"card_type"`
	Payload  Attributes `json:"payload"`
}
