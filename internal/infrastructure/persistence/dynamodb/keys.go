// Package dynamodb implements repository.Store on a single DynamoDB table.
//
// Single table design:
//
//	User     PK=USER#<id>     SK=PROFILE
//	Session  PK=SESSION#<id>  SK=META       GSI1PK=USER#<id> GSI1SK=SESSION#<startedAt>#<id>
//	Message  PK=SESSION#<id>  SK=MSG#<turn>
//	Card     PK=SESSION#<id>  SK=CARD#<turn>#<slot>
//	Memory   PK=MEMORY#<id>   SK=META       GSI1PK=USER#<id> GSI1SK=MEMORY#<createdAt>#<id>
//	Fact     PK=USER#<id>     SK=FACT#<category>#<key>       GSI2PK=SRC#<memoryID>
//
// Turn numbers are zero padded in sort keys so lexicographic order equals
// numeric order. GSI1 answers "everything this user owns"; GSI2 answers
// "facts extracted from this memory".
package dynamodb

import (
	"fmt"
	"time"
)

const (
	skProfile = "PROFILE"
	skMeta    = "META"

	gsi1Name = "UserDataIndex"
	gsi2Name = "ProvenanceIndex"
)

func userPK(userID string) string       { return "USER#" + userID }
func sessionPK(sessionID string) string { return "SESSION#" + sessionID }
func memoryPK(memoryID string) string   { return "MEMORY#" + memoryID }

func messageSK(turn int) string {
	return fmt.Sprintf("MSG#%08d", turn)
}

func cardSK(turn, slot int) string {
	return fmt.Sprintf("CARD#%08d#%03d", turn, slot)
}

func factSK(category, key string) string {
	return "FACT#" + category + "#" + key
}

func sessionGSI1SK(startedAt time.Time, sessionID string) string {
	return "SESSION#" + startedAt.UTC().Format(time.RFC3339Nano) + "#" + sessionID
}

func memoryGSI1SK(createdAt time.Time, memoryID string) string {
	return "MEMORY#" + createdAt.UTC().Format(time.RFC3339Nano) + "#" + memoryID
}

func provenanceGSI2PK(memoryID string) string {
	return "SRC#" + memoryID
}
