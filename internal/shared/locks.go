package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// ConsolidationLockKey builds the redis key guarding runs of one statement.
func ConsolidationLockKey(statementID uuid.UUID) string {
	return fmt.Sprintf("konzern:statement:%s:lock", statementID)
}
