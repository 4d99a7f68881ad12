package domain

import (
	"strconv"
	"time"
)

// IdempotencyLog stores the response of a withdrawal request so a retried
// request with the same reference returns the original record.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "<user_id>:withdraw:<reference_id>"
	TransactionID int64     `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"`
	CreatedAt     time.Time `json:"created_at"`
}

// BuildWithdrawalIdempotencyKey constructs the key for withdrawal idempotency.
func BuildWithdrawalIdempotencyKey(userID int64, referenceID string) string {
	return strconv.FormatInt(userID, 10) + ":withdraw:" + referenceID
}
