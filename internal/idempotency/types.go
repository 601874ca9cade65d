package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency table. It remembers the
// response an Idempotency-Key produced so a client retry gets the same answer
// instead of a second order.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotencyKey"` // PK
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"orderId,omitempty"`
	ResponseBody   string    `dynamodbav:"responseBody,omitempty"`
	ResponseStatus int       `dynamodbav:"responseStatus,omitempty"`
	CreatedAt      time.Time `dynamodbav:"createdAt"`
	UpdatedAt      time.Time `dynamodbav:"updatedAt"`
	ExpiresAt      int64     `dynamodbav:"expiresAt"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}
