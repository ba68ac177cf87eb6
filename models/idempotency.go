package models

import "time"

// IdempotencyRecord maps a client-supplied key and operation to the result
// of the first successful call. RequestHash detects key reuse with a
// divergent payload.
type IdempotencyRecord struct {
	Key         string    `bson:"key" json:"key"`
	Operation   string    `bson:"operation" json:"operation"`
	ResultID    string    `bson:"result_id" json:"result_id"`
	RequestHash string    `bson:"request_hash" json:"request_hash"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time `bson:"expires_at" json:"expires_at"`
}
