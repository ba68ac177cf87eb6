package models

import "time"

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// paymentTransitions mirrors the one-way payment state machine; refund
// states are only reachable from completed.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentProcessing:        {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted:         {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
}

// CanTransitionTo reports whether the payment state machine allows s → next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the payment can no longer move (refunds aside).
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Payment is the transaction record owned by the payment orchestrator.
// Amount is a decimal string; Version guards concurrent status updates.
type Payment struct {
	ID                string        `bson:"id" json:"id"`
	Reference         string        `bson:"reference" json:"reference"`
	BookingID         string        `bson:"booking_id" json:"booking_id"`
	Amount            string        `bson:"amount" json:"amount"`
	Currency          string        `bson:"currency" json:"currency"`
	Method            string        `bson:"method" json:"method"`
	Status            PaymentStatus `bson:"status" json:"status"`
	Version           int64         `bson:"version" json:"version"`
	ProviderPaymentID string        `bson:"provider_payment_id,omitempty" json:"provider_payment_id,omitempty"`
	IdempotencyKey    string        `bson:"idempotency_key" json:"idempotency_key"`
	Attempts          int           `bson:"attempts" json:"attempts"`
	FailureReason     string        `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CardLast4         string        `bson:"card_last4,omitempty" json:"card_last4,omitempty"`
	CardBrand         string        `bson:"card_brand,omitempty" json:"card_brand,omitempty"`
	CreatedAt         time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `bson:"updated_at" json:"updated_at"`
}

// RefundStatus is the state of one refund attempt.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Refund is a child row of a payment. Completed refunds never sum past
// the payment amount.
type Refund struct {
	ID               string       `bson:"id" json:"id"`
	PaymentID        string       `bson:"payment_id" json:"payment_id"`
	Amount           string       `bson:"amount" json:"amount"`
	Currency         string       `bson:"currency" json:"currency"`
	Status           RefundStatus `bson:"status" json:"status"`
	ProviderRefundID string       `bson:"provider_refund_id,omitempty" json:"provider_refund_id,omitempty"`
	IdempotencyKey   string       `bson:"idempotency_key" json:"idempotency_key"`
	Reason           string       `bson:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt        time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `bson:"updated_at" json:"updated_at"`
}
