package payment

import (
	"context"
	"errors"
	"time"

	paymentRepo "tably/database/repository/payment"
	"tably/events"
	"tably/models"
	"tably/services/idempotency"
)

// Orchestrator errors surfaced to callers.
var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidState        = errors.New("payment not in a state that allows this operation")
	ErrCallbackConflict    = errors.New("provider callback conflicts with a terminal payment state")
)

// Idempotency registry operation names.
const (
	opInitiate = "payment.initiate"
	opRefund   = "payment.refund"
)

// InitiateRequest starts a payment for a booking.
type InitiateRequest struct {
	BookingID      string `json:"booking_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
	CardToken      string `json:"card_token"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RefundRequest asks for a partial or full refund of a completed payment.
type RefundRequest struct {
	PaymentID      string `json:"payment_id"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ProviderCallback is a normalized asynchronous notification from the
// provider (webhook or poller). Status is one of the Provider* constants.
type ProviderCallback struct {
	PaymentReference  string `json:"payment_reference"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
	Reason            string `json:"reason"`
}

// Event is the payload carried on payment topic events.
type Event struct {
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Orchestrator owns the payment lifecycle: initiation with bounded retries,
// asynchronous provider callbacks, and guarded refunds.
type Orchestrator interface {
	Initiate(ctx context.Context, req InitiateRequest) (*models.Payment, error)
	// Confirm completes a payment parked in processing (e.g. after 3DS).
	// providerConfirmation carries the provider's challenge outcome and is
	// forwarded verbatim; it may be empty when the provider needs none.
	Confirm(ctx context.Context, paymentID, providerConfirmation string) (*models.Payment, error)
	HandleProviderCallback(ctx context.Context, cb ProviderCallback) error
	Refund(ctx context.Context, req RefundRequest) (*models.Refund, error)
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*models.Payment, error)
	ListRefunds(ctx context.Context, paymentID string) ([]models.Refund, error)
}

// DefaultOrchestrator implements Orchestrator.
type DefaultOrchestrator struct {
	Repo     paymentRepo.PaymentRepository
	Provider Provider
	Idem     idempotency.Registry
	Bus      events.Bus

	// MaxAttempts bounds provider authorization retries; zero means 3.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts; zero means 200ms.
	RetryBackoff time.Duration
}

func (o *DefaultOrchestrator) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return 3
}

func (o *DefaultOrchestrator) retryBackoff() time.Duration {
	if o.RetryBackoff > 0 {
		return o.RetryBackoff
	}
	return 200 * time.Millisecond
}
