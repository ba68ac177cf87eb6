package paymentRepo

import (
	"context"
	"errors"

	"tably/models"
)

// Repository errors surfaced to the orchestrator.
var (
	ErrNotFound             = errors.New("payment not found")
	ErrVersionConflict      = errors.New("payment version conflict")
	ErrRefundExceedsPayment = errors.New("refund total would exceed payment amount")
)

// PaymentRepository persists payments and their refund children. Status
// updates are compare-and-swap on (status, version); the refund guard runs
// inside a transaction so racing refunds cannot oversubscribe the payment.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*models.Payment, error)
	TransitionStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus, expectedVersion int64, extra map[string]any) error

	// InsertRefundGuarded inserts the refund iff existing pending and
	// completed refunds plus this one stay within the payment amount.
	InsertRefundGuarded(ctx context.Context, payment *models.Payment, refund *models.Refund) error
	UpdateRefund(ctx context.Context, id string, status models.RefundStatus, providerRefundID string) error
	ListRefunds(ctx context.Context, paymentID string) ([]models.Refund, error)
}
