package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paymentRepo "tably/database/repository/payment"
	"tably/events"
	"tably/models"
	"tably/services/idempotency"
	"tably/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const casRetries = 3

func newPaymentReference() string {
	return "PM-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:15]
}

func (o *DefaultOrchestrator) Initiate(ctx context.Context, req InitiateRequest) (*models.Payment, error) {
	if req.BookingID == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("booking_id and idempotency_key are required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid payment amount %q", req.Amount)
	}

	hash := idempotency.HashRequest(req)
	if resultID, found, err := o.Idem.Check(ctx, req.IdempotencyKey, opInitiate, hash); err != nil {
		return nil, err
	} else if found {
		return o.Repo.GetByID(ctx, resultID)
	}

	now := time.Now()
	payment := &models.Payment{
		ID:             uuid.New().String(),
		Reference:      newPaymentReference(),
		BookingID:      req.BookingID,
		Amount:         amount.Round(2).String(),
		Currency:       req.Currency,
		Method:         req.Method,
		Status:         models.PaymentPending,
		Version:        1,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Repo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	// Record before calling the provider so a replayed request maps to this
	// payment even if we crash mid-flight.
	winnerID, err := o.Idem.Record(ctx, req.IdempotencyKey, opInitiate, payment.ID, hash)
	if err != nil {
		return nil, err
	}
	if winnerID != payment.ID {
		return o.Repo.GetByID(ctx, winnerID)
	}

	o.publish(ctx, events.PaymentInitiated, payment, "", payment.ID+"|initiated")

	result, err := o.authorizeWithRetry(ctx, payment, req.CardToken)
	if err != nil {
		o.markFailed(ctx, payment, "provider unavailable")
		return payment, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return o.applyAuthorizeResult(ctx, payment, result)
}

// authorizeWithRetry retries transport failures with the same provider
// idempotency key so at most one charge is ever created.
func (o *DefaultOrchestrator) authorizeWithRetry(ctx context.Context, payment *models.Payment, cardToken string) (*ProviderResult, error) {
	amount, _ := decimal.NewFromString(payment.Amount)
	req := AuthorizeRequest{
		Amount:         amount,
		Currency:       payment.Currency,
		Method:         payment.Method,
		CardToken:      cardToken,
		IdempotencyKey: payment.ID,
		Description:    "booking " + payment.BookingID,
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts(); attempt++ {
		payment.Attempts = attempt
		result, err := o.Provider.Authorize(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		utils.GetLogger().Warn("payment authorization attempt failed",
			zap.String("payment_id", payment.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.retryBackoff() * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (o *DefaultOrchestrator) applyAuthorizeResult(ctx context.Context, payment *models.Payment, result *ProviderResult) (*models.Payment, error) {
	extra := map[string]any{
		"provider_payment_id": result.ProviderPaymentID,
		"attempts":            payment.Attempts,
		"card_last4":          result.CardLast4,
		"card_brand":          result.CardBrand,
	}

	var target models.PaymentStatus
	switch result.Status {
	case ProviderCompleted:
		target = models.PaymentCompleted
	case ProviderProcessing:
		target = models.PaymentProcessing
	default:
		target = models.PaymentFailed
		extra["failure_reason"] = result.FailureReason
	}

	err := o.Repo.TransitionStatus(ctx, payment.ID,
		[]models.PaymentStatus{models.PaymentPending}, target, payment.Version, extra)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrVersionConflict) {
			// A callback beat us; the stored row is authoritative.
			return o.Repo.GetByID(ctx, payment.ID)
		}
		return nil, fmt.Errorf("failed to record authorization outcome: %w", err)
	}

	payment.Status = target
	payment.Version++
	payment.ProviderPaymentID = result.ProviderPaymentID
	payment.CardLast4 = result.CardLast4
	payment.CardBrand = result.CardBrand
	payment.FailureReason = result.FailureReason

	switch target {
	case models.PaymentCompleted:
		o.publish(ctx, events.PaymentCompleted, payment, "", payment.ID+"|completed")
	case models.PaymentFailed:
		o.publish(ctx, events.PaymentFailed, payment, result.FailureReason, payment.ID+"|failed")
	}
	return payment, nil
}

func (o *DefaultOrchestrator) markFailed(ctx context.Context, payment *models.Payment, reason string) {
	err := o.Repo.TransitionStatus(ctx, payment.ID,
		[]models.PaymentStatus{models.PaymentPending}, models.PaymentFailed, payment.Version,
		map[string]any{"failure_reason": reason, "attempts": payment.Attempts})
	if err != nil {
		utils.GetLogger().Error("failed to mark payment failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
		return
	}
	payment.Status = models.PaymentFailed
	payment.Version++
	payment.FailureReason = reason
	o.publish(ctx, events.PaymentFailed, payment, reason, payment.ID+"|failed")
}

func (o *DefaultOrchestrator) Confirm(ctx context.Context, paymentID, providerConfirmation string) (*models.Payment, error) {
	payment, err := o.Repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		return payment, nil
	}
	if payment.Status != models.PaymentProcessing {
		return nil, ErrInvalidState
	}

	result, err := o.Provider.Confirm(ctx, payment.ProviderPaymentID, providerConfirmation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	target := models.PaymentCompleted
	extra := map[string]any{}
	if result.Status != ProviderCompleted {
		target = models.PaymentFailed
		extra["failure_reason"] = result.FailureReason
	}

	err = o.Repo.TransitionStatus(ctx, payment.ID,
		[]models.PaymentStatus{models.PaymentProcessing}, target, payment.Version, extra)
	if err != nil {
		if errors.Is(err, paymentRepo.ErrVersionConflict) {
			return o.Repo.GetByID(ctx, payment.ID)
		}
		return nil, err
	}

	payment.Status = target
	payment.Version++
	if target == models.PaymentCompleted {
		o.publish(ctx, events.PaymentCompleted, payment, "", payment.ID+"|completed")
	} else {
		payment.FailureReason = result.FailureReason
		o.publish(ctx, events.PaymentFailed, payment, result.FailureReason, payment.ID+"|failed")
	}
	return payment, nil
}

// HandleProviderCallback applies an asynchronous provider notification.
// Duplicate deliveries are no-ops; a callback that contradicts a terminal
// state is rejected.
func (o *DefaultOrchestrator) HandleProviderCallback(ctx context.Context, cb ProviderCallback) error {
	var target models.PaymentStatus
	switch cb.Status {
	case ProviderCompleted:
		target = models.PaymentCompleted
	case ProviderFailed:
		target = models.PaymentFailed
	case ProviderProcessing:
		target = models.PaymentProcessing
	default:
		return fmt.Errorf("unknown provider callback status %q", cb.Status)
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		payment, err := o.Repo.GetByReference(ctx, cb.PaymentReference)
		if err != nil {
			return err
		}
		if payment.Status == target {
			return nil
		}
		if !payment.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrCallbackConflict, payment.Status, target)
		}

		extra := map[string]any{}
		if cb.ProviderPaymentID != "" {
			extra["provider_payment_id"] = cb.ProviderPaymentID
		}
		if target == models.PaymentFailed {
			extra["failure_reason"] = cb.Reason
		}

		err = o.Repo.TransitionStatus(ctx, payment.ID,
			[]models.PaymentStatus{payment.Status}, target, payment.Version, extra)
		if errors.Is(err, paymentRepo.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		payment.Status = target
		payment.Version++
		switch target {
		case models.PaymentCompleted:
			o.publish(ctx, events.PaymentCompleted, payment, "", payment.ID+"|completed")
		case models.PaymentFailed:
			payment.FailureReason = cb.Reason
			o.publish(ctx, events.PaymentFailed, payment, cb.Reason, payment.ID+"|failed")
		}
		return nil
	}
	return paymentRepo.ErrVersionConflict
}

func (o *DefaultOrchestrator) Refund(ctx context.Context, req RefundRequest) (*models.Refund, error) {
	if req.PaymentID == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("payment_id and idempotency_key are required")
	}

	payment, err := o.Repo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentCompleted, models.PaymentPartiallyRefunded:
	default:
		return nil, ErrInvalidState
	}

	amountStr := req.Amount
	if amountStr == "" {
		amountStr = payment.Amount
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid refund amount %q", req.Amount)
	}

	hash := idempotency.HashRequest(req)
	if resultID, found, err := o.Idem.Check(ctx, req.IdempotencyKey, opRefund, hash); err != nil {
		return nil, err
	} else if found {
		return o.findRefund(ctx, payment.ID, resultID)
	}

	now := time.Now()
	ref := &models.Refund{
		ID:             uuid.New().String(),
		PaymentID:      payment.ID,
		Amount:         amount.Round(2).String(),
		Currency:       payment.Currency,
		Status:         models.RefundPending,
		IdempotencyKey: req.IdempotencyKey,
		Reason:         req.Reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Repo.InsertRefundGuarded(ctx, payment, ref); err != nil {
		return nil, err
	}

	winnerID, err := o.Idem.Record(ctx, req.IdempotencyKey, opRefund, ref.ID, hash)
	if err != nil {
		return nil, err
	}
	if winnerID != ref.ID {
		return o.findRefund(ctx, payment.ID, winnerID)
	}

	o.publish(ctx, events.PaymentRefundInitiated, payment, req.Reason, ref.ID+"|refund_initiated")

	providerRefundID, err := o.Provider.Refund(ctx, payment.ProviderPaymentID, amount, payment.Currency, ref.ID)
	if err != nil {
		if uerr := o.Repo.UpdateRefund(ctx, ref.ID, models.RefundFailed, ""); uerr != nil {
			utils.GetLogger().Error("failed to mark refund failed",
				zap.String("refund_id", ref.ID), zap.Error(uerr))
		}
		ref.Status = models.RefundFailed
		return ref, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := o.Repo.UpdateRefund(ctx, ref.ID, models.RefundCompleted, providerRefundID); err != nil {
		return nil, fmt.Errorf("refund settled at provider but not recorded: %w", err)
	}
	ref.Status = models.RefundCompleted
	ref.ProviderRefundID = providerRefundID

	if err := o.settleRefundedStatus(ctx, payment.ID); err != nil {
		utils.GetLogger().Warn("failed to settle refunded payment status",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}

	if done, gerr := o.Repo.GetByID(ctx, payment.ID); gerr == nil {
		o.publish(ctx, events.PaymentRefundCompleted, done, "", ref.ID+"|refund_completed")
	}
	return ref, nil
}

// settleRefundedStatus moves the payment to refunded or partially_refunded
// by comparing the completed refund total to the payment amount.
func (o *DefaultOrchestrator) settleRefundedStatus(ctx context.Context, paymentID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		payment, err := o.Repo.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}

		refunds, err := o.Repo.ListRefunds(ctx, paymentID)
		if err != nil {
			return err
		}
		refunded := decimal.Zero
		for _, r := range refunds {
			if r.Status != models.RefundCompleted {
				continue
			}
			amt, perr := decimal.NewFromString(r.Amount)
			if perr != nil {
				return fmt.Errorf("corrupt refund amount %q on %s", r.Amount, r.ID)
			}
			refunded = refunded.Add(amt)
		}

		total, err := decimal.NewFromString(payment.Amount)
		if err != nil {
			return fmt.Errorf("corrupt payment amount %q", payment.Amount)
		}

		target := models.PaymentPartiallyRefunded
		if refunded.GreaterThanOrEqual(total) {
			target = models.PaymentRefunded
		}
		if payment.Status == target {
			return nil
		}
		if !payment.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, payment.Status, target)
		}

		err = o.Repo.TransitionStatus(ctx, payment.ID,
			[]models.PaymentStatus{payment.Status}, target, payment.Version, nil)
		if errors.Is(err, paymentRepo.ErrVersionConflict) {
			continue
		}
		return err
	}
	return paymentRepo.ErrVersionConflict
}

func (o *DefaultOrchestrator) findRefund(ctx context.Context, paymentID, refundID string) (*models.Refund, error) {
	refunds, err := o.Repo.ListRefunds(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	for i := range refunds {
		if refunds[i].ID == refundID {
			return &refunds[i], nil
		}
	}
	return nil, paymentRepo.ErrNotFound
}

func (o *DefaultOrchestrator) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return o.Repo.GetByID(ctx, id)
}

func (o *DefaultOrchestrator) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return o.Repo.GetByReference(ctx, reference)
}

func (o *DefaultOrchestrator) GetByBookingID(ctx context.Context, bookingID string) (*models.Payment, error) {
	return o.Repo.GetByBookingID(ctx, bookingID)
}

func (o *DefaultOrchestrator) ListRefunds(ctx context.Context, paymentID string) ([]models.Refund, error) {
	return o.Repo.ListRefunds(ctx, paymentID)
}

func (o *DefaultOrchestrator) publish(ctx context.Context, eventType string, payment *models.Payment, reason, dedupKey string) {
	if o.Bus == nil {
		return
	}
	payload := Event{
		PaymentID: payment.ID,
		BookingID: payment.BookingID,
		Reference: payment.Reference,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    string(payment.Status),
		Reason:    reason,
	}
	if err := o.Bus.Publish(ctx, events.TopicPayment, eventType, payload, dedupKey); err != nil {
		utils.GetLogger().Warn("failed to publish payment event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
