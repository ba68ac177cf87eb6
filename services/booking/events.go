package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingRepo "tably/database/repository/booking"
	"tably/events"
	"tably/models"
	"tably/services/payment"
	"tably/services/pricing"
	"tably/utils"

	"go.uber.org/zap"
)

const sweepBatchSize = 200

// RegisterEventHandlers subscribes the coordinator to payment outcomes.
func (c *DefaultCoordinator) RegisterEventHandlers(bus events.Bus) {
	bus.Subscribe(events.TopicPayment, events.PaymentCompleted, c.handlePaymentCompleted)
	bus.Subscribe(events.TopicPayment, events.PaymentFailed, c.handlePaymentFailed)
}

// handlePaymentCompleted confirms the booking: accept the quote, confirm
// the hold, then flip pending to confirmed. Deliveries are at least once,
// so every step tolerates having already happened.
func (c *DefaultCoordinator) handlePaymentCompleted(ctx context.Context, env events.Envelope) error {
	logger := utils.GetLogger()

	var evt payment.Event
	if err := env.DecodePayload(&evt); err != nil {
		return fmt.Errorf("undecodable payment event: %w", err)
	}
	if evt.BookingID == "" {
		logger.Warn("payment completed without booking reference", zap.String("payment_id", evt.PaymentID))
		return nil
	}

	booking, err := c.Repo.GetByID(ctx, evt.BookingID)
	if err != nil {
		if errors.Is(err, bookingRepo.ErrNotFound) {
			logger.Warn("payment completed for unknown booking", zap.String("booking_id", evt.BookingID))
			return nil
		}
		return err
	}

	switch booking.Status {
	case models.BookingConfirmed:
		return nil
	case models.BookingPending:
	default:
		// Money arrived after the booking closed; give it back.
		logger.Warn("payment completed after booking closed",
			zap.String("booking_id", booking.ID), zap.String("status", string(booking.Status)))
		c.refundPayment(ctx, evt.PaymentID, "booking no longer "+string(models.BookingPending))
		return nil
	}

	if err := c.Pricing.Accept(ctx, booking.PriceDecisionRef, booking.Reference); err != nil {
		if errors.Is(err, pricing.ErrQuoteExpired) || errors.Is(err, pricing.ErrDecisionInvalid) {
			// Quote gone stale while the charge settled; unwind fully.
			logger.Warn("quote unusable at confirmation, cancelling booking",
				zap.String("booking_id", booking.ID), zap.Error(err))
			if _, cerr := c.CancelBooking(ctx, booking.ID, "price quote expired before confirmation"); cerr != nil {
				return cerr
			}
			c.refundPayment(ctx, evt.PaymentID, "price quote expired before confirmation")
			return nil
		}
		return fmt.Errorf("failed to accept quote: %w", err)
	}

	if err := c.Inventory.ConfirmHold(ctx, booking.InventoryHoldID); err != nil {
		return fmt.Errorf("failed to confirm hold: %w", err)
	}

	confirmed, err := c.transition(ctx, booking.ID, models.BookingConfirmed, func(now time.Time) map[string]any {
		return map[string]any{"payment_ref": evt.Reference, "confirmed_at": now}
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Raced with cancel or expiry; those paths own the compensation.
			return nil
		}
		return err
	}

	c.publish(ctx, events.BookingConfirmed, confirmed, confirmed.ID+"|confirmed")
	return nil
}

// handlePaymentFailed leaves the booking pending; the guest may retry
// payment until the confirmation deadline, after which the sweeper expires it.
func (c *DefaultCoordinator) handlePaymentFailed(ctx context.Context, env events.Envelope) error {
	var evt payment.Event
	if err := env.DecodePayload(&evt); err != nil {
		return fmt.Errorf("undecodable payment event: %w", err)
	}
	utils.GetLogger().Info("payment failed, booking stays pending until deadline",
		zap.String("booking_id", evt.BookingID),
		zap.String("payment_id", evt.PaymentID),
		zap.String("reason", evt.Reason))
	return nil
}

// ExpirePendingBookings sweeps bookings past their payment deadline.
func (c *DefaultCoordinator) ExpirePendingBookings(ctx context.Context) (int, error) {
	logger := utils.GetLogger()

	stale, err := c.Repo.FindExpiredPending(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired bookings: %w", err)
	}

	swept := 0
	for _, b := range stale {
		err := c.Repo.TransitionStatus(ctx, b.ID, models.BookingPending, models.BookingExpired, b.Version, nil)
		if err != nil {
			if !errors.Is(err, bookingRepo.ErrVersionConflict) {
				logger.Warn("failed to expire booking", zap.String("booking_id", b.ID), zap.Error(err))
			}
			continue
		}

		c.releaseHold(ctx, b.InventoryHoldID, "booking expired")
		c.rejectQuote(ctx, b.PriceDecisionRef)

		b.Status = models.BookingExpired
		b.Version++
		c.publish(ctx, events.BookingExpired, &b, b.ID+"|expired")
		swept++
	}
	return swept, nil
}

// refundIfPaid refunds the booking's payment when one completed.
func (c *DefaultCoordinator) refundIfPaid(ctx context.Context, booking *models.Booking, reason string) {
	if c.Payments == nil {
		return
	}
	pay, err := c.Payments.GetByBookingID(ctx, booking.ID)
	if err != nil {
		return
	}
	switch pay.Status {
	case models.PaymentCompleted, models.PaymentPartiallyRefunded:
		c.refundPayment(ctx, pay.ID, reason)
	}
}

func (c *DefaultCoordinator) refundPayment(ctx context.Context, paymentID, reason string) {
	if c.Payments == nil || paymentID == "" {
		return
	}
	_, err := c.Payments.Refund(ctx, payment.RefundRequest{
		PaymentID:      paymentID,
		Reason:         reason,
		IdempotencyKey: "auto-refund-" + paymentID,
	})
	if err != nil && !errors.Is(err, payment.ErrInvalidState) {
		utils.GetLogger().Error("compensating refund failed",
			zap.String("payment_id", paymentID), zap.String("reason", reason), zap.Error(err))
	}
}
