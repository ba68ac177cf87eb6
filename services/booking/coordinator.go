package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingRepo "tably/database/repository/booking"
	"tably/events"
	"tably/models"
	"tably/services/idempotency"
	"tably/services/inventory"
	"tably/services/pricing"
	"tably/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const casRetries = 3

func newBookingReference() string {
	return "TB-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:12]
}

func validateCreate(req CreateBookingRequest) error {
	switch {
	case req.VenueID == "":
		return fmt.Errorf("%w: venue_id is required", ErrValidation)
	case req.GuestID == "":
		return fmt.Errorf("%w: guest_id is required", ErrValidation)
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency_key is required", ErrValidation)
	case req.PartySize <= 0:
		return fmt.Errorf("%w: party_size must be positive", ErrValidation)
	case req.BookingTime.IsZero():
		return fmt.Errorf("%w: booking_time is required", ErrValidation)
	}
	switch req.VenueType {
	case models.VenueTypeHotel, models.VenueTypeRestaurant, models.VenueTypeCafe, models.VenueTypeRetail:
	default:
		return fmt.Errorf("%w: unknown venue_type %q", ErrValidation, req.VenueType)
	}
	if !req.EndTime.IsZero() && !req.EndTime.After(req.BookingTime) {
		return fmt.Errorf("%w: end_time must be after booking_time", ErrValidation)
	}
	return nil
}

// CreateBooking runs the forward saga: acquire a hold, price the stay,
// persist the pending booking. Every failure after the hold compensates
// what came before it.
func (c *DefaultCoordinator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	logger := utils.GetLogger()

	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if req.EndTime.IsZero() {
		req.EndTime = req.BookingTime.Add(models.DefaultDuration(req.VenueType))
	}

	hash := idempotency.HashRequest(req)
	if resultID, found, err := c.Idem.Check(ctx, req.IdempotencyKey, opCreate, hash); err != nil {
		return nil, err
	} else if found {
		return c.Repo.GetByID(ctx, resultID)
	}

	bookingID := uuid.New().String()
	window := models.TimeWindow{Start: req.BookingTime, End: req.EndTime}

	hold, err := c.acquireHold(ctx, req, bookingID, window)
	if err != nil {
		return nil, err
	}

	decision, err := c.Pricing.Calculate(ctx, models.PricingContext{
		VenueID:     req.VenueID,
		VenueType:   req.VenueType,
		BookingTime: req.BookingTime,
		PartySize:   req.PartySize,
		GuestTier:   req.GuestTier,
		DemandLevel: req.DemandLevel,
		Currency:    req.Currency,
	})
	if err != nil {
		c.releaseHold(ctx, hold.ID, "pricing failed")
		return nil, fmt.Errorf("failed to price booking: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(c.confirmationTTL())
	booking := &models.Booking{
		ID:               bookingID,
		Reference:        newBookingReference(),
		VenueID:          req.VenueID,
		VenueType:        req.VenueType,
		GuestID:          req.GuestID,
		PartySize:        req.PartySize,
		BookingTime:      req.BookingTime,
		EndTime:          req.EndTime,
		Status:           models.BookingPending,
		Version:          1,
		PriceDecisionRef: decision.Reference,
		InventoryHoldID:  hold.ID,
		TotalPrice:       decision.Total,
		Currency:         decision.Currency,
		CreatedAt:        now,
		ExpiresAt:        &expiresAt,
	}
	if err := c.Repo.Create(ctx, booking); err != nil {
		c.releaseHold(ctx, hold.ID, "booking persist failed")
		c.rejectQuote(ctx, decision.Reference)
		return nil, fmt.Errorf("failed to persist booking: %w", err)
	}

	winnerID, err := c.Idem.Record(ctx, req.IdempotencyKey, opCreate, booking.ID, hash)
	if err != nil {
		return nil, err
	}
	if winnerID != booking.ID {
		// A concurrent replay won the registry; compensate ours.
		logger.Info("booking create lost idempotency race",
			zap.String("booking_id", booking.ID), zap.String("winner_id", winnerID))
		c.releaseHold(ctx, hold.ID, "duplicate request")
		c.rejectQuote(ctx, decision.Reference)
		return c.Repo.GetByID(ctx, winnerID)
	}

	c.publish(ctx, events.BookingCreated, booking, booking.ID+"|created")
	return booking, nil
}

// acquireHold re-queries availability after each lost race, up to the
// retry budget.
func (c *DefaultCoordinator) acquireHold(ctx context.Context, req CreateBookingRequest, bookingID string, window models.TimeWindow) (*models.InventoryHold, error) {
	for attempt := 0; attempt < c.holdRetryAttempts(); attempt++ {
		avail, err := c.Inventory.CheckAvailability(ctx, inventory.CheckAvailabilityRequest{
			VenueID:   req.VenueID,
			VenueType: req.VenueType,
			Window:    window,
			PartySize: req.PartySize,
		})
		if err != nil {
			return nil, fmt.Errorf("availability check failed: %w", err)
		}
		if !avail.Available {
			return nil, ErrNoCapacity
		}

		hold, err := c.Inventory.Hold(ctx, avail.Candidates[0].ID, bookingID, window, c.holdTTL())
		if err == nil {
			return hold, nil
		}
		if !errors.Is(err, inventory.ErrConflict) {
			return nil, fmt.Errorf("failed to acquire hold: %w", err)
		}
		// Someone took that resource between the query and the hold.
	}
	return nil, ErrNoCapacity
}

func (c *DefaultCoordinator) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return c.Repo.GetByID(ctx, id)
}

func (c *DefaultCoordinator) GetByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return c.Repo.GetByReference(ctx, reference)
}

func (c *DefaultCoordinator) ListByGuest(ctx context.Context, guestID string, limit int64) ([]models.Booking, error) {
	return c.Repo.ListByGuest(ctx, guestID, limit)
}

// CancelBooking moves the booking to cancelled and compensates: the hold
// is released, an unaccepted quote rejected, a completed payment refunded.
func (c *DefaultCoordinator) CancelBooking(ctx context.Context, id, reason string) (*models.Booking, error) {
	booking, err := c.transition(ctx, id, models.BookingCancelled, func(now time.Time) map[string]any {
		return map[string]any{"cancel_reason": reason, "cancelled_at": now}
	})
	if err != nil {
		return nil, err
	}

	c.releaseHold(ctx, booking.InventoryHoldID, "booking cancelled")
	c.rejectQuote(ctx, booking.PriceDecisionRef)
	c.refundIfPaid(ctx, booking, reason)

	c.publish(ctx, events.BookingCancelled, booking, booking.ID+"|cancelled")
	return booking, nil
}

func (c *DefaultCoordinator) CheckIn(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := c.transition(ctx, id, models.BookingCheckedIn, nil)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (c *DefaultCoordinator) Complete(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := c.transition(ctx, id, models.BookingCompleted, nil)
	if err != nil {
		return nil, err
	}
	c.releaseHold(ctx, booking.InventoryHoldID, "booking completed")
	c.publish(ctx, events.BookingCompleted, booking, booking.ID+"|completed")
	return booking, nil
}

func (c *DefaultCoordinator) NoShow(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := c.transition(ctx, id, models.BookingNoShow, nil)
	if err != nil {
		return nil, err
	}
	c.releaseHold(ctx, booking.InventoryHoldID, "guest no-show")
	return booking, nil
}

// transition applies a CAS status move with retries. Arriving at the target
// status by another writer's hand is success.
func (c *DefaultCoordinator) transition(ctx context.Context, id string, target models.BookingStatus, extraFn func(time.Time) map[string]any) (*models.Booking, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		booking, err := c.Repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if booking.Status == target {
			return booking, nil
		}
		if !booking.Status.CanTransitionTo(target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, target)
		}

		now := time.Now()
		var extra map[string]any
		if extraFn != nil {
			extra = extraFn(now)
		}
		err = c.Repo.TransitionStatus(ctx, id, booking.Status, target, booking.Version, extra)
		if errors.Is(err, bookingRepo.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		booking.Status = target
		booking.Version++
		if target == models.BookingCancelled {
			booking.CancelledAt = &now
		}
		return booking, nil
	}
	return nil, bookingRepo.ErrVersionConflict
}

func (c *DefaultCoordinator) releaseHold(ctx context.Context, holdID, reason string) {
	if holdID == "" {
		return
	}
	if err := c.Inventory.Release(ctx, holdID, reason); err != nil {
		utils.GetLogger().Warn("failed to release hold",
			zap.String("hold_id", holdID), zap.String("reason", reason), zap.Error(err))
	}
}

func (c *DefaultCoordinator) rejectQuote(ctx context.Context, decisionRef string) {
	if decisionRef == "" {
		return
	}
	err := c.Pricing.Reject(ctx, decisionRef)
	if err != nil && !errors.Is(err, pricing.ErrDecisionInvalid) {
		utils.GetLogger().Warn("failed to reject price quote",
			zap.String("decision_ref", decisionRef), zap.Error(err))
	}
}

func (c *DefaultCoordinator) publish(ctx context.Context, eventType string, booking *models.Booking, dedupKey string) {
	if c.Bus == nil {
		return
	}
	if err := c.Bus.Publish(ctx, events.TopicBooking, eventType, booking, dedupKey); err != nil {
		utils.GetLogger().Warn("failed to publish booking event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
