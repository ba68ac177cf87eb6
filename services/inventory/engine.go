package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	inventoryRepo "tably/database/repository/inventory"
	"tably/events"
	"tably/models"
	"tably/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrConflict signals an overlapping hold already owns the window.
var ErrConflict = errors.New("resource already held for that window")

const sweepBatchSize = 200

func (e *DefaultReservationEngine) CheckAvailability(ctx context.Context, req CheckAvailabilityRequest) (*models.AvailabilityResult, error) {
	if !req.Window.Valid() {
		return nil, fmt.Errorf("invalid window: end must be after start")
	}

	resources, err := e.Repo.ListResources(ctx, req.VenueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	if len(resources) == 0 {
		return &models.AvailabilityResult{Available: false, Reason: "venue has no bookable resources"}, nil
	}

	blocked, err := e.Repo.BlockedResourceIDs(ctx, req.VenueID, req.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to query holds: %w", err)
	}

	var candidates []models.Resource
	for _, res := range resources {
		if blocked[res.ID] {
			continue
		}
		if req.PartySize > 0 && res.Capacity < req.PartySize {
			continue
		}
		candidates = append(candidates, res)
	}

	if len(candidates) == 0 {
		return &models.AvailabilityResult{Available: false, Reason: "no resource free for the requested window"}, nil
	}
	return &models.AvailabilityResult{Available: true, Candidates: candidates}, nil
}

func (e *DefaultReservationEngine) Hold(ctx context.Context, resourceID, bookingID string, window models.TimeWindow, ttl time.Duration) (*models.InventoryHold, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("invalid window: end must be after start")
	}

	now := time.Now()
	hold := &models.InventoryHold{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		BookingID:  bookingID,
		Window:     window,
		Status:     models.HoldHeld,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := e.Repo.AcquireHold(ctx, hold); err != nil {
		if errors.Is(err, inventoryRepo.ErrHoldConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to acquire hold: %w", err)
	}

	e.publish(ctx, events.InventoryHoldCreated, hold, hold.ID+"|created")
	return hold, nil
}

func (e *DefaultReservationEngine) ConfirmHold(ctx context.Context, holdID string) error {
	changed, err := e.Repo.TransitionHold(ctx, holdID, []models.HoldStatus{models.HoldHeld}, models.HoldConfirmed, "")
	if err != nil {
		return fmt.Errorf("failed to confirm hold %s: %w", holdID, err)
	}
	if changed {
		e.publishHoldEvent(ctx, events.InventoryHoldConfirmed, holdID, "confirmed")
	}
	return nil
}

func (e *DefaultReservationEngine) Release(ctx context.Context, holdID, reason string) error {
	changed, err := e.Repo.TransitionHold(ctx, holdID,
		[]models.HoldStatus{models.HoldHeld, models.HoldConfirmed}, models.HoldReleased, reason)
	if err != nil {
		return fmt.Errorf("failed to release hold %s: %w", holdID, err)
	}
	if changed {
		e.publishHoldEvent(ctx, events.InventoryHoldReleased, holdID, "released")
	}
	return nil
}

func (e *DefaultReservationEngine) GetHold(ctx context.Context, holdID string) (*models.InventoryHold, error) {
	return e.Repo.GetHold(ctx, holdID)
}

func (e *DefaultReservationEngine) ExpireStaleHolds(ctx context.Context) (int, error) {
	logger := utils.GetLogger()

	stale, err := e.Repo.FindExpiredHolds(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired holds: %w", err)
	}

	swept := 0
	for _, hold := range stale {
		changed, err := e.Repo.TransitionHold(ctx, hold.ID,
			[]models.HoldStatus{models.HoldHeld}, models.HoldReleased, "expired")
		if err != nil {
			logger.Warn("failed to expire hold", zap.String("hold_id", hold.ID), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		e.publish(ctx, events.InventoryHoldExpired, &hold, hold.ID+"|expired")
		swept++
	}
	return swept, nil
}

func (e *DefaultReservationEngine) RegisterResource(ctx context.Context, resource *models.Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.New().String()
	}
	resource.Active = true
	resource.CreatedAt = time.Now()
	if err := e.Repo.CreateResource(ctx, resource); err != nil {
		return fmt.Errorf("failed to register resource: %w", err)
	}
	return nil
}

func (e *DefaultReservationEngine) ListResources(ctx context.Context, venueID string) ([]models.Resource, error) {
	return e.Repo.ListResources(ctx, venueID)
}

func (e *DefaultReservationEngine) publishHoldEvent(ctx context.Context, eventType, holdID, suffix string) {
	hold, err := e.Repo.GetHold(ctx, holdID)
	if err != nil {
		utils.GetLogger().Warn("failed to load hold for event", zap.String("hold_id", holdID), zap.Error(err))
		return
	}
	e.publish(ctx, eventType, hold, holdID+"|"+suffix)
}

func (e *DefaultReservationEngine) publish(ctx context.Context, eventType string, hold *models.InventoryHold, dedupKey string) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, events.TopicInventory, eventType, hold, dedupKey); err != nil {
		utils.GetLogger().Warn("failed to publish inventory event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
