package inventory

import (
	"context"
	"time"

	inventoryRepo "tably/database/repository/inventory"
	"tably/events"
	"tably/models"
)

// CheckAvailabilityRequest describes an availability query.
type CheckAvailabilityRequest struct {
	VenueID   string            `json:"venue_id"`
	VenueType string            `json:"venue_type"`
	Window    models.TimeWindow `json:"window"`
	PartySize int               `json:"party_size"`
}

// ReservationEngine owns physical capacity: availability queries and the
// hold / confirm / release lifecycle of soft reservations.
type ReservationEngine interface {
	CheckAvailability(ctx context.Context, req CheckAvailabilityRequest) (*models.AvailabilityResult, error)
	Hold(ctx context.Context, resourceID, bookingID string, window models.TimeWindow, ttl time.Duration) (*models.InventoryHold, error)
	ConfirmHold(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID, reason string) error
	GetHold(ctx context.Context, holdID string) (*models.InventoryHold, error)
	// ExpireStaleHolds releases every held reservation past its deadline and
	// returns how many were swept.
	ExpireStaleHolds(ctx context.Context) (int, error)

	RegisterResource(ctx context.Context, resource *models.Resource) error
	ListResources(ctx context.Context, venueID string) ([]models.Resource, error)
}

// DefaultReservationEngine implements ReservationEngine.
type DefaultReservationEngine struct {
	Repo inventoryRepo.InventoryRepository
	Bus  events.Bus
}
