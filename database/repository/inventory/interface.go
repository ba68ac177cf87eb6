package inventoryRepo

import (
	"context"
	"errors"
	"time"

	"tably/models"
)

// Repository errors surfaced to the reservation engine.
var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrHoldNotFound     = errors.New("hold not found")
	ErrHoldConflict     = errors.New("overlapping hold exists")
)

// InventoryRepository persists resources and their soft reservations.
// AcquireHold is the sole arbiter of the last-seat race: the database
// serializes concurrent acquisitions on the same resource.
type InventoryRepository interface {
	CreateResource(ctx context.Context, resource *models.Resource) error
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	ListResources(ctx context.Context, venueID string) ([]models.Resource, error)

	// BlockedResourceIDs returns the ids of venue resources with a held or
	// confirmed hold overlapping the window.
	BlockedResourceIDs(ctx context.Context, venueID string, window models.TimeWindow) (map[string]bool, error)
	// AcquireHold inserts the hold iff no held/confirmed hold overlaps its
	// window on the same resource. Returns ErrHoldConflict otherwise.
	AcquireHold(ctx context.Context, hold *models.InventoryHold) error
	GetHold(ctx context.Context, id string) (*models.InventoryHold, error)
	// TransitionHold moves a hold from any of the given statuses to the
	// target. Returns (false, nil) when the hold is already in the target
	// status so confirm and release stay idempotent.
	TransitionHold(ctx context.Context, id string, from []models.HoldStatus, to models.HoldStatus, reason string) (bool, error)
	FindExpiredHolds(ctx context.Context, now time.Time, limit int64) ([]models.InventoryHold, error)
}
