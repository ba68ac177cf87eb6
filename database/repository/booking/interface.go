package bookingRepo

import (
	"context"
	"errors"
	"time"

	"tably/models"
)

// Repository errors surfaced to the coordinator.
var (
	ErrNotFound        = errors.New("booking not found")
	ErrVersionConflict = errors.New("booking version conflict")
)

// BookingRepository persists the booking aggregate. Status transitions are
// compare-and-swap on (status, version) so a stale writer always loses.
type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetByReference(ctx context.Context, reference string) (*models.Booking, error)
	ListByGuest(ctx context.Context, guestID string, limit int64) ([]models.Booking, error)
	// TransitionStatus moves id from one status to another iff the stored
	// status and version still match; extra fields are set atomically and
	// the version is bumped. Returns ErrVersionConflict when the CAS loses.
	TransitionStatus(ctx context.Context, id string, from, to models.BookingStatus, expectedVersion int64, extra map[string]any) error
	// FindExpiredPending returns pending bookings whose expiry deadline has
	// passed, for the expiry sweeper.
	FindExpiredPending(ctx context.Context, now time.Time, limit int64) ([]models.Booking, error)
}
