package booking

import (
	"context"
	"errors"
	"time"

	bookingRepo "tably/database/repository/booking"
	"tably/events"
	"tably/models"
	"tably/services/idempotency"
	"tably/services/inventory"
	"tably/services/payment"
	"tably/services/pricing"
)

// Coordinator errors surfaced to the transport layer.
var (
	ErrNoCapacity        = errors.New("no capacity for the requested window")
	ErrInvalidTransition = errors.New("booking not in a state that allows this operation")
	ErrValidation        = errors.New("invalid booking request")
)

const opCreate = "booking.create"

// CreateBookingRequest is the guest-facing booking intent. EndTime is
// optional; when zero the venue-type default duration applies.
type CreateBookingRequest struct {
	VenueID        string    `json:"venue_id"`
	VenueType      string    `json:"venue_type"`
	GuestID        string    `json:"guest_id"`
	PartySize      int       `json:"party_size"`
	BookingTime    time.Time `json:"booking_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	GuestTier      string    `json:"guest_tier,omitempty"`
	DemandLevel    string    `json:"demand_level,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Coordinator drives the booking saga: hold inventory, price, persist a
// pending booking, then confirm or compensate on payment outcome.
type Coordinator interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetByReference(ctx context.Context, reference string) (*models.Booking, error)
	ListByGuest(ctx context.Context, guestID string, limit int64) ([]models.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*models.Booking, error)
	CheckIn(ctx context.Context, id string) (*models.Booking, error)
	Complete(ctx context.Context, id string) (*models.Booking, error)
	NoShow(ctx context.Context, id string) (*models.Booking, error)
	// ExpirePendingBookings sweeps pending bookings past their payment
	// deadline and compensates their holds and quotes.
	ExpirePendingBookings(ctx context.Context) (int, error)
	// RegisterEventHandlers wires the coordinator's payment subscriptions.
	RegisterEventHandlers(bus events.Bus)
}

// DefaultCoordinator implements Coordinator.
type DefaultCoordinator struct {
	Repo      bookingRepo.BookingRepository
	Inventory inventory.ReservationEngine
	Pricing   pricing.DecisionEngine
	Payments  payment.Orchestrator
	Idem      idempotency.Registry
	Bus       events.Bus

	// HoldTTL bounds how long an unconfirmed hold blocks capacity; zero
	// means 15 minutes.
	HoldTTL time.Duration
	// ConfirmationTTL is the payment deadline for pending bookings; zero
	// means 30 minutes.
	ConfirmationTTL time.Duration
	// HoldRetryAttempts bounds re-queries after losing a hold race; zero
	// means 3.
	HoldRetryAttempts int
}

func (c *DefaultCoordinator) holdTTL() time.Duration {
	if c.HoldTTL > 0 {
		return c.HoldTTL
	}
	return 15 * time.Minute
}

func (c *DefaultCoordinator) confirmationTTL() time.Duration {
	if c.ConfirmationTTL > 0 {
		return c.ConfirmationTTL
	}
	return 30 * time.Minute
}

func (c *DefaultCoordinator) holdRetryAttempts() int {
	if c.HoldRetryAttempts > 0 {
		return c.HoldRetryAttempts
	}
	return 3
}
