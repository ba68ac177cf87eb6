package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCheckedIn BookingStatus = "checked_in"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
	BookingNoShow    BookingStatus = "no_show"
)

// bookingTransitions is the authoritative status machine. Statuses absent
// from the map are terminal.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled, BookingExpired},
	BookingConfirmed: {BookingCheckedIn, BookingCompleted, BookingCancelled, BookingNoShow},
	BookingCheckedIn: {BookingCompleted, BookingCancelled},
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
// Self-transitions are treated as no-ops by callers, not by this table.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s BookingStatus) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}

// Booking is the aggregate coordinated by the booking saga. Related records
// (hold, price decision, payment) are referenced by id, never embedded.
type Booking struct {
	ID               string        `bson:"id" json:"id"`
	Reference        string        `bson:"reference" json:"reference"`
	VenueID          string        `bson:"venue_id" json:"venue_id"`
	VenueType        string        `bson:"venue_type" json:"venue_type"`
	GuestID          string        `bson:"guest_id" json:"guest_id"`
	PartySize        int           `bson:"party_size" json:"party_size"`
	BookingTime      time.Time     `bson:"booking_time" json:"booking_time"`
	EndTime          time.Time     `bson:"end_time" json:"end_time"`
	Status           BookingStatus `bson:"status" json:"status"`
	Version          int64         `bson:"version" json:"version"`
	PriceDecisionRef string        `bson:"price_decision_ref" json:"price_decision_ref"`
	PaymentRef       string        `bson:"payment_ref,omitempty" json:"payment_ref,omitempty"`
	InventoryHoldID  string        `bson:"inventory_hold_id" json:"inventory_hold_id"`
	TotalPrice       string        `bson:"total_price" json:"total_price"`
	Currency         string        `bson:"currency" json:"currency"`
	CancelReason     string        `bson:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	ConfirmedAt      *time.Time    `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time    `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	ExpiresAt        *time.Time    `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Window returns the occupied time window of the booking.
func (b *Booking) Window() TimeWindow {
	return TimeWindow{Start: b.BookingTime, End: b.EndTime}
}
