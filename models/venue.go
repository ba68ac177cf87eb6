package models

import "time"

// Venue types supported by the platform.
const (
	VenueTypeHotel      = "hotel"
	VenueTypeRestaurant = "restaurant"
	VenueTypeCafe       = "cafe"
	VenueTypeRetail     = "retail"
)

// DefaultDuration returns the booking duration assumed for a venue type
// when the client does not supply one.
func DefaultDuration(venueType string) time.Duration {
	switch venueType {
	case VenueTypeRestaurant:
		return 2 * time.Hour
	case VenueTypeCafe:
		return 1 * time.Hour
	default:
		// Hotels and retail slots are day-granular.
		return 24 * time.Hour
	}
}

// Resource is a bookable physical unit owned by a venue (room, table, seat, slot).
type Resource struct {
	ID        string    `bson:"id" json:"id"`
	VenueID   string    `bson:"venue_id" json:"venue_id"`
	VenueType string    `bson:"venue_type" json:"venue_type"`
	Name      string    `bson:"name" json:"name"`
	Capacity  int       `bson:"capacity" json:"capacity"`
	Active    bool      `bson:"active" json:"active"`
	HoldSeq   int64     `bson:"hold_seq" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `bson:"start" json:"start"`
	End   time.Time `bson:"end" json:"end"`
}

// Overlaps reports whether two half-open windows intersect.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Valid reports whether the window is well-formed.
func (w TimeWindow) Valid() bool {
	return w.End.After(w.Start)
}
