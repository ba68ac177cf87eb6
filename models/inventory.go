package models

import "time"

// HoldStatus is the state of a soft reservation.
type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldConfirmed HoldStatus = "confirmed"
	HoldReleased  HoldStatus = "released"
)

// InventoryHold is a time-bounded soft reservation of a resource.
// For any resource and window at most one hold is held or confirmed.
type InventoryHold struct {
	ID            string     `bson:"id" json:"id"`
	ResourceID    string     `bson:"resource_id" json:"resource_id"`
	BookingID     string     `bson:"booking_id" json:"booking_id"`
	Window        TimeWindow `bson:"window" json:"window"`
	Status        HoldStatus `bson:"status" json:"status"`
	ReleaseReason string     `bson:"release_reason,omitempty" json:"release_reason,omitempty"`
	AcquiredAt    time.Time  `bson:"acquired_at" json:"acquired_at"`
	ExpiresAt     time.Time  `bson:"expires_at" json:"expires_at"`
}

// Active reports whether the hold still excludes other reservations.
func (h *InventoryHold) Active() bool {
	return h.Status == HoldHeld || h.Status == HoldConfirmed
}

// AvailabilityResult is the answer to an availability query.
type AvailabilityResult struct {
	Available  bool       `json:"available"`
	Candidates []Resource `json:"candidates,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}
