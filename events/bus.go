package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Topics carried by the bus.
const (
	TopicBooking   = "booking"
	TopicPayment   = "payment"
	TopicInventory = "inventory"
	TopicPricing   = "pricing"
)

// Canonical event types.
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
	BookingExpired   = "booking.expired"
	BookingCompleted = "booking.completed"

	PaymentInitiated       = "payment.initiated"
	PaymentCompleted       = "payment.completed"
	PaymentFailed          = "payment.failed"
	PaymentRefundInitiated = "payment.refund.initiated"
	PaymentRefundCompleted = "payment.refund.completed"

	InventoryHoldCreated   = "inventory.hold_created"
	InventoryHoldConfirmed = "inventory.hold_confirmed"
	InventoryHoldReleased  = "inventory.hold_released"
	InventoryHoldExpired   = "inventory.hold_expired"

	PricingDecisionQuoted   = "pricing.decision.quoted"
	PricingDecisionAccepted = "pricing.decision.accepted"
	PricingDecisionRejected = "pricing.decision.rejected"
)

// ErrBusUnavailable is returned when the transport is down and the bounded
// local queue is full.
var ErrBusUnavailable = errors.New("event bus unavailable")

// Envelope is the versioned wire format for all events.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	DedupKey  string          `json:"dedup_key"`
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler processes one delivered envelope. Returning nil acknowledges the
// delivery; returning an error causes redelivery after a backoff.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the topic-addressed publish/subscribe port. Delivery is at least
// once; producers set a deterministic dedup key so correct handlers apply
// side effects effectively once.
type Bus interface {
	Publish(ctx context.Context, topic, eventType string, payload any, dedupKey string) error
	Subscribe(topic, eventType string, handler Handler)
}

// NewEnvelope builds an envelope stamped with the producing service.
func NewEnvelope(eventType, source string, payload any, dedupKey string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType: eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   "1.0",
		DedupKey:  dedupKey,
	}, nil
}
