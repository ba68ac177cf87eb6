package models

import "time"

// DecisionStatus is the state of a price decision. Once a decision leaves
// "quoted" it is terminal for that version.
type DecisionStatus string

const (
	DecisionQuoted   DecisionStatus = "quoted"
	DecisionAccepted DecisionStatus = "accepted"
	DecisionRejected DecisionStatus = "rejected"
	DecisionExpired  DecisionStatus = "expired"
)

// Price decision sources.
const (
	PriceSourceAI    = "ai"
	PriceSourceRules = "rules"
	PriceSourceBase  = "base"
)

// PricingContext carries everything the decision engine evaluates.
type PricingContext struct {
	VenueID     string    `json:"venue_id"`
	VenueType   string    `json:"venue_type"`
	BookingTime time.Time `json:"booking_time"`
	PartySize   int       `json:"party_size"`
	GuestTier   string    `json:"guest_tier,omitempty"`
	DemandLevel string    `json:"demand_level,omitempty"`
	Currency    string    `json:"currency,omitempty"`
}

// PriceAdjustment is one applied step in the computed breakdown.
type PriceAdjustment struct {
	Label      string  `bson:"label" json:"label"`
	Multiplier float64 `bson:"multiplier" json:"multiplier"`
	Amount     string  `bson:"amount" json:"amount"`
}

// PriceDecision is an auditable, time-bounded price quote.
// Monetary fields are decimal strings.
type PriceDecision struct {
	Reference        string            `bson:"reference" json:"reference"`
	Version          int               `bson:"version" json:"version"`
	VenueID          string            `bson:"venue_id" json:"venue_id"`
	Context          PricingContext    `bson:"context" json:"context"`
	BasePrice        string            `bson:"base_price" json:"base_price"`
	Adjustments      []PriceAdjustment `bson:"adjustments" json:"adjustments"`
	Tax              string            `bson:"tax" json:"tax"`
	Total            string            `bson:"total" json:"total"`
	Currency         string            `bson:"currency" json:"currency"`
	Source           string            `bson:"source" json:"source"`
	Status           DecisionStatus    `bson:"status" json:"status"`
	ValidFrom        time.Time         `bson:"valid_from" json:"valid_from"`
	ValidUntil       time.Time         `bson:"valid_until" json:"valid_until"`
	BookingReference string            `bson:"booking_reference,omitempty" json:"booking_reference,omitempty"`
	CreatedAt        time.Time         `bson:"created_at" json:"created_at"`
}

// Condition kinds for pricing rules.
const (
	CondBetween     = "between"
	CondIn          = "in"
	CondEquals      = "equals"
	CondGreaterThan = "greater_than"
	CondLessThan    = "less_than"
)

// RuleCondition is a tagged variant evaluated against a PricingContext field.
// Numeric kinds use Min/Max/Number; string kinds use Value/Values.
type RuleCondition struct {
	Field  string   `bson:"field" json:"field"`
	Kind   string   `bson:"kind" json:"kind"`
	Min    float64  `bson:"min,omitempty" json:"min,omitempty"`
	Max    float64  `bson:"max,omitempty" json:"max,omitempty"`
	Number float64  `bson:"number,omitempty" json:"number,omitempty"`
	Value  string   `bson:"value,omitempty" json:"value,omitempty"`
	Values []string `bson:"values,omitempty" json:"values,omitempty"`
}

// PricingRule adjusts the running total when all of its conditions match.
// Rules in one exclusive group resolve to the highest-priority match; the
// remaining stackable rules compose multiplicatively.
type PricingRule struct {
	ID             string          `bson:"id" json:"id"`
	Name           string          `bson:"name" json:"name"`
	VenueType      string          `bson:"venue_type" json:"venue_type"`
	Priority       int             `bson:"priority" json:"priority"`
	Multiplier     float64         `bson:"multiplier" json:"multiplier"`
	IsStackable    bool            `bson:"is_stackable" json:"is_stackable"`
	ExclusiveGroup string          `bson:"exclusive_group,omitempty" json:"exclusive_group,omitempty"`
	Conditions     []RuleCondition `bson:"conditions" json:"conditions"`
	Active         bool            `bson:"active" json:"active"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

// PricingAuditEntry is one immutable row in the decision audit log.
type PricingAuditEntry struct {
	DecisionRef string    `bson:"decision_ref" json:"decision_ref"`
	Version     int       `bson:"version" json:"version"`
	FromStatus  string    `bson:"from_status" json:"from_status"`
	ToStatus    string    `bson:"to_status" json:"to_status"`
	Note        string    `bson:"note,omitempty" json:"note,omitempty"`
	At          time.Time `bson:"at" json:"at"`
}
