package pricing

import (
	"context"
	"errors"
	"time"

	pricingRepo "tably/database/repository/pricing"
	"tably/events"
	"tably/models"
)

// Engine errors surfaced to callers.
var (
	ErrQuoteExpired    = errors.New("price quote has expired")
	ErrDecisionInvalid = errors.New("price decision not in an acceptable state")
)

// MultiplierOracle suggests a demand multiplier for a pricing context.
// Implementations are external oracles; the engine owns timeout and
// confidence fallback.
type MultiplierOracle interface {
	SuggestMultiplier(ctx context.Context, pctx models.PricingContext) (multiplier, confidence float64, err error)
}

// DecisionEngine issues versioned, time-bounded price quotes addressed by
// an opaque decision reference.
type DecisionEngine interface {
	Calculate(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error)
	// Estimate computes the same breakdown without persisting a decision.
	Estimate(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error)
	Accept(ctx context.Context, decisionRef, bookingRef string) error
	Reject(ctx context.Context, decisionRef string) error
	GetDecision(ctx context.Context, decisionRef string) (*models.PriceDecision, error)
	GetAuditTrail(ctx context.Context, decisionRef string) ([]models.PricingAuditEntry, error)
	CreateRule(ctx context.Context, rule *models.PricingRule) error
	// ExpireQuotes sweeps quoted decisions past their validity window.
	ExpireQuotes(ctx context.Context) (int, error)
}

// DefaultDecisionEngine implements DecisionEngine.
type DefaultDecisionEngine struct {
	Repo   pricingRepo.PricingRepository
	Oracle MultiplierOracle
	Bus    events.Bus

	QuoteTTL            time.Duration
	OracleTimeout       time.Duration
	ConfidenceThreshold float64
	FloorMultiplier     float64
	CeilingMultiplier   float64
	TaxRate             float64
}
