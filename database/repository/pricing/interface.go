package pricingRepo

import (
	"context"
	"errors"
	"time"

	"tably/models"
)

// Repository errors surfaced to the decision engine.
var (
	ErrDecisionNotFound = errors.New("price decision not found")
	ErrDecisionState    = errors.New("price decision not in expected state")
)

// PricingRepository persists decisions, rules and the immutable audit log.
type PricingRepository interface {
	InsertDecision(ctx context.Context, decision *models.PriceDecision) error
	GetDecision(ctx context.Context, reference string) (*models.PriceDecision, error)
	// TransitionDecision moves a decision out of "quoted"; once out, the
	// status is terminal for that version. bookingRef is recorded on accept.
	TransitionDecision(ctx context.Context, reference string, from, to models.DecisionStatus, bookingRef string) error
	FindExpiredQuoted(ctx context.Context, now time.Time, limit int64) ([]models.PriceDecision, error)

	ListActiveRules(ctx context.Context, venueType string) ([]models.PricingRule, error)
	InsertRule(ctx context.Context, rule *models.PricingRule) error

	AppendAudit(ctx context.Context, entry *models.PricingAuditEntry) error
	ListAudit(ctx context.Context, reference string) ([]models.PricingAuditEntry, error)
}
