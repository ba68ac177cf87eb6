package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	pricingRepo "tably/database/repository/pricing"
	"tably/events"
	"tably/models"
	"tably/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Default engine knobs, used when the corresponding field is zero.
const (
	defaultQuoteTTL      = 10 * time.Minute
	defaultOracleTimeout = 2 * time.Second
	defaultConfidence    = 0.7
	defaultFloor         = 0.5
	defaultCeiling       = 3.0
	defaultTaxRate       = 0.10
	sweepBatchSize       = 200
)

// Base rates per venue type in USD. Restaurants and cafes price per seat,
// hotels and retail per window.
var baseRates = map[string]struct {
	Rate     decimal.Decimal
	PerSeat  bool
	Currency string
}{
	models.VenueTypeRestaurant: {Rate: decimal.NewFromInt(45), PerSeat: true, Currency: "USD"},
	models.VenueTypeCafe:       {Rate: decimal.NewFromInt(12), PerSeat: true, Currency: "USD"},
	models.VenueTypeHotel:      {Rate: decimal.NewFromInt(160), PerSeat: false, Currency: "USD"},
	models.VenueTypeRetail:     {Rate: decimal.NewFromInt(80), PerSeat: false, Currency: "USD"},
}

// demandAdjustments is the fallback when neither rules nor the oracle
// produced a usable multiplier.
var demandAdjustments = map[string]float64{
	"low":    0.90,
	"normal": 1.00,
	"high":   1.20,
	"peak":   1.35,
}

func (e *DefaultDecisionEngine) quoteTTL() time.Duration {
	if e.QuoteTTL > 0 {
		return e.QuoteTTL
	}
	return defaultQuoteTTL
}

func (e *DefaultDecisionEngine) oracleTimeout() time.Duration {
	if e.OracleTimeout > 0 {
		return e.OracleTimeout
	}
	return defaultOracleTimeout
}

func (e *DefaultDecisionEngine) confidenceThreshold() float64 {
	if e.ConfidenceThreshold > 0 {
		return e.ConfidenceThreshold
	}
	return defaultConfidence
}

func (e *DefaultDecisionEngine) guardrails() (float64, float64) {
	floor, ceiling := e.FloorMultiplier, e.CeilingMultiplier
	if floor <= 0 {
		floor = defaultFloor
	}
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	return floor, ceiling
}

func (e *DefaultDecisionEngine) taxRate() float64 {
	if e.TaxRate > 0 {
		return e.TaxRate
	}
	return defaultTaxRate
}

func (e *DefaultDecisionEngine) Calculate(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error) {
	decision, err := e.compute(ctx, pctx)
	if err != nil {
		return nil, err
	}

	if err := e.Repo.InsertDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to persist price decision: %w", err)
	}
	e.audit(ctx, decision.Reference, decision.Version, "", string(models.DecisionQuoted), "quote issued")
	e.publish(ctx, events.PricingDecisionQuoted, decision, decision.Reference+"|quoted")
	return decision, nil
}

func (e *DefaultDecisionEngine) Estimate(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error) {
	decision, err := e.compute(ctx, pctx)
	if err != nil {
		return nil, err
	}
	// Non-binding: carries no reference a booking could accept.
	decision.Reference = ""
	return decision, nil
}

// compute runs the pricing pipeline: base lookup, rule evaluation, AI
// multiplier with fallback, guardrail clamp, tax.
func (e *DefaultDecisionEngine) compute(ctx context.Context, pctx models.PricingContext) (*models.PriceDecision, error) {
	logger := utils.GetLogger()

	rateInfo, ok := baseRates[pctx.VenueType]
	if !ok {
		return nil, fmt.Errorf("no base rate for venue type %q", pctx.VenueType)
	}
	base := rateInfo.Rate
	if rateInfo.PerSeat && pctx.PartySize > 1 {
		base = base.Mul(decimal.NewFromInt(int64(pctx.PartySize)))
	}
	currency := pctx.Currency
	if currency == "" {
		currency = rateInfo.Currency
	}

	rules, err := e.Repo.ListActiveRules(ctx, pctx.VenueType)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}
	applied := selectApplicable(rules, pctx)

	total := base
	source := models.PriceSourceBase
	var adjustments []models.PriceAdjustment
	for _, rule := range applied {
		total = total.Mul(decimal.NewFromFloat(rule.Multiplier))
		adjustments = append(adjustments, models.PriceAdjustment{
			Label:      rule.Name,
			Multiplier: rule.Multiplier,
			Amount:     total.Round(2).String(),
		})
		source = models.PriceSourceRules
	}

	if mult, ok := e.consultOracle(ctx, pctx); ok {
		total = total.Mul(decimal.NewFromFloat(mult))
		adjustments = append(adjustments, models.PriceAdjustment{
			Label:      "demand model",
			Multiplier: mult,
			Amount:     total.Round(2).String(),
		})
		source = models.PriceSourceAI
	} else if len(applied) == 0 {
		// Neither rules nor oracle: demand-level adjustment on base.
		if adj, ok := demandAdjustments[pctx.DemandLevel]; ok && adj != 1.0 {
			total = total.Mul(decimal.NewFromFloat(adj))
			adjustments = append(adjustments, models.PriceAdjustment{
				Label:      "demand level " + pctx.DemandLevel,
				Multiplier: adj,
				Amount:     total.Round(2).String(),
			})
		}
	}

	// Guardrail clamp keeps any multiplier stack within bounds of base.
	floor, ceiling := e.guardrails()
	lower := base.Mul(decimal.NewFromFloat(floor))
	upper := base.Mul(decimal.NewFromFloat(ceiling))
	if total.LessThan(lower) {
		logger.Debug("price clamped to floor", zap.String("venue_id", pctx.VenueID))
		total = lower
	} else if total.GreaterThan(upper) {
		logger.Debug("price clamped to ceiling", zap.String("venue_id", pctx.VenueID))
		total = upper
	}

	tax := total.Mul(decimal.NewFromFloat(e.taxRate())).Round(2)
	total = total.Round(2).Add(tax)

	now := time.Now()
	return &models.PriceDecision{
		Reference:   uuid.New().String(),
		Version:     1,
		VenueID:     pctx.VenueID,
		Context:     pctx,
		BasePrice:   base.Round(2).String(),
		Adjustments: adjustments,
		Tax:         tax.String(),
		Total:       total.String(),
		Currency:    currency,
		Source:      source,
		Status:      models.DecisionQuoted,
		ValidFrom:   now,
		ValidUntil:  now.Add(e.quoteTTL()),
		CreatedAt:   now,
	}, nil
}

// consultOracle asks the AI oracle under a bounded timeout. Low confidence
// or any failure falls back to rule/base pricing.
func (e *DefaultDecisionEngine) consultOracle(ctx context.Context, pctx models.PricingContext) (float64, bool) {
	if e.Oracle == nil {
		return 0, false
	}
	oracleCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout())
	defer cancel()

	mult, confidence, err := e.Oracle.SuggestMultiplier(oracleCtx, pctx)
	if err != nil {
		utils.GetLogger().Warn("pricing oracle unavailable, falling back", zap.Error(err))
		return 0, false
	}
	if confidence < e.confidenceThreshold() || mult <= 0 {
		return 0, false
	}
	return mult, true
}

func (e *DefaultDecisionEngine) Accept(ctx context.Context, decisionRef, bookingRef string) error {
	decision, err := e.Repo.GetDecision(ctx, decisionRef)
	if err != nil {
		return err
	}

	// Accept is idempotent for the same booking.
	if decision.Status == models.DecisionAccepted && decision.BookingReference == bookingRef {
		return nil
	}
	if decision.Status != models.DecisionQuoted {
		return ErrDecisionInvalid
	}
	if time.Now().After(decision.ValidUntil) {
		if err := e.Repo.TransitionDecision(ctx, decisionRef, models.DecisionQuoted, models.DecisionExpired, ""); err == nil {
			e.audit(ctx, decisionRef, decision.Version, string(models.DecisionQuoted), string(models.DecisionExpired), "accept after validity window")
		}
		return ErrQuoteExpired
	}

	if err := e.Repo.TransitionDecision(ctx, decisionRef, models.DecisionQuoted, models.DecisionAccepted, bookingRef); err != nil {
		if errors.Is(err, pricingRepo.ErrDecisionState) {
			// Lost a race; success only if the winner accepted for us.
			current, gerr := e.Repo.GetDecision(ctx, decisionRef)
			if gerr == nil && current.Status == models.DecisionAccepted && current.BookingReference == bookingRef {
				return nil
			}
			return ErrDecisionInvalid
		}
		return err
	}
	e.audit(ctx, decisionRef, decision.Version, string(models.DecisionQuoted), string(models.DecisionAccepted), "accepted by "+bookingRef)
	e.publish(ctx, events.PricingDecisionAccepted, map[string]string{
		"decision_ref":      decisionRef,
		"booking_reference": bookingRef,
	}, decisionRef+"|accepted")
	return nil
}

func (e *DefaultDecisionEngine) Reject(ctx context.Context, decisionRef string) error {
	decision, err := e.Repo.GetDecision(ctx, decisionRef)
	if err != nil {
		return err
	}
	if decision.Status == models.DecisionRejected {
		return nil
	}
	if decision.Status != models.DecisionQuoted {
		return ErrDecisionInvalid
	}

	if err := e.Repo.TransitionDecision(ctx, decisionRef, models.DecisionQuoted, models.DecisionRejected, ""); err != nil {
		if errors.Is(err, pricingRepo.ErrDecisionState) {
			current, gerr := e.Repo.GetDecision(ctx, decisionRef)
			if gerr == nil && current.Status == models.DecisionRejected {
				return nil
			}
			return ErrDecisionInvalid
		}
		return err
	}
	e.audit(ctx, decisionRef, decision.Version, string(models.DecisionQuoted), string(models.DecisionRejected), "")
	e.publish(ctx, events.PricingDecisionRejected, map[string]string{
		"decision_ref": decisionRef,
	}, decisionRef+"|rejected")
	return nil
}

func (e *DefaultDecisionEngine) GetDecision(ctx context.Context, decisionRef string) (*models.PriceDecision, error) {
	return e.Repo.GetDecision(ctx, decisionRef)
}

func (e *DefaultDecisionEngine) GetAuditTrail(ctx context.Context, decisionRef string) ([]models.PricingAuditEntry, error) {
	return e.Repo.ListAudit(ctx, decisionRef)
}

func (e *DefaultDecisionEngine) CreateRule(ctx context.Context, rule *models.PricingRule) error {
	if err := ValidateRule(rule); err != nil {
		return fmt.Errorf("invalid pricing rule: %w", err)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	return e.Repo.InsertRule(ctx, rule)
}

func (e *DefaultDecisionEngine) ExpireQuotes(ctx context.Context) (int, error) {
	stale, err := e.Repo.FindExpiredQuoted(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired quotes: %w", err)
	}
	swept := 0
	for _, decision := range stale {
		if err := e.Repo.TransitionDecision(ctx, decision.Reference, models.DecisionQuoted, models.DecisionExpired, ""); err != nil {
			continue
		}
		e.audit(ctx, decision.Reference, decision.Version, string(models.DecisionQuoted), string(models.DecisionExpired), "validity window passed")
		swept++
	}
	return swept, nil
}

func (e *DefaultDecisionEngine) audit(ctx context.Context, ref string, version int, from, to, note string) {
	entry := &models.PricingAuditEntry{
		DecisionRef: ref,
		Version:     version,
		FromStatus:  from,
		ToStatus:    to,
		Note:        note,
		At:          time.Now(),
	}
	if err := e.Repo.AppendAudit(ctx, entry); err != nil {
		utils.GetLogger().Warn("failed to append pricing audit entry",
			zap.String("decision_ref", ref), zap.Error(err))
	}
}

func (e *DefaultDecisionEngine) publish(ctx context.Context, eventType string, payload any, dedupKey string) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, events.TopicPricing, eventType, payload, dedupKey); err != nil {
		utils.GetLogger().Warn("failed to publish pricing event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
