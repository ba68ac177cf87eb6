package pricing

import (
	"context"
	"testing"
	"time"

	pricingRepo "tably/database/repository/pricing"
	"tably/events"
	"tably/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePricingRepo struct {
	decisions map[string]*models.PriceDecision
	rules     []models.PricingRule
	audits    []models.PricingAuditEntry
}

func newFakePricingRepo() *fakePricingRepo {
	return &fakePricingRepo{decisions: make(map[string]*models.PriceDecision)}
}

func (r *fakePricingRepo) InsertDecision(_ context.Context, decision *models.PriceDecision) error {
	copied := *decision
	r.decisions[decision.Reference] = &copied
	return nil
}

func (r *fakePricingRepo) GetDecision(_ context.Context, reference string) (*models.PriceDecision, error) {
	d, ok := r.decisions[reference]
	if !ok {
		return nil, pricingRepo.ErrDecisionNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *fakePricingRepo) TransitionDecision(_ context.Context, reference string, from, to models.DecisionStatus, bookingRef string) error {
	d, ok := r.decisions[reference]
	if !ok {
		return pricingRepo.ErrDecisionNotFound
	}
	if d.Status != from {
		return pricingRepo.ErrDecisionState
	}
	d.Status = to
	if bookingRef != "" {
		d.BookingReference = bookingRef
	}
	return nil
}

func (r *fakePricingRepo) FindExpiredQuoted(_ context.Context, now time.Time, _ int64) ([]models.PriceDecision, error) {
	var out []models.PriceDecision
	for _, d := range r.decisions {
		if d.Status == models.DecisionQuoted && d.ValidUntil.Before(now) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakePricingRepo) ListActiveRules(_ context.Context, venueType string) ([]models.PricingRule, error) {
	var out []models.PricingRule
	for _, rule := range r.rules {
		if rule.Active && (rule.VenueType == "" || rule.VenueType == venueType) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *fakePricingRepo) InsertRule(_ context.Context, rule *models.PricingRule) error {
	r.rules = append(r.rules, *rule)
	return nil
}

func (r *fakePricingRepo) AppendAudit(_ context.Context, entry *models.PricingAuditEntry) error {
	r.audits = append(r.audits, *entry)
	return nil
}

func (r *fakePricingRepo) ListAudit(_ context.Context, reference string) ([]models.PricingAuditEntry, error) {
	var out []models.PricingAuditEntry
	for _, entry := range r.audits {
		if entry.DecisionRef == reference {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeOracle struct {
	mult float64
	conf float64
	err  error
}

func (o *fakeOracle) SuggestMultiplier(context.Context, models.PricingContext) (float64, float64, error) {
	return o.mult, o.conf, o.err
}

func newEngine(repo *fakePricingRepo, oracle MultiplierOracle) (*DefaultDecisionEngine, *events.MemoryBus) {
	bus := events.NewMemoryBus("pricing-test")
	return &DefaultDecisionEngine{Repo: repo, Oracle: oracle, Bus: bus}, bus
}

func restaurantContext(partySize int) models.PricingContext {
	return models.PricingContext{
		VenueID:     "venue-1",
		VenueType:   models.VenueTypeRestaurant,
		BookingTime: time.Date(2026, 9, 4, 19, 0, 0, 0, time.UTC),
		PartySize:   partySize,
		DemandLevel: "normal",
	}
}

func TestCalculatePerSeatBaseAndTax(t *testing.T) {
	repo := newFakePricingRepo()
	engine, bus := newEngine(repo, nil)

	decision, err := engine.Calculate(context.Background(), restaurantContext(2))
	require.NoError(t, err)

	// 45 per seat x 2 seats = 90, plus 10% tax.
	assert.Equal(t, "90", decision.BasePrice)
	assert.Equal(t, "9", decision.Tax)
	assert.Equal(t, "99", decision.Total)
	assert.Equal(t, "USD", decision.Currency)
	assert.Equal(t, models.PriceSourceBase, decision.Source)
	assert.Equal(t, models.DecisionQuoted, decision.Status)
	assert.NotEmpty(t, decision.Reference)
	assert.True(t, decision.ValidUntil.After(decision.ValidFrom))

	_, ok := repo.decisions[decision.Reference]
	assert.True(t, ok, "decision should be persisted")
	assert.Len(t, bus.ByType(events.PricingDecisionQuoted), 1)
	assert.Len(t, repo.audits, 1)
}

func TestCalculateAppliesRules(t *testing.T) {
	repo := newFakePricingRepo()
	repo.rules = []models.PricingRule{{
		ID: "peak", Name: "peak hour", Priority: 10, Multiplier: 1.5, IsStackable: true, Active: true,
		Conditions: []models.RuleCondition{{Field: FieldHour, Kind: models.CondBetween, Min: 18, Max: 21}},
	}}
	engine, _ := newEngine(repo, nil)

	decision, err := engine.Calculate(context.Background(), restaurantContext(2))
	require.NoError(t, err)

	// 90 x 1.5 = 135, tax 13.5, total 148.5.
	assert.Equal(t, "148.5", decision.Total)
	assert.Equal(t, models.PriceSourceRules, decision.Source)
	require.Len(t, decision.Adjustments, 1)
	assert.Equal(t, "peak hour", decision.Adjustments[0].Label)
}

func TestCalculateOracleApplied(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, &fakeOracle{mult: 1.5, conf: 0.9})

	decision, err := engine.Calculate(context.Background(), restaurantContext(2))
	require.NoError(t, err)

	assert.Equal(t, "148.5", decision.Total)
	assert.Equal(t, models.PriceSourceAI, decision.Source)
}

func TestCalculateLowConfidenceOracleIgnored(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, &fakeOracle{mult: 2.5, conf: 0.2})

	decision, err := engine.Calculate(context.Background(), restaurantContext(2))
	require.NoError(t, err)

	assert.Equal(t, "99", decision.Total)
	assert.Equal(t, models.PriceSourceBase, decision.Source)
}

func TestCalculateDemandFallback(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, nil)

	pctx := restaurantContext(2)
	pctx.DemandLevel = "high"
	decision, err := engine.Calculate(context.Background(), pctx)
	require.NoError(t, err)

	// 90 x 1.2 = 108, tax 10.8.
	assert.Equal(t, "118.8", decision.Total)
}

func TestCalculateClampsToCeiling(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, &fakeOracle{mult: 10, conf: 0.95})

	decision, err := engine.Calculate(context.Background(), restaurantContext(2))
	require.NoError(t, err)

	// Ceiling is 3x base: 270, tax 27.
	assert.Equal(t, "297", decision.Total)
}

func TestEstimateDoesNotPersist(t *testing.T) {
	repo := newFakePricingRepo()
	engine, bus := newEngine(repo, nil)

	estimate, err := engine.Estimate(context.Background(), restaurantContext(3))
	require.NoError(t, err)

	assert.Empty(t, estimate.Reference)
	assert.Empty(t, repo.decisions)
	assert.Empty(t, bus.Published)
}

func TestAcceptLifecycle(t *testing.T) {
	repo := newFakePricingRepo()
	engine, bus := newEngine(repo, nil)
	ctx := context.Background()

	decision, err := engine.Calculate(ctx, restaurantContext(2))
	require.NoError(t, err)

	require.NoError(t, engine.Accept(ctx, decision.Reference, "TB-1"))
	// Accepting again for the same booking is a no-op.
	require.NoError(t, engine.Accept(ctx, decision.Reference, "TB-1"))
	// A different booking cannot take an accepted quote.
	assert.ErrorIs(t, engine.Accept(ctx, decision.Reference, "TB-2"), ErrDecisionInvalid)

	stored, err := engine.GetDecision(ctx, decision.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAccepted, stored.Status)
	assert.Equal(t, "TB-1", stored.BookingReference)
	assert.Len(t, bus.ByType(events.PricingDecisionAccepted), 1)
}

func TestAcceptExpiredQuote(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, nil)
	ctx := context.Background()

	decision, err := engine.Calculate(ctx, restaurantContext(2))
	require.NoError(t, err)
	repo.decisions[decision.Reference].ValidUntil = time.Now().Add(-time.Minute)

	assert.ErrorIs(t, engine.Accept(ctx, decision.Reference, "TB-1"), ErrQuoteExpired)

	stored, err := engine.GetDecision(ctx, decision.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionExpired, stored.Status)
}

func TestRejectIsIdempotent(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, nil)
	ctx := context.Background()

	decision, err := engine.Calculate(ctx, restaurantContext(2))
	require.NoError(t, err)

	require.NoError(t, engine.Reject(ctx, decision.Reference))
	require.NoError(t, engine.Reject(ctx, decision.Reference))

	stored, err := engine.GetDecision(ctx, decision.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, stored.Status)
}

func TestExpireQuotesSweepsOnlyStaleQuoted(t *testing.T) {
	repo := newFakePricingRepo()
	engine, _ := newEngine(repo, nil)
	ctx := context.Background()

	stale, err := engine.Calculate(ctx, restaurantContext(2))
	require.NoError(t, err)
	repo.decisions[stale.Reference].ValidUntil = time.Now().Add(-time.Minute)

	fresh, err := engine.Calculate(ctx, restaurantContext(3))
	require.NoError(t, err)

	swept, err := engine.ExpireQuotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	staleStored, _ := engine.GetDecision(ctx, stale.Reference)
	freshStored, _ := engine.GetDecision(ctx, fresh.Reference)
	assert.Equal(t, models.DecisionExpired, staleStored.Status)
	assert.Equal(t, models.DecisionQuoted, freshStored.Status)
}
