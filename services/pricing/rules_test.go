package pricing

import (
	"testing"
	"time"

	"tably/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Friday 2026-09-04 19:00 UTC, a peak dinner slot.
var fridayDinner = models.PricingContext{
	VenueID:     "venue-1",
	VenueType:   models.VenueTypeRestaurant,
	BookingTime: time.Date(2026, 9, 4, 19, 0, 0, 0, time.UTC),
	PartySize:   4,
	GuestTier:   "gold",
	DemandLevel: "high",
}

func rule(name string, priority int, mult float64, stackable bool, group string, conds ...models.RuleCondition) models.PricingRule {
	return models.PricingRule{
		ID:             name,
		Name:           name,
		Priority:       priority,
		Multiplier:     mult,
		IsStackable:    stackable,
		ExclusiveGroup: group,
		Conditions:     conds,
		Active:         true,
	}
}

func TestConditionMatches(t *testing.T) {
	cases := []struct {
		name string
		cond models.RuleCondition
		want bool
	}{
		{"between hour hit", models.RuleCondition{Field: FieldHour, Kind: models.CondBetween, Min: 18, Max: 21}, true},
		{"between hour miss", models.RuleCondition{Field: FieldHour, Kind: models.CondBetween, Min: 8, Max: 11}, false},
		{"greater_than party hit", models.RuleCondition{Field: FieldPartySize, Kind: models.CondGreaterThan, Number: 3}, true},
		{"greater_than party miss", models.RuleCondition{Field: FieldPartySize, Kind: models.CondGreaterThan, Number: 4}, false},
		{"less_than party hit", models.RuleCondition{Field: FieldPartySize, Kind: models.CondLessThan, Number: 5}, true},
		{"in day hit", models.RuleCondition{Field: FieldDayOfWeek, Kind: models.CondIn, Values: []string{"friday", "saturday"}}, true},
		{"in day miss", models.RuleCondition{Field: FieldDayOfWeek, Kind: models.CondIn, Values: []string{"monday"}}, false},
		{"equals tier hit", models.RuleCondition{Field: FieldGuestTier, Kind: models.CondEquals, Value: "Gold"}, true},
		{"equals demand miss", models.RuleCondition{Field: FieldDemandLevel, Kind: models.CondEquals, Value: "low"}, false},
		{"equals party numeric", models.RuleCondition{Field: FieldPartySize, Kind: models.CondEquals, Number: 4}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, conditionMatches(tc.cond, fridayDinner))
		})
	}
}

func TestSelectApplicableExclusiveGroupPicksHighestPriority(t *testing.T) {
	rules := []models.PricingRule{
		rule("weekend", 10, 1.2, true, "surge"),
		rule("peak-hour", 20, 1.5, true, "surge"),
		rule("big-party", 5, 1.1, true, ""),
	}
	applied := selectApplicable(rules, fridayDinner)

	require.Len(t, applied, 2)
	assert.Equal(t, "peak-hour", applied[0].Name)
	assert.Equal(t, "big-party", applied[1].Name)
}

func TestSelectApplicableNonStackableFiresAlone(t *testing.T) {
	rules := []models.PricingRule{
		rule("exclusive-promo", 5, 0.8, false, ""),
		rule("surge", 10, 1.4, true, ""),
	}
	applied := selectApplicable(rules, fridayDinner)

	// The higher-priority stackable rule fires first, so the non-stackable
	// promo stays out.
	require.Len(t, applied, 1)
	assert.Equal(t, "surge", applied[0].Name)
}

func TestSelectApplicableNonStackableAloneFires(t *testing.T) {
	rules := []models.PricingRule{rule("exclusive-promo", 5, 0.8, false, "")}
	applied := selectApplicable(rules, fridayDinner)
	require.Len(t, applied, 1)
	assert.Equal(t, "exclusive-promo", applied[0].Name)
}

func TestSelectApplicableSkipsInactiveAndNonMatching(t *testing.T) {
	inactive := rule("off", 50, 2.0, true, "")
	inactive.Active = false
	rules := []models.PricingRule{
		inactive,
		rule("mondays", 40, 0.9, true, "", models.RuleCondition{Field: FieldDayOfWeek, Kind: models.CondIn, Values: []string{"monday"}}),
	}
	assert.Empty(t, selectApplicable(rules, fridayDinner))
}

func TestValidateRule(t *testing.T) {
	valid := rule("ok", 1, 1.2, true, "",
		models.RuleCondition{Field: FieldHour, Kind: models.CondBetween, Min: 18, Max: 21})
	assert.NoError(t, ValidateRule(&valid))

	noName := rule("", 1, 1.2, true, "")
	assert.Error(t, ValidateRule(&noName))

	badMult := rule("bad", 1, 0, true, "")
	assert.Error(t, ValidateRule(&badMult))

	badField := rule("bad", 1, 1.2, true, "",
		models.RuleCondition{Field: "moon_phase", Kind: models.CondEquals, Value: "full"})
	assert.Error(t, ValidateRule(&badField))

	betweenOnString := rule("bad", 1, 1.2, true, "",
		models.RuleCondition{Field: FieldGuestTier, Kind: models.CondBetween, Min: 1, Max: 2})
	assert.Error(t, ValidateRule(&betweenOnString))

	inWithoutValues := rule("bad", 1, 1.2, true, "",
		models.RuleCondition{Field: FieldDayOfWeek, Kind: models.CondIn})
	assert.Error(t, ValidateRule(&inWithoutValues))

	maxBelowMin := rule("bad", 1, 1.2, true, "",
		models.RuleCondition{Field: FieldHour, Kind: models.CondBetween, Min: 21, Max: 18})
	assert.Error(t, ValidateRule(&maxBelowMin))
}
