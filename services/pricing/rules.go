package pricing

import (
	"fmt"
	"sort"
	"strings"

	"tably/models"
)

// Context fields addressable by rule conditions.
const (
	FieldPartySize   = "party_size"
	FieldHour        = "hour"
	FieldDayOfWeek   = "day_of_week"
	FieldGuestTier   = "guest_tier"
	FieldDemandLevel = "demand_level"
	FieldVenueID     = "venue_id"
)

var numericFields = map[string]bool{
	FieldPartySize: true,
	FieldHour:      true,
}

var stringFields = map[string]bool{
	FieldDayOfWeek:   true,
	FieldGuestTier:   true,
	FieldDemandLevel: true,
	FieldVenueID:     true,
}

// ValidateRule checks a rule document on write so the evaluator never sees
// a malformed condition.
func ValidateRule(rule *models.PricingRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if rule.Multiplier <= 0 {
		return fmt.Errorf("rule multiplier must be positive")
	}
	for i, cond := range rule.Conditions {
		if !numericFields[cond.Field] && !stringFields[cond.Field] {
			return fmt.Errorf("condition %d: unknown field %q", i, cond.Field)
		}
		switch cond.Kind {
		case models.CondBetween:
			if !numericFields[cond.Field] {
				return fmt.Errorf("condition %d: between requires a numeric field", i)
			}
			if cond.Max < cond.Min {
				return fmt.Errorf("condition %d: max below min", i)
			}
		case models.CondGreaterThan, models.CondLessThan:
			if !numericFields[cond.Field] {
				return fmt.Errorf("condition %d: %s requires a numeric field", i, cond.Kind)
			}
		case models.CondIn:
			if len(cond.Values) == 0 {
				return fmt.Errorf("condition %d: in requires values", i)
			}
		case models.CondEquals:
			if cond.Value == "" && !numericFields[cond.Field] {
				return fmt.Errorf("condition %d: equals requires a value", i)
			}
		default:
			return fmt.Errorf("condition %d: unknown kind %q", i, cond.Kind)
		}
	}
	return nil
}

func numericValue(pctx models.PricingContext, field string) (float64, bool) {
	switch field {
	case FieldPartySize:
		return float64(pctx.PartySize), true
	case FieldHour:
		return float64(pctx.BookingTime.Hour()), true
	}
	return 0, false
}

func stringValue(pctx models.PricingContext, field string) (string, bool) {
	switch field {
	case FieldDayOfWeek:
		return strings.ToLower(pctx.BookingTime.Weekday().String()), true
	case FieldGuestTier:
		return pctx.GuestTier, true
	case FieldDemandLevel:
		return pctx.DemandLevel, true
	case FieldVenueID:
		return pctx.VenueID, true
	}
	return "", false
}

func conditionMatches(cond models.RuleCondition, pctx models.PricingContext) bool {
	switch cond.Kind {
	case models.CondBetween:
		v, ok := numericValue(pctx, cond.Field)
		return ok && v >= cond.Min && v <= cond.Max
	case models.CondGreaterThan:
		v, ok := numericValue(pctx, cond.Field)
		return ok && v > cond.Number
	case models.CondLessThan:
		v, ok := numericValue(pctx, cond.Field)
		return ok && v < cond.Number
	case models.CondIn:
		v, ok := stringValue(pctx, cond.Field)
		if !ok {
			return false
		}
		for _, candidate := range cond.Values {
			if strings.EqualFold(v, candidate) {
				return true
			}
		}
		return false
	case models.CondEquals:
		if v, ok := numericValue(pctx, cond.Field); ok {
			return v == cond.Number
		}
		v, ok := stringValue(pctx, cond.Field)
		return ok && strings.EqualFold(v, cond.Value)
	}
	return false
}

func ruleMatches(rule models.PricingRule, pctx models.PricingContext) bool {
	for _, cond := range rule.Conditions {
		if !conditionMatches(cond, pctx) {
			return false
		}
	}
	return true
}

// selectApplicable resolves which matched rules fire, in application order:
// each exclusive group contributes its highest-priority match, stackable
// rules compose on the running total, and a non-stackable ungrouped rule
// fires only when no higher-priority rule already has.
func selectApplicable(rules []models.PricingRule, pctx models.PricingContext) []models.PricingRule {
	var matched []models.PricingRule
	for _, rule := range rules {
		if rule.Active && ruleMatches(rule, pctx) {
			matched = append(matched, rule)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	groupWinner := make(map[string]string)
	for _, rule := range matched {
		if rule.ExclusiveGroup == "" {
			continue
		}
		if _, taken := groupWinner[rule.ExclusiveGroup]; !taken {
			groupWinner[rule.ExclusiveGroup] = rule.ID
		}
	}

	var applied []models.PricingRule
	fired := false
	for _, rule := range matched {
		switch {
		case rule.ExclusiveGroup != "":
			if groupWinner[rule.ExclusiveGroup] != rule.ID {
				continue
			}
		case !rule.IsStackable:
			if fired {
				continue
			}
		}
		applied = append(applied, rule)
		fired = true
	}
	return applied
}
