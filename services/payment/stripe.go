package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeProvider implements Provider on Stripe PaymentIntents. The global
// stripe key is set in main.
type StripeProvider struct{}

// NewStripeProvider constructs the Stripe-backed provider.
func NewStripeProvider() *StripeProvider {
	return &StripeProvider{}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

func normalizeStatus(status stripe.PaymentIntentStatus) (string, string) {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return ProviderCompleted, ""
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return ProviderProcessing, ""
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return ProviderFailed, "payment method declined"
	case stripe.PaymentIntentStatusCanceled:
		return ProviderFailed, "payment intent cancelled"
	default:
		return ProviderFailed, fmt.Sprintf("unexpected intent status %s", status)
	}
}

func cardDetails(pi *stripe.PaymentIntent) (last4, brand string) {
	if pi.LatestCharge == nil || pi.LatestCharge.PaymentMethodDetails == nil || pi.LatestCharge.PaymentMethodDetails.Card == nil {
		return "", ""
	}
	card := pi.LatestCharge.PaymentMethodDetails.Card
	return card.Last4, string(card.Brand)
}

func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*ProviderResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toCents(req.Amount)),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.CardToken),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddExpand("latest_charge")

	pi, err := paymentintent.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			return &ProviderResult{Status: ProviderFailed, FailureReason: stripeErr.Msg}, nil
		}
		return nil, fmt.Errorf("stripe authorize failed: %w", err)
	}

	status, reason := normalizeStatus(pi.Status)
	last4, brand := cardDetails(pi)
	return &ProviderResult{
		ProviderPaymentID: pi.ID,
		Status:            status,
		CardLast4:         last4,
		CardBrand:         brand,
		FailureReason:     reason,
	}, nil
}

func (p *StripeProvider) Confirm(ctx context.Context, providerPaymentID, confirmation string) (*ProviderResult, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	if confirmation != "" {
		params.PaymentMethod = stripe.String(confirmation)
	}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Confirm(providerPaymentID, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			return &ProviderResult{ProviderPaymentID: providerPaymentID, Status: ProviderFailed, FailureReason: stripeErr.Msg}, nil
		}
		return nil, fmt.Errorf("stripe confirm failed: %w", err)
	}

	status, reason := normalizeStatus(pi.Status)
	last4, brand := cardDetails(pi)
	return &ProviderResult{
		ProviderPaymentID: pi.ID,
		Status:            status,
		CardLast4:         last4,
		CardBrand:         brand,
		FailureReason:     reason,
	}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, providerPaymentID string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerPaymentID),
		Amount:        stripe.Int64(toCents(amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	re, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund failed: %w", err)
	}
	return re.ID, nil
}
