package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider outcome statuses, normalized across adapters.
const (
	ProviderProcessing = "processing"
	ProviderCompleted  = "completed"
	ProviderFailed     = "failed"
)

// AuthorizeRequest is a provider-agnostic charge authorization.
type AuthorizeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Method         string
	CardToken      string
	IdempotencyKey string
	Description    string
}

// ProviderResult is the normalized answer from a provider call. A declined
// charge is a Failed result, not an error; errors mean transport trouble.
type ProviderResult struct {
	ProviderPaymentID string
	Status            string
	CardLast4         string
	CardBrand         string
	FailureReason     string
}

// Provider is the provider-agnostic charge/confirm/refund port.
type Provider interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*ProviderResult, error)
	Confirm(ctx context.Context, providerPaymentID, confirmation string) (*ProviderResult, error)
	Refund(ctx context.Context, providerPaymentID string, amount decimal.Decimal, currency, idempotencyKey string) (string, error)
}

// SimulatedProvider is a deterministic in-process provider for development
// and tests. Card tokens control the outcome: "tok_declined" is refused,
// "tok_3ds" stays processing until confirmed, anything else completes. A
// confirmation starting with "conf_declined" fails the challenge.
type SimulatedProvider struct {
	// Latency is added to every call when set.
	Latency time.Duration
}

func (p *SimulatedProvider) delay(ctx context.Context) error {
	if p.Latency == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Latency):
		return nil
	}
}

func (p *SimulatedProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*ProviderResult, error) {
	if err := p.delay(ctx); err != nil {
		return nil, err
	}

	id := "sim_" + uuid.New().String()
	switch {
	case strings.HasPrefix(req.CardToken, "tok_declined"):
		return &ProviderResult{ProviderPaymentID: id, Status: ProviderFailed, FailureReason: "card declined"}, nil
	case strings.HasPrefix(req.CardToken, "tok_3ds"):
		return &ProviderResult{ProviderPaymentID: id, Status: ProviderProcessing, CardLast4: "3155", CardBrand: "visa"}, nil
	default:
		return &ProviderResult{ProviderPaymentID: id, Status: ProviderCompleted, CardLast4: "4242", CardBrand: "visa"}, nil
	}
}

func (p *SimulatedProvider) Confirm(ctx context.Context, providerPaymentID, confirmation string) (*ProviderResult, error) {
	if err := p.delay(ctx); err != nil {
		return nil, err
	}
	if strings.HasPrefix(confirmation, "conf_declined") {
		return &ProviderResult{ProviderPaymentID: providerPaymentID, Status: ProviderFailed, FailureReason: "authentication failed"}, nil
	}
	return &ProviderResult{ProviderPaymentID: providerPaymentID, Status: ProviderCompleted}, nil
}

func (p *SimulatedProvider) Refund(ctx context.Context, providerPaymentID string, amount decimal.Decimal, currency, idempotencyKey string) (string, error) {
	if err := p.delay(ctx); err != nil {
		return "", err
	}
	return "sim_re_" + uuid.New().String(), nil
}
