package entitlement

import (
	"context"
	"crypto/subtle"

	"github.com/google/uuid"
)

// PaymentProvider verifies that a payment proof covers the target tier.
// A nil return approves the transition; declines are reported as
// ErrPaymentRejected, possibly wrapped with provider detail. The service
// calls Authorize under a bounded deadline and treats a timeout as a
// decline, leaving the account unmodified.
type PaymentProvider interface {
	Authorize(ctx context.Context, accountID uuid.UUID, tier Tier, proof string) error
}

// StaticProvider approves any proof matching a fixed code. It backs the
// development mode where upgrades are exercised without a billing account.
type StaticProvider struct {
	code string
}

// NewStaticProvider creates a provider that approves proofs equal to code.
// An empty code declines everything.
func NewStaticProvider(code string) *StaticProvider {
	return &StaticProvider{code: code}
}

func (p *StaticProvider) Authorize(_ context.Context, _ uuid.UUID, _ Tier, proof string) error {
	if p.code == "" {
		return ErrPaymentRejected
	}
	if subtle.ConstantTimeCompare([]byte(p.code), []byte(proof)) != 1 {
		return ErrPaymentRejected
	}
	return nil
}
