package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Service defines the public interface for entitlement management. Every
// operation is atomic with respect to a single account: validation and the
// write happen inside one compare-and-set attempt, retried from a fresh
// read on conflict.
type Service interface {
	// Register creates an account on the floor tier, or returns the
	// existing account for an already-registered email.
	Register(ctx context.Context, email string) (*Account, error)

	// RequestUpgrade moves the account to a higher-ranked tier after the
	// payment provider approves the proof, and returns a fresh token.
	RequestUpgrade(ctx context.Context, accountID uuid.UUID, targetTierID, paymentProof string) (*Account, Token, error)

	// RequestDowngrade marks the account pending_downgrade; the tier change
	// itself is applied by the reconciliation sweep at the end of the
	// current billing period.
	RequestDowngrade(ctx context.Context, accountID uuid.UUID, targetTierID string) (*Account, error)

	// RequestCancel immediately demotes the account to the floor tier with
	// terminal cancelled status. Idempotent: cancelling an already
	// cancelled account returns the current state unchanged.
	RequestCancel(ctx context.Context, accountID uuid.UUID) (*Account, error)

	// IssueToken re-derives a fresh entitlement token from the current
	// account row; it never consults cached entitlement data.
	IssueToken(ctx context.Context, accountID uuid.UUID) (Token, error)

	// Status reports the account's current entitlement for the client UI.
	Status(ctx context.Context, accountID uuid.UUID) (*StatusInfo, error)

	// ReconcileDowngrades applies all due pending downgrades and returns
	// how many were applied. Idempotent per account: re-running it on an
	// already-applied downgrade is a no-op.
	ReconcileDowngrades(ctx context.Context) (int, error)

	// Catalog exposes the immutable tier catalog.
	Catalog() *Catalog
}

// StatusInfo is the client-facing view of an account's entitlement.
type StatusInfo struct {
	AccountID     uuid.UUID          `json:"account_id"`
	Email         string             `json:"email"`
	TierID        string             `json:"tier_id"`
	TierName      string             `json:"tier_name"`
	Status        AccountStatus      `json:"status"`
	Features      []Capability       `json:"features"`
	Limits        map[Resource]int64 `json:"limits"`
	PendingTierID string             `json:"pending_tier_id,omitempty"`
	NextBillingAt *time.Time         `json:"next_billing_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
}

const (
	defaultMaxRetries     = 3
	defaultBillingPeriod  = 30 * 24 * time.Hour
	defaultPaymentTimeout = 10 * time.Second
)

type service struct {
	catalog        *Catalog
	store          Store
	provider       PaymentProvider
	issuer         *TokenIssuer
	clock          func() time.Time
	maxRetries     int
	billingPeriod  time.Duration
	paymentTimeout time.Duration
}

// NewService creates a Service with the given dependencies.
// Panics if required dependencies are nil to fail fast during
// initialization rather than at the first request.
func NewService(catalog *Catalog, store Store, provider PaymentProvider, issuer *TokenIssuer, opts ...ServiceOption) Service {
	if catalog == nil {
		panic("entitlement: Catalog is required")
	}
	if store == nil {
		panic("entitlement: Store is required")
	}
	if provider == nil {
		panic("entitlement: PaymentProvider is required")
	}
	if issuer == nil {
		panic("entitlement: TokenIssuer is required")
	}

	s := &service{
		catalog:        catalog,
		store:          store,
		provider:       provider,
		issuer:         issuer,
		clock:          func() time.Time { return time.Now().UTC() },
		maxRetries:     defaultMaxRetries,
		billingPeriod:  defaultBillingPeriod,
		paymentTimeout: defaultPaymentTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Catalog() *Catalog {
	return s.catalog
}

func (s *service) Register(ctx context.Context, email string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	// Re-registering an existing email returns the current account so the
	// desktop client can recover its state after a reinstall.
	if existing, err := s.store.FindByEmail(ctx, email); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	now := s.clock()
	floor := s.catalog.Floor()
	acc := &Account{
		ID:             uuid.New(),
		Email:          email,
		TierID:         floor.ID,
		Status:         StatusActive,
		EffectiveSince: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		History: []TransitionRecord{{
			ToTierID:    floor.ID,
			RequestedAt: now,
			AppliedAt:   now,
			Reason:      ReasonRegistration,
		}},
	}

	if err := s.store.Create(ctx, acc); err != nil {
		// Lost a registration race for the same email; return the winner.
		if errors.Is(err, ErrAccountExists) {
			return s.store.FindByEmail(ctx, email)
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) RequestUpgrade(ctx context.Context, accountID uuid.UUID, targetTierID, paymentProof string) (*Account, Token, error) {
	target, err := s.catalog.Tier(targetTierID)
	if err != nil {
		return nil, Token{}, err
	}

	// Validate before paying so an obviously illegal request never reaches
	// the payment provider.
	acc, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, Token{}, err
	}
	if err := s.validateUpgrade(acc, target); err != nil {
		return nil, Token{}, err
	}

	// Paid tiers require provider authorization. The call runs under a
	// bounded deadline with no in-process lock held; a timeout counts as a
	// decline and the account stays unmodified.
	if !target.IsFloor() {
		payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
		err := s.provider.Authorize(payCtx, accountID, target, paymentProof)
		cancel()
		if err != nil {
			if errors.Is(err, ErrPaymentRejected) {
				return nil, Token{}, err
			}
			return nil, Token{}, errors.Join(ErrPaymentRejected, err)
		}
	}

	requestedAt := s.clock()
	acc, _, err = s.mutate(ctx, accountID, func(a *Account) error {
		// Re-validate on every attempt; a concurrent transition may have
		// changed the account since the pre-payment read.
		if err := s.validateUpgrade(a, target); err != nil {
			return err
		}

		now := s.clock()
		a.History = append(a.History, TransitionRecord{
			FromTierID:  a.TierID,
			ToTierID:    target.ID,
			RequestedAt: requestedAt,
			AppliedAt:   now,
			Reason:      ReasonUpgrade,
		})
		a.TierID = target.ID
		a.Status = StatusActive
		a.PendingTierID = ""
		a.DowngradeRequestedAt = nil
		a.EffectiveSince = now
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, Token{}, err
	}

	token, err := s.issuer.Issue(acc, target)
	if err != nil {
		return nil, Token{}, err
	}
	return acc, token, nil
}

func (s *service) validateUpgrade(a *Account, target Tier) error {
	if a.IsCancelled() {
		return ErrAccountCancelled
	}
	current, err := s.catalog.Tier(a.TierID)
	if err != nil {
		return err
	}
	if target.Rank <= current.Rank {
		return ErrInvalidTransition
	}
	if !canChangeStatus(a.Status, StatusActive) {
		return ErrInvalidTransition
	}
	return nil
}

func (s *service) RequestDowngrade(ctx context.Context, accountID uuid.UUID, targetTierID string) (*Account, error) {
	target, err := s.catalog.Tier(targetTierID)
	if err != nil {
		return nil, err
	}

	acc, _, err := s.mutate(ctx, accountID, func(a *Account) error {
		if a.IsCancelled() {
			return ErrAccountCancelled
		}
		// A pending downgrade must resolve (reconcile or upgrade) before
		// another one may be scheduled.
		if a.IsPendingDowngrade() {
			return ErrInvalidTransition
		}
		current, err := s.catalog.Tier(a.TierID)
		if err != nil {
			return err
		}
		if target.Rank >= current.Rank {
			return ErrInvalidTransition
		}
		if !canChangeStatus(a.Status, StatusPendingDowngrade) {
			return ErrInvalidTransition
		}

		now := s.clock()
		a.Status = StatusPendingDowngrade
		a.PendingTierID = target.ID
		a.DowngradeRequestedAt = &now
		a.UpdatedAt = now
		return nil
	})
	return acc, err
}

func (s *service) RequestCancel(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	acc, _, err := s.mutate(ctx, accountID, func(a *Account) error {
		if a.IsCancelled() {
			return errNoChange
		}
		if !canChangeStatus(a.Status, StatusCancelled) {
			return ErrInvalidTransition
		}

		now := s.clock()
		floor := s.catalog.Floor()
		a.History = append(a.History, TransitionRecord{
			FromTierID:  a.TierID,
			ToTierID:    floor.ID,
			RequestedAt: now,
			AppliedAt:   now,
			Reason:      ReasonCancel,
		})
		a.TierID = floor.ID
		a.Status = StatusCancelled
		a.PendingTierID = ""
		a.DowngradeRequestedAt = nil
		a.EffectiveSince = now
		a.CancelledAt = &now
		a.UpdatedAt = now
		return nil
	})
	return acc, err
}

func (s *service) IssueToken(ctx context.Context, accountID uuid.UUID) (Token, error) {
	acc, err := s.store.Get(ctx, accountID)
	if err != nil {
		return Token{}, err
	}
	tier, err := s.catalog.Tier(acc.TierID)
	if err != nil {
		return Token{}, err
	}
	return s.issuer.Issue(acc, tier)
}

func (s *service) Status(ctx context.Context, accountID uuid.UUID) (*StatusInfo, error) {
	acc, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tier, err := s.catalog.Tier(acc.TierID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		AccountID:     acc.ID,
		Email:         acc.Email,
		TierID:        tier.ID,
		TierName:      tier.Name,
		Status:        acc.Status,
		Features:      tier.Features,
		Limits:        tier.Limits,
		PendingTierID: acc.PendingTierID,
		CancelledAt:   acc.CancelledAt,
	}

	// The floor tier is not billed, so it has no next billing date.
	if !tier.IsFloor() && !acc.IsCancelled() {
		next := acc.NextBillingAt(s.clock(), s.billingPeriod)
		info.NextBillingAt = &next
	}
	return info, nil
}

func (s *service) ReconcileDowngrades(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.billingPeriod)
	due, err := s.store.PendingDowngrades(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	applied := 0
	var errs []error
	for _, id := range due {
		_, changed, err := s.mutate(ctx, id, func(a *Account) error {
			// Re-check under CAS: another sweep or an upgrade may have
			// resolved the pending downgrade already.
			if !a.DowngradeDue(s.clock(), s.billingPeriod) {
				return errNoChange
			}
			target, err := s.catalog.Tier(a.PendingTierID)
			if err != nil {
				return err
			}

			now := s.clock()
			requestedAt := now
			if a.DowngradeRequestedAt != nil {
				requestedAt = *a.DowngradeRequestedAt
			}
			a.History = append(a.History, TransitionRecord{
				FromTierID:  a.TierID,
				ToTierID:    target.ID,
				RequestedAt: requestedAt,
				AppliedAt:   now,
				Reason:      ReasonDowngrade,
			})
			a.TierID = target.ID
			a.Status = StatusActive
			a.PendingTierID = ""
			a.DowngradeRequestedAt = nil
			a.EffectiveSince = now
			a.UpdatedAt = now
			return nil
		})
		if err != nil {
			// Contention here is harmless: the next sweep picks the
			// account up again.
			if !errors.Is(err, ErrContention) && !errors.Is(err, ErrAccountNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		if changed {
			applied++
		}
	}
	return applied, errors.Join(errs...)
}

// mutate runs a read-modify-write cycle under optimistic concurrency: read
// a fresh copy, apply fn, compare-and-set. A version conflict restarts the
// cycle from a new read; exhausting the retry budget surfaces
// ErrContention. fn may return errNoChange to skip the write and report
// the account unchanged.
func (s *service) mutate(ctx context.Context, id uuid.UUID, fn func(*Account) error) (*Account, bool, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		acc, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}

		expected := acc.Version
		if err := fn(acc); err != nil {
			if errors.Is(err, errNoChange) {
				return acc, false, nil
			}
			return nil, false, err
		}

		if err := s.store.CompareAndSet(ctx, acc, expected); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, false, err
		}
		return acc, true, nil
	}
	return nil, false, ErrContention
}
