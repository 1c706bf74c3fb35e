package entitlement

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Account is the durable entitlement record for one registered install.
// It is mutated only through validated transitions applied via the store's
// compare-and-set, and never physically deleted: cancellation moves the
// account to the floor tier and marks the status terminal, keeping the
// transition history for audit.
type Account struct {
	ID     uuid.UUID     `json:"id"`
	Email  string        `json:"email"`
	TierID string        `json:"tier_id"`
	Status AccountStatus `json:"status"`

	// PendingTierID and DowngradeRequestedAt are set while a downgrade
	// waits for the end of the billing period.
	PendingTierID        string     `json:"pending_tier_id,omitempty"`
	DowngradeRequestedAt *time.Time `json:"downgrade_requested_at,omitempty"`

	// EffectiveSince is when the current tier took effect; the billing
	// period is measured from it.
	EffectiveSince time.Time  `json:"effective_since"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`

	// Version is the optimistic concurrency token checked by
	// Store.CompareAndSet.
	Version int64 `json:"version"`

	// History is the append-only sequence of applied transitions.
	History []TransitionRecord `json:"history"`
}

// TransitionRecord is an immutable audit entry for one applied transition.
type TransitionRecord struct {
	FromTierID  string           `json:"from_tier_id"`
	ToTierID    string           `json:"to_tier_id"`
	RequestedAt time.Time        `json:"requested_at"`
	AppliedAt   time.Time        `json:"applied_at"`
	Reason      TransitionReason `json:"reason"`
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

func (a *Account) IsPendingDowngrade() bool {
	return a.Status == StatusPendingDowngrade
}

func (a *Account) IsCancelled() bool {
	return a.Status == StatusCancelled
}

// NextBillingAt returns the next billing boundary after now. Boundaries
// fall every period from when the current tier took effect, so the value
// stays in the future for accounts older than one period.
func (a *Account) NextBillingAt(now time.Time, period time.Duration) time.Time {
	next := a.EffectiveSince.Add(period)
	if period <= 0 {
		return next
	}
	for !next.After(now) {
		next = next.Add(period)
	}
	return next
}

// DowngradeDue reports whether a pending downgrade should be applied now.
// A pending downgrade fires at the first boundary after it was requested,
// one period after the current tier took effect.
func (a *Account) DowngradeDue(now time.Time, period time.Duration) bool {
	return a.IsPendingDowngrade() && !now.Before(a.EffectiveSince.Add(period))
}

// Clone returns a deep copy, used by stores to keep their internal state
// isolated from callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.History = slices.Clone(a.History)
	if a.DowngradeRequestedAt != nil {
		t := *a.DowngradeRequestedAt
		clone.DowngradeRequestedAt = &t
	}
	if a.CancelledAt != nil {
		t := *a.CancelledAt
		clone.CancelledAt = &t
	}
	return &clone
}
