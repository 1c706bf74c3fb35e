package entitlement

import "errors"

var (
	ErrTierNotFound      = errors.New("entitlement: tier not found")
	ErrInvalidCatalog    = errors.New("entitlement: invalid tier catalog")
	ErrInvalidTransition = errors.New("entitlement: requested tier change violates catalog rules")
	ErrPaymentRejected   = errors.New("entitlement: payment rejected")
	ErrVersionConflict   = errors.New("entitlement: account modified concurrently")
	ErrContention        = errors.New("entitlement: account is contended, retry later")
	ErrAccountNotFound   = errors.New("entitlement: account not found")
	ErrInvalidEmail      = errors.New("entitlement: invalid email")
	ErrAccountExists     = errors.New("entitlement: account already exists")
	ErrAccountCancelled  = errors.New("entitlement: account is cancelled")

	// errNoChange signals a mutation callback that the account is already in
	// the requested state; the compare-and-set is skipped entirely.
	errNoChange = errors.New("entitlement: no change")
)
