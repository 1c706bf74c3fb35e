package entitlement

import (
	"slices"
	"time"

	"github.com/swiftsaleapp/entitlement/pkg/jwt"
)

// TokenClaims is the payload of an entitlement token: a short-lived,
// self-contained assertion of what an account may do. It is derived from
// the account row at issue time and never persisted as a source of truth.
type TokenClaims struct {
	AccountID string       `json:"sub"`
	TierID    string       `json:"tier"`
	Features  []Capability `json:"features"`
	IssuedAt  int64        `json:"iat"`
	ExpiresAt int64        `json:"exp"`
}

// Valid checks expiry against the current time; called during signature
// verification.
func (c TokenClaims) Valid() error {
	if c.ExpiresAt > 0 && time.Now().UTC().Unix() > c.ExpiresAt {
		return jwt.ErrExpiredToken
	}
	return nil
}

// ExpiredAt reports whether the claims are expired at the given time.
func (c TokenClaims) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() > c.ExpiresAt
}

// Allows reports whether the claims grant the capability. Purely a feature
// set lookup; expiry is checked separately.
func (c TokenClaims) Allows(capability Capability) bool {
	return slices.Contains(c.Features, capability)
}

// Token pairs the signed compact form with its decoded claims.
type Token struct {
	Raw    string      `json:"raw"`
	Claims TokenClaims `json:"claims"`
}

const defaultTokenTTL = 15 * time.Minute

// TokenIssuer signs and parses entitlement tokens.
type TokenIssuer struct {
	signer *jwt.Signer
	ttl    time.Duration
	clock  func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenTTL overrides the default 15 minute token lifetime.
func WithTokenTTL(ttl time.Duration) TokenIssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithTokenClock overrides the time source, for tests with fixed time.
func WithTokenClock(clock func() time.Time) TokenIssuerOption {
	return func(i *TokenIssuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// NewTokenIssuer creates a TokenIssuer with the given HMAC signing key.
func NewTokenIssuer(signingKey []byte, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	signer, err := jwt.NewSigner(signingKey)
	if err != nil {
		return nil, err
	}

	issuer := &TokenIssuer{
		signer: signer,
		ttl:    defaultTokenTTL,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue derives a fresh token from the account and its current tier.
func (i *TokenIssuer) Issue(acc *Account, tier Tier) (Token, error) {
	now := i.clock()
	claims := TokenClaims{
		AccountID: acc.ID.String(),
		TierID:    tier.ID,
		Features:  slices.Clone(tier.Features),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	}

	raw, err := i.signer.Sign(claims)
	if err != nil {
		return Token{}, err
	}
	return Token{Raw: raw, Claims: claims}, nil
}

// Parse verifies a compact token and returns its claims. Expired or
// tampered tokens fail with the underlying jwt error.
func (i *TokenIssuer) Parse(raw string) (TokenClaims, error) {
	var claims TokenClaims
	if err := i.signer.Verify(raw, &claims); err != nil {
		return TokenClaims{}, err
	}
	return claims, nil
}
