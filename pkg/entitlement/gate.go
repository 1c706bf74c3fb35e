package entitlement

// Gate answers "may this token perform this action" without any store or
// network call: tokens are self-contained, so the check is synchronous and
// safe to run before every gated client action.
type Gate struct {
	issuer *TokenIssuer
}

// NewGate creates a Gate sharing the issuer's signing key.
// Panics on a nil issuer to fail fast during initialization.
func NewGate(issuer *TokenIssuer) *Gate {
	if issuer == nil {
		panic("entitlement: TokenIssuer is required")
	}
	return &Gate{issuer: issuer}
}

// IsAllowed reports whether the raw token grants the capability.
// Fails closed: an expired, malformed, or tampered token yields false,
// never a permissive default.
func (g *Gate) IsAllowed(rawToken string, capability Capability) bool {
	claims, err := g.issuer.Parse(rawToken)
	if err != nil {
		return false
	}
	return claims.Allows(capability)
}
