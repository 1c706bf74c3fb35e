package entitlement_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
	"github.com/swiftsaleapp/entitlement/pkg/jwt"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

func testAccount() *entitlement.Account {
	now := time.Now().UTC()
	return &entitlement.Account{
		ID:             uuid.New(),
		Email:          "seller@swiftsaleapp.com",
		TierID:         "silver",
		Status:         entitlement.StatusActive,
		EffectiveSince: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

func TestTokenIssuer(t *testing.T) {
	t.Parallel()

	catalog := entitlement.DefaultCatalog()
	silver, err := catalog.Tier("silver")
	require.NoError(t, err)

	t.Run("issue and parse round-trip", func(t *testing.T) {
		t.Parallel()

		issuer, err := entitlement.NewTokenIssuer(testSigningKey)
		require.NoError(t, err)

		acc := testAccount()
		token, err := issuer.Issue(acc, silver)
		require.NoError(t, err)
		require.NotEmpty(t, token.Raw)

		claims, err := issuer.Parse(token.Raw)
		require.NoError(t, err)
		assert.Equal(t, acc.ID.String(), claims.AccountID)
		assert.Equal(t, "silver", claims.TierID)
		assert.ElementsMatch(t, silver.Features, claims.Features)
		assert.Greater(t, claims.ExpiresAt, claims.IssuedAt)
	})

	t.Run("claims snapshot the tier feature set", func(t *testing.T) {
		t.Parallel()

		issuer, err := entitlement.NewTokenIssuer(testSigningKey)
		require.NoError(t, err)

		token, err := issuer.Issue(testAccount(), silver)
		require.NoError(t, err)

		assert.True(t, token.Claims.Allows(entitlement.CapabilityExportCSV))
		assert.True(t, token.Claims.Allows(entitlement.CapabilityAnnotate))
		assert.False(t, token.Claims.Allows(entitlement.CapabilityTelegramAlerts))
	})

	t.Run("expired token fails to parse", func(t *testing.T) {
		t.Parallel()

		past := time.Now().UTC().Add(-time.Hour)
		issuer, err := entitlement.NewTokenIssuer(testSigningKey,
			entitlement.WithTokenClock(func() time.Time { return past }),
			entitlement.WithTokenTTL(time.Minute),
		)
		require.NoError(t, err)

		token, err := issuer.Issue(testAccount(), silver)
		require.NoError(t, err)

		_, err = issuer.Parse(token.Raw)
		require.ErrorIs(t, err, jwt.ErrExpiredToken)
		assert.True(t, token.Claims.ExpiredAt(time.Now().UTC()))
	})

	t.Run("wrong key rejects the token", func(t *testing.T) {
		t.Parallel()

		issuer, err := entitlement.NewTokenIssuer(testSigningKey)
		require.NoError(t, err)
		other, err := entitlement.NewTokenIssuer([]byte("another-signing-key-fedcba987654"))
		require.NoError(t, err)

		token, err := issuer.Issue(testAccount(), silver)
		require.NoError(t, err)

		_, err = other.Parse(token.Raw)
		require.Error(t, err)
	})
}

func TestGate(t *testing.T) {
	t.Parallel()

	catalog := entitlement.DefaultCatalog()
	issuer, err := entitlement.NewTokenIssuer(testSigningKey)
	require.NoError(t, err)
	gate := entitlement.NewGate(issuer)

	t.Run("allows capabilities of the token tier", func(t *testing.T) {
		t.Parallel()

		gold, err := catalog.Tier("gold")
		require.NoError(t, err)
		token, err := issuer.Issue(testAccount(), gold)
		require.NoError(t, err)

		for _, capability := range gold.Features {
			assert.True(t, gate.IsAllowed(token.Raw, capability))
		}
	})

	t.Run("denies capabilities outside the tier", func(t *testing.T) {
		t.Parallel()

		free, err := catalog.Tier("free")
		require.NoError(t, err)
		token, err := issuer.Issue(testAccount(), free)
		require.NoError(t, err)

		assert.True(t, gate.IsAllowed(token.Raw, entitlement.CapabilitySettingsAccess))
		assert.False(t, gate.IsAllowed(token.Raw, entitlement.CapabilityExportCSV))
		assert.False(t, gate.IsAllowed(token.Raw, entitlement.CapabilityAnnotate))
	})

	t.Run("fails closed on garbage input", func(t *testing.T) {
		t.Parallel()

		assert.False(t, gate.IsAllowed("", entitlement.CapabilitySettingsAccess))
		assert.False(t, gate.IsAllowed("not-a-token", entitlement.CapabilitySettingsAccess))
	})

	t.Run("fails closed on a tampered token", func(t *testing.T) {
		t.Parallel()

		silver, err := catalog.Tier("silver")
		require.NoError(t, err)
		token, err := issuer.Issue(testAccount(), silver)
		require.NoError(t, err)

		parts := strings.Split(token.Raw, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		assert.False(t, gate.IsAllowed(tampered, entitlement.CapabilityExportCSV))
	})

	t.Run("fails closed on an expired token", func(t *testing.T) {
		t.Parallel()

		past := time.Now().UTC().Add(-time.Hour)
		staleIssuer, err := entitlement.NewTokenIssuer(testSigningKey,
			entitlement.WithTokenClock(func() time.Time { return past }),
			entitlement.WithTokenTTL(time.Minute),
		)
		require.NoError(t, err)

		silver, err := catalog.Tier("silver")
		require.NoError(t, err)
		token, err := staleIssuer.Issue(testAccount(), silver)
		require.NoError(t, err)

		assert.False(t, gate.IsAllowed(token.Raw, entitlement.CapabilityExportCSV))
	})
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog := entitlement.DefaultCatalog()
	silver, err := catalog.Tier("silver")
	require.NoError(t, err)

	t.Run("matching code approves", func(t *testing.T) {
		t.Parallel()

		p := entitlement.NewStaticProvider("dev-code")
		require.NoError(t, p.Authorize(ctx, uuid.New(), silver, "dev-code"))
	})

	t.Run("wrong code declines", func(t *testing.T) {
		t.Parallel()

		p := entitlement.NewStaticProvider("dev-code")
		err := p.Authorize(ctx, uuid.New(), silver, "wrong")
		require.ErrorIs(t, err, entitlement.ErrPaymentRejected)
	})

	t.Run("empty code declines everything", func(t *testing.T) {
		t.Parallel()

		p := entitlement.NewStaticProvider("")
		err := p.Authorize(ctx, uuid.New(), silver, "")
		require.ErrorIs(t, err, entitlement.ErrPaymentRejected)
	})
}
