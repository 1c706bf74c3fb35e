package entitlement_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
)

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	t.Run("valid catalog ordered by rank", func(t *testing.T) {
		t.Parallel()

		catalog, err := entitlement.NewCatalog(
			entitlement.Tier{ID: "pro", Name: "Pro", Rank: 2},
			entitlement.Tier{ID: "free", Name: "Free", Rank: 0},
			entitlement.Tier{ID: "plus", Name: "Plus", Rank: 1},
		)
		require.NoError(t, err)

		tiers := catalog.Tiers()
		require.Len(t, tiers, 3)
		assert.Equal(t, []string{"free", "plus", "pro"}, []string{tiers[0].ID, tiers[1].ID, tiers[2].ID})
		assert.Equal(t, "free", catalog.Floor().ID)
	})

	t.Run("rejects empty catalog", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewCatalog()
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})

	t.Run("rejects duplicate IDs", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewCatalog(
			entitlement.Tier{ID: "free", Rank: 0},
			entitlement.Tier{ID: "free", Rank: 1},
		)
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})

	t.Run("rejects duplicate ranks", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewCatalog(
			entitlement.Tier{ID: "free", Rank: 0},
			entitlement.Tier{ID: "a", Rank: 1},
			entitlement.Tier{ID: "b", Rank: 1},
		)
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})

	t.Run("rejects missing floor tier", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewCatalog(
			entitlement.Tier{ID: "a", Rank: 1},
			entitlement.Tier{ID: "b", Rank: 2},
		)
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})

	t.Run("rejects negative ranks", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewCatalog(
			entitlement.Tier{ID: "free", Rank: 0},
			entitlement.Tier{ID: "sub", Rank: -1},
		)
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})
}

func TestCatalogTransitions(t *testing.T) {
	t.Parallel()

	catalog := entitlement.DefaultCatalog()

	tests := []struct {
		name        string
		from, to    string
		isUpgrade   bool
		isDowngrade bool
	}{
		{"free to gold is upgrade", "free", "gold", true, false},
		{"bronze to silver is upgrade", "bronze", "silver", true, false},
		{"gold to free is downgrade", "gold", "free", false, true},
		{"silver to bronze is downgrade", "silver", "bronze", false, true},
		{"same tier is neither", "silver", "silver", false, false},
		{"unknown tier is neither", "free", "platinum", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.isUpgrade, catalog.IsUpgrade(tt.from, tt.to))
			assert.Equal(t, tt.isDowngrade, catalog.IsDowngrade(tt.from, tt.to))
			assert.Equal(t, tt.isUpgrade || tt.isDowngrade, catalog.CanTransition(tt.from, tt.to))
		})
	}
}

func TestCatalogTierLookup(t *testing.T) {
	t.Parallel()

	catalog := entitlement.DefaultCatalog()

	silver, err := catalog.Tier("silver")
	require.NoError(t, err)
	assert.Equal(t, 2, silver.Rank)
	assert.True(t, silver.HasFeature(entitlement.CapabilityExportCSV))
	assert.False(t, silver.HasFeature(entitlement.CapabilityTelegramAlerts))
	assert.Equal(t, int64(150), silver.Limits[entitlement.ResourceBins])

	_, err = catalog.Tier("platinum")
	require.ErrorIs(t, err, entitlement.ErrTierNotFound)
}

func TestCatalogIsImmutable(t *testing.T) {
	t.Parallel()

	catalog := entitlement.DefaultCatalog()

	free, err := catalog.Tier("free")
	require.NoError(t, err)
	free.Limits[entitlement.ResourceBins] = 9999
	free.Features[0] = "tampered"

	fresh, err := catalog.Tier("free")
	require.NoError(t, err)
	assert.Equal(t, int64(20), fresh.Limits[entitlement.ResourceBins])
	assert.Equal(t, entitlement.CapabilitySettingsAccess, fresh.Features[0])
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	t.Run("loads yaml catalog", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "tiers.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  - id: free
    name: Free
    rank: 0
    features: [settings_access]
    limits:
      bins: 20
  - id: pro
    name: Pro
    rank: 1
    price_id: price_pro_monthly
    price:
      amount: 2900
      currency: USD
    features: [settings_access, annotate, export_csv]
    limits:
      bins: 500
`), 0o600))

		catalog, err := entitlement.LoadCatalog(context.Background(), entitlement.NewFileSource(path))
		require.NoError(t, err)

		pro, err := catalog.Tier("pro")
		require.NoError(t, err)
		assert.Equal(t, "Pro", pro.Name)
		assert.Equal(t, "price_pro_monthly", pro.PriceID)
		assert.Equal(t, int64(2900), pro.Price.Amount)
		assert.Equal(t, int64(500), pro.Limits[entitlement.ResourceBins])
		assert.True(t, pro.HasFeature(entitlement.CapabilityAnnotate))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.LoadCatalog(context.Background(),
			entitlement.NewFileSource(filepath.Join(t.TempDir(), "nope.yaml")))
		require.Error(t, err)
	})

	t.Run("empty catalog file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "tiers.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tiers: []\n"), 0o600))

		_, err := entitlement.LoadCatalog(context.Background(), entitlement.NewFileSource(path))
		require.ErrorIs(t, err, entitlement.ErrInvalidCatalog)
	})
}

func TestInMemSource(t *testing.T) {
	t.Parallel()

	t.Run("panics without tiers", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { entitlement.NewInMemSource() })
	})

	t.Run("deep copies tiers", func(t *testing.T) {
		t.Parallel()

		tier := entitlement.Tier{
			ID: "free", Rank: 0,
			Limits: map[entitlement.Resource]int64{entitlement.ResourceBins: 20},
		}
		src := entitlement.NewInMemSource(tier)

		tier.Limits[entitlement.ResourceBins] = 9999

		loaded, err := src.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(20), loaded[0].Limits[entitlement.ResourceBins])
	})
}
