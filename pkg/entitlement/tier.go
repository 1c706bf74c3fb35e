package entitlement

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Tier describes a subscription level: an ordered rank, the capabilities it
// unlocks, and per-tier resource limits. For paid tiers PriceID is the
// payment provider's price identifier; the floor tier leaves it empty.
type Tier struct {
	ID       string             `json:"id" yaml:"id"`
	Name     string             `json:"name" yaml:"name"`
	Rank     int                `json:"rank" yaml:"rank"`
	Features []Capability       `json:"features" yaml:"features"`
	Limits   map[Resource]int64 `json:"limits" yaml:"limits"`
	Price    Money              `json:"price" yaml:"price"`
	PriceID  string             `json:"-" yaml:"price_id"`
}

// HasFeature reports whether the tier unlocks the given capability.
func (t Tier) HasFeature(c Capability) bool {
	return slices.Contains(t.Features, c)
}

// IsFloor reports whether this is the default free tier.
func (t Tier) IsFloor() bool {
	return t.Rank == 0
}

func cloneTier(t Tier) Tier {
	t.Features = slices.Clone(t.Features)
	t.Limits = maps.Clone(t.Limits)
	return t
}

// Catalog is the immutable set of available tiers and their transition
// rules. Changing the catalog requires a redeploy; there is no dynamic tier
// creation.
type Catalog struct {
	byID    map[string]Tier
	ordered []Tier // ascending rank
}

// NewCatalog validates the tier definitions and builds a catalog. Ranks
// must be unique and non-negative, tier IDs unique, and exactly one tier
// must sit at rank 0 (the floor tier every cancellation lands on).
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("at least one tier is required"))
	}

	byID := make(map[string]Tier, len(tiers))
	ranks := make(map[int]string, len(tiers))
	floors := 0

	for _, t := range tiers {
		if t.ID == "" {
			return nil, errors.Join(ErrInvalidCatalog, errors.New("tier with empty ID"))
		}
		if _, exists := byID[t.ID]; exists {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate tier ID %q", t.ID))
		}
		if t.Rank < 0 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %q has negative rank %d", t.ID, t.Rank))
		}
		if other, exists := ranks[t.Rank]; exists {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tiers %q and %q share rank %d", other, t.ID, t.Rank))
		}
		if t.Rank == 0 {
			floors++
		}

		byID[t.ID] = cloneTier(t)
		ranks[t.Rank] = t.ID
	}

	if floors != 1 {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("exactly one floor tier at rank 0 required, got %d", floors))
	}

	ordered := make([]Tier, 0, len(byID))
	for _, t := range byID {
		ordered = append(ordered, t)
	}
	slices.SortFunc(ordered, func(a, b Tier) int { return a.Rank - b.Rank })

	return &Catalog{byID: byID, ordered: ordered}, nil
}

// Tiers returns all tiers ordered by ascending rank.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.ordered))
	for i, t := range c.ordered {
		out[i] = cloneTier(t)
	}
	return out
}

// Tier returns the tier with the given ID.
func (c *Catalog) Tier(id string) (Tier, error) {
	t, ok := c.byID[id]
	if !ok {
		return Tier{}, ErrTierNotFound
	}
	return cloneTier(t), nil
}

// Floor returns the rank-0 tier.
func (c *Catalog) Floor() Tier {
	return cloneTier(c.ordered[0])
}

// IsUpgrade reports whether moving from => to is a rank increase.
func (c *Catalog) IsUpgrade(fromID, toID string) bool {
	from, okFrom := c.byID[fromID]
	to, okTo := c.byID[toID]
	return okFrom && okTo && to.Rank > from.Rank
}

// IsDowngrade reports whether moving from => to is a rank decrease. The
// floor tier is rank 0 and ranks are non-negative, so a downgrade can never
// land below the floor.
func (c *Catalog) IsDowngrade(fromID, toID string) bool {
	from, okFrom := c.byID[fromID]
	to, okTo := c.byID[toID]
	return okFrom && okTo && to.Rank < from.Rank
}

// CanTransition reports whether a direct tier change between the two tiers
// is legal under catalog rules (any strict rank change; cancellation to the
// floor is always legal and handled separately by the service).
func (c *Catalog) CanTransition(fromID, toID string) bool {
	return c.IsUpgrade(fromID, toID) || c.IsDowngrade(fromID, toID)
}

// DefaultCatalog returns the built-in SwiftSale tier set.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(
		Tier{
			ID:       "free",
			Name:     "Free",
			Rank:     0,
			Features: []Capability{CapabilitySettingsAccess},
			Limits:   map[Resource]int64{ResourceBins: 20},
		},
		Tier{
			ID:       "bronze",
			Name:     "Bronze",
			Rank:     1,
			Features: []Capability{CapabilitySettingsAccess, CapabilityAnnotate},
			Limits:   map[Resource]int64{ResourceBins: 50},
			Price:    Money{Amount: 999, Currency: "USD"},
			PriceID:  "price_bronze_monthly",
		},
		Tier{
			ID:       "silver",
			Name:     "Silver",
			Rank:     2,
			Features: []Capability{CapabilitySettingsAccess, CapabilityAnnotate, CapabilityExportCSV, CapabilityMailingList},
			Limits:   map[Resource]int64{ResourceBins: 150},
			Price:    Money{Amount: 1999, Currency: "USD"},
			PriceID:  "price_silver_monthly",
		},
		Tier{
			ID:       "gold",
			Name:     "Gold",
			Rank:     3,
			Features: []Capability{CapabilitySettingsAccess, CapabilityAnnotate, CapabilityExportCSV, CapabilityMailingList, CapabilityTelegramAlerts},
			Limits:   map[Resource]int64{ResourceBins: 600},
			Price:    Money{Amount: 3999, Currency: "USD"},
			PriceID:  "price_gold_monthly",
		},
	)
	if err != nil {
		panic(err)
	}
	return catalog
}
