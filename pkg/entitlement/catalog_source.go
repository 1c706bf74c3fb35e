package entitlement

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogSource defines how tier definitions are loaded into the service.
type CatalogSource interface {
	Load(ctx context.Context) ([]Tier, error)
}

type inMemSource struct {
	tiers []Tier
}

// NewInMemSource returns a CatalogSource over a deep copy of the given
// tiers. Panics if no tiers are provided so the service always has at
// least one valid tier.
func NewInMemSource(tiers ...Tier) CatalogSource {
	if len(tiers) == 0 {
		panic("entitlement: at least one tier is required")
	}
	copied := make([]Tier, len(tiers))
	for i, t := range tiers {
		copied[i] = cloneTier(t)
	}
	return &inMemSource{tiers: copied}
}

func (s *inMemSource) Load(_ context.Context) ([]Tier, error) {
	out := make([]Tier, len(s.tiers))
	for i, t := range s.tiers {
		out[i] = cloneTier(t)
	}
	return out, nil
}

type fileSource struct {
	path string
}

// NewFileSource returns a CatalogSource backed by a YAML file. The file is
// read once per Load; the catalog stays immutable at runtime, so changing
// tiers means editing the file and redeploying.
//
// Expected format:
//
//	tiers:
//	  - id: free
//	    name: Free
//	    rank: 0
//	    features: [settings_access]
//	    limits:
//	      bins: 20
//	  - id: bronze
//	    name: Bronze
//	    rank: 1
//	    price_id: price_bronze_monthly
//	    price:
//	      amount: 999
//	      currency: USD
//	    features: [settings_access, annotate]
//	    limits:
//	      bins: 50
func NewFileSource(path string) CatalogSource {
	return &fileSource{path: path}
}

func (s *fileSource) Load(_ context.Context) ([]Tier, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read tier catalog %s: %w", s.path, err)
	}

	var doc struct {
		Tiers []Tier `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(doc.Tiers) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("no tiers defined in %s", s.path))
	}

	return doc.Tiers, nil
}

// LoadCatalog builds a validated Catalog from a source.
func LoadCatalog(ctx context.Context, src CatalogSource) (*Catalog, error) {
	tiers, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewCatalog(tiers...)
}
