package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

// Pricing selects how a package line is priced.
type Pricing string

const (
	// PricingFlat uses PriceCents for the whole bundle.
	PricingFlat Pricing = "flat"
	// PricingSiblingHalf charges PriceCents per first child and half of it
	// for exactly one additional child.
	PricingSiblingHalf Pricing = "sibling_half"
)

// MaxSiblingChildren is the most children a sibling_half package can cover.
const MaxSiblingChildren = 2

const (
	FamilyFirstTime = "first_time"
	FamilyReturning = "returning"
	FamilyMonthly   = "monthly"
)

var (
	ErrInvalidCatalog = errors.New("invalid_catalog")
	ErrNotFound       = errors.New("catalog_item_not_found")
)

type Package struct {
	ID                   string  `json:"id" mapstructure:"id"`
	Name                 string  `json:"name" mapstructure:"name"`
	Description          string  `json:"description,omitempty" mapstructure:"description"`
	PriceCents           int64   `json:"price_cents" mapstructure:"price_cents"`
	ChildCount           int     `json:"child_count" mapstructure:"child_count"`
	IncludesRegistration bool    `json:"includes_registration" mapstructure:"includes_registration"`
	Family               string  `json:"family" mapstructure:"family"`
	Pricing              Pricing `json:"pricing" mapstructure:"pricing"`
}

// MaxChildren is the largest child count the package can be sold for.
func (p Package) MaxChildren() int {
	if p.Pricing == PricingSiblingHalf {
		return MaxSiblingChildren
	}
	return p.ChildCount
}

type AddOn struct {
	ID         string `json:"id" mapstructure:"id"`
	Name       string `json:"name" mapstructure:"name"`
	PriceCents int64  `json:"price_cents" mapstructure:"price_cents"`
}

// Catalog is immutable once validated; callers receive copies.
type Catalog struct {
	Currency string    `json:"currency" mapstructure:"currency"`
	Packages []Package `json:"packages" mapstructure:"packages"`
	AddOns   []AddOn   `json:"add_ons" mapstructure:"add_ons"`
}

func (c Catalog) Package(id string) (Package, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func (c Catalog) AddOn(id string) (AddOn, bool) {
	id = strings.TrimSpace(id)
	for _, a := range c.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return AddOn{}, false
}

func (c Catalog) PackagesByFamily(family string) []Package {
	family = strings.ToLower(strings.TrimSpace(family))
	out := make([]Package, 0, len(c.Packages))
	for _, p := range c.Packages {
		if family == "" || p.Family == family {
			out = append(out, p)
		}
	}
	return out
}

// Normalize fills derived fields: missing ids come from the name, missing
// pricing is flat and the currency defaults to usd.
func (c Catalog) Normalize() Catalog {
	out := Catalog{
		Currency: strings.ToLower(strings.TrimSpace(c.Currency)),
		Packages: make([]Package, len(c.Packages)),
		AddOns:   make([]AddOn, len(c.AddOns)),
	}
	if out.Currency == "" {
		out.Currency = "usd"
	}
	for i, p := range c.Packages {
		p.ID = normalizeID(p.ID, p.Name)
		p.Name = strings.TrimSpace(p.Name)
		p.Family = strings.ToLower(strings.TrimSpace(p.Family))
		if p.Pricing == "" {
			p.Pricing = PricingFlat
		}
		out.Packages[i] = p
	}
	for i, a := range c.AddOns {
		a.ID = normalizeID(a.ID, a.Name)
		a.Name = strings.TrimSpace(a.Name)
		out.AddOns[i] = a
	}
	return out
}

func (c Catalog) Validate() error {
	seen := map[string]struct{}{}
	for _, p := range c.Packages {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("%w: package requires id and name", ErrInvalidCatalog)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.PriceCents < 0 {
			return fmt.Errorf("%w: package %q has a negative price", ErrInvalidCatalog, p.ID)
		}
		if p.ChildCount < 1 {
			return fmt.Errorf("%w: package %q must cover at least one child", ErrInvalidCatalog, p.ID)
		}
		switch p.Pricing {
		case PricingFlat:
		case PricingSiblingHalf:
			if p.ChildCount > MaxSiblingChildren {
				return fmt.Errorf("%w: package %q exceeds %d children", ErrInvalidCatalog, p.ID, MaxSiblingChildren)
			}
		default:
			return fmt.Errorf("%w: package %q has unknown pricing %q", ErrInvalidCatalog, p.ID, p.Pricing)
		}
	}
	for _, a := range c.AddOns {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("%w: add-on requires id and name", ErrInvalidCatalog)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.PriceCents < 0 {
			return fmt.Errorf("%w: add-on %q has a negative price", ErrInvalidCatalog, a.ID)
		}
	}
	return nil
}

func normalizeID(id, name string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		return id
	}
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}
