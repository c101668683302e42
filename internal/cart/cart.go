// Package cart prices a package selection plus add-ons. Carts are values:
// every operation returns a new Cart and leaves the receiver untouched.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/money"
)

var (
	ErrNegativeQuantity         = errors.New("negative_quantity")
	ErrUnknownAddOn             = errors.New("unknown_add_on")
	ErrUnknownPackage           = errors.New("unknown_package")
	ErrInvalidChildCount        = errors.New("invalid_child_count")
	ErrSiblingDiscountExhausted = errors.New("sibling_discount_exhausted")
)

var siblingRatio = decimal.NewFromFloat(0.5)

type LineKind string

const (
	LinePackage LineKind = "package"
	LineAddOn   LineKind = "add_on"
)

// Line is one priced row. UnitPriceCents already includes any discount;
// ListPriceCents and DiscountCents are informational.
type Line struct {
	Kind           LineKind `json:"kind"`
	ItemID         string   `json:"item_id"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	ListPriceCents int64    `json:"list_price_cents"`
	DiscountCents  int64    `json:"discount_cents"`
	Quantity       int      `json:"quantity"`
	ChildCount     int      `json:"child_count,omitempty"`
}

func (l Line) AmountCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

type Cart struct {
	pkg     *catalog.Package
	pkgLine *Line
	addOns  []Line
}

// SelectPackage replaces the package line, pricing it for the package's own
// child count.
func (c Cart) SelectPackage(pkg catalog.Package) (Cart, error) {
	return c.SelectPackageForChildren(pkg, pkg.ChildCount)
}

// SelectPackageForChildren replaces the package line for a package sold per
// child. A flat package only accepts its own child count.
func (c Cart) SelectPackageForChildren(pkg catalog.Package, children int) (Cart, error) {
	if strings.TrimSpace(pkg.ID) == "" {
		return c, ErrUnknownPackage
	}
	line, err := packageLine(pkg, children)
	if err != nil {
		return c, err
	}
	out := c.clone()
	p := pkg
	p.ChildCount = children
	out.pkg = &p
	out.pkgLine = &line
	return out, nil
}

func packageLine(pkg catalog.Package, children int) (Line, error) {
	if children < 1 {
		return Line{}, ErrInvalidChildCount
	}
	line := Line{
		Kind:       LinePackage,
		ItemID:     pkg.ID,
		Name:       pkg.Name,
		Quantity:   1,
		ChildCount: children,
	}
	switch pkg.Pricing {
	case catalog.PricingSiblingHalf:
		if children > catalog.MaxSiblingChildren {
			return Line{}, fmt.Errorf("%w: the half-price rule covers one additional child", ErrSiblingDiscountExhausted)
		}
		line.ListPriceCents = pkg.PriceCents * int64(children)
		line.UnitPriceCents = pkg.PriceCents
		if children == catalog.MaxSiblingChildren {
			line.UnitPriceCents += money.Fraction(pkg.PriceCents, siblingRatio)
		}
		line.DiscountCents = line.ListPriceCents - line.UnitPriceCents
	default:
		if children != pkg.ChildCount {
			return Line{}, fmt.Errorf("%w: package %s covers %d children", ErrInvalidChildCount, pkg.ID, pkg.ChildCount)
		}
		line.ListPriceCents = pkg.PriceCents
		line.UnitPriceCents = pkg.PriceCents
	}
	return line, nil
}

// ClearPackage removes the package line.
func (c Cart) ClearPackage() Cart {
	out := c.clone()
	out.pkg = nil
	out.pkgLine = nil
	return out
}

// AddAddOn adds one unit of the add-on, appending a line when absent.
func (c Cart) AddAddOn(addon catalog.AddOn) (Cart, error) {
	if strings.TrimSpace(addon.ID) == "" {
		return c, ErrUnknownAddOn
	}
	out := c.clone()
	for i := range out.addOns {
		if out.addOns[i].ItemID == addon.ID {
			out.addOns[i].Quantity++
			return out, nil
		}
	}
	out.addOns = append(out.addOns, Line{
		Kind:           LineAddOn,
		ItemID:         addon.ID,
		Name:           addon.Name,
		UnitPriceCents: addon.PriceCents,
		ListPriceCents: addon.PriceCents,
		Quantity:       1,
	})
	return out, nil
}

func (c Cart) RemoveAddOn(id string) Cart {
	out := c.clone()
	kept := out.addOns[:0]
	for _, l := range out.addOns {
		if l.ItemID != id {
			kept = append(kept, l)
		}
	}
	out.addOns = kept
	return out
}

// SetAddOnQuantity sets the quantity of an existing add-on line. n < 1
// removes the line; a negative n is rejected and the cart is unchanged.
func (c Cart) SetAddOnQuantity(id string, n int) (Cart, error) {
	if n < 0 {
		return c, ErrNegativeQuantity
	}
	if n == 0 {
		return c.RemoveAddOn(id), nil
	}
	out := c.clone()
	for i := range out.addOns {
		if out.addOns[i].ItemID == id {
			out.addOns[i].Quantity = n
			return out, nil
		}
	}
	return c, ErrUnknownAddOn
}

// Total is the sum of unit price times quantity over every line.
func (c Cart) Total() int64 {
	var total int64
	for _, l := range c.Lines() {
		total += l.AmountCents()
	}
	return total
}

// ChildCount is the number of children the selected package requires, 0
// without a package.
func (c Cart) ChildCount() int {
	if c.pkg == nil {
		return 0
	}
	return c.pkg.ChildCount
}

func (c Cart) Package() (catalog.Package, bool) {
	if c.pkg == nil {
		return catalog.Package{}, false
	}
	return *c.pkg, true
}

func (c Cart) HasPackage() bool {
	return c.pkg != nil
}

// Lines returns the package line first, then add-ons in insertion order.
func (c Cart) Lines() []Line {
	lines := make([]Line, 0, len(c.addOns)+1)
	if c.pkgLine != nil {
		lines = append(lines, *c.pkgLine)
	}
	return append(lines, c.addOns...)
}

func (c Cart) AddOnQuantity(id string) int {
	for _, l := range c.addOns {
		if l.ItemID == id {
			return l.Quantity
		}
	}
	return 0
}

func (c Cart) IsEmpty() bool {
	return c.pkgLine == nil && len(c.addOns) == 0
}

func (c Cart) clone() Cart {
	out := Cart{pkg: c.pkg, pkgLine: c.pkgLine}
	if len(c.addOns) > 0 {
		out.addOns = make([]Line, len(c.addOns))
		copy(out.addOns, c.addOns)
	}
	return out
}
