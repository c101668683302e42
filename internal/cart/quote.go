package cart

import (
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/tumblebus/internal/catalog"
)

type AddOnQuantity struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// Selection is the id-only form of a cart, suitable for storage and for
// re-pricing against a newer catalog.
type Selection struct {
	PackageID string          `json:"package_id,omitempty"`
	Children  int             `json:"children,omitempty"`
	AddOns    []AddOnQuantity `json:"add_ons,omitempty"`
}

// Quote prices a selection against the catalog.
func Quote(c catalog.Catalog, sel Selection) (Cart, error) {
	var out Cart
	if sel.PackageID != "" {
		pkg, ok := c.Package(sel.PackageID)
		if !ok {
			return Cart{}, fmt.Errorf("%w: %s", ErrUnknownPackage, sel.PackageID)
		}
		children := sel.Children
		if children == 0 {
			children = pkg.ChildCount
		}
		var err error
		if out, err = out.SelectPackageForChildren(pkg, children); err != nil {
			return Cart{}, err
		}
	}
	for _, item := range sel.AddOns {
		if item.Quantity < 0 {
			return Cart{}, fmt.Errorf("%w: %s", ErrNegativeQuantity, item.ID)
		}
		if item.Quantity == 0 {
			continue
		}
		addon, ok := c.AddOn(item.ID)
		if !ok {
			return Cart{}, fmt.Errorf("%w: %s", ErrUnknownAddOn, item.ID)
		}
		var err error
		if out, err = out.AddAddOn(addon); err != nil {
			return Cart{}, err
		}
		if out, err = out.SetAddOnQuantity(addon.ID, out.AddOnQuantity(addon.ID)+item.Quantity-1); err != nil {
			return Cart{}, err
		}
	}
	return out, nil
}

func (c Cart) Selection() Selection {
	sel := Selection{}
	if c.pkg != nil {
		sel.PackageID = c.pkg.ID
		sel.Children = c.pkg.ChildCount
	}
	for _, l := range c.addOns {
		sel.AddOns = append(sel.AddOns, AddOnQuantity{ID: l.ItemID, Quantity: l.Quantity})
	}
	return sel
}

type cartJSON struct {
	Lines      []Line `json:"lines"`
	TotalCents int64  `json:"total_cents"`
	ChildCount int    `json:"child_count"`
}

func (c Cart) MarshalJSON() ([]byte, error) {
	return json.Marshal(cartJSON{
		Lines:      c.Lines(),
		TotalCents: c.Total(),
		ChildCount: c.ChildCount(),
	})
}
