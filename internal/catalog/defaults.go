package catalog

// Default is the built-in price list, used when no catalog file is present.
func Default() Catalog {
	return Catalog{
		Currency: "usd",
		Packages: []Package{
			{ID: "pkg_1child_reg", Name: "1 Child + Registration", PriceCents: 7000, ChildCount: 1, IncludesRegistration: true, Family: FamilyFirstTime, Pricing: PricingFlat},
			{ID: "pkg_2children_reg", Name: "2 Children + Registration", PriceCents: 11500, ChildCount: 2, IncludesRegistration: true, Family: FamilyFirstTime, Pricing: PricingFlat},
			{ID: "pkg_1child_noreg", Name: "1 Child", PriceCents: 5000, ChildCount: 1, Family: FamilyReturning, Pricing: PricingFlat},
			{ID: "pkg_2children_noreg", Name: "2 Children", PriceCents: 7500, ChildCount: 2, Family: FamilyReturning, Pricing: PricingFlat},
			{ID: "plan_a_autopay", Name: "Plan A - AutoPay", Description: "Monthly, second child half price", PriceCents: 5000, ChildCount: 1, Family: FamilyMonthly, Pricing: PricingSiblingHalf},
		},
		AddOns: []AddOn{
			{ID: "tumblebus_week", Name: "1 Week of TUMBLEBUS", PriceCents: 1250},
			{ID: "misc_5", Name: "Miscellaneous $5", PriceCents: 500},
			{ID: "misc_10", Name: "Miscellaneous $10", PriceCents: 1000},
			{ID: "misc_15", Name: "Miscellaneous $15", PriceCents: 1500},
			{ID: "misc_20", Name: "Miscellaneous $20", PriceCents: 2000},
		},
	}
}
