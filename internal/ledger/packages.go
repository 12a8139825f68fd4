package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Package is a purchasable credit bundle.
type Package struct {
	ID         string
	PriceCents int64
	Credits    decimal.Decimal
	Bonus      decimal.Decimal
}

// Total is credits plus bonus.
func (p Package) Total() decimal.Decimal {
	return p.Credits.Add(p.Bonus)
}

var packages = map[string]Package{
	"small":  {ID: "small", PriceCents: 1000, Credits: decimal.NewFromInt(10), Bonus: decimal.Zero},
	"medium": {ID: "medium", PriceCents: 2500, Credits: decimal.NewFromInt(25), Bonus: decimal.NewFromInt(3)},
	"large":  {ID: "large", PriceCents: 5000, Credits: decimal.NewFromInt(50), Bonus: decimal.NewFromInt(8)},
	"xl":     {ID: "xl", PriceCents: 10000, Credits: decimal.NewFromInt(100), Bonus: decimal.NewFromInt(20)},
}

// LookupPackage returns the package with the given id.
func LookupPackage(id string) (Package, bool) {
	p, ok := packages[id]
	return p, ok
}

// Packages returns all packages ordered by price.
func Packages() []Package {
	out := make([]Package, 0, len(packages))
	for _, p := range packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}
