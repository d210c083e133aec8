package records

import (
	"github.com/lhelwerd/rechu/matcher"
	"github.com/shopspring/decimal"
)

// ReceiptsEqual compares the content of two receipts, ignoring the update stamp.
func ReceiptsEqual(a *ReceiptRecord, b *ReceiptRecord) bool {
	if a.Filename != b.Filename || !a.Date.Equal(b.Date) || a.Time != b.Time || a.Shop != b.Shop {
		return false
	}
	if len(a.Products) != len(b.Products) || len(a.Discounts) != len(b.Discounts) {
		return false
	}
	for i := range a.Products {
		x, y := a.Products[i], b.Products[i]
		if x.Quantity != y.Quantity || x.Label != y.Label || !x.Price.Equal(y.Price) || !stringPtrEqual(x.DiscountIndicator, y.DiscountIndicator) {
			return false
		}
	}
	for i := range a.Discounts {
		x, y := a.Discounts[i], b.Discounts[i]
		if x.Label != y.Label || !x.Decrease.Equal(y.Decrease) || !stringsEqual(x.Items, y.Items) {
			return false
		}
	}
	return true
}

// InventoriesEqual compares two inventories entry by entry in order.
func InventoriesEqual(a *InventoryRecord, b *InventoryRecord) bool {
	if a.Shop != b.Shop || a.Category != b.Category || a.Type != b.Type || len(a.Products) != len(b.Products) {
		return false
	}
	for i := range a.Products {
		if !ProductsEqual(a.Products[i], b.Products[i]) {
			return false
		}
	}
	return true
}

// ProductsEqual compares every field, including presence, and the range entries in order.
func ProductsEqual(a ProductRecord, b ProductRecord) bool {
	if (a.Labels == nil) != (b.Labels == nil) || !stringsEqual(a.Labels, b.Labels) {
		return false
	}
	if (a.Bonuses == nil) != (b.Bonuses == nil) || !stringsEqual(a.Bonuses, b.Bonuses) {
		return false
	}
	if (a.Prices == nil) != (b.Prices == nil) || (a.Prices != nil && !pricesEqual(*a.Prices, *b.Prices)) {
		return false
	}
	for _, pair := range [][2]*string{
		{a.Brand, b.Brand}, {a.Description, b.Description}, {a.Category, b.Category}, {a.Type, b.Type},
		{a.Weight, b.Weight}, {a.Volume, b.Volume}, {a.Alcohol, b.Alcohol}, {a.Sku, b.Sku},
	} {
		if !stringPtrEqual(pair[0], pair[1]) {
			return false
		}
	}
	if (a.Portions == nil) != (b.Portions == nil) || (a.Portions != nil && *a.Portions != *b.Portions) {
		return false
	}
	if (a.Gtin == nil) != (b.Gtin == nil) || (a.Gtin != nil && *a.Gtin != *b.Gtin) {
		return false
	}
	if len(a.Range) != len(b.Range) {
		return false
	}
	for i := range a.Range {
		if !ProductsEqual(a.Range[i], b.Range[i]) {
			return false
		}
	}
	return true
}

func pricesEqual(a matcher.PriceMatcher, b matcher.PriceMatcher) bool {
	if a.Form() != b.Form() || !decimalsEqual(a.Values, b.Values) {
		return false
	}
	if !decimalPtrEqual(a.Min, b.Min) || !decimalPtrEqual(a.Max, b.Max) {
		return false
	}
	if len(a.Years) != len(b.Years) || len(a.Units) != len(b.Units) {
		return false
	}
	for year, values := range a.Years {
		if !decimalsEqual(values, b.Years[year]) {
			return false
		}
	}
	for unit, values := range a.Units {
		if !decimalsEqual(values, b.Units[unit]) {
			return false
		}
	}
	return true
}

func decimalsEqual(a []decimal.Decimal, b []decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func decimalPtrEqual(a *decimal.Decimal, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func stringPtrEqual(a *string, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringsEqual(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
