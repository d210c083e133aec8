package matcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Occurrence is one receipt line as seen by the evaluator.
type Occurrence struct {
	Label     string
	Price     UnitPrice
	Date      time.Time
	Discounts []string
}

// Accept reports whether every explicit category of m admits the occurrence.
// Unset and emptied categories do not restrict.
func Accept(m Matchers, o Occurrence) bool {
	if m.LabelsState == Explicit && !containsString(m.Labels, o.Label) {
		return false
	}
	if m.PricesState == Explicit && !acceptPrice(m.Prices, o) {
		return false
	}
	if m.BonusesState == Explicit && !intersects(m.Bonuses, o.Discounts) {
		return false
	}
	return true
}

func acceptPrice(p PriceMatcher, o Occurrence) bool {
	switch p.Form() {
	case FormSet:
		return o.Price.Unit == UnitNone && containsDecimal(p.Values, o.Price.Value)
	case FormRange:
		if o.Price.Unit != UnitNone {
			return false
		}
		if p.Min != nil && o.Price.Value.LessThan(*p.Min) {
			return false
		}
		// maximum is exclusive
		if p.Max != nil && !o.Price.Value.LessThan(*p.Max) {
			return false
		}
		return true
	case FormYears:
		if o.Price.Unit != UnitNone {
			return false
		}
		values, ok := p.Years[o.Date.Year()]
		return ok && containsDecimal(values, o.Price.Value)
	case FormUnits:
		if o.Price.Unit == UnitNone {
			return false
		}
		values, ok := p.Units[o.Price.Unit]
		return ok && containsDecimal(values, o.Price.Value)
	}
	return true
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsDecimal(values []decimal.Decimal, v decimal.Decimal) bool {
	for _, candidate := range values {
		if candidate.Equal(v) {
			return true
		}
	}
	return false
}

func intersects(a []string, b []string) bool {
	for _, v := range b {
		if containsString(a, v) {
			return true
		}
	}
	return false
}
