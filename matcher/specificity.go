package matcher

import "github.com/shopspring/decimal"

// Price form ranks within the explicit tier.
const (
	rankOneSided = 1
	rankBounded  = 2
	rankExact    = 3
)

// categoryKey orders one matcher category. Higher tier and rank are more specific,
// a smaller breadth is more specific.
type categoryKey struct {
	tier    int
	rank    int
	breadth decimal.Decimal
}

func (k categoryKey) compare(o categoryKey) int {
	if k.tier != o.tier {
		return sign(k.tier - o.tier)
	}
	if k.rank != o.rank {
		return sign(k.rank - o.rank)
	}
	return -k.breadth.Cmp(o.breadth)
}

func setKey(state State, n int) categoryKey {
	key := categoryKey{tier: state.tier()}
	if state == Explicit {
		key.breadth = decimal.NewFromInt(int64(n))
	}
	return key
}

func priceKey(state State, p PriceMatcher) categoryKey {
	key := categoryKey{tier: state.tier()}
	if state != Explicit {
		return key
	}
	switch p.Form() {
	case FormSet, FormYears, FormUnits:
		key.rank = rankExact
		key.breadth = decimal.NewFromInt(int64(p.Count()))
	case FormRange:
		if p.Min != nil && p.Max != nil {
			key.rank = rankBounded
			key.breadth = p.Max.Sub(*p.Min)
		} else {
			key.rank = rankOneSided
		}
	}
	return key
}

// Compare orders two matcher sets by specificity over labels, then prices, then bonuses.
// It returns a positive number when a is more specific, negative when b is, and zero on a tie.
func Compare(a Matchers, b Matchers) int {
	if c := setKey(a.LabelsState, len(a.Labels)).compare(setKey(b.LabelsState, len(b.Labels))); c != 0 {
		return c
	}
	if c := priceKey(a.PricesState, a.Prices).compare(priceKey(b.PricesState, b.Prices)); c != 0 {
		return c
	}
	return setKey(a.BonusesState, len(a.Bonuses)).compare(setKey(b.BonusesState, len(b.Bonuses)))
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
