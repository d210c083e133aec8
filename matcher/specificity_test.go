package matcher

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
)

func TestCompare_Tiers(t *testing.T) {
	explicit := NewMatchers([]string{"milk"}, nil, nil)
	unset := Matchers{}
	emptied := NewMatchers([]string{}, nil, nil)

	if Compare(explicit, unset) <= 0 {
		t.Fatalf("explicit labels should beat unset labels")
	}
	if Compare(unset, emptied) <= 0 {
		t.Fatalf("unset labels should beat emptied labels")
	}
	if Compare(emptied, explicit) >= 0 {
		t.Fatalf("emptied labels should lose to explicit labels")
	}
}

func TestCompare_Prices(t *testing.T) {
	exact := NewMatchers(nil, &PriceMatcher{Values: []decimal.Decimal{d("1.00")}}, nil)
	exactTwo := NewMatchers(nil, &PriceMatcher{Values: []decimal.Decimal{d("1.00"), d("2.00")}}, nil)
	narrow := NewMatchers(nil, &PriceMatcher{Min: dp("1.00"), Max: dp("1.50")}, nil)
	wide := NewMatchers(nil, &PriceMatcher{Min: dp("1.00"), Max: dp("3.00")}, nil)
	oneSided := NewMatchers(nil, &PriceMatcher{Min: dp("1.00")}, nil)

	ordered := []Matchers{exact, exactTwo, narrow, wide, oneSided, {}}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) <= 0 {
			t.Fatalf("expected position %d to be more specific than %d", i, i+1)
		}
	}
}

func TestCompare_CategoryPriority(t *testing.T) {
	// labels decide before prices
	labelled := NewMatchers([]string{"milk"}, nil, nil)
	priced := NewMatchers(nil, &PriceMatcher{Values: []decimal.Decimal{d("1.00")}}, nil)
	if Compare(labelled, priced) <= 0 {
		t.Fatalf("labels should take priority over prices")
	}
}

func TestCompare_DisjointSameArityTies(t *testing.T) {
	a := NewMatchers([]string{"milk"}, &PriceMatcher{Values: []decimal.Decimal{d("0.89")}}, nil)
	b := NewMatchers([]string{"melk"}, &PriceMatcher{Values: []decimal.Decimal{d("1.09")}}, nil)
	if Compare(a, b) != 0 || Compare(b, a) != 0 {
		t.Fatalf("disjoint matchers of the same arity should tie")
	}
}

func TestCompare_RemovingNeverIncreases(t *testing.T) {
	full := NewMatchers([]string{"milk"}, &PriceMatcher{Values: []decimal.Decimal{d("1.00")}}, []string{"disco"})
	withoutPrices := full
	withoutPrices.PricesState, withoutPrices.Prices = Unset, PriceMatcher{}
	emptiedPrices := full
	emptiedPrices.PricesState, emptiedPrices.Prices = Emptied, PriceMatcher{}

	if Compare(withoutPrices, full) > 0 {
		t.Fatalf("removing prices increased specificity")
	}
	if Compare(emptiedPrices, withoutPrices) > 0 {
		t.Fatalf("emptying prices ranked above leaving them unset")
	}

	narrowed := NewMatchers([]string{"milk"}, &PriceMatcher{Min: dp("1.00"), Max: dp("1.20")}, []string{"disco"})
	wider := NewMatchers([]string{"milk"}, &PriceMatcher{Min: dp("0.50"), Max: dp("1.20")}, []string{"disco"})
	if Compare(narrowed, wider) < 0 {
		t.Fatalf("narrowing a range decreased specificity")
	}
}

// randomMatchers draws from a small space so that ties are common.
func randomMatchers(r *rand.Rand) Matchers {
	m := Matchers{}
	pickSet := func() (State, []string) {
		switch r.Intn(3) {
		case 0:
			return Unset, nil
		case 1:
			return Emptied, nil
		}
		values := make([]string, 1+r.Intn(3))
		for i := range values {
			values[i] = string(rune('a' + r.Intn(4)))
		}
		return Explicit, values
	}
	m.LabelsState, m.Labels = pickSet()
	m.BonusesState, m.Bonuses = pickSet()

	switch r.Intn(6) {
	case 0:
	case 1:
		m.PricesState = Emptied
	case 2:
		m.PricesState = Explicit
		m.Prices.Values = make([]decimal.Decimal, 1+r.Intn(3))
		for i := range m.Prices.Values {
			m.Prices.Values[i] = decimal.NewFromInt(int64(r.Intn(5)))
		}
	case 3:
		m.PricesState = Explicit
		lo := decimal.NewFromInt(int64(r.Intn(5)))
		hi := lo.Add(decimal.NewFromInt(int64(1 + r.Intn(3))))
		m.Prices.Min, m.Prices.Max = &lo, &hi
	case 4:
		m.PricesState = Explicit
		lo := decimal.NewFromInt(int64(r.Intn(5)))
		m.Prices.Min = &lo
	case 5:
		m.PricesState = Explicit
		m.Prices.Years = map[int][]decimal.Decimal{2020 + r.Intn(3): {decimal.NewFromInt(1)}}
	}
	return m
}

func TestCompare_Transitive(t *testing.T) {
	check := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		a, b, c := randomMatchers(r), randomMatchers(r), randomMatchers(r)
		ab, bc, ac := Compare(a, b), Compare(b, c), Compare(a, c)
		if ab > 0 && bc > 0 && ac <= 0 {
			return false
		}
		if ab >= 0 && bc >= 0 && ac < 0 {
			return false
		}
		if ab == 0 && bc == 0 && ac != 0 {
			return false
		}
		return true
	}
	if err := quick.Check(check, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatal(err)
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	check := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		a, b := randomMatchers(r), randomMatchers(r)
		return Compare(a, b) == -Compare(b, a)
	}
	if err := quick.Check(check, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatal(err)
	}
}
