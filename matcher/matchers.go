package matcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// State records how a matcher category was provided.
type State int

const (
	Unset State = iota
	Explicit
	Emptied
)

func (s State) String() string {
	switch s {
	case Explicit:
		return "explicit"
	case Emptied:
		return "emptied"
	default:
		return "unset"
	}
}

// ParseState is the inverse of String; unknown values are Unset.
func ParseState(s string) State {
	switch s {
	case "explicit":
		return Explicit
	case "emptied":
		return Emptied
	default:
		return Unset
	}
}

// tier ranks states by specificity: emptied < unset < explicit.
func (s State) tier() int {
	switch s {
	case Emptied:
		return 0
	case Explicit:
		return 2
	default:
		return 1
	}
}

type PriceForm int

const (
	FormNone PriceForm = iota
	FormSet
	FormRange
	FormYears
	FormUnits
)

var ErrMixedPriceForms = errors.New("price matcher mixes forms")

// PriceMatcher holds exactly one of the price forms.
type PriceMatcher struct {
	Values []decimal.Decimal
	Min    *decimal.Decimal
	Max    *decimal.Decimal
	Years  map[int][]decimal.Decimal
	Units  map[string][]decimal.Decimal
}

func (p PriceMatcher) Form() PriceForm {
	switch {
	case len(p.Values) > 0:
		return FormSet
	case p.Min != nil || p.Max != nil:
		return FormRange
	case len(p.Years) > 0:
		return FormYears
	case len(p.Units) > 0:
		return FormUnits
	}
	return FormNone
}

func (p PriceMatcher) Validate() error {
	forms := 0
	if len(p.Values) > 0 {
		forms++
	}
	if p.Min != nil || p.Max != nil {
		forms++
	}
	if len(p.Years) > 0 {
		forms++
	}
	if len(p.Units) > 0 {
		forms++
	}
	if forms > 1 {
		return ErrMixedPriceForms
	}
	if p.Min != nil && p.Max != nil && !p.Min.LessThan(*p.Max) {
		return fmt.Errorf("price range minimum %s must be below maximum %s", p.Min, p.Max)
	}
	for unit := range p.Units {
		if canonical, ok := CanonicalUnit(unit); !ok || canonical != unit {
			return fmt.Errorf("%w: price unit %q", ErrUnknownUnit, unit)
		}
	}
	return nil
}

func (p PriceMatcher) Empty() bool {
	return p.Form() == FormNone
}

// Count is the number of explicit values across exact forms.
func (p PriceMatcher) Count() int {
	n := len(p.Values)
	for _, values := range p.Years {
		n += len(values)
	}
	for _, values := range p.Units {
		n += len(values)
	}
	return n
}

func (p PriceMatcher) clone() PriceMatcher {
	out := PriceMatcher{Values: append([]decimal.Decimal(nil), p.Values...)}
	if p.Min != nil {
		v := *p.Min
		out.Min = &v
	}
	if p.Max != nil {
		v := *p.Max
		out.Max = &v
	}
	if p.Years != nil {
		out.Years = make(map[int][]decimal.Decimal, len(p.Years))
		for year, values := range p.Years {
			out.Years[year] = append([]decimal.Decimal(nil), values...)
		}
	}
	if p.Units != nil {
		out.Units = make(map[string][]decimal.Decimal, len(p.Units))
		for unit, values := range p.Units {
			out.Units[unit] = append([]decimal.Decimal(nil), values...)
		}
	}
	return out
}

// Matchers are the three matcher categories of a metadata entry with their provenance.
type Matchers struct {
	LabelsState  State
	Labels       []string
	PricesState  State
	Prices       PriceMatcher
	BonusesState State
	Bonuses      []string
}

// NewMatchers builds matchers from optional categories: nil means unset, an empty value means emptied.
func NewMatchers(labels []string, prices *PriceMatcher, bonuses []string) Matchers {
	m := Matchers{}
	if labels != nil {
		m.LabelsState, m.Labels = stateOf(len(labels)), append([]string(nil), labels...)
	}
	if prices != nil {
		m.PricesState, m.Prices = Explicit, prices.clone()
		if prices.Empty() {
			m.PricesState = Emptied
		}
	}
	if bonuses != nil {
		m.BonusesState, m.Bonuses = stateOf(len(bonuses)), append([]string(nil), bonuses...)
	}
	return m
}

func stateOf(n int) State {
	if n == 0 {
		return Emptied
	}
	return Explicit
}

func (m Matchers) Validate() error {
	return m.Prices.Validate()
}

// None reports whether no category restricts anything.
func (m Matchers) None() bool {
	return m.LabelsState != Explicit && m.PricesState != Explicit && m.BonusesState != Explicit
}

// Signature is a stable textual identity of the explicit matchers, empty when there are none.
func (m Matchers) Signature() string {
	if m.None() {
		return ""
	}
	labels := sortedStrings(m.Labels)
	bonuses := sortedStrings(m.Bonuses)
	prices := ""
	switch m.Prices.Form() {
	case FormSet:
		prices = fmt.Sprint(sortedDecimals(m.Prices.Values))
	case FormRange:
		prices = fmt.Sprintf("[%s,%s)", boundString(m.Prices.Min), boundString(m.Prices.Max))
	case FormYears:
		years := make([]int, 0, len(m.Prices.Years))
		for year := range m.Prices.Years {
			years = append(years, year)
		}
		sort.Ints(years)
		for _, year := range years {
			prices += fmt.Sprintf("%d:%v;", year, sortedDecimals(m.Prices.Years[year]))
		}
	case FormUnits:
		names := make([]string, 0, len(m.Prices.Units))
		for unit := range m.Prices.Units {
			names = append(names, unit)
		}
		sort.Strings(names)
		for _, unit := range names {
			prices += fmt.Sprintf("%s:%v;", unit, sortedDecimals(m.Prices.Units[unit]))
		}
	}
	return fmt.Sprintf("%s%v|%s%s|%s%v", m.LabelsState, labels, m.PricesState, prices, m.BonusesState, bonuses)
}

// Inherit merges a range entry's own matchers over its parent's. Unset child categories take the
// parent's; explicit and emptied ones replace them. Neither argument is modified.
func Inherit(parent Matchers, child Matchers) Matchers {
	out := Matchers{
		LabelsState:  child.LabelsState,
		Labels:       append([]string(nil), child.Labels...),
		PricesState:  child.PricesState,
		Prices:       child.Prices.clone(),
		BonusesState: child.BonusesState,
		Bonuses:      append([]string(nil), child.Bonuses...),
	}
	if child.LabelsState == Unset {
		out.LabelsState, out.Labels = parent.LabelsState, append([]string(nil), parent.Labels...)
	}
	if child.PricesState == Unset {
		out.PricesState, out.Prices = parent.PricesState, parent.Prices.clone()
	}
	if child.BonusesState == Unset {
		out.BonusesState, out.Bonuses = parent.BonusesState, append([]string(nil), parent.Bonuses...)
	}
	return out
}

func boundString(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func sortedStrings(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func sortedDecimals(values []decimal.Decimal) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.StringFixed(2))
	}
	sort.Strings(out)
	return out
}
