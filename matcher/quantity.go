package matcher

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Canonical unit tags of the reference unit of each dimension.
const (
	UnitNone     = ""
	UnitKilogram = "kilogram"
	UnitLiter    = "liter"
	UnitMeter    = "meter"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrUnknownUnit     = errors.New("unknown unit")
)

type unitDef struct {
	reference string
	factor    decimal.Decimal
}

var units = map[string]unitDef{
	"mg": {UnitKilogram, decimal.New(1, -6)},
	"g":  {UnitKilogram, decimal.New(1, -3)},
	"kg": {UnitKilogram, decimal.NewFromInt(1)},
	"lb": {UnitKilogram, decimal.RequireFromString("0.45359237")},
	"oz": {UnitKilogram, decimal.RequireFromString("0.028349523125")},
	"ml": {UnitLiter, decimal.New(1, -3)},
	"cl": {UnitLiter, decimal.New(1, -2)},
	"dl": {UnitLiter, decimal.New(1, -1)},
	"l":  {UnitLiter, decimal.NewFromInt(1)},
	"mm": {UnitMeter, decimal.New(1, -3)},
	"cm": {UnitMeter, decimal.New(1, -2)},
	"m":  {UnitMeter, decimal.NewFromInt(1)},
}

// Quantity is a parsed item quantity: a count when Unit is empty, otherwise an amount of a unit symbol.
type Quantity struct {
	Amount decimal.Decimal
	Unit   string
}

// ParseQuantity accepts "2", "0.750kg", "500 g" and "1,5l".
func ParseQuantity(raw string) (Quantity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Quantity{}, fmt.Errorf("%w: empty", ErrInvalidQuantity)
	}
	split := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != ','
	})
	number, symbol := s, ""
	if split >= 0 {
		number, symbol = s[:split], strings.ToLower(strings.TrimSpace(s[split:]))
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(number, ",", "."))
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	if !amount.IsPositive() {
		return Quantity{}, fmt.Errorf("%w: %q must be positive", ErrInvalidQuantity, raw)
	}
	if symbol != "" {
		if _, ok := units[symbol]; !ok {
			return Quantity{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
		}
	}
	return Quantity{Amount: amount, Unit: symbol}, nil
}

// Reference converts the amount to the reference unit of its dimension.
func (q Quantity) Reference() (decimal.Decimal, string) {
	if q.Unit == "" {
		return q.Amount, UnitNone
	}
	def := units[q.Unit]
	return q.Amount.Mul(def.factor), def.reference
}

func (q Quantity) String() string {
	return q.Amount.String() + q.Unit
}

// UnitPrice is a price per count or per reference unit.
type UnitPrice struct {
	Value decimal.Decimal
	Unit  string
}

// NormalizePrice divides the line price by the quantity in its reference unit, rounded to cents.
func NormalizePrice(q Quantity, price decimal.Decimal) (UnitPrice, error) {
	amount, unit := q.Reference()
	if !amount.IsPositive() {
		return UnitPrice{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, q)
	}
	return UnitPrice{Value: price.Div(amount).Round(2), Unit: unit}, nil
}

// CanonicalUnit maps a unit symbol or tag to its canonical tag.
func CanonicalUnit(symbol string) (string, bool) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	switch symbol {
	case UnitKilogram, UnitLiter, UnitMeter:
		return symbol, true
	}
	def, ok := units[symbol]
	if !ok {
		return "", false
	}
	return def.reference, true
}
