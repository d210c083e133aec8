package records

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lhelwerd/rechu/matcher"
	"github.com/lhelwerd/rechu/utils"
	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed record. Records that fail validation never reach the store.
type ValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Field, e.Message)
}

func invalid(path string, field string, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Field: field, Message: fmt.Sprintf(format, args...)}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterValidation("quantity", func(fl validator.FieldLevel) bool {
		_, err := matcher.ParseQuantity(fl.Field().String())
		return err == nil
	})
	return v
}

// structErrors turns validator errors into a single ValidationError listing every failing field.
func structErrors(path string, record any) error {
	err := validate.Struct(record)
	if err == nil {
		return nil
	}
	fields := utils.ProcessValidationErrors(err)
	names := utils.SortedKeys(fields)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" failed "+fields[name])
	}
	sort.Strings(parts)
	return &ValidationError{Path: path, Message: strings.Join(parts, "; ")}
}

// ValidateReceipt checks a receipt record before it is reconciled.
func ValidateReceipt(r *ReceiptRecord) error {
	if err := structErrors(r.Filename, r); err != nil {
		return err
	}
	for i, item := range r.Products {
		if item.DiscountIndicator != nil && *item.DiscountIndicator == "" {
			return invalid(r.Filename, fmt.Sprintf("products[%d]", i), "discount indicator must not be empty when present")
		}
	}
	return nil
}

// ValidateInventory checks an inventory record, including the rules that involve generic and range entries.
func ValidateInventory(inv *InventoryRecord) error {
	if err := structErrors(inv.Path, inv); err != nil {
		return err
	}
	for i := range inv.Products {
		if err := validateProduct(inv, &inv.Products[i], fmt.Sprintf("products[%d]", i), false); err != nil {
			return err
		}
	}
	return nil
}

func validateProduct(inv *InventoryRecord, p *ProductRecord, field string, nested bool) error {
	if !nested {
		if p.Labels != nil && len(p.Labels) == 0 {
			return invalid(inv.Path, field+".labels", "generic entries cannot empty a matcher")
		}
		if p.Prices != nil && p.Prices.Empty() {
			return invalid(inv.Path, field+".prices", "generic entries cannot empty a matcher")
		}
		if p.Bonuses != nil && len(p.Bonuses) == 0 {
			return invalid(inv.Path, field+".bonuses", "generic entries cannot empty a matcher")
		}
	} else if len(p.Range) > 0 {
		return invalid(inv.Path, field+".range", "range entries cannot have ranges")
	}
	if p.Prices != nil {
		if err := p.Prices.Validate(); err != nil {
			return invalid(inv.Path, field+".prices", "%v", err)
		}
	}
	if inv.Category != "" && p.Category != nil && *p.Category != inv.Category {
		return invalid(inv.Path, field+".category", "conflicts with inventory category %q", inv.Category)
	}
	if inv.Type != "" && p.Type != nil && *p.Type != inv.Type {
		return invalid(inv.Path, field+".type", "conflicts with inventory type %q", inv.Type)
	}
	for i := range p.Range {
		if err := validateProduct(inv, &p.Range[i], fmt.Sprintf("%s.range[%d]", field, i), true); err != nil {
			return err
		}
	}
	return nil
}

// ValidateShops checks the shops file.
func ValidateShops(path string, shops []ShopRecord) error {
	seen := map[string]bool{}
	for i := range shops {
		if err := structErrors(path, &shops[i]); err != nil {
			return err
		}
		if seen[shops[i].Key] {
			return invalid(path, fmt.Sprintf("[%d].key", i), "duplicate shop %q", shops[i].Key)
		}
		seen[shops[i].Key] = true
	}
	return nil
}
