package records

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/lhelwerd/rechu/matcher"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Price map keys of the range form.
const (
	IndicatorMinimum = "minimum"
	IndicatorMaximum = "maximum"
)

// InventoryRecord is one products file: the metadata of a shop, optionally narrowed to a category and type.
type InventoryRecord struct {
	Path     string `validate:"-"`
	Shop     string `validate:"required"`
	Category string
	Type     string
	Products []ProductRecord `validate:"dive"`
}

// ProductRecord is a metadata entry. Nil fields are absent; on range entries they are inherited.
// An empty, non-nil matcher list is an explicit removal.
type ProductRecord struct {
	Labels  []string
	Prices  *matcher.PriceMatcher
	Bonuses []string

	Brand       *string
	Description *string
	Category    *string
	Type        *string
	Portions    *int    `validate:"omitempty,min=1"`
	Weight      *string `validate:"omitempty,quantity"`
	Volume      *string `validate:"omitempty,quantity"`
	Alcohol     *string
	Sku         *string `validate:"omitempty,min=1"`
	Gtin        *int64  `validate:"omitempty,min=0,max=99999999999999"`

	Range []ProductRecord `validate:"dive"`
}

// Matchers converts the matcher fields; absent lists are unset.
func (p ProductRecord) Matchers() matcher.Matchers {
	return matcher.NewMatchers(p.Labels, p.Prices, p.Bonuses)
}

// ReadInventory parses a products file.
func ReadInventory(path string) (*InventoryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseInventory(f, path)
}

// ParseInventory decodes and validates one products document.
func ParseInventory(in io.Reader, path string) (*InventoryRecord, error) {
	root, err := document(in, path)
	if err != nil {
		return nil, err
	}
	if root.Kind != yaml.MappingNode {
		return nil, invalid(path, "", "does not contain a mapping")
	}

	inv := &InventoryRecord{Path: path}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch key {
		case "shop":
			inv.Shop, err = scalar(value, path, key)
		case "category":
			inv.Category, err = scalar(value, path, key)
		case "type":
			inv.Type, err = scalar(value, path, key)
		case "products":
			if value.Kind != yaml.SequenceNode {
				return nil, invalid(path, key, "expected a list")
			}
			for j, item := range value.Content {
				product, perr := parseProduct(item, path, fmt.Sprintf("products[%d]", j), false)
				if perr != nil {
					return nil, perr
				}
				inv.Products = append(inv.Products, product)
			}
		default:
			return nil, invalid(path, key, "unknown field")
		}
		if err != nil {
			return nil, err
		}
	}
	for i := range inv.Products {
		inv.Products[i].dropShared(inv.Category, inv.Type)
	}
	if err := ValidateInventory(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// dropShared clears fields that only repeat the inventory's own grouping.
func (p *ProductRecord) dropShared(category string, typ string) {
	if p.Category != nil && category != "" && *p.Category == category {
		p.Category = nil
	}
	if p.Type != nil && typ != "" && *p.Type == typ {
		p.Type = nil
	}
	for i := range p.Range {
		p.Range[i].dropShared(category, typ)
	}
}

func parseProduct(node *yaml.Node, path string, field string, nested bool) (ProductRecord, error) {
	var p ProductRecord
	if node.Kind != yaml.MappingNode {
		return p, invalid(path, field, "expected a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		name := field + "." + key
		var err error
		switch key {
		case "labels":
			p.Labels, err = stringList(value, path, name)
		case "bonuses":
			p.Bonuses, err = stringList(value, path, name)
		case "prices":
			p.Prices, err = parsePrices(value, path, name)
		case "brand":
			p.Brand, err = optionalString(value, path, name)
		case "description":
			p.Description, err = optionalString(value, path, name)
		case "category":
			p.Category, err = optionalString(value, path, name)
		case "type":
			p.Type, err = optionalString(value, path, name)
		case "weight":
			p.Weight, err = optionalString(value, path, name)
		case "volume":
			p.Volume, err = optionalString(value, path, name)
		case "alcohol":
			p.Alcohol, err = optionalString(value, path, name)
		case "sku":
			p.Sku, err = optionalString(value, path, name)
		case "portions":
			var raw string
			if raw, err = scalar(value, path, name); err == nil {
				n, cerr := strconv.Atoi(raw)
				if cerr != nil {
					return p, invalid(path, name, "invalid integer %q", raw)
				}
				p.Portions = &n
			}
		case "gtin":
			var raw string
			if raw, err = scalar(value, path, name); err == nil {
				n, cerr := strconv.ParseInt(raw, 10, 64)
				if cerr != nil {
					return p, invalid(path, name, "invalid GTIN %q", raw)
				}
				p.Gtin = &n
			}
		case "range":
			if nested {
				return p, invalid(path, name, "range entries cannot have ranges")
			}
			if value.Kind != yaml.SequenceNode {
				return p, invalid(path, name, "expected a list")
			}
			p.Range = make([]ProductRecord, 0, len(value.Content))
			for j, item := range value.Content {
				child, cerr := parseProduct(item, path, fmt.Sprintf("%s[%d]", name, j), true)
				if cerr != nil {
					return p, cerr
				}
				p.Range = append(p.Range, child)
			}
		default:
			return p, invalid(path, name, "unknown field")
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

func optionalString(node *yaml.Node, path string, field string) (*string, error) {
	v, err := scalar(node, path, field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parsePrices reads a list (explicit values) or a mapping keyed by minimum/maximum,
// by year or by unit. An empty list or mapping is an explicit removal.
func parsePrices(node *yaml.Node, path string, field string) (*matcher.PriceMatcher, error) {
	p := &matcher.PriceMatcher{}
	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			v, err := decimalValue(item, path, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			p.Values = append(p.Values, v)
		}
		return p, nil
	case yaml.MappingNode:
	default:
		return nil, invalid(path, field, "expected a list or mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		name := field + "." + key
		switch {
		case key == IndicatorMinimum || key == IndicatorMaximum:
			v, err := decimalValue(value, path, name)
			if err != nil {
				return nil, err
			}
			if key == IndicatorMinimum {
				p.Min = &v
			} else {
				p.Max = &v
			}
		default:
			values, err := priceValues(value, path, name)
			if err != nil {
				return nil, err
			}
			if year, yerr := strconv.Atoi(key); yerr == nil {
				if p.Years == nil {
					p.Years = map[int][]decimal.Decimal{}
				}
				p.Years[year] = values
				continue
			}
			unit, ok := matcher.CanonicalUnit(key)
			if !ok {
				return nil, invalid(path, name, "unknown price indicator")
			}
			if p.Units == nil {
				p.Units = map[string][]decimal.Decimal{}
			}
			p.Units[unit] = append(p.Units[unit], values...)
		}
	}
	return p, nil
}

func priceValues(node *yaml.Node, path string, field string) ([]decimal.Decimal, error) {
	if node.Kind != yaml.SequenceNode {
		v, err := decimalValue(node, path, field)
		if err != nil {
			return nil, err
		}
		return []decimal.Decimal{v}, nil
	}
	values := make([]decimal.Decimal, 0, len(node.Content))
	for i, item := range node.Content {
		v, err := decimalValue(item, path, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// WriteInventory writes the products file to path.
func WriteInventory(path string, inv *InventoryRecord) error {
	return writeFile(path, inventoryNode(inv))
}

// EncodeInventory writes the products document to w.
func EncodeInventory(w io.Writer, inv *InventoryRecord) error {
	return encodeNode(w, inventoryNode(inv))
}

func inventoryNode(inv *InventoryRecord) *yaml.Node {
	root := mapNode()
	addPair(root, "shop", strNode(inv.Shop))
	if inv.Category != "" {
		addPair(root, "category", strNode(inv.Category))
	}
	if inv.Type != "" {
		addPair(root, "type", strNode(inv.Type))
	}
	products := seqNode(false)
	for _, p := range inv.Products {
		products.Content = append(products.Content, productNode(p))
	}
	addPair(root, "products", products)
	return root
}

func productNode(p ProductRecord) *yaml.Node {
	m := mapNode()
	if p.Labels != nil {
		addPair(m, "labels", stringsNode(p.Labels))
	}
	if p.Prices != nil {
		addPair(m, "prices", pricesNode(*p.Prices))
	}
	if p.Bonuses != nil {
		addPair(m, "bonuses", stringsNode(p.Bonuses))
	}
	for _, field := range []struct {
		key   string
		value *string
	}{
		{"brand", p.Brand},
		{"description", p.Description},
		{"category", p.Category},
		{"type", p.Type},
	} {
		if field.value != nil {
			addPair(m, field.key, strNode(*field.value))
		}
	}
	if p.Portions != nil {
		addPair(m, "portions", intNode(int64(*p.Portions)))
	}
	if p.Weight != nil {
		addPair(m, "weight", strNode(*p.Weight))
	}
	if p.Volume != nil {
		addPair(m, "volume", strNode(*p.Volume))
	}
	if p.Alcohol != nil {
		addPair(m, "alcohol", strNode(*p.Alcohol))
	}
	if p.Sku != nil {
		addPair(m, "sku", strNode(*p.Sku))
	}
	if p.Gtin != nil {
		addPair(m, "gtin", intNode(*p.Gtin))
	}
	if p.Range != nil {
		ranges := seqNode(false)
		for _, child := range p.Range {
			ranges.Content = append(ranges.Content, productNode(child))
		}
		addPair(m, "range", ranges)
	}
	return m
}

func pricesNode(p matcher.PriceMatcher) *yaml.Node {
	switch p.Form() {
	case matcher.FormRange:
		m := mapNode()
		if p.Min != nil {
			addPair(m, IndicatorMinimum, priceNode(*p.Min))
		}
		if p.Max != nil {
			addPair(m, IndicatorMaximum, priceNode(*p.Max))
		}
		return m
	case matcher.FormYears:
		m := mapNode()
		years := make([]int, 0, len(p.Years))
		for year := range p.Years {
			years = append(years, year)
		}
		sort.Ints(years)
		for _, year := range years {
			m.Content = append(m.Content, intNode(int64(year)), pricesList(p.Years[year]))
		}
		return m
	case matcher.FormUnits:
		m := mapNode()
		units := make([]string, 0, len(p.Units))
		for unit := range p.Units {
			units = append(units, unit)
		}
		sort.Strings(units)
		for _, unit := range units {
			addPair(m, unit, pricesList(p.Units[unit]))
		}
		return m
	}
	items := make([]*yaml.Node, 0, len(p.Values))
	for _, v := range p.Values {
		items = append(items, priceNode(v))
	}
	return seqNode(true, items...)
}

// pricesList writes a single value as a scalar.
func pricesList(values []decimal.Decimal) *yaml.Node {
	if len(values) == 1 {
		return priceNode(values[0])
	}
	items := make([]*yaml.Node, 0, len(values))
	for _, v := range values {
		items = append(items, priceNode(v))
	}
	return seqNode(true, items...)
}
