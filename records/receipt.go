package records

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lhelwerd/rechu/matcher"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	dayLayout   = "2006-01-02"
	clockLayout = "15:04"
)

// ReceiptRecord is the file form of a receipt.
type ReceiptRecord struct {
	Filename string    `validate:"required"`
	Updated  time.Time `validate:"-"`
	Date     time.Time `validate:"required"`
	// Time is an optional "HH:MM" used only to tell receipts of one day apart.
	Time      string         `validate:"omitempty,datetime=15:04"`
	Shop      string         `validate:"required"`
	Products  []ProductLine  `validate:"required,min=1,dive"`
	Discounts []DiscountLine `validate:"dive"`
}

// ProductLine is [quantity, label, price, indicator?].
type ProductLine struct {
	Quantity          string `validate:"required,quantity"`
	Label             string `validate:"required"`
	Price             decimal.Decimal
	DiscountIndicator *string
}

// DiscountLine is [label, decrease, labels...].
type DiscountLine struct {
	Label    string          `validate:"required"`
	Decrease decimal.Decimal `validate:"lte=0"`
	Items    []string        `validate:"dive,required"`
}

// Occurrence reduces a line to what the matcher evaluates. Discounts are filled in by the caller.
func (p ProductLine) Occurrence(date time.Time) (matcher.Occurrence, error) {
	q, err := matcher.ParseQuantity(p.Quantity)
	if err != nil {
		return matcher.Occurrence{}, err
	}
	price, err := matcher.NormalizePrice(q, p.Price)
	if err != nil {
		return matcher.Occurrence{}, err
	}
	return matcher.Occurrence{Label: p.Label, Price: price, Date: date}, nil
}

// ReceiptFilename derives the identity key of a receipt. A positive sequence number
// disambiguates receipts that would otherwise collide.
func ReceiptFilename(date time.Time, clock string, shop string, sequence int) string {
	name := date.Format(dayLayout)
	if clock != "" {
		name += "-" + strings.ReplaceAll(clock, ":", "-")
	}
	name += "-" + shop
	if sequence > 0 {
		name += fmt.Sprintf("-%d", sequence)
	}
	return name + ".yml"
}

// ReadReceipt parses a receipt file; the file name and modification time become its identity and update stamp.
func ReadReceipt(path string) (*ReceiptRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r, err := ParseReceipt(f, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	r.Updated = info.ModTime().UTC().Truncate(time.Second)
	return r, nil
}

// ParseReceipt decodes and validates one receipt document.
func ParseReceipt(in io.Reader, filename string) (*ReceiptRecord, error) {
	root, err := document(in, filename)
	if err != nil {
		return nil, err
	}
	if root.Kind != yaml.MappingNode {
		return nil, invalid(filename, "", "does not contain a mapping")
	}

	r := &ReceiptRecord{Filename: filename}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch key {
		case "date":
			raw, err := scalar(value, filename, key)
			if err != nil {
				return nil, err
			}
			if r.Date, r.Time, err = parseDate(raw); err != nil {
				return nil, invalid(filename, key, "%v", err)
			}
		case "shop":
			if r.Shop, err = scalar(value, filename, key); err != nil {
				return nil, err
			}
		case "products":
			if value.Kind != yaml.SequenceNode {
				return nil, invalid(filename, key, "expected a list")
			}
			for j, item := range value.Content {
				line, err := parseProductLine(item, filename, fmt.Sprintf("products[%d]", j))
				if err != nil {
					return nil, err
				}
				r.Products = append(r.Products, line)
			}
		case "bonus":
			if value.Kind != yaml.SequenceNode {
				return nil, invalid(filename, key, "expected a list")
			}
			for j, item := range value.Content {
				line, err := parseDiscountLine(item, filename, fmt.Sprintf("bonus[%d]", j))
				if err != nil {
					return nil, err
				}
				r.Discounts = append(r.Discounts, line)
			}
		default:
			return nil, invalid(filename, key, "unknown field")
		}
	}
	if err := ValidateReceipt(r); err != nil {
		return nil, err
	}
	return r, nil
}

func parseDate(raw string) (time.Time, string, error) {
	raw = strings.TrimSpace(raw)
	if day, err := time.Parse(dayLayout, raw); err == nil {
		return day, "", nil
	}
	for _, layout := range []string{dayLayout + " " + clockLayout, dayLayout + "T" + clockLayout, dayLayout + " 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return day, t.Format(clockLayout), nil
		}
	}
	return time.Time{}, "", fmt.Errorf("invalid date %q", raw)
}

func parseProductLine(node *yaml.Node, path string, field string) (ProductLine, error) {
	if node.Kind != yaml.SequenceNode || len(node.Content) < 3 || len(node.Content) > 4 {
		return ProductLine{}, invalid(path, field, "expected [quantity, label, price, indicator?]")
	}
	var line ProductLine
	var err error
	if line.Quantity, err = scalar(node.Content[0], path, field+".quantity"); err != nil {
		return line, err
	}
	if line.Label, err = scalar(node.Content[1], path, field+".label"); err != nil {
		return line, err
	}
	if line.Price, err = decimalValue(node.Content[2], path, field+".price"); err != nil {
		return line, err
	}
	if len(node.Content) == 4 {
		indicator, err := scalar(node.Content[3], path, field+".indicator")
		if err != nil {
			return line, err
		}
		line.DiscountIndicator = &indicator
	}
	return line, nil
}

func parseDiscountLine(node *yaml.Node, path string, field string) (DiscountLine, error) {
	if node.Kind != yaml.SequenceNode || len(node.Content) < 2 {
		return DiscountLine{}, invalid(path, field, "expected [label, decrease, labels...]")
	}
	var line DiscountLine
	var err error
	if line.Label, err = scalar(node.Content[0], path, field+".label"); err != nil {
		return line, err
	}
	if line.Decrease, err = decimalValue(node.Content[1], path, field+".decrease"); err != nil {
		return line, err
	}
	for i, item := range node.Content[2:] {
		label, err := scalar(item, path, fmt.Sprintf("%s.items[%d]", field, i))
		if err != nil {
			return line, err
		}
		line.Items = append(line.Items, label)
	}
	return line, nil
}

// WriteReceipt writes the receipt to path.
func WriteReceipt(path string, r *ReceiptRecord) error {
	return writeFile(path, receiptNode(r))
}

// EncodeReceipt writes the receipt document to w.
func EncodeReceipt(w io.Writer, r *ReceiptRecord) error {
	return encodeNode(w, receiptNode(r))
}

func receiptNode(r *ReceiptRecord) *yaml.Node {
	root := mapNode()
	if r.Time == "" {
		addPair(root, "date", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!timestamp", Value: r.Date.Format(dayLayout)})
	} else {
		addPair(root, "date", strNode(r.Date.Format(dayLayout)+" "+r.Time))
	}
	addPair(root, "shop", strNode(r.Shop))

	products := seqNode(false)
	for _, p := range r.Products {
		item := seqNode(true, plainNode(p.Quantity), strNode(p.Label), priceNode(p.Price))
		if p.DiscountIndicator != nil {
			item.Content = append(item.Content, strNode(*p.DiscountIndicator))
		}
		products.Content = append(products.Content, item)
	}
	addPair(root, "products", products)

	if len(r.Discounts) > 0 {
		bonus := seqNode(false)
		for _, d := range r.Discounts {
			item := seqNode(true, strNode(d.Label), priceNode(d.Decrease))
			for _, label := range d.Items {
				item.Content = append(item.Content, strNode(label))
			}
			bonus.Content = append(bonus.Content, item)
		}
		addPair(root, "bonus", bonus)
	}
	return root
}
