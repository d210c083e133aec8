package records

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

const receiptYAML = `date: 2024-03-01
shop: id
products:
  - [1, milk, 0.89]
  - [2, soda, 1.50, b]
  - ["0.750kg", cheese, 6.75]
  - [1, soda, 0.75, b]
bonus:
  - [disco, -0.50, soda, soda]
`

func TestParseReceipt(t *testing.T) {
	r, err := ParseReceipt(strings.NewReader(receiptYAML), "2024-03-01-id.yml")
	if err != nil {
		t.Fatalf("ParseReceipt error: %v", err)
	}
	if r.Shop != "id" || !r.Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) || r.Time != "" {
		t.Fatalf("unexpected header %+v", r)
	}
	if len(r.Products) != 4 || r.Products[2].Quantity != "0.750kg" || r.Products[1].DiscountIndicator == nil {
		t.Fatalf("unexpected products %+v", r.Products)
	}
	if r.Products[0].DiscountIndicator != nil {
		t.Fatalf("expected no indicator on first product")
	}
	if len(r.Discounts) != 1 || r.Discounts[0].Decrease.String() != "-0.5" || len(r.Discounts[0].Items) != 2 {
		t.Fatalf("unexpected discounts %+v", r.Discounts)
	}

	occ, err := r.Products[2].Occurrence(r.Date)
	if err != nil {
		t.Fatalf("Occurrence error: %v", err)
	}
	if occ.Price.Value.String() != "9" || occ.Price.Unit != "kilogram" {
		t.Fatalf("unexpected normalized price %s %s", occ.Price.Value, occ.Price.Unit)
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	r, err := ParseReceipt(strings.NewReader(receiptYAML), "2024-03-01-id.yml")
	if err != nil {
		t.Fatalf("ParseReceipt error: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeReceipt(&buf, r); err != nil {
		t.Fatalf("EncodeReceipt error: %v", err)
	}
	again, err := ParseReceipt(&buf, r.Filename)
	if err != nil {
		t.Fatalf("re-parse error: %v\n%s", err, buf.String())
	}
	if !ReceiptsEqual(r, again) {
		t.Fatalf("round trip changed the receipt:\n%s", buf.String())
	}
}

func TestParseReceipt_WithTime(t *testing.T) {
	doc := "date: 2024-03-01 18:45\nshop: id\nproducts:\n  - [1, milk, 0.89]\n"
	r, err := ParseReceipt(strings.NewReader(doc), "x.yml")
	if err != nil {
		t.Fatalf("ParseReceipt error: %v", err)
	}
	if r.Time != "18:45" {
		t.Fatalf("expected time 18:45, got %q", r.Time)
	}
	if got := ReceiptFilename(r.Date, r.Time, r.Shop, 0); got != "2024-03-01-18-45-id.yml" {
		t.Fatalf("unexpected filename %s", got)
	}
	if got := ReceiptFilename(r.Date, "", r.Shop, 2); got != "2024-03-01-id-2.yml" {
		t.Fatalf("unexpected filename %s", got)
	}
}

func TestParseReceipt_Invalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not a mapping", "- 1\n- 2\n"},
		{"missing shop", "date: 2024-03-01\nproducts:\n  - [1, milk, 0.89]\n"},
		{"no products", "date: 2024-03-01\nshop: id\nproducts: []\n"},
		{"short product", "date: 2024-03-01\nshop: id\nproducts:\n  - [1, milk]\n"},
		{"bad quantity", "date: 2024-03-01\nshop: id\nproducts:\n  - [0, milk, 0.89]\n"},
		{"bad price", "date: 2024-03-01\nshop: id\nproducts:\n  - [1, milk, cheap]\n"},
		{"positive discount", "date: 2024-03-01\nshop: id\nproducts:\n  - [1, milk, 0.89, b]\nbonus:\n  - [disco, 0.50, milk]\n"},
		{"unknown field", "date: 2024-03-01\nshop: id\ntotal: 3\nproducts:\n  - [1, milk, 0.89]\n"},
		{"bad date", "date: yesterday\nshop: id\nproducts:\n  - [1, milk, 0.89]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseReceipt(strings.NewReader(tc.doc), "bad.yml")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}
