package workflow

import (
	"fmt"
	"strconv"

	"github.com/lhelwerd/rechu/matcher"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
)

func receiptToModel(r *records.ReceiptRecord) models.Receipt {
	receipt := models.Receipt{
		Filename: r.Filename,
		Updated:  r.Updated,
		Date:     r.Date,
		Shop:     r.Shop,
	}
	if r.Time != "" {
		receipt.Time = utils.NewString(r.Time)
	}
	for i, line := range r.Products {
		receipt.Products = append(receipt.Products, models.ProductItem{
			ReceiptKey:        r.Filename,
			Position:          i,
			Quantity:          line.Quantity,
			Label:             line.Label,
			Price:             line.Price,
			DiscountIndicator: line.DiscountIndicator,
			MatchStatus:       models.MatchStatusUnmatched,
		})
	}
	for i, line := range r.Discounts {
		discount := models.Discount{
			ReceiptKey:    r.Filename,
			Position:      i,
			Label:         line.Label,
			PriceDecrease: line.Decrease,
		}
		for j, label := range line.Items {
			discount.References = append(discount.References, models.DiscountReference{Position: j, Label: label})
		}
		receipt.Discounts = append(receipt.Discounts, discount)
	}
	return receipt
}

func receiptFromModel(m *models.Receipt) *records.ReceiptRecord {
	r := &records.ReceiptRecord{
		Filename: m.Filename,
		Updated:  m.Updated,
		Date:     m.Date,
		Time:     utils.StringValue(m.Time),
		Shop:     m.Shop,
	}
	for _, item := range m.Products {
		r.Products = append(r.Products, records.ProductLine{
			Quantity:          item.Quantity,
			Label:             item.Label,
			Price:             item.Price,
			DiscountIndicator: item.DiscountIndicator,
		})
	}
	for _, discount := range m.Discounts {
		line := records.DiscountLine{Label: discount.Label, Decrease: discount.PriceDecrease}
		for _, ref := range discount.References {
			line.Items = append(line.Items, ref.Label)
		}
		r.Discounts = append(r.Discounts, line)
	}
	return r
}

// productToModel converts a generic entry and its range entries. Generic entries take the
// inventory category and type when they have none of their own.
func productToModel(inv *records.InventoryRecord, p records.ProductRecord, position int) models.Product {
	product := productFields(inv.Shop, p, position)
	if product.Category == nil && inv.Category != "" {
		product.Category = utils.NewString(inv.Category)
	}
	if product.Type == nil && inv.Type != "" {
		product.Type = utils.NewString(inv.Type)
	}
	for i, child := range p.Range {
		product.Range = append(product.Range, productFields(inv.Shop, child, i))
	}
	return product
}

func productFields(shop string, p records.ProductRecord, position int) models.Product {
	product := models.Product{
		Shop:        shop,
		Position:    position,
		Brand:       p.Brand,
		Description: p.Description,
		Category:    p.Category,
		Type:        p.Type,
		Portions:    p.Portions,
		Weight:      p.Weight,
		Volume:      p.Volume,
		Alcohol:     p.Alcohol,
		Sku:         p.Sku,
		Gtin:        p.Gtin,
	}
	product.SetMatchers(p.Matchers())
	return product
}

// productFromModel is the inverse of productToModel for an inventory narrowed to category and type.
func productFromModel(m *models.Product, category string, typ string) records.ProductRecord {
	p := dropGrouping(productRecordFields(m), category, typ)
	if len(m.Range) > 0 {
		p.Range = make([]records.ProductRecord, 0, len(m.Range))
		for i := range m.Range {
			p.Range = append(p.Range, dropGrouping(productRecordFields(&m.Range[i]), category, typ))
		}
	}
	return p
}

func dropGrouping(p records.ProductRecord, category string, typ string) records.ProductRecord {
	if p.Category != nil && category != "" && *p.Category == category {
		p.Category = nil
	}
	if p.Type != nil && typ != "" && *p.Type == typ {
		p.Type = nil
	}
	return p
}

func productRecordFields(m *models.Product) records.ProductRecord {
	p := records.ProductRecord{
		Brand:       m.Brand,
		Description: m.Description,
		Category:    m.Category,
		Type:        m.Type,
		Portions:    m.Portions,
		Weight:      m.Weight,
		Volume:      m.Volume,
		Alcohol:     m.Alcohol,
		Sku:         m.Sku,
		Gtin:        m.Gtin,
	}
	matchers := m.Matchers()
	switch matchers.LabelsState {
	case matcher.Explicit:
		p.Labels = matchers.Labels
	case matcher.Emptied:
		p.Labels = []string{}
	}
	switch matchers.PricesState {
	case matcher.Explicit:
		prices := matchers.Prices
		p.Prices = &prices
	case matcher.Emptied:
		p.Prices = &matcher.PriceMatcher{}
	}
	switch matchers.BonusesState {
	case matcher.Explicit:
		p.Bonuses = matchers.Bonuses
	case matcher.Emptied:
		p.Bonuses = []string{}
	}
	return p
}

// identityKeys assigns the reconcile identity of each entry: GTIN, else SKU, else the matcher
// signature. Repeated keys get an occurrence suffix in order; entries without any get their position.
func identityKeys(products []records.ProductRecord) []string {
	keys := make([]string, len(products))
	seen := map[string]int{}
	for i, p := range products {
		var key string
		switch {
		case p.Gtin != nil:
			key = "gtin:" + strconv.FormatInt(*p.Gtin, 10)
		case p.Sku != nil:
			key = "sku:" + *p.Sku
		default:
			if signature := p.Matchers().Signature(); signature != "" {
				key = "match:" + signature
			} else {
				key = "position:" + strconv.Itoa(i)
			}
		}
		if n := seen[key]; n > 0 {
			keys[i] = fmt.Sprintf("%s#%d", key, n)
		} else {
			keys[i] = key
		}
		seen[key]++
	}
	return keys
}
