package models

import (
	"context"
	"sort"
	"strconv"

	"github.com/lhelwerd/rechu/matcher"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Price match indicators for the range form; year and unit forms store the year or unit tag.
const (
	PriceIndicatorMinimum = "minimum"
	PriceIndicatorMaximum = "maximum"
)

// Product is a metadata entry. Generic entries have no GenericId; range entries point at their
// generic entry and store only the fields they override.
type Product struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Shop      string    `gorm:"size:32;not null;index;uniqueIndex:idx_product_shop_sku,priority:1" json:"shop"`
	GenericId *int      `gorm:"index" json:"generic_id"`
	Range     []Product `gorm:"foreignKey:GenericId" json:"range"`
	Position  int       `gorm:"not null;default:0" json:"position"`

	LabelsState  string          `gorm:"size:10;not null;default:unset" json:"labels_state"`
	Labels       []LabelMatch    `gorm:"foreignKey:ProductId" json:"labels"`
	PricesState  string          `gorm:"size:10;not null;default:unset" json:"prices_state"`
	Prices       []PriceMatch    `gorm:"foreignKey:ProductId" json:"prices"`
	BonusesState string          `gorm:"size:10;not null;default:unset" json:"bonuses_state"`
	Bonuses      []DiscountMatch `gorm:"foreignKey:ProductId" json:"bonuses"`

	Brand       *string `gorm:"size:100" json:"brand"`
	Description *string `gorm:"type:text" json:"description"`
	Category    *string `gorm:"size:100;index" json:"category"`
	Type        *string `gorm:"size:100;index" json:"type"`
	Portions    *int    `json:"portions"`
	Weight      *string `gorm:"size:32" json:"weight"`
	Volume      *string `gorm:"size:32" json:"volume"`
	Alcohol     *string `gorm:"size:32" json:"alcohol"`
	Sku         *string `gorm:"size:32;uniqueIndex:idx_product_shop_sku,priority:2" json:"sku"`
	Gtin        *int64  `gorm:"uniqueIndex" json:"gtin"`
}

type LabelMatch struct {
	ID        int    `gorm:"primary_key" json:"id"`
	ProductId int    `gorm:"not null;index" json:"product_id"`
	Position  int    `gorm:"not null" json:"position"`
	Name      string `gorm:"size:255;not null;index" json:"name"`
}

type PriceMatch struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ProductId int             `gorm:"not null;index" json:"product_id"`
	Position  int             `gorm:"not null" json:"position"`
	Indicator *string         `gorm:"size:10" json:"indicator"`
	Value     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"value"`
}

type DiscountMatch struct {
	ID        int    `gorm:"primary_key" json:"id"`
	ProductId int    `gorm:"not null;index" json:"product_id"`
	Position  int    `gorm:"not null" json:"position"`
	Label     string `gorm:"size:255;not null" json:"label"`
}

func (LabelMatch) TableName() string    { return "product_label_matches" }
func (PriceMatch) TableName() string    { return "product_price_matches" }
func (DiscountMatch) TableName() string { return "product_discount_matches" }

// Matchers rebuilds the matcher categories from the stored rows.
func (p *Product) Matchers() matcher.Matchers {
	m := matcher.Matchers{
		LabelsState:  matcher.ParseState(p.LabelsState),
		PricesState:  matcher.ParseState(p.PricesState),
		BonusesState: matcher.ParseState(p.BonusesState),
	}
	for _, label := range sortedByPosition(p.Labels, func(l LabelMatch) int { return l.Position }) {
		m.Labels = append(m.Labels, label.Name)
	}
	for _, bonus := range sortedByPosition(p.Bonuses, func(b DiscountMatch) int { return b.Position }) {
		m.Bonuses = append(m.Bonuses, bonus.Label)
	}
	for _, price := range sortedByPosition(p.Prices, func(pm PriceMatch) int { return pm.Position }) {
		value := price.Value
		switch {
		case price.Indicator == nil:
			m.Prices.Values = append(m.Prices.Values, value)
		case *price.Indicator == PriceIndicatorMinimum:
			m.Prices.Min = &value
		case *price.Indicator == PriceIndicatorMaximum:
			m.Prices.Max = &value
		default:
			if year, err := strconv.Atoi(*price.Indicator); err == nil {
				if m.Prices.Years == nil {
					m.Prices.Years = map[int][]decimal.Decimal{}
				}
				m.Prices.Years[year] = append(m.Prices.Years[year], value)
				continue
			}
			if m.Prices.Units == nil {
				m.Prices.Units = map[string][]decimal.Decimal{}
			}
			m.Prices.Units[*price.Indicator] = append(m.Prices.Units[*price.Indicator], value)
		}
	}
	return m
}

// SetMatchers replaces the matcher rows and states. Rows are not yet saved.
func (p *Product) SetMatchers(m matcher.Matchers) {
	p.LabelsState, p.PricesState, p.BonusesState = m.LabelsState.String(), m.PricesState.String(), m.BonusesState.String()
	p.Labels, p.Prices, p.Bonuses = nil, nil, nil
	for i, name := range m.Labels {
		p.Labels = append(p.Labels, LabelMatch{Position: i, Name: name})
	}
	for i, label := range m.Bonuses {
		p.Bonuses = append(p.Bonuses, DiscountMatch{Position: i, Label: label})
	}

	add := func(indicator *string, value decimal.Decimal) {
		p.Prices = append(p.Prices, PriceMatch{Position: len(p.Prices), Indicator: indicator, Value: value})
	}
	for _, v := range m.Prices.Values {
		add(nil, v)
	}
	if m.Prices.Min != nil {
		indicator := PriceIndicatorMinimum
		add(&indicator, *m.Prices.Min)
	}
	if m.Prices.Max != nil {
		indicator := PriceIndicatorMaximum
		add(&indicator, *m.Prices.Max)
	}
	years := make([]int, 0, len(m.Prices.Years))
	for year := range m.Prices.Years {
		years = append(years, year)
	}
	sort.Ints(years)
	for _, year := range years {
		indicator := strconv.Itoa(year)
		for _, v := range m.Prices.Years[year] {
			add(&indicator, v)
		}
	}
	units := make([]string, 0, len(m.Prices.Units))
	for unit := range m.Prices.Units {
		units = append(units, unit)
	}
	sort.Strings(units)
	for _, unit := range units {
		indicator := unit
		for _, v := range m.Prices.Units[unit] {
			add(&indicator, v)
		}
	}
}

// Candidate flattens a generic entry with its range entries for matching.
func (p *Product) Candidates() []matcher.Candidate {
	generic := matcher.Candidate{ID: p.ID, Matchers: p.Matchers()}
	ranges := make([]matcher.Candidate, 0, len(p.Range))
	for i := range p.Range {
		ranges = append(ranges, matcher.Candidate{ID: p.Range[i].ID, Matchers: p.Range[i].Matchers()})
	}
	return matcher.Flatten(generic, ranges)
}

// FetchShopProducts loads the generic entries of a shop with matchers and range entries.
// Extra conditions narrow the scope, e.g. by category.
func FetchShopProducts(ctx context.Context, tx *gorm.DB, shop string, conds ...func(*gorm.DB) *gorm.DB) ([]Product, error) {
	var products []Product
	query := tx.WithContext(ctx).
		Preload("Labels").Preload("Prices").Preload("Bonuses").
		Preload("Range", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Preload("Range.Labels").Preload("Range.Prices").Preload("Range.Bonuses").
		Where("shop = ? AND generic_id IS NULL", shop)
	for _, cond := range conds {
		query = cond(query)
	}
	if err := query.Order("position, id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ShopCandidates returns every candidate of a shop's inventory.
func ShopCandidates(ctx context.Context, tx *gorm.DB, shop string) ([]matcher.Candidate, error) {
	products, err := FetchShopProducts(ctx, tx, shop)
	if err != nil {
		return nil, err
	}
	var candidates []matcher.Candidate
	for i := range products {
		candidates = append(candidates, products[i].Candidates()...)
	}
	return candidates, nil
}

// DeleteProductsCascade removes the products, their range entries and matcher rows, and unlinks
// receipt items that pointed at any of them.
func DeleteProductsCascade(ctx context.Context, tx *gorm.DB, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	db := tx.WithContext(ctx)
	var rangeIds []int
	if err := db.Model(&Product{}).Where("generic_id IN ?", ids).Pluck("id", &rangeIds).Error; err != nil {
		return err
	}
	all := append(append([]int(nil), ids...), rangeIds...)

	if err := db.Model(&ProductItem{}).Where("product_id IN ?", all).
		Updates(map[string]interface{}{"product_id": nil, "match_status": MatchStatusUnmatched}).Error; err != nil {
		return err
	}
	if err := DeleteMatchers(ctx, tx, all); err != nil {
		return err
	}
	if len(rangeIds) > 0 {
		if err := db.Where("id IN ?", rangeIds).Delete(&Product{}).Error; err != nil {
			return err
		}
	}
	return db.Where("id IN ?", ids).Delete(&Product{}).Error
}

// DeleteMatchers removes the matcher rows of the products.
func DeleteMatchers(ctx context.Context, tx *gorm.DB, ids []int) error {
	db := tx.WithContext(ctx)
	for _, model := range []interface{}{&LabelMatch{}, &PriceMatch{}, &DiscountMatch{}} {
		if err := db.Where("product_id IN ?", ids).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func sortedByPosition[T any](rows []T, position func(T) int) []T {
	out := append([]T(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool { return position(out[i]) < position(out[j]) })
	return out
}
