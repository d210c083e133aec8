package models

import (
	"context"
	"time"

	"github.com/lhelwerd/rechu/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	MatchStatusUnmatched = "unmatched"
	MatchStatusMatched   = "matched"
	MatchStatusAmbiguous = "ambiguous"
)

type Receipt struct {
	Filename  string        `gorm:"primary_key;size:255" json:"filename"`
	Updated   time.Time     `gorm:"not null" json:"updated"`
	Date      time.Time     `gorm:"type:date;not null;index" json:"date"`
	Time      *string       `gorm:"size:5" json:"time"`
	Shop      string        `gorm:"size:32;not null;index" json:"shop"`
	Products  []ProductItem `gorm:"foreignKey:ReceiptKey;references:Filename" json:"products"`
	Discounts []Discount    `gorm:"foreignKey:ReceiptKey;references:Filename" json:"discounts"`
}

type ProductItem struct {
	ID                int             `gorm:"primary_key" json:"id"`
	ReceiptKey        string          `gorm:"size:255;not null;index" json:"receipt_key"`
	Position          int             `gorm:"not null" json:"position"`
	Quantity          string          `gorm:"size:32;not null" json:"quantity"`
	Label             string          `gorm:"size:255;not null;index" json:"label"`
	Price             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	DiscountIndicator *string         `gorm:"size:32" json:"discount_indicator"`
	ProductId         *int            `gorm:"index" json:"product_id"`
	MatchStatus       string          `gorm:"size:10;not null;default:unmatched" json:"match_status"`
}

type Discount struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	ReceiptKey    string              `gorm:"size:255;not null;index" json:"receipt_key"`
	Position      int                 `gorm:"not null" json:"position"`
	Label         string              `gorm:"size:255;not null" json:"label"`
	PriceDecrease decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"price_decrease"`
	References    []DiscountReference `gorm:"foreignKey:DiscountId" json:"references"`
}

// DiscountReference keeps the referenced label even when no flagged item could be linked.
type DiscountReference struct {
	ID            int    `gorm:"primary_key" json:"id"`
	DiscountId    int    `gorm:"not null;index" json:"discount_id"`
	Position      int    `gorm:"not null" json:"position"`
	Label         string `gorm:"size:255;not null" json:"label"`
	ProductItemId *int   `gorm:"index" json:"product_item_id"`
}

// FetchReceipt loads a receipt with its items, discounts and references in file order.
func FetchReceipt(ctx context.Context, tx *gorm.DB, filename string) (*Receipt, error) {
	var receipt Receipt
	err := tx.WithContext(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Discounts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Discounts.References", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("filename = ?", filename).
		Limit(1).
		Find(&receipt).Error
	if err != nil {
		return nil, err
	}
	if receipt.Filename == "" {
		return nil, utils.ErrorRecordNotFound
	}
	return &receipt, nil
}

// DeleteReceiptCascade removes a receipt with its references, discounts and items.
func DeleteReceiptCascade(ctx context.Context, tx *gorm.DB, filename string) error {
	if err := DeleteReceiptChildren(ctx, tx, filename); err != nil {
		return err
	}
	return tx.WithContext(ctx).Where("filename = ?", filename).Delete(&Receipt{}).Error
}

// DeleteReceiptChildren removes everything a receipt owns but keeps the receipt row.
func DeleteReceiptChildren(ctx context.Context, tx *gorm.DB, filename string) error {
	db := tx.WithContext(ctx)
	discountIds := db.Model(&Discount{}).Select("id").Where("receipt_key = ?", filename)
	if err := db.Where("discount_id IN (?)", discountIds).Delete(&DiscountReference{}).Error; err != nil {
		return err
	}
	if err := db.Where("receipt_key = ?", filename).Delete(&Discount{}).Error; err != nil {
		return err
	}
	return db.Where("receipt_key = ?", filename).Delete(&ProductItem{}).Error
}

