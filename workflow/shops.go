package workflow

import (
	"context"
	"errors"

	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
	"gorm.io/gorm"
)

// ShopsLockKey guards the shops table.
const ShopsLockKey = "shops"

// ReconcileShops creates and updates shops from the shops file. Shops missing from the file are kept,
// since receipts and inventories refer to them.
func (r *Reconciler) ReconcileShops(ctx context.Context, path string, shops []records.ShopRecord) (*Result, error) {
	return r.pass(ctx, models.ReconcileScopeShops, path, ShopsLockKey, func(ctx context.Context, tx *gorm.DB, res *Result) error {
		if err := records.ValidateShops(path, shops); err != nil {
			return err
		}
		for _, record := range shops {
			shop, err := shopToModel(record)
			if err != nil {
				return err
			}
			var existing models.Shop
			err = tx.WithContext(ctx).Where("`key` = ?", record.Key).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
					return models.MapDuplicateKey(err, "shop", "key", record.Key)
				}
				res.Created++
			case err != nil:
				return err
			default:
				current, err := shopFromModel(&existing)
				if err != nil {
					return err
				}
				if shopsEqual(current, record) {
					continue
				}
				err = tx.WithContext(ctx).Model(&models.Shop{}).Where("`key` = ?", record.Key).Updates(map[string]interface{}{
					"name":                shop.Name,
					"website":             shop.Website,
					"wikidata":            shop.Wikidata,
					"products_url":        shop.ProductsURL,
					"discount_indicators": shop.DiscountIndicators,
				}).Error
				if err != nil {
					return err
				}
				res.Updated++
			}
		}
		return nil
	})
}

// ExportShops reads the stored shops back into the shops file form, ordered by key.
func (r *Reconciler) ExportShops(ctx context.Context) ([]records.ShopRecord, error) {
	var shops []models.Shop
	if err := r.db.WithContext(ctx).Order("`key`").Find(&shops).Error; err != nil {
		return nil, err
	}
	out := make([]records.ShopRecord, 0, len(shops))
	for i := range shops {
		record, err := shopFromModel(&shops[i])
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func shopToModel(record records.ShopRecord) (models.Shop, error) {
	shop := models.Shop{Key: record.Key}
	if record.Name != "" {
		shop.Name = utils.NewString(record.Name)
	}
	if record.Website != "" {
		shop.Website = utils.NewString(record.Website)
	}
	if record.Wikidata != "" {
		shop.Wikidata = utils.NewString(record.Wikidata)
	}
	if record.Products != "" {
		shop.ProductsURL = utils.NewString(record.Products)
	}
	err := shop.SetDiscountIndicators(record.DiscountIndicators)
	return shop, err
}

func shopFromModel(shop *models.Shop) (records.ShopRecord, error) {
	indicators, err := shop.GetDiscountIndicators()
	if err != nil {
		return records.ShopRecord{}, err
	}
	return records.ShopRecord{
		Key:                shop.Key,
		Name:               utils.StringValue(shop.Name),
		Website:            utils.StringValue(shop.Website),
		Wikidata:           utils.StringValue(shop.Wikidata),
		Products:           utils.StringValue(shop.ProductsURL),
		DiscountIndicators: indicators,
	}, nil
}

func shopsEqual(a records.ShopRecord, b records.ShopRecord) bool {
	if a.Key != b.Key || a.Name != b.Name || a.Website != b.Website || a.Wikidata != b.Wikidata || a.Products != b.Products {
		return false
	}
	if len(a.DiscountIndicators) != len(b.DiscountIndicators) {
		return false
	}
	for i := range a.DiscountIndicators {
		if a.DiscountIndicators[i] != b.DiscountIndicators[i] {
			return false
		}
	}
	return true
}
