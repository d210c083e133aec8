package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lhelwerd/rechu/config"
	"github.com/lhelwerd/rechu/matcher"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileReceipts creates or updates each receipt in its own scope. Stored receipts that are
// missing from the input are left alone. Records without a filename get a derived one.
func (r *Reconciler) ReconcileReceipts(ctx context.Context, incoming []*records.ReceiptRecord) (*Result, error) {
	total := NewResult()
	seen := map[string]bool{}
	for _, rec := range incoming {
		if rec.Filename == "" {
			name, err := r.deriveFilename(ctx, rec, seen)
			if err != nil {
				return total, err
			}
			rec.Filename = name
		}
		if seen[rec.Filename] {
			total.Errors = append(total.Errors, &models.UniquenessError{
				Entity: "receipt", Field: "filename", Value: rec.Filename, Conflicts: []string{rec.Filename},
			})
			continue
		}
		seen[rec.Filename] = true

		res, err := r.pass(ctx, models.ReconcileScopeReceipts, rec.Filename, ReceiptLockKey(rec.Filename), func(ctx context.Context, tx *gorm.DB, res *Result) error {
			return r.reconcileReceipt(ctx, tx, rec, res)
		})
		total.Add(res)
		if err != nil && ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	return total, total.Err()
}

// deriveFilename picks the first free sequence for the receipt's date and shop.
func (r *Reconciler) deriveFilename(ctx context.Context, rec *records.ReceiptRecord, taken map[string]bool) (string, error) {
	for sequence := 0; ; sequence++ {
		name := records.ReceiptFilename(rec.Date, rec.Time, rec.Shop, sequence)
		if taken[name] {
			continue
		}
		count, err := utils.ResourceCountWhere[models.Receipt](ctx, r.db, "filename = ?", name)
		if err != nil {
			return "", err
		}
		if count == 0 {
			return name, nil
		}
	}
}

func (r *Reconciler) reconcileReceipt(ctx context.Context, tx *gorm.DB, rec *records.ReceiptRecord, res *Result) error {
	if err := records.ValidateReceipt(rec); err != nil {
		return err
	}
	stamped := !rec.Updated.IsZero()
	if !stamped {
		rec.Updated = time.Now().UTC().Truncate(time.Second)
	}
	if created, err := models.EnsureShop(ctx, tx, rec.Shop); err != nil {
		return err
	} else if created {
		res.Stats["shops_created"]++
	}

	existing, err := models.FetchReceipt(ctx, tx, rec.Filename)
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		existing = nil
	case err != nil:
		return fmt.Errorf("loading receipt %s: %w", rec.Filename, err)
	}
	if existing != nil && records.ReceiptsEqual(receiptFromModel(existing), rec) {
		// an unchanged file still moves the stamp so it is not read again
		if stamped && rec.Updated.After(existing.Updated) {
			if err := tx.WithContext(ctx).Model(&models.Receipt{}).Where("filename = ?", rec.Filename).
				Update("updated", rec.Updated).Error; err != nil {
				return err
			}
			res.Stats["receipts_touched"]++
		}
		return nil
	}

	receipt := receiptToModel(rec)
	db := tx.WithContext(ctx)
	if existing == nil {
		if err := db.Omit(clause.Associations).Create(&receipt).Error; err != nil {
			return models.MapDuplicateKey(err, "receipt", "filename", rec.Filename)
		}
		res.Created++
	} else {
		if err := models.DeleteReceiptChildren(ctx, tx, rec.Filename); err != nil {
			return err
		}
		if err := db.Model(&models.Receipt{}).Where("filename = ?", rec.Filename).
			Updates(map[string]interface{}{"updated": receipt.Updated, "date": receipt.Date, "time": receipt.Time, "shop": receipt.Shop}).Error; err != nil {
			return err
		}
		res.Updated++
	}

	if err := r.insertReceiptChildren(ctx, tx, &receipt); err != nil {
		return err
	}
	r.logTotals(&receipt)

	candidates, err := models.ShopCandidates(ctx, tx, receipt.Shop)
	if err != nil {
		return fmt.Errorf("loading candidates of shop %s: %w", receipt.Shop, err)
	}
	return r.resolveReceipt(ctx, tx, &receipt, candidates, false, res)
}

// insertReceiptChildren stores items, then discounts with their references linked to flagged items.
func (r *Reconciler) insertReceiptChildren(ctx context.Context, tx *gorm.DB, receipt *models.Receipt) error {
	db := tx.WithContext(ctx)
	if len(receipt.Products) > 0 {
		if err := db.Create(&receipt.Products).Error; err != nil {
			return err
		}
	}

	items := make([]matcher.DiscountItem, len(receipt.Products))
	for i, item := range receipt.Products {
		items[i] = matcher.DiscountItem{Label: item.Label, Flagged: item.DiscountIndicator != nil && *item.DiscountIndicator != ""}
	}
	for i := range receipt.Discounts {
		discount := &receipt.Discounts[i]
		if err := db.Omit(clause.Associations).Create(discount).Error; err != nil {
			return err
		}
		labels := make([]string, len(discount.References))
		for j, ref := range discount.References {
			labels[j] = ref.Label
		}
		for j, position := range matcher.LinkDiscountItems(items, labels) {
			ref := &discount.References[j]
			ref.DiscountId = discount.ID
			if position < 0 {
				config.LogWarning(r.logger, moduleName, "insertReceiptChildren", "unresolved discount reference", logrus.Fields{
					"receipt": receipt.Filename, "discount": discount.Label, "label": ref.Label,
				}, "discount reference has no flagged item")
				continue
			}
			id := receipt.Products[position].ID
			ref.ProductItemId = &id
		}
		if len(discount.References) > 0 {
			if err := db.Create(&discount.References).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) logTotals(receipt *models.Receipt) {
	total, discounts := decimal.Zero, decimal.Zero
	for _, item := range receipt.Products {
		total = total.Add(item.Price)
	}
	for _, discount := range receipt.Discounts {
		discounts = discounts.Add(discount.PriceDecrease)
	}
	r.logger.WithFields(logrus.Fields{
		"module":    moduleName,
		"receipt":   receipt.Filename,
		"items":     len(receipt.Products),
		"total":     total.StringFixed(2),
		"discounts": discounts.StringFixed(2),
		"paid":      total.Add(discounts).StringFixed(2),
	}).Info("receipt stored")
}

// DeleteReceipt removes a stored receipt with everything it owns.
func (r *Reconciler) DeleteReceipt(ctx context.Context, filename string) (*Result, error) {
	return r.pass(ctx, models.ReconcileScopeDelete, filename, ReceiptLockKey(filename), func(ctx context.Context, tx *gorm.DB, res *Result) error {
		count, err := utils.ResourceCountWhere[models.Receipt](ctx, tx, "filename = ?", filename)
		if err != nil {
			return err
		}
		if count == 0 {
			return utils.ErrorRecordNotFound
		}
		if err := models.DeleteReceiptCascade(ctx, tx, filename); err != nil {
			return err
		}
		res.Deleted++
		return nil
	})
}

// ExportReceipt reads a stored receipt back into its file form.
func (r *Reconciler) ExportReceipt(ctx context.Context, filename string) (*records.ReceiptRecord, error) {
	receipt, err := models.FetchReceipt(ctx, r.db, filename)
	if err != nil {
		return nil, err
	}
	return receiptFromModel(receipt), nil
}

// ReceiptFilenames lists stored receipts, optionally only those updated after since.
func (r *Reconciler) ReceiptFilenames(ctx context.Context, since *time.Time) ([]string, error) {
	var filenames []string
	query := r.db.WithContext(ctx).Model(&models.Receipt{}).Order("filename")
	if since != nil {
		query = query.Where("updated > ?", *since)
	}
	err := query.Pluck("filename", &filenames).Error
	return filenames, err
}

// ReceiptUpdates maps stored filenames to their update stamps.
func (r *Reconciler) ReceiptUpdates(ctx context.Context) (map[string]time.Time, error) {
	var rows []models.Receipt
	if err := r.db.WithContext(ctx).Select("filename", "updated").Find(&rows).Error; err != nil {
		return nil, err
	}
	updates := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		updates[row.Filename] = row.Updated
	}
	return updates, nil
}
