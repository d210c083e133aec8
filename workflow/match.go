package workflow

import (
	"context"

	"github.com/lhelwerd/rechu/config"
	"github.com/lhelwerd/rechu/matcher"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MatchOptions narrows a rematch pass.
type MatchOptions struct {
	// Shop limits the pass to receipts of one shop; empty means all shops.
	Shop string
	// Update also re-resolves items that already have a link.
	Update bool
}

// Rematch resolves receipt items against the current inventory.
func (r *Reconciler) Rematch(ctx context.Context, opts MatchOptions) (*Result, error) {
	target := opts.Shop
	if target == "" {
		target = "*"
	}
	return r.pass(ctx, models.ReconcileScopeMatch, target, InventoryLockKey, func(ctx context.Context, tx *gorm.DB, res *Result) error {
		shops := []string{opts.Shop}
		if opts.Shop == "" {
			shops = nil
			if err := tx.WithContext(ctx).Model(&models.Receipt{}).Distinct("shop").Order("shop").Pluck("shop", &shops).Error; err != nil {
				return err
			}
		}
		for _, shop := range shops {
			if err := r.resolveShop(ctx, tx, shop, !opts.Update, res); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveShop re-resolves the items of every receipt of the shop.
func (r *Reconciler) resolveShop(ctx context.Context, tx *gorm.DB, shop string, onlyUnmatched bool, res *Result) error {
	candidates, err := models.ShopCandidates(ctx, tx, shop)
	if err != nil {
		return err
	}
	var filenames []string
	if err := tx.WithContext(ctx).Model(&models.Receipt{}).Where("shop = ?", shop).Order("filename").Pluck("filename", &filenames).Error; err != nil {
		return err
	}
	for _, filename := range filenames {
		receipt, err := models.FetchReceipt(ctx, tx, filename)
		if err != nil {
			return err
		}
		if err := r.resolveReceipt(ctx, tx, receipt, candidates, onlyUnmatched, res); err != nil {
			return err
		}
	}
	return nil
}

// resolveReceipt resolves the items of a loaded receipt and stores changed links.
func (r *Reconciler) resolveReceipt(ctx context.Context, tx *gorm.DB, receipt *models.Receipt, candidates []matcher.Candidate, onlyUnmatched bool, res *Result) error {
	discounts := itemDiscounts(receipt)
	for i := range receipt.Products {
		item := &receipt.Products[i]
		if onlyUnmatched && item.ProductId != nil {
			continue
		}

		status, productId := models.MatchStatusUnmatched, (*int)(nil)
		occ, err := itemOccurrence(receipt, item, discounts[item.ID])
		if err != nil {
			config.LogWarning(r.logger, moduleName, "resolveReceipt", "normalizing item", logrus.Fields{
				"receipt": receipt.Filename, "position": item.Position, "quantity": item.Quantity,
			}, err.Error())
		} else {
			resolution := matcher.Resolve(occ, candidates)
			switch resolution.Outcome {
			case matcher.Matched:
				id := resolution.ID
				status, productId = models.MatchStatusMatched, &id
			case matcher.Ambiguous:
				status = models.MatchStatusAmbiguous
				r.logger.WithFields(logrus.Fields{
					"module":     moduleName,
					"receipt":    receipt.Filename,
					"label":      item.Label,
					"contenders": resolution.Contenders,
				}).Debug(resolution.Err().Error())
			}
		}
		res.Stats["items_"+status]++

		if item.MatchStatus == status && intPtrEqual(item.ProductId, productId) {
			continue
		}
		err = tx.WithContext(ctx).Model(&models.ProductItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{"product_id": productId, "match_status": status}).Error
		if err != nil {
			return err
		}
		item.ProductId, item.MatchStatus = productId, status
		res.Stats["items_relinked"]++
	}
	return nil
}

func itemOccurrence(receipt *models.Receipt, item *models.ProductItem, discounts []string) (matcher.Occurrence, error) {
	line := records.ProductLine{Quantity: item.Quantity, Label: item.Label, Price: item.Price}
	occ, err := line.Occurrence(receipt.Date)
	if err != nil {
		return matcher.Occurrence{}, err
	}
	occ.Discounts = discounts
	return occ, nil
}

// itemDiscounts maps item ids to the labels of the discounts that link to them.
func itemDiscounts(receipt *models.Receipt) map[int][]string {
	out := map[int][]string{}
	for _, discount := range receipt.Discounts {
		for _, ref := range discount.References {
			if ref.ProductItemId != nil {
				out[*ref.ProductItemId] = append(out[*ref.ProductItemId], discount.Label)
			}
		}
	}
	return out
}

func intPtrEqual(a *int, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
