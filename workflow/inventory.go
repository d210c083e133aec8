package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconcileInventory makes the stored entries of the inventory scope equal to the record.
// Entries are paired by identity; stored entries without a counterpart are deleted and the
// receipt items of the shop are resolved again afterwards.
func (r *Reconciler) ReconcileInventory(ctx context.Context, inv *records.InventoryRecord) (*Result, error) {
	return r.pass(ctx, models.ReconcileScopeInventory, inventoryTarget(inv.Shop, inv.Category, inv.Type), InventoryLockKey, func(ctx context.Context, tx *gorm.DB, res *Result) error {
		return r.reconcileInventory(ctx, tx, inv, res)
	})
}

func inventoryTarget(shop string, category string, typ string) string {
	target := shop
	if category != "" {
		target += "/" + category
	}
	if typ != "" {
		target += "/" + typ
	}
	return target
}

// inventoryScope filters the generic entries of one inventory. When inventories are split by a
// field, an inventory without a value for it only covers the entries without one.
func (r *Reconciler) inventoryScope(category string, typ string) []func(*gorm.DB) *gorm.DB {
	return []func(*gorm.DB) *gorm.DB{
		scopeField("category", category, r.byCategory),
		scopeField("type", typ, r.byType),
	}
}

func scopeField(column string, value string, split bool) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case value != "":
			return db.Where(clause.Eq{Column: clause.Column{Name: column}, Value: value})
		case split:
			return db.Where(clause.Eq{Column: clause.Column{Name: column}, Value: nil})
		default:
			return db
		}
	}
}

func (r *Reconciler) reconcileInventory(ctx context.Context, tx *gorm.DB, inv *records.InventoryRecord, res *Result) error {
	if err := records.ValidateInventory(inv); err != nil {
		return err
	}
	if created, err := models.EnsureShop(ctx, tx, inv.Shop); err != nil {
		return err
	} else if created {
		res.Stats["shops_created"]++
	}

	stored, err := models.FetchShopProducts(ctx, tx, inv.Shop, r.inventoryScope(inv.Category, inv.Type)...)
	if err != nil {
		return fmt.Errorf("loading inventory %s: %w", inventoryTarget(inv.Shop, inv.Category, inv.Type), err)
	}
	var scopeIds []int
	storedRecords := make([]records.ProductRecord, len(stored))
	for i := range stored {
		scopeIds = append(scopeIds, stored[i].ID)
		for _, child := range stored[i].Range {
			scopeIds = append(scopeIds, child.ID)
		}
		storedRecords[i] = productFromModel(&stored[i], inv.Category, inv.Type)
	}
	if err := checkIdentifiers(ctx, tx, inv, scopeIds); err != nil {
		return err
	}

	incomingKeys := identityKeys(inv.Products)
	storedKeys := identityKeys(storedRecords)
	byKey := make(map[string]int, len(stored))
	for i, key := range storedKeys {
		byKey[key] = i
	}
	wanted := make(map[string]bool, len(incomingKeys))
	for _, key := range incomingKeys {
		wanted[key] = true
	}

	var stale []int
	for i, key := range storedKeys {
		if !wanted[key] {
			stale = append(stale, stored[i].ID)
		}
	}
	if err := models.DeleteProductsCascade(ctx, tx, stale); err != nil {
		return err
	}
	res.Deleted += len(stale)

	type update struct {
		existing *models.Product
		record   records.ProductRecord
		position int
	}
	var updates []update
	var creates []int
	for i, key := range incomingKeys {
		j, ok := byKey[key]
		if !ok {
			creates = append(creates, i)
			continue
		}
		if stored[j].Position != i || !records.ProductsEqual(storedRecords[j], dropGrouping(inv.Products[i], inv.Category, inv.Type)) {
			updates = append(updates, update{existing: &stored[j], record: inv.Products[i], position: i})
		}
	}

	// identifiers may move between entries of the same pass
	if len(updates) > 0 {
		ids := make([]int, len(updates))
		for i, u := range updates {
			ids[i] = u.existing.ID
		}
		if err := tx.WithContext(ctx).Model(&models.Product{}).Where("id IN ? OR generic_id IN ?", ids, ids).
			Updates(map[string]interface{}{"gtin": nil, "sku": nil}).Error; err != nil {
			return err
		}
	}
	for _, u := range updates {
		product := productToModel(inv, u.record, u.position)
		if err := r.updateProduct(ctx, tx, u.existing, &product, res); err != nil {
			return err
		}
		res.Updated++
	}
	for _, i := range creates {
		product := productToModel(inv, inv.Products[i], i)
		if err := createProduct(ctx, tx, &product, nil); err != nil {
			return err
		}
		res.Created++
	}

	if len(stale) == 0 && len(updates) == 0 && len(creates) == 0 {
		return nil
	}
	return r.resolveShop(ctx, tx, inv.Shop, false, res)
}

// updateProduct overwrites the fields and matchers of a stored entry and pairs up its range entries.
func (r *Reconciler) updateProduct(ctx context.Context, tx *gorm.DB, existing *models.Product, product *models.Product, res *Result) error {
	if err := saveProductFields(ctx, tx, existing.ID, product); err != nil {
		return err
	}

	storedChildren := make([]records.ProductRecord, len(existing.Range))
	for i := range existing.Range {
		storedChildren[i] = productRecordFields(&existing.Range[i])
	}
	incomingChildren := make([]records.ProductRecord, len(product.Range))
	for i := range product.Range {
		incomingChildren[i] = productRecordFields(&product.Range[i])
	}
	storedKeys := identityKeys(storedChildren)
	byKey := make(map[string]int, len(storedKeys))
	for i, key := range storedKeys {
		byKey[key] = i
	}

	matched := map[int]bool{}
	for i, key := range identityKeys(incomingChildren) {
		child := &product.Range[i]
		j, ok := byKey[key]
		if !ok {
			if err := createProduct(ctx, tx, child, &existing.ID); err != nil {
				return err
			}
			res.Stats["range_created"]++
			continue
		}
		matched[j] = true
		if existing.Range[j].Position == i && records.ProductsEqual(storedChildren[j], incomingChildren[i]) {
			// identifiers were cleared before the update
			if err := restoreIdentifiers(ctx, tx, existing.Range[j].ID, child); err != nil {
				return err
			}
			continue
		}
		if err := saveProductFields(ctx, tx, existing.Range[j].ID, child); err != nil {
			return err
		}
		res.Stats["range_updated"]++
	}

	var stale []int
	for j := range existing.Range {
		if !matched[j] {
			stale = append(stale, existing.Range[j].ID)
		}
	}
	if err := models.DeleteProductsCascade(ctx, tx, stale); err != nil {
		return err
	}
	res.Stats["range_deleted"] += len(stale)
	return nil
}

// saveProductFields writes every column of product to the row id and replaces its matcher rows.
func saveProductFields(ctx context.Context, tx *gorm.DB, id int, product *models.Product) error {
	err := tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Updates(map[string]interface{}{
		"position":      product.Position,
		"labels_state":  product.LabelsState,
		"prices_state":  product.PricesState,
		"bonuses_state": product.BonusesState,
		"brand":         product.Brand,
		"description":   product.Description,
		"category":      product.Category,
		"type":          product.Type,
		"portions":      product.Portions,
		"weight":        product.Weight,
		"volume":        product.Volume,
		"alcohol":       product.Alcohol,
		"sku":           product.Sku,
		"gtin":          product.Gtin,
	}).Error
	if err != nil {
		return duplicateIdentifier(err, product)
	}
	if err := models.DeleteMatchers(ctx, tx, []int{id}); err != nil {
		return err
	}
	product.ID = id
	return insertMatchers(ctx, tx, product)
}

func restoreIdentifiers(ctx context.Context, tx *gorm.DB, id int, product *models.Product) error {
	if product.Sku == nil && product.Gtin == nil {
		return nil
	}
	err := tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).
		Updates(map[string]interface{}{"sku": product.Sku, "gtin": product.Gtin}).Error
	return duplicateIdentifier(err, product)
}

// createProduct inserts an entry, its matcher rows and its range entries.
func createProduct(ctx context.Context, tx *gorm.DB, product *models.Product, genericId *int) error {
	product.GenericId = genericId
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(product).Error; err != nil {
		return duplicateIdentifier(err, product)
	}
	if err := insertMatchers(ctx, tx, product); err != nil {
		return err
	}
	for i := range product.Range {
		if err := createProduct(ctx, tx, &product.Range[i], &product.ID); err != nil {
			return err
		}
	}
	return nil
}

func insertMatchers(ctx context.Context, tx *gorm.DB, product *models.Product) error {
	db := tx.WithContext(ctx)
	for i := range product.Labels {
		product.Labels[i].ProductId = product.ID
	}
	for i := range product.Prices {
		product.Prices[i].ProductId = product.ID
	}
	for i := range product.Bonuses {
		product.Bonuses[i].ProductId = product.ID
	}
	if len(product.Labels) > 0 {
		if err := db.Create(&product.Labels).Error; err != nil {
			return err
		}
	}
	if len(product.Prices) > 0 {
		if err := db.Create(&product.Prices).Error; err != nil {
			return err
		}
	}
	if len(product.Bonuses) > 0 {
		if err := db.Create(&product.Bonuses).Error; err != nil {
			return err
		}
	}
	return nil
}

func duplicateIdentifier(err error, product *models.Product) error {
	switch {
	case err == nil:
		return nil
	case product.Gtin != nil:
		return models.MapDuplicateKey(err, "product", "gtin", strconv.FormatInt(*product.Gtin, 10))
	case product.Sku != nil:
		return models.MapDuplicateKey(err, "product", "sku", *product.Sku)
	}
	return err
}

// checkIdentifiers rejects GTINs and SKUs that occur twice in the record or that belong to stored
// entries outside the inventory scope.
func checkIdentifiers(ctx context.Context, tx *gorm.DB, inv *records.InventoryRecord, scopeIds []int) error {
	gtins := map[int64]string{}
	skus := map[string]string{}
	var walk func(products []records.ProductRecord, prefix string) error
	walk = func(products []records.ProductRecord, prefix string) error {
		for i, p := range products {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			if p.Gtin != nil {
				value := strconv.FormatInt(*p.Gtin, 10)
				if other, ok := gtins[*p.Gtin]; ok {
					return &models.UniquenessError{Entity: "product", Field: "gtin", Value: value, Conflicts: []string{other, field}}
				}
				gtins[*p.Gtin] = field
			}
			if p.Sku != nil {
				if other, ok := skus[*p.Sku]; ok {
					return &models.UniquenessError{Entity: "product", Field: "sku", Value: *p.Sku, Conflicts: []string{other, field}}
				}
				skus[*p.Sku] = field
			}
			if err := walk(p.Range, field+".range"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(inv.Products, "products"); err != nil {
		return err
	}

	for _, gtin := range sortedInt64Keys(gtins) {
		ids, err := utils.ValidateUniqueWhere[models.Product](ctx, tx, utils.Filter{}, "gtin", gtin, scopeIds...)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return &models.UniquenessError{Entity: "product", Field: "gtin", Value: strconv.FormatInt(gtin, 10), Conflicts: storedConflicts(gtins[gtin], ids)}
		}
	}
	for _, sku := range utils.SortedKeys(skus) {
		filter := utils.Filter{Cond: "shop = ?", Values: []interface{}{inv.Shop}}
		ids, err := utils.ValidateUniqueWhere[models.Product](ctx, tx, filter, "sku", sku, scopeIds...)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return &models.UniquenessError{Entity: "product", Field: "sku", Value: sku, Conflicts: storedConflicts(skus[sku], ids)}
		}
	}
	return nil
}

func storedConflicts(field string, ids []int) []string {
	conflicts := []string{field}
	for _, id := range ids {
		conflicts = append(conflicts, "product#"+strconv.Itoa(id))
	}
	return conflicts
}

func sortedInt64Keys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ExportInventory reads the stored entries of one inventory scope back into its file form.
func (r *Reconciler) ExportInventory(ctx context.Context, shop string, category string, typ string) (*records.InventoryRecord, error) {
	products, err := models.FetchShopProducts(ctx, r.db, shop, r.inventoryScope(category, typ)...)
	if err != nil {
		return nil, err
	}
	inv := &records.InventoryRecord{Shop: shop, Category: category, Type: typ}
	for i := range products {
		inv.Products = append(inv.Products, productFromModel(&products[i], category, typ))
	}
	return inv, nil
}

// InventoryScopes lists the stored inventory scopes. Category and type only split the scopes
// when inventories are split by them.
func (r *Reconciler) InventoryScopes(ctx context.Context) ([][3]string, error) {
	var rows []models.Product
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("generic_id IS NULL").
		Select("shop", "category", "type").
		Order("shop, category, type").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := map[[3]string]bool{}
	var scopes [][3]string
	for _, row := range rows {
		scope := [3]string{row.Shop, "", ""}
		if r.byCategory {
			scope[1] = utils.StringValue(row.Category)
		}
		if r.byType {
			scope[2] = utils.StringValue(row.Type)
		}
		if !seen[scope] {
			seen[scope] = true
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}
