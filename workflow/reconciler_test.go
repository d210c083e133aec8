package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lhelwerd/rechu/config"
	"github.com/lhelwerd/rechu/matcher"
	"github.com/lhelwerd/rechu/models"
	"github.com/lhelwerd/rechu/records"
	"github.com/lhelwerd/rechu/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := config.OpenDatabase(config.DriverSQLite, "file:"+name+"?mode=memory&cache=shared&_foreign_keys=1")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewReconciler(db, logger, NewLocalLocker())
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testReceipt(filename string, lines ...records.ProductLine) *records.ReceiptRecord {
	return &records.ReceiptRecord{
		Filename: filename,
		Date:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Shop:     "id",
		Products: lines,
	}
}

func line(quantity string, label string, value string) records.ProductLine {
	return records.ProductLine{Quantity: quantity, Label: label, Price: price(value)}
}

func milkInventory(products ...records.ProductRecord) *records.InventoryRecord {
	return &records.InventoryRecord{Shop: "id", Products: products}
}

func labelled(labels ...string) records.ProductRecord {
	return records.ProductRecord{Labels: labels}
}

func storedItems(t *testing.T, r *Reconciler, filename string) []models.ProductItem {
	t.Helper()
	receipt, err := models.FetchReceipt(context.Background(), r.db, filename)
	if err != nil {
		t.Fatalf("FetchReceipt(%s): %v", filename, err)
	}
	return receipt.Products
}

func TestReconcileReceipts_Idempotent(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"), line("2", "soda", "1.50"))

	res, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 {
		t.Fatalf("expected 1 created, got %+v", res)
	}

	res, err = r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Deleted != 0 {
		t.Fatalf("expected no changes, got %+v", res)
	}

	exported, err := r.ExportReceipt(ctx, rec.Filename)
	if err != nil {
		t.Fatalf("ExportReceipt: %v", err)
	}
	if !records.ReceiptsEqual(exported, rec) {
		t.Fatalf("export differs: %+v vs %+v", exported, rec)
	}
}

func TestReconcileReceipts_UnchangedMovesStamp(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	rec.Updated = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	touched := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)
	rec.Updated = touched
	res, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Stats["receipts_touched"] != 1 {
		t.Fatalf("expected only the stamp to move, got %+v", res)
	}
	updates, err := r.ReceiptUpdates(ctx)
	if err != nil {
		t.Fatalf("ReceiptUpdates: %v", err)
	}
	if !updates[rec.Filename].Equal(touched) {
		t.Fatalf("expected stamp %s, got %s", touched, updates[rec.Filename])
	}

	// an older stamp leaves the stored one alone
	rec.Updated = touched.Add(-2 * time.Hour)
	res, err = r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec})
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if res.Stats["receipts_touched"] != 0 {
		t.Fatalf("older stamp should not be stored, got %+v", res)
	}
}

func TestReconcileReceipts_UpdateReplacesItems(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	changed := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.95"), line("1", "bread", "2.10"))
	res, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{changed})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 updated, got %+v", res)
	}
	items := storedItems(t, r, changed.Filename)
	if len(items) != 2 || !items[0].Price.Equal(price("0.95")) || items[1].Label != "bread" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestReconcileReceipts_KeepsMissingReceipts(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	a := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	b := testReceipt("2024-03-02-id.yml", line("1", "soda", "0.75"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{a, b}); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{a}); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	filenames, err := r.ReceiptFilenames(ctx, nil)
	if err != nil {
		t.Fatalf("ReceiptFilenames: %v", err)
	}
	if len(filenames) != 2 {
		t.Fatalf("expected both receipts to remain, got %v", filenames)
	}
}

func TestReconcileReceipts_DuplicateFilename(t *testing.T) {
	r := newTestReconciler(t)
	a := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	b := testReceipt("2024-03-01-id.yml", line("1", "soda", "0.75"))

	res, err := r.ReconcileReceipts(context.Background(), []*records.ReceiptRecord{a, b})
	var uerr *models.UniquenessError
	if !errors.As(err, &uerr) || uerr.Field != "filename" {
		t.Fatalf("expected filename uniqueness error, got %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected the first receipt to be stored, got %+v", res)
	}
}

func TestReconcileReceipts_DerivesFilename(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	a := testReceipt("", line("1", "milk", "0.89"))
	b := testReceipt("", line("1", "soda", "0.75"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{a, b}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}
	if a.Filename != "2024-03-01-id.yml" || b.Filename != "2024-03-01-id-1.yml" {
		t.Fatalf("unexpected derived filenames %q %q", a.Filename, b.Filename)
	}
}

func TestReconcileReceipts_InvalidRollsBack(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	bad := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	bad.Shop = ""

	res, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{bad})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if res.Created != 0 {
		t.Fatalf("failed scope must report zero counts, got %+v", res)
	}
	if _, err := r.ExportReceipt(ctx, bad.Filename); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected no stored receipt, got %v", err)
	}
}

func TestReconcileReceipts_LinksDiscounts(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	flag := "b"
	rec := testReceipt("2024-03-01-id.yml",
		line("1", "soda", "0.75"),
		records.ProductLine{Quantity: "2", Label: "soda", Price: price("1.50"), DiscountIndicator: &flag},
		records.ProductLine{Quantity: "1", Label: "chips", Price: price("1.20"), DiscountIndicator: &flag},
	)
	rec.Discounts = []records.DiscountLine{{Label: "disco", Decrease: price("-0.50"), Items: []string{"soda", "chips", "soda"}}}

	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}
	receipt, err := models.FetchReceipt(ctx, r.db, rec.Filename)
	if err != nil {
		t.Fatalf("FetchReceipt: %v", err)
	}
	refs := receipt.Discounts[0].References
	if len(refs) != 3 {
		t.Fatalf("expected 3 references, got %d", len(refs))
	}
	if refs[0].ProductItemId == nil || *refs[0].ProductItemId != receipt.Products[1].ID {
		t.Fatalf("first reference should link the flagged soda, got %v", refs[0].ProductItemId)
	}
	if refs[1].ProductItemId == nil || *refs[1].ProductItemId != receipt.Products[2].ID {
		t.Fatalf("second reference should link chips, got %v", refs[1].ProductItemId)
	}
	if refs[2].ProductItemId != nil {
		t.Fatalf("third reference has no flagged soda left, got %v", *refs[2].ProductItemId)
	}

	exported, err := r.ExportReceipt(ctx, rec.Filename)
	if err != nil {
		t.Fatalf("ExportReceipt: %v", err)
	}
	if !records.ReceiptsEqual(exported, rec) {
		t.Fatalf("export differs from input")
	}
}

func TestReconcileInventory_MatchesAndUnlinks(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"), line("1", "soda", "0.75"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}

	res, err := r.ReconcileInventory(ctx, milkInventory(labelled("milk")))
	if err != nil {
		t.Fatalf("ReconcileInventory: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", res)
	}
	items := storedItems(t, r, rec.Filename)
	if items[0].MatchStatus != models.MatchStatusMatched || items[0].ProductId == nil {
		t.Fatalf("milk should be matched, got %+v", items[0])
	}
	if items[1].MatchStatus != models.MatchStatusUnmatched {
		t.Fatalf("soda should stay unmatched, got %+v", items[1])
	}

	res, err = r.ReconcileInventory(ctx, milkInventory())
	if err != nil {
		t.Fatalf("ReconcileInventory (empty): %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %+v", res)
	}
	items = storedItems(t, r, rec.Filename)
	if items[0].ProductId != nil || items[0].MatchStatus != models.MatchStatusUnmatched {
		t.Fatalf("deleted entry must not stay linked, got %+v", items[0])
	}
}

func TestReconcileInventory_Idempotent(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	gtin := int64(8710400000001)
	inv := milkInventory(
		records.ProductRecord{
			Labels:   []string{"milk"},
			Prices:   &matcher.PriceMatcher{Values: []decimal.Decimal{price("0.89"), price("0.95")}},
			Brand:    utils.NewString("Farm"),
			Portions: utils.NewInt(2),
			Gtin:     &gtin,
			Range: []records.ProductRecord{
				{Prices: &matcher.PriceMatcher{Values: []decimal.Decimal{price("0.95")}}, Description: utils.NewString("large")},
			},
		},
		labelled("bread", "brood"),
	)

	if _, err := r.ReconcileInventory(ctx, inv); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	res, err := r.ReconcileInventory(ctx, inv)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Deleted != 0 {
		t.Fatalf("expected no changes, got %+v", res)
	}

	exported, err := r.ExportInventory(ctx, "id", "", "")
	if err != nil {
		t.Fatalf("ExportInventory: %v", err)
	}
	if !records.InventoriesEqual(exported, inv) {
		t.Fatalf("export differs: %+v", exported.Products)
	}
}

func TestReconcileInventory_UpdateKeepsIdentity(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	sku := "123"
	inv := milkInventory(records.ProductRecord{Labels: []string{"milk"}, Sku: &sku})
	if _, err := r.ReconcileInventory(ctx, inv); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	before, _ := r.ExportInventory(ctx, "id", "", "")

	inv.Products[0].Labels = []string{"milk", "melk"}
	res, err := r.ReconcileInventory(ctx, inv)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 || res.Deleted != 0 {
		t.Fatalf("expected an update in place, got %+v", res)
	}
	after, _ := r.ExportInventory(ctx, "id", "", "")
	if len(before.Products) != 1 || len(after.Products[0].Labels) != 2 {
		t.Fatalf("unexpected export %+v", after.Products)
	}
}

func TestReconcileInventory_CategoryScope(t *testing.T) {
	r := newTestReconciler(t).SplitInventories(true, false)
	ctx := context.Background()
	dairy := &records.InventoryRecord{Shop: "id", Category: "dairy", Products: []records.ProductRecord{labelled("milk")}}
	bakery := &records.InventoryRecord{Shop: "id", Category: "bakery", Products: []records.ProductRecord{labelled("bread")}}
	for _, inv := range []*records.InventoryRecord{dairy, bakery} {
		if _, err := r.ReconcileInventory(ctx, inv); err != nil {
			t.Fatalf("ReconcileInventory(%s): %v", inv.Category, err)
		}
	}

	// reconciling one category leaves the other alone
	res, err := r.ReconcileInventory(ctx, dairy)
	if err != nil {
		t.Fatalf("ReconcileInventory again: %v", err)
	}
	if res.Deleted != 0 {
		t.Fatalf("expected no deletes, got %+v", res)
	}
	exported, err := r.ExportInventory(ctx, "id", "bakery", "")
	if err != nil {
		t.Fatalf("ExportInventory: %v", err)
	}
	if !records.InventoriesEqual(exported, bakery) {
		t.Fatalf("bakery export differs: %+v", exported.Products)
	}

	scopes, err := r.InventoryScopes(ctx)
	if err != nil {
		t.Fatalf("InventoryScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0][1] != "bakery" || scopes[1][1] != "dairy" {
		t.Fatalf("unexpected scopes %v", scopes)
	}
}

func TestReconcileInventory_UncategorizedKeepsCategories(t *testing.T) {
	r := newTestReconciler(t).SplitInventories(true, false)
	ctx := context.Background()
	dairy := &records.InventoryRecord{Shop: "id", Category: "dairy", Products: []records.ProductRecord{labelled("milk")}}
	other := &records.InventoryRecord{Shop: "id", Products: []records.ProductRecord{labelled("batteries")}}
	for _, inv := range []*records.InventoryRecord{dairy, other} {
		res, err := r.ReconcileInventory(ctx, inv)
		if err != nil {
			t.Fatalf("ReconcileInventory(%q): %v", inv.Category, err)
		}
		if res.Created != 1 || res.Deleted != 0 {
			t.Fatalf("first pass of %q: expected one create, got %+v", inv.Category, res)
		}
	}

	for _, inv := range []*records.InventoryRecord{dairy, other} {
		res, err := r.ReconcileInventory(ctx, inv)
		if err != nil {
			t.Fatalf("ReconcileInventory(%q) again: %v", inv.Category, err)
		}
		if res.Created != 0 || res.Updated != 0 || res.Deleted != 0 {
			t.Fatalf("second pass of %q should change nothing, got %+v", inv.Category, res)
		}
	}

	exported, err := r.ExportInventory(ctx, "id", "", "")
	if err != nil {
		t.Fatalf("ExportInventory: %v", err)
	}
	if !records.InventoriesEqual(exported, other) {
		t.Fatalf("uncategorized export differs: %+v", exported.Products)
	}
	scopes, err := r.InventoryScopes(ctx)
	if err != nil {
		t.Fatalf("InventoryScopes: %v", err)
	}
	if len(scopes) != 2 || scopes[0] != [3]string{"id", "", ""} || scopes[1] != [3]string{"id", "dairy", ""} {
		t.Fatalf("unexpected scopes %v", scopes)
	}
}

func TestReconcileInventory_GtinConflictRollsBack(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	gtin := int64(8710400000001)
	if _, err := r.ReconcileInventory(ctx, &records.InventoryRecord{
		Shop:     "ah",
		Products: []records.ProductRecord{{Labels: []string{"milk"}, Gtin: &gtin}},
	}); err != nil {
		t.Fatalf("first shop: %v", err)
	}

	inv := milkInventory(labelled("bread"), records.ProductRecord{Labels: []string{"melk"}, Gtin: &gtin})
	res, err := r.ReconcileInventory(ctx, inv)
	var uerr *models.UniquenessError
	if !errors.As(err, &uerr) || uerr.Field != "gtin" || len(uerr.Conflicts) != 2 {
		t.Fatalf("expected gtin uniqueness error with both claimants, got %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("failed scope must report zero counts, got %+v", res)
	}
	exported, err := r.ExportInventory(ctx, "id", "", "")
	if err != nil {
		t.Fatalf("ExportInventory: %v", err)
	}
	if len(exported.Products) != 0 {
		t.Fatalf("expected nothing stored for the failed scope, got %+v", exported.Products)
	}
}

func TestReconcileInventory_DuplicateSkuInRecord(t *testing.T) {
	r := newTestReconciler(t)
	sku := "42"
	inv := milkInventory(
		records.ProductRecord{Labels: []string{"milk"}, Sku: &sku},
		records.ProductRecord{Labels: []string{"melk"}, Sku: &sku},
	)
	_, err := r.ReconcileInventory(context.Background(), inv)
	var uerr *models.UniquenessError
	if !errors.As(err, &uerr) || uerr.Field != "sku" {
		t.Fatalf("expected sku uniqueness error, got %v", err)
	}
	if uerr.Conflicts[0] != "products[0]" || uerr.Conflicts[1] != "products[1]" {
		t.Fatalf("unexpected conflicts %v", uerr.Conflicts)
	}
}

func TestReconcileInventory_Ambiguous(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}
	a, b := labelled("milk"), labelled("milk")
	a.Brand, b.Brand = utils.NewString("Farm"), utils.NewString("Dairy")
	res, err := r.ReconcileInventory(ctx, milkInventory(a, b))
	if err != nil {
		t.Fatalf("ReconcileInventory: %v", err)
	}
	if res.Stats["items_ambiguous"] != 1 {
		t.Fatalf("expected one ambiguous item, got %v", res.Stats)
	}
	items := storedItems(t, r, rec.Filename)
	if items[0].MatchStatus != models.MatchStatusAmbiguous || items[0].ProductId != nil {
		t.Fatalf("expected ambiguous unlinked item, got %+v", items[0])
	}
}

func TestReconcileInventory_RangeMatchesNarrower(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.95"), line("1", "milk", "0.89"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}
	inv := milkInventory(records.ProductRecord{
		Labels: []string{"milk"},
		Range:  []records.ProductRecord{{Prices: &matcher.PriceMatcher{Values: []decimal.Decimal{price("0.95")}}}},
	})
	if _, err := r.ReconcileInventory(ctx, inv); err != nil {
		t.Fatalf("ReconcileInventory: %v", err)
	}
	generic, err := models.FetchShopProducts(ctx, r.db, "id")
	if err != nil || len(generic) != 1 || len(generic[0].Range) != 1 {
		t.Fatalf("unexpected stored products %+v (%v)", generic, err)
	}
	items := storedItems(t, r, rec.Filename)
	if items[0].ProductId == nil || *items[0].ProductId != generic[0].Range[0].ID {
		t.Fatalf("0.95 milk should link the range entry, got %v", items[0].ProductId)
	}
	if items[1].ProductId == nil || *items[1].ProductId != generic[0].ID {
		t.Fatalf("0.89 milk should link the generic entry, got %v", items[1].ProductId)
	}
}

func TestDryRun_StoresNothing(t *testing.T) {
	r := newTestReconciler(t)
	ctx := utils.SetDryRunInContext(context.Background(), true)
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))

	res, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("dry run should report the planned create, got %+v", res)
	}
	if _, err := r.ExportReceipt(context.Background(), rec.Filename); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("dry run must not store, got %v", err)
	}

	var runs []models.ReconcileRun
	if err := r.db.Find(&runs).Error; err != nil {
		t.Fatalf("load runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.ReconcileStatusDryRun {
		t.Fatalf("expected one dry run record, got %+v", runs)
	}
}

func TestDeleteReceipt(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	rec.Discounts = []records.DiscountLine{{Label: "disco", Decrease: price("-0.10"), Items: []string{"milk"}}}
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}

	res, err := r.DeleteReceipt(ctx, rec.Filename)
	if err != nil || res.Deleted != 1 {
		t.Fatalf("DeleteReceipt: %+v %v", res, err)
	}
	count, err := utils.ResourceCountWhere[models.Discount](ctx, r.db, "receipt_key = ?", rec.Filename)
	if err != nil || count != 0 {
		t.Fatalf("expected discounts removed, got %d (%v)", count, err)
	}
	if _, err := r.DeleteReceipt(ctx, rec.Filename); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestRematch(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	if _, err := r.ReconcileInventory(ctx, milkInventory(labelled("milk"))); err != nil {
		t.Fatalf("ReconcileInventory: %v", err)
	}
	rec := testReceipt("2024-03-01-id.yml", line("1", "milk", "0.89"))
	if _, err := r.ReconcileReceipts(ctx, []*records.ReceiptRecord{rec}); err != nil {
		t.Fatalf("ReconcileReceipts: %v", err)
	}
	if items := storedItems(t, r, rec.Filename); items[0].MatchStatus != models.MatchStatusMatched {
		t.Fatalf("new receipt should be resolved on import, got %+v", items[0])
	}

	res, err := r.Rematch(ctx, MatchOptions{Update: true})
	if err != nil {
		t.Fatalf("Rematch: %v", err)
	}
	if res.Stats["items_matched"] != 1 || res.Stats["items_relinked"] != 0 {
		t.Fatalf("unexpected stats %v", res.Stats)
	}
}

func TestReconcileShops(t *testing.T) {
	r := newTestReconciler(t)
	ctx := context.Background()
	shops := []records.ShopRecord{
		{Key: "id", Name: "Inkoop Discount", DiscountIndicators: []string{"b"}},
		{Key: "ah", Website: "https://example.com", Wikidata: "Q123"},
	}
	res, err := r.ReconcileShops(ctx, "shops.yml", shops)
	if err != nil || res.Created != 2 {
		t.Fatalf("first pass: %+v %v", res, err)
	}

	shops[0].Name = "Inkoop"
	res, err = r.ReconcileShops(ctx, "shops.yml", shops[:1])
	if err != nil || res.Updated != 1 || res.Created != 0 {
		t.Fatalf("second pass: %+v %v", res, err)
	}

	exported, err := r.ExportShops(ctx)
	if err != nil {
		t.Fatalf("ExportShops: %v", err)
	}
	if len(exported) != 2 || exported[0].Key != "ah" || exported[1].Name != "Inkoop" {
		t.Fatalf("unexpected shops %+v", exported)
	}
	if len(exported[1].DiscountIndicators) != 1 || exported[1].DiscountIndicators[0] != "b" {
		t.Fatalf("discount indicators lost: %+v", exported[1])
	}
}

func TestLocalLocker_SerializesScope(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, InventoryLockKey)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected one holder at a time, got %d", peak)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := locker.Lock(cancelled, "other"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
