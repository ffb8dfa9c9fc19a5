package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/models/reports"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func seedCatalog(t *testing.T, db *gorm.DB, rows ...interface{}) {
	t.Helper()
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
}

func TestLedgerPostingKeepsSnapshotConsistent(t *testing.T) {
	setupIntegration(t)

	db := config.GetDB()
	logger := config.GetLogger()
	workspaceId := uuid.NewString()
	key := models.LedgerKey{WorkspaceId: workspaceId, LocationId: 1, ItemId: 100}
	seedCatalog(t, db,
		&models.Item{ID: 100, WorkspaceId: workspaceId, Name: "steel rod", Unit: "pcs"},
		&models.Factory{ID: 1, WorkspaceId: workspaceId, Name: "main plant"},
		&models.Machine{ID: 5, WorkspaceId: workspaceId, FactoryId: 1, Name: "lathe"},
	)

	// 1) Receive 10 units at 2.50 into storage.
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ProcessPurchaseReceipt(tx, logger, PurchaseReceiptRequest{
			WorkspaceId:   workspaceId,
			FactoryId:     key.LocationId,
			ItemId:        key.ItemId,
			Quantity:      10,
			UnitCost:      mustDecimal(t, "2.50"),
			PurchaseOrder: 900,
		})
		return err
	})
	if err != nil {
		t.Fatalf("ProcessPurchaseReceipt: %v", err)
	}

	latest, err := models.LatestEntry(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("LatestEntry: %v", err)
	}
	if latest == nil || latest.QtyAfter != 10 {
		t.Fatalf("expected qty_after 10, got %+v", latest)
	}
	if !latest.ValueAfter.Equal(mustDecimal(t, "25.00")) {
		t.Fatalf("expected value_after 25.00, got %s", latest.ValueAfter)
	}

	snapshot, err := models.GetSnapshot(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot == nil || snapshot.Quantity != latest.QtyAfter {
		t.Fatalf("snapshot %+v disagrees with latest entry %+v", snapshot, latest)
	}
	if !snapshot.AvgPrice.Equal(latest.AvgPriceAfter) {
		t.Fatalf("snapshot avg %s != ledger avg %s", snapshot.AvgPrice, latest.AvgPriceAfter)
	}

	// 2) A movement stamped behind the tail would reorder the history and is
	// refused.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        1,
			UnitCost:        mustDecimal(t, "2.50"),
			SourceType:      models.SourceTypeManual,
			PerformedAt:     latest.PerformedAt.Add(-time.Hour),
		})
		return err
	})
	if !utils.IsBusinessRuleError(err) {
		t.Fatalf("expected business rule error for backdated movement, got %v", err)
	}

	// 3) A decrease past the balance must be rejected and leave no trace.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeConsumption,
			Quantity:        11,
			SourceType:      models.SourceTypeProduction,
			SourceId:        utils.NewInt(1),
		})
		return err
	})
	if !utils.IsBusinessRuleError(err) {
		t.Fatalf("expected business rule error, got %v", err)
	}
	entries, err := models.EntriesByKey(db, models.SurfaceStorage, key, 0, 0)
	if err != nil {
		t.Fatalf("EntriesByKey: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("rejected movement leaked an entry: %d entries", len(entries))
	}

	// 4) Transfer 4 units storage -> machine; both halves land in one tx and
	// the destination inherits the source average.
	ctx := context.Background()
	machineKey := models.LedgerKey{WorkspaceId: workspaceId, LocationId: 5, ItemId: key.ItemId}
	var transfer *TransferResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		transfer, txErr = ProcessTransfer(ctx, tx, logger, TransferRequest{
			WorkspaceId:    workspaceId,
			ItemId:         key.ItemId,
			FromSurface:    models.SurfaceStorage,
			FromLocationId: key.LocationId,
			ToSurface:      models.SurfaceMachine,
			ToLocationId:   machineKey.LocationId,
			Quantity:       4,
		})
		return txErr
	})
	if err != nil {
		t.Fatalf("ProcessTransfer: %v", err)
	}
	if transfer.Out.QtyAfter != 6 {
		t.Fatalf("storage after transfer: want 6, got %d", transfer.Out.QtyAfter)
	}
	if transfer.In.QtyAfter != 4 {
		t.Fatalf("machine after transfer: want 4, got %d", transfer.In.QtyAfter)
	}
	if !transfer.In.AvgPriceAfter.Equal(transfer.Out.AvgPriceBefore) {
		t.Fatalf("destination avg %s did not inherit source avg %s",
			transfer.In.AvgPriceAfter, transfer.Out.AvgPriceBefore)
	}
	if transfer.In.TransferSourceType == nil || *transfer.In.TransferSourceType != string(models.SurfaceStorage) {
		t.Fatalf("transfer_in missing transfer context: %+v", transfer.In)
	}

	// 5) A transfer naming an item the workspace does not have is refused
	// before any stock moves.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, txErr := ProcessTransfer(ctx, tx, logger, TransferRequest{
			WorkspaceId:    workspaceId,
			ItemId:         999999,
			FromSurface:    models.SurfaceStorage,
			FromLocationId: key.LocationId,
			ToSurface:      models.SurfaceMachine,
			ToLocationId:   machineKey.LocationId,
			Quantity:       1,
		})
		return txErr
	})
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record not found for unknown item, got %v", err)
	}

	// 6) Damage write-off moves units onto the damaged surface.
	var damage *DamageResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		damage, txErr = ReportDamage(ctx, tx, logger, DamageRequest{
			WorkspaceId:    workspaceId,
			ItemId:         key.ItemId,
			FromSurface:    models.SurfaceMachine,
			FromLocationId: machineKey.LocationId,
			FactoryId:      key.LocationId,
			Quantity:       1,
		})
		return txErr
	})
	if err != nil {
		t.Fatalf("ReportDamage: %v", err)
	}
	if damage.WriteOff.QtyAfter != 3 || damage.Damaged.QtyAfter != 1 {
		t.Fatalf("damage halves wrong: write_off=%d damaged=%d",
			damage.WriteOff.QtyAfter, damage.Damaged.QtyAfter)
	}

	// 7) Derived balances read straight off each ledger tail; a key with no
	// history reports zero without writing anything.
	qty, value, err := models.LedgerBalance(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("LedgerBalance: %v", err)
	}
	if qty != 6 || !value.Equal(mustDecimal(t, "15.00")) {
		t.Fatalf("storage balance: want 6 @ 15.00, got %d @ %s", qty, value)
	}
	emptyQty, emptyValue, err := models.LedgerBalance(db, models.SurfaceFinishedGoods, key)
	if err != nil {
		t.Fatalf("LedgerBalance empty key: %v", err)
	}
	if emptyQty != 0 || !emptyValue.IsZero() {
		t.Fatalf("empty key balance: want 0 @ 0, got %d @ %s", emptyQty, emptyValue)
	}

	// 8) The cross-ledger report buckets the same trail per surface.
	reportCtx := utils.SetWorkspaceIdInContext(context.Background(), workspaceId)
	group, err := reports.GetItemMovementSummary(reportCtx, key.ItemId,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetItemMovementSummary: %v", err)
	}
	if len(group.Storage) != 2 || len(group.Machine) != 2 || len(group.Damaged) != 1 {
		t.Fatalf("report grouping wrong: storage=%d machine=%d damaged=%d",
			len(group.Storage), len(group.Machine), len(group.Damaged))
	}
	if len(group.Project) != 0 || len(group.Inventory) != 0 {
		t.Fatalf("untouched surfaces must be empty: project=%d inventory=%d",
			len(group.Project), len(group.Inventory))
	}

	// 9) Another workspace sees none of it.
	otherKey := models.LedgerKey{WorkspaceId: uuid.NewString(), LocationId: key.LocationId, ItemId: key.ItemId}
	otherLatest, err := models.LatestEntry(db, models.SurfaceStorage, otherKey)
	if err != nil {
		t.Fatalf("LatestEntry other workspace: %v", err)
	}
	if otherLatest != nil {
		t.Fatalf("workspace isolation broken: %+v", otherLatest)
	}
}

func TestConcurrentPostingSerializesPerKey(t *testing.T) {
	setupIntegration(t)

	db := config.GetDB()
	logger := config.GetLogger()
	workspaceId := uuid.NewString()
	key := models.LedgerKey{WorkspaceId: workspaceId, LocationId: 6, ItemId: 600}

	// Seed one entry so every concurrent writer contends on an existing
	// snapshot row.
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        1,
			UnitCost:        decimal.NewFromInt(2),
			SourceType:      models.SourceTypeManual,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed movement: %v", err)
	}

	const writers = 4
	const perWriter = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := db.Transaction(func(tx *gorm.DB) error {
					_, err := ApplyMovement(tx, logger, key, Movement{
						Surface:         models.SurfaceStorage,
						TransactionType: models.TransactionTypeManualAdd,
						Quantity:        1,
						UnitCost:        decimal.NewFromInt(2),
						SourceType:      models.SourceTypeManual,
					})
					return err
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent posting: %v", err)
	}

	total := 1 + writers*perWriter
	entries, err := models.EntriesByKey(db, models.SurfaceStorage, key, 0, 0)
	if err != nil {
		t.Fatalf("EntriesByKey: %v", err)
	}
	if len(entries) != total {
		t.Fatalf("expected %d entries, got %d", total, len(entries))
	}

	// Walk oldest to newest: every entry must chain off its predecessor's
	// after-state. Two writers sharing a qty_before would break the walk.
	for i := len(entries) - 1; i >= 0; i-- {
		wantBefore := total - 1 - i
		if entries[i].QtyBefore != wantBefore || entries[i].QtyAfter != wantBefore+1 {
			t.Fatalf("entry %d broke the chain: qty_before=%d qty_after=%d want %d->%d",
				entries[i].ID, entries[i].QtyBefore, entries[i].QtyAfter, wantBefore, wantBefore+1)
		}
	}

	snapshot, err := models.GetSnapshot(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot == nil || snapshot.Quantity != total {
		t.Fatalf("snapshot after concurrent posting: %+v, want quantity %d", snapshot, total)
	}
}

func TestPostingChainsOffLedgerNotTamperedSnapshot(t *testing.T) {
	setupIntegration(t)

	db := config.GetDB()
	logger := config.GetLogger()
	workspaceId := uuid.NewString()
	key := models.LedgerKey{WorkspaceId: workspaceId, LocationId: 4, ItemId: 400}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        10,
			UnitCost:        mustDecimal(t, "2.00"),
			SourceType:      models.SourceTypeManual,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed movement: %v", err)
	}

	err = db.Model(&models.StorageSnapshot{}).
		Where("workspace_id = ? AND factory_id = ? AND item_id = ?", workspaceId, key.LocationId, key.ItemId).
		Update("quantity", 3).Error
	if err != nil {
		t.Fatalf("tamper snapshot: %v", err)
	}

	// The next posting must chain off the ledger tail, not the tampered
	// cache, and restates the snapshot as a side effect.
	var entry *models.LedgerView
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        1,
			UnitCost:        mustDecimal(t, "2.00"),
			SourceType:      models.SourceTypeManual,
		})
		return txErr
	})
	if err != nil {
		t.Fatalf("ApplyMovement after tamper: %v", err)
	}
	if entry.QtyBefore != 10 || entry.QtyAfter != 11 {
		t.Fatalf("entry chained off the cache: qty_before=%d qty_after=%d", entry.QtyBefore, entry.QtyAfter)
	}

	snapshot, err := models.GetSnapshot(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot.Quantity != 11 {
		t.Fatalf("snapshot not restated by posting: %d", snapshot.Quantity)
	}
}

func TestReconcilerRepairsSnapshotDrift(t *testing.T) {
	setupIntegration(t)

	db := config.GetDB()
	logger := config.GetLogger()
	workspaceId := uuid.NewString()
	key := models.LedgerKey{WorkspaceId: workspaceId, LocationId: 2, ItemId: 200}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, key, Movement{
			Surface:         models.SurfaceStorage,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        12,
			UnitCost:        mustDecimal(t, "1.50"),
			SourceType:      models.SourceTypeManual,
		})
		return err
	})
	if err != nil {
		t.Fatalf("ApplyMovement: %v", err)
	}

	// Simulate drift: something clobbered the cached balance.
	err = db.Model(&models.StorageSnapshot{}).
		Where("workspace_id = ? AND factory_id = ? AND item_id = ?", workspaceId, key.LocationId, key.ItemId).
		Update("quantity", 7).Error
	if err != nil {
		t.Fatalf("tamper snapshot: %v", err)
	}

	var result *ReconcileResult
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = ReconcileKey(tx, logger, models.SurfaceStorage, key, utils.NewInt(1))
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileKey: %v", err)
	}
	if result.Status != models.ReconcileStatusAdjusted {
		t.Fatalf("expected adjusted, got %s (%v)", result.Status, result.Messages)
	}
	if result.Discrepancy != 5 {
		t.Fatalf("expected discrepancy 5, got %d", result.Discrepancy)
	}
	if result.Entry == nil || result.Entry.QtyBefore != 7 || result.Entry.QtyAfter != 12 {
		t.Fatalf("adjustment entry must record snapshot->ledger: %+v", result.Entry)
	}
	if result.Entry.SourceType != models.SourceTypeReconciliation {
		t.Fatalf("adjustment entry source_type = %s", result.Entry.SourceType)
	}

	snapshot, err := models.GetSnapshot(db, models.SurfaceStorage, key)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot.Quantity != 12 {
		t.Fatalf("snapshot not restated: %d", snapshot.Quantity)
	}

	// Second run over a repaired key is a no-op.
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = ReconcileKey(tx, logger, models.SurfaceStorage, key, utils.NewInt(1))
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileKey second run: %v", err)
	}
	if result.Status != models.ReconcileStatusBalanced {
		t.Fatalf("expected balanced on second run, got %s", result.Status)
	}

	// A key with history but no snapshot row is flagged, not silently rebuilt.
	err = db.Where("workspace_id = ? AND factory_id = ? AND item_id = ?", workspaceId, key.LocationId, key.ItemId).
		Delete(&models.StorageSnapshot{}).Error
	if err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = ReconcileKey(tx, logger, models.SurfaceStorage, key, nil)
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileKey missing snapshot: %v", err)
	}
	if result.Status != models.ReconcileStatusError {
		t.Fatalf("expected error status for missing snapshot, got %s", result.Status)
	}
}

func TestDeliveryCompletionRelievesFinishedGoods(t *testing.T) {
	setupIntegration(t)

	db := config.GetDB()
	logger := config.GetLogger()
	workspaceId := uuid.NewString()
	factoryId := 3
	itemId := 300

	ctx := utils.SetWorkspaceIdInContext(context.Background(), workspaceId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	seedCatalog(t, db, &models.Item{ID: itemId, WorkspaceId: workspaceId, Name: "finished unit"})

	// Stock 20 finished units.
	fgKey := models.LedgerKey{WorkspaceId: workspaceId, LocationId: factoryId, ItemId: itemId}
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ApplyMovement(tx, logger, fgKey, Movement{
			Surface:         models.SurfaceFinishedGoods,
			TransactionType: models.TransactionTypeManualAdd,
			Quantity:        20,
			UnitCost:        mustDecimal(t, "5.00"),
			SourceType:      models.SourceTypeManual,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed finished goods: %v", err)
	}

	order := models.SalesOrder{
		WorkspaceId:   workspaceId,
		OrderNumber:   "SO-001",
		AccountId:     77,
		FactoryId:     factoryId,
		CurrentStatus: models.SalesOrderStatusConfirmed,
		Details: []models.SalesOrderDetail{
			{WorkspaceId: workspaceId, ItemId: itemId, QuantityOrdered: 10, UnitPrice: mustDecimal(t, "9.00")},
		},
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("create sales order: %v", err)
	}
	delivery := models.Delivery{
		WorkspaceId:   workspaceId,
		SalesOrderId:  order.ID,
		CurrentStatus: models.DeliveryStatusPending,
		Details: []models.DeliveryDetail{
			{WorkspaceId: workspaceId, SalesOrderItemId: order.Details[0].ID, ItemId: itemId, QuantityDelivered: 6},
		},
	}
	if err := db.Create(&delivery).Error; err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	var updated *models.SalesOrder
	var messages []string
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		updated, messages, txErr = CompleteDeliveryWorkflow(ctx, tx, logger, delivery.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("CompleteDeliveryWorkflow: %v", err)
	}
	if updated.CurrentStatus != models.SalesOrderStatusPartiallyDelivered {
		t.Fatalf("order status = %s", updated.CurrentStatus)
	}
	// One message per relieved line, then the order summary.
	if len(messages) != 2 {
		t.Fatalf("expected a line message plus the order summary, got %v", messages)
	}

	snapshot, err := models.GetSnapshot(db, models.SurfaceFinishedGoods, fgKey)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot.Quantity != 14 {
		t.Fatalf("finished goods after delivery: want 14, got %d", snapshot.Quantity)
	}

	trail, err := models.EntriesByOrder(db, models.SurfaceFinishedGoods, workspaceId, order.ID)
	if err != nil {
		t.Fatalf("EntriesByOrder: %v", err)
	}
	if len(trail) != 1 || trail[0].SourceType != models.SourceTypeSalesDelivery {
		t.Fatalf("expected one sales_delivery entry for the order, got %+v", trail)
	}

	// Completing the same delivery again must be rejected.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, _, txErr := CompleteDeliveryWorkflow(ctx, tx, logger, delivery.ID)
		return txErr
	})
	if !utils.IsBusinessRuleError(err) {
		t.Fatalf("expected business rule error on double completion, got %v", err)
	}

	// Deliver the remaining 4 of 10 via a second delivery.
	second := models.Delivery{
		WorkspaceId:   workspaceId,
		SalesOrderId:  order.ID,
		CurrentStatus: models.DeliveryStatusPending,
		Details: []models.DeliveryDetail{
			{WorkspaceId: workspaceId, SalesOrderItemId: order.Details[0].ID, ItemId: itemId, QuantityDelivered: 4},
		},
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("create second delivery: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		updated, messages, txErr = CompleteDeliveryWorkflow(ctx, tx, logger, second.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("CompleteDeliveryWorkflow second: %v", err)
	}
	if updated.CurrentStatus != models.SalesOrderStatusDelivered {
		t.Fatalf("order should be fully delivered, got %s", updated.CurrentStatus)
	}

	// Over-delivery beyond the ordered quantity is rejected.
	third := models.Delivery{
		WorkspaceId:   workspaceId,
		SalesOrderId:  order.ID,
		CurrentStatus: models.DeliveryStatusPending,
		Details: []models.DeliveryDetail{
			{WorkspaceId: workspaceId, SalesOrderItemId: order.Details[0].ID, ItemId: itemId, QuantityDelivered: 1},
		},
	}
	if err := db.Create(&third).Error; err != nil {
		t.Fatalf("create third delivery: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, _, txErr := CompleteDeliveryWorkflow(ctx, tx, logger, third.ID)
		return txErr
	})
	if !utils.IsBusinessRuleError(err) {
		t.Fatalf("expected business rule error on over-delivery, got %v", err)
	}
}
