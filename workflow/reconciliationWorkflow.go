package workflow

import (
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func intDecimal(v int) decimal.Decimal {
	return decimal.NewFromInt(int64(v))
}

// ReconcileResult is the structured outcome of reconciling one key. Messages
// are user-facing and ordered: warnings first, then the closing status line.
type ReconcileResult struct {
	Status      models.ReconcileStatus `json:"status"`
	Discrepancy int                    `json:"discrepancy"`
	Entry       *models.LedgerView     `json:"entry,omitempty"`
	Messages    []string               `json:"messages"`
}

// ReconcileKey compares a key's snapshot against its ledger-derived balance
// and repairs any drift. The ledger wins: on mismatch an inventory_adjustment
// entry records the correction (qty_before is what the snapshot claimed,
// qty_after what the ledger proves) and the snapshot is restated.
//
// Takes the same FOR UPDATE snapshot row lock as the entry writer and holds
// it until the surrounding transaction commits, so a reconcile can never
// interleave with a posting on the same key.
func ReconcileKey(tx *gorm.DB, logger *logrus.Logger, surface models.Surface, key models.LedgerKey, performedBy *int) (*ReconcileResult, error) {
	snapshot, err := models.GetSnapshotForUpdate(tx, surface, key)
	if err != nil {
		return nil, err
	}
	latest, err := models.LatestEntryForUpdate(tx, surface, key)
	if err != nil {
		return nil, err
	}

	if latest == nil && snapshot == nil {
		return &ReconcileResult{
			Status:   models.ReconcileStatusBalanced,
			Messages: []string{"no history for this key; nothing to reconcile"},
		}, nil
	}

	if latest != nil && snapshot == nil {
		// History exists but the cached balance vanished. Restating it without
		// a baseline would hide whatever deleted the row, so surface it instead.
		config.LogError(logger, "workflow", "ReconcileKey", "snapshot missing for key with ledger history", key,
			errors.New("snapshot row not found"))
		return &ReconcileResult{
			Status: models.ReconcileStatusError,
			Messages: []string{
				"snapshot row is missing although ledger history exists; manual review required",
			},
		}, nil
	}

	ledgerQty := 0
	ledgerAvg := models.ZeroCostBasis().AvgPrice
	ledgerValue := models.ZeroCostBasis().Value
	if latest != nil {
		ledgerQty = latest.QtyAfter
		ledgerAvg = latest.AvgPriceAfter
		ledgerValue = latest.ValueAfter
	}

	if snapshot.Quantity == ledgerQty {
		return &ReconcileResult{
			Status:   models.ReconcileStatusBalanced,
			Messages: []string{fmt.Sprintf("snapshot matches ledger at %d units", ledgerQty)},
		}, nil
	}

	discrepancy := ledgerQty - snapshot.Quantity
	absDisc := discrepancy
	if absDisc < 0 {
		absDisc = -absDisc
	}

	core := models.LedgerCore{
		TransactionType: models.TransactionTypeInventoryAdjustment,
		Quantity:        absDisc,
		UnitCost:        ledgerAvg.Round(2),
		TotalCost:       ledgerAvg.Round(2).Mul(intDecimal(absDisc)).Round(2),
		QtyBefore:       snapshot.Quantity,
		QtyAfter:        ledgerQty,
		ValueBefore:     snapshot.AvgPrice.Mul(intDecimal(snapshot.Quantity)).Round(2),
		ValueAfter:      ledgerValue,
		AvgPriceBefore:  snapshot.AvgPrice,
		AvgPriceAfter:   ledgerAvg,
		SourceType:      models.SourceTypeReconciliation,
		Notes: fmt.Sprintf("reconciliation: snapshot had %d, ledger proves %d",
			snapshot.Quantity, ledgerQty),
		PerformedBy: performedBy,
		PerformedAt: time.Now().UTC(),
	}

	entry, err := models.AppendEntry(tx, surface, key, core)
	if err != nil {
		config.LogError(logger, "workflow", "ReconcileKey", "append reconciliation entry", key, err)
		return nil, err
	}
	if _, err := models.UpsertSnapshot(tx, surface, key, ledgerQty, ledgerAvg); err != nil {
		config.LogError(logger, "workflow", "ReconcileKey", "restate snapshot", key, err)
		return nil, err
	}

	return &ReconcileResult{
		Status:      models.ReconcileStatusAdjusted,
		Discrepancy: discrepancy,
		Entry:       entry,
		Messages: []string{
			fmt.Sprintf("snapshot disagreed with ledger: had %d, corrected to %d", snapshot.Quantity, ledgerQty),
			"reconciliation adjustment recorded",
		},
	}, nil
}

// ReconcileSurface sweeps every snapshot key of one surface. Each key is
// reconciled independently; one failing key does not stop the sweep.
func ReconcileSurface(tx *gorm.DB, logger *logrus.Logger, surface models.Surface, workspaceId string, performedBy *int) (map[models.LedgerKey]*ReconcileResult, error) {
	snapshots, err := models.SnapshotsByWorkspace(tx, surface, workspaceId, 0, 0)
	if err != nil {
		return nil, err
	}
	results := make(map[models.LedgerKey]*ReconcileResult, len(snapshots))
	for _, s := range snapshots {
		key := s.Key()
		result, err := ReconcileKey(tx, logger, surface, key, performedBy)
		if err != nil {
			config.LogError(logger, "workflow", "ReconcileSurface", "reconcile key", key, err)
			results[key] = &ReconcileResult{
				Status:   models.ReconcileStatusError,
				Messages: []string{"reconcile failed: " + err.Error()},
			}
			continue
		}
		results[key] = result
	}
	return results, nil
}
