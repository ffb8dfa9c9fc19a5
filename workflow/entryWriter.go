package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransferContext carries the cross-surface provenance stamped on both halves
// of a transfer. Kind/id pairs are strings because either side may be a
// factory, machine, project component or an external party.
type TransferContext struct {
	SourceType      string
	SourceId        string
	DestinationType string
	DestinationId   string
}

// Movement is one requested stock change against a single ledger key.
// Quantity is always non-negative; direction comes from TransactionType plus
// the Decrease flag (inventory_adjustment only).
type Movement struct {
	Surface         models.Surface
	TransactionType models.TransactionType
	Quantity        int
	Decrease        bool
	UnitCost        decimal.Decimal
	SourceType      models.SourceType
	SourceId        *int
	OrderId         *int
	InvoiceId       *int
	Transfer        *TransferContext
	Notes           string
	PerformedBy     *int
	PerformedAt     time.Time
}

func validateMovement(key models.LedgerKey, m Movement) error {
	if key.WorkspaceId == "" {
		return utils.ErrorWorkspaceRequired
	}
	if !m.Surface.Valid() {
		return utils.NewBusinessRuleError("invalid surface %q", string(m.Surface))
	}
	if !m.TransactionType.Valid() {
		return utils.NewBusinessRuleError("invalid transaction type %q", string(m.TransactionType))
	}
	if !m.SourceType.Valid() {
		return utils.NewBusinessRuleError("invalid source type %q", string(m.SourceType))
	}
	if m.Quantity < 0 {
		return utils.NewBusinessRuleError("quantity must not be negative")
	}
	if m.TransactionType == models.TransactionTypeCostAdjustment && m.Quantity != 0 {
		return utils.NewBusinessRuleError("cost adjustment must carry zero quantity")
	}
	if m.TransactionType != models.TransactionTypeCostAdjustment && m.Quantity == 0 {
		return utils.NewBusinessRuleError("quantity must be positive")
	}
	if m.UnitCost.IsNegative() {
		return utils.NewBusinessRuleError("unit cost must not be negative")
	}
	if m.SourceType.RequiresSourceId() && m.SourceId == nil {
		return utils.NewBusinessRuleError("source type %q requires a source id", string(m.SourceType))
	}
	return nil
}

// ApplyMovement validates, serializes and posts one movement: read the running
// balance, compute the next cost basis, append the immutable ledger row with
// full before/after state and bring the snapshot up to date, all inside the
// caller's transaction.
//
// A movement that would drive the balance negative is rejected, except for
// reconciliation adjustments which restate the balance to what the ledger
// already says.
func ApplyMovement(tx *gorm.DB, logger *logrus.Logger, key models.LedgerKey, m Movement) (*models.LedgerView, error) {
	if err := validateMovement(key, m); err != nil {
		return nil, err
	}

	// The snapshot row doubles as the per-key mutex: FOR UPDATE inside the
	// caller's transaction, held until COMMIT, so the next writer of this key
	// blocks here until this writer's entry is committed and visible.
	snap, err := models.LockSnapshot(tx, m.Surface, key)
	if err != nil {
		config.LogError(logger, "workflow", "ApplyMovement", "lock snapshot row", key, err)
		return nil, err
	}

	latest, err := models.LatestEntryForUpdate(tx, m.Surface, key)
	if err != nil {
		return nil, err
	}
	prev := basisFrom(latest)

	// The ledger feeds the posting math; a disagreeing snapshot means outside
	// interference and must not pass silently.
	if latest != nil && snap.Quantity != prev.Quantity {
		config.LogError(logger, "workflow", "ApplyMovement", "snapshot drift detected at posting time", key,
			fmt.Errorf("snapshot claims %d units, ledger proves %d", snap.Quantity, prev.Quantity))
	}

	next := models.NextCostBasis(prev, m.TransactionType, m.Quantity, m.UnitCost, m.Decrease)
	if next.Quantity < 0 {
		if m.SourceType != models.SourceTypeReconciliation || !config.AllowNegativeReconcile() {
			return nil, utils.NewBusinessRuleError(
				"insufficient stock: have %d, movement removes %d", prev.Quantity, m.Quantity)
		}
	}

	performedAt, err := resolvePerformedAt(m.PerformedAt, latest)
	if err != nil {
		return nil, err
	}

	effectiveUnitCost, totalCost := models.MovementCost(prev, m.TransactionType, m.Quantity, m.UnitCost, m.Decrease)

	core := models.LedgerCore{
		TransactionType: m.TransactionType,
		Quantity:        m.Quantity,
		UnitCost:        effectiveUnitCost,
		TotalCost:       totalCost,
		QtyBefore:       prev.Quantity,
		QtyAfter:        next.Quantity,
		ValueBefore:     prev.Value,
		ValueAfter:      next.Value,
		AvgPriceBefore:  prev.AvgPrice,
		AvgPriceAfter:   next.AvgPrice,
		SourceType:      m.SourceType,
		SourceId:        m.SourceId,
		OrderId:         m.OrderId,
		InvoiceId:       m.InvoiceId,
		Notes:           m.Notes,
		PerformedBy:     m.PerformedBy,
		PerformedAt:     performedAt,
	}
	if m.Transfer != nil {
		core.TransferSourceType = utils.NewString(m.Transfer.SourceType)
		core.TransferSourceId = utils.NewString(m.Transfer.SourceId)
		core.TransferDestinationType = utils.NewString(m.Transfer.DestinationType)
		core.TransferDestinationId = utils.NewString(m.Transfer.DestinationId)
	}

	entry, err := models.AppendEntry(tx, m.Surface, key, core)
	if err != nil {
		config.LogError(logger, "workflow", "ApplyMovement", "append ledger entry", key, err)
		return nil, err
	}

	if _, err := models.UpsertSnapshot(tx, m.Surface, key, next.Quantity, next.AvgPrice); err != nil {
		config.LogError(logger, "workflow", "ApplyMovement", "upsert snapshot", key, err)
		return nil, err
	}

	return entry, nil
}

// basisFrom derives the running balance from the newest ledger entry. The
// ledger, not the snapshot, feeds posting math so snapshot drift can never
// compound into the history.
func basisFrom(latest *models.LedgerView) models.CostBasis {
	if latest == nil {
		return models.ZeroCostBasis()
	}
	return models.CostBasis{
		Quantity: latest.QtyAfter,
		Value:    latest.ValueAfter,
		AvgPrice: latest.AvgPriceAfter,
	}
}

// resolvePerformedAt validates a caller-supplied stamp against the key's
// newest entry. Zero means "now". A stamp older than the newest entry would
// sort the row into the middle of the history while its before/after state
// chains off the tail, so it is rejected rather than silently reordered.
func resolvePerformedAt(requested time.Time, latest *models.LedgerView) (time.Time, error) {
	if requested.IsZero() {
		return time.Now().UTC(), nil
	}
	requested = requested.UTC()
	if latest != nil && requested.Before(latest.PerformedAt) {
		return time.Time{}, utils.NewBusinessRuleError(
			"performed_at %s predates the newest entry for this key (%s)",
			requested.Format(time.RFC3339), latest.PerformedAt.UTC().Format(time.RFC3339))
	}
	return requested, nil
}
