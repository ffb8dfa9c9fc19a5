package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/models"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DamageRequest writes off stock from a working surface into the damaged
// ledger of the given factory. The units are not destroyed, they change
// surface, so scrap and repair flows can account for them later.
type DamageRequest struct {
	WorkspaceId string
	ItemId      int

	FromSurface    models.Surface
	FromLocationId int
	FactoryId      int

	Quantity    int
	Notes       string
	PerformedBy *int
	PerformedAt time.Time
}

type DamageResult struct {
	WriteOff *models.LedgerView `json:"write_off"`
	Damaged  *models.LedgerView `json:"damaged"`
}

// ReportDamage posts the damaged decrease on the source surface and the
// matching transfer_in on the damaged surface in one transaction. The damaged
// half carries the source key's average so the written-off value is preserved.
func ReportDamage(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, req DamageRequest) (*DamageResult, error) {
	if req.FromSurface == models.SurfaceDamaged {
		return nil, utils.NewBusinessRuleError("cannot report damage on the damaged surface")
	}

	release, err := utils.WorkspaceLock(ctx, req.WorkspaceId, "damage", "workflow", "ReportDamage")
	if err != nil {
		return nil, err
	}
	defer release()

	fromKey := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.FromLocationId, ItemId: req.ItemId}
	damagedKey := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.FactoryId, ItemId: req.ItemId}

	if err := ValidateLedgerKey(ctx, req.WorkspaceId, req.FromSurface, fromKey); err != nil {
		return nil, err
	}
	if err := ValidateLedgerKey(ctx, req.WorkspaceId, models.SurfaceDamaged, damagedKey); err != nil {
		return nil, err
	}

	srcAvg, err := models.LedgerAvgPrice(tx, req.FromSurface, fromKey)
	if err != nil {
		return nil, err
	}

	transfer := &TransferContext{
		SourceType:      string(req.FromSurface),
		SourceId:        fmt.Sprintf("%d", req.FromLocationId),
		DestinationType: string(models.SurfaceDamaged),
		DestinationId:   fmt.Sprintf("%d", req.FactoryId),
	}

	writeOff, err := ApplyMovement(tx, logger, fromKey, Movement{
		Surface:         req.FromSurface,
		TransactionType: models.TransactionTypeDamaged,
		Quantity:        req.Quantity,
		SourceType:      models.SourceTypeDamageReport,
		Transfer:        transfer,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
	if err != nil {
		return nil, err
	}

	damaged, err := ApplyMovement(tx, logger, damagedKey, Movement{
		Surface:         models.SurfaceDamaged,
		TransactionType: models.TransactionTypeTransferIn,
		Quantity:        req.Quantity,
		UnitCost:        srcAvg,
		SourceType:      models.SourceTypeDamageReport,
		Transfer:        transfer,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
	if err != nil {
		return nil, err
	}

	return &DamageResult{WriteOff: writeOff, Damaged: damaged}, nil
}
