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

// TransferRequest moves stock of one item between two surface locations.
// The two halves post in the same transaction: there is never a moment when
// the units exist in both places or in neither.
type TransferRequest struct {
	WorkspaceId string
	ItemId      int

	FromSurface    models.Surface
	FromLocationId int
	ToSurface      models.Surface
	ToLocationId   int

	Quantity    int
	SourceId    *int
	Notes       string
	PerformedBy *int
	PerformedAt time.Time
}

type TransferResult struct {
	Out *models.LedgerView `json:"out"`
	In  *models.LedgerView `json:"in"`
}

// ProcessTransfer posts the transfer_out and transfer_in halves. The incoming
// half inherits the source key's moving average so value moves with the units.
func ProcessTransfer(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, req TransferRequest) (*TransferResult, error) {
	if req.FromSurface == req.ToSurface && req.FromLocationId == req.ToLocationId {
		return nil, utils.NewBusinessRuleError("transfer source and destination are the same location")
	}

	release, err := utils.WorkspaceLock(ctx, req.WorkspaceId, "transfer", "workflow", "ProcessTransfer")
	if err != nil {
		return nil, err
	}
	defer release()

	fromKey := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.FromLocationId, ItemId: req.ItemId}
	toKey := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.ToLocationId, ItemId: req.ItemId}

	if err := ValidateLedgerKey(ctx, req.WorkspaceId, req.FromSurface, fromKey); err != nil {
		return nil, err
	}
	if err := ValidateLedgerKey(ctx, req.WorkspaceId, req.ToSurface, toKey); err != nil {
		return nil, err
	}

	srcAvg, err := models.LedgerAvgPrice(tx, req.FromSurface, fromKey)
	if err != nil {
		return nil, err
	}

	transfer := &TransferContext{
		SourceType:      string(req.FromSurface),
		SourceId:        fmt.Sprintf("%d", req.FromLocationId),
		DestinationType: string(req.ToSurface),
		DestinationId:   fmt.Sprintf("%d", req.ToLocationId),
	}

	out, err := ApplyMovement(tx, logger, fromKey, Movement{
		Surface:         req.FromSurface,
		TransactionType: models.TransactionTypeTransferOut,
		Quantity:        req.Quantity,
		SourceType:      models.SourceTypeTransfer,
		SourceId:        req.SourceId,
		Transfer:        transfer,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
	if err != nil {
		return nil, err
	}

	in, err := ApplyMovement(tx, logger, toKey, Movement{
		Surface:         req.ToSurface,
		TransactionType: models.TransactionTypeTransferIn,
		Quantity:        req.Quantity,
		UnitCost:        srcAvg,
		SourceType:      models.SourceTypeTransfer,
		SourceId:        req.SourceId,
		Transfer:        transfer,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
	if err != nil {
		return nil, err
	}

	return &TransferResult{Out: out, In: in}, nil
}
