package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ManualAdjustmentRequest corrects a key's quantity by hand: found stock,
// miscounts, shrinkage. Decrease picks the direction; quantity stays positive.
type ManualAdjustmentRequest struct {
	Surface     models.Surface
	Key         models.LedgerKey
	Quantity    int
	Decrease    bool
	UnitCost    decimal.Decimal
	Notes       string
	PerformedBy *int
	PerformedAt time.Time
}

func ProcessManualAdjustment(tx *gorm.DB, logger *logrus.Logger, req ManualAdjustmentRequest) (*models.LedgerView, error) {
	return ApplyMovement(tx, logger, req.Key, Movement{
		Surface:         req.Surface,
		TransactionType: models.TransactionTypeInventoryAdjustment,
		Quantity:        req.Quantity,
		Decrease:        req.Decrease,
		UnitCost:        req.UnitCost,
		SourceType:      models.SourceTypeAdjustment,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
}

// CostAdjustmentRequest restates a key's moving average without moving units.
type CostAdjustmentRequest struct {
	Surface     models.Surface
	Key         models.LedgerKey
	NewAvgPrice decimal.Decimal
	Notes       string
	PerformedBy *int
	PerformedAt time.Time
}

func ProcessCostAdjustment(tx *gorm.DB, logger *logrus.Logger, req CostAdjustmentRequest) (*models.LedgerView, error) {
	return ApplyMovement(tx, logger, req.Key, Movement{
		Surface:         req.Surface,
		TransactionType: models.TransactionTypeCostAdjustment,
		Quantity:        0,
		UnitCost:        req.NewAvgPrice,
		SourceType:      models.SourceTypeAdjustment,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
}

// PurchaseReceiptRequest books received purchase order units into a factory's
// storage ledger at the purchase unit cost.
type PurchaseReceiptRequest struct {
	WorkspaceId   string
	FactoryId     int
	ItemId        int
	Quantity      int
	UnitCost      decimal.Decimal
	PurchaseOrder int
	Notes         string
	PerformedBy   *int
	PerformedAt   time.Time
}

func ProcessPurchaseReceipt(tx *gorm.DB, logger *logrus.Logger, req PurchaseReceiptRequest) (*models.LedgerView, error) {
	key := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.FactoryId, ItemId: req.ItemId}
	orderId := req.PurchaseOrder
	return ApplyMovement(tx, logger, key, Movement{
		Surface:         models.SurfaceStorage,
		TransactionType: models.TransactionTypePurchaseOrder,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		SourceType:      models.SourceTypeOrder,
		SourceId:        &orderId,
		OrderId:         &orderId,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
}

// ConsumptionRequest books material consumed by a machine during a production
// run. The decrease is relieved at the machine key's carried average.
type ConsumptionRequest struct {
	WorkspaceId     string
	MachineId       int
	ItemId          int
	Quantity        int
	ProductionRunId int
	Notes           string
	PerformedBy     *int
	PerformedAt     time.Time
}

func ProcessConsumption(tx *gorm.DB, logger *logrus.Logger, req ConsumptionRequest) (*models.LedgerView, error) {
	key := models.LedgerKey{WorkspaceId: req.WorkspaceId, LocationId: req.MachineId, ItemId: req.ItemId}
	runId := req.ProductionRunId
	return ApplyMovement(tx, logger, key, Movement{
		Surface:         models.SurfaceMachine,
		TransactionType: models.TransactionTypeConsumption,
		Quantity:        req.Quantity,
		SourceType:      models.SourceTypeProduction,
		SourceId:        &runId,
		Notes:           req.Notes,
		PerformedBy:     req.PerformedBy,
		PerformedAt:     req.PerformedAt,
	})
}
