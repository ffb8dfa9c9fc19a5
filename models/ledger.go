package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerCore is the shared shape of all five inventory ledgers. Rows are
// immutable facts: once created they are never updated or deleted; corrections
// are new inventory_adjustment / cost_adjustment rows.
//
// The composite key index (workspace_id, <location>, item_id, performed_at, id)
// is what makes "latest entry per key" an index probe; the location column is
// contributed by the embedding table with priority 2.
type LedgerCore struct {
	ID          int    `gorm:"primary_key" json:"id"`
	WorkspaceId string `gorm:"size:36;not null;index:idx_ledger_key,priority:1;index:idx_ledger_type,priority:1;index:idx_ledger_date,priority:1;index:idx_ledger_performer,priority:1;index:idx_ledger_order,priority:1" json:"workspace_id"`
	ItemId      int    `gorm:"not null;index:idx_ledger_key,priority:3" json:"item_id"`

	TransactionType TransactionType `gorm:"size:30;not null;index:idx_ledger_type,priority:2" json:"transaction_type"`
	Quantity        int             `gorm:"not null" json:"quantity"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_cost"`
	TotalCost       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_cost"`

	QtyBefore      int             `gorm:"not null" json:"qty_before"`
	QtyAfter       int             `gorm:"not null" json:"qty_after"`
	ValueBefore    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"value_before"`
	ValueAfter     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"value_after"`
	AvgPriceBefore decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"avg_price_before"`
	AvgPriceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"avg_price_after"`

	SourceType SourceType `gorm:"size:30;not null" json:"source_type"`
	SourceId   *int       `json:"source_id"`
	OrderId    *int       `gorm:"index:idx_ledger_order,priority:2" json:"order_id"`
	InvoiceId  *int       `json:"invoice_id"`

	// Transfer context is free-form (kind tag + id as strings) because the two
	// sides of a transfer live in different surfaces and must not be foreign keys.
	TransferSourceType      *string `gorm:"size:30" json:"transfer_source_type"`
	TransferSourceId        *string `gorm:"size:36" json:"transfer_source_id"`
	TransferDestinationType *string `gorm:"size:30" json:"transfer_destination_type"`
	TransferDestinationId   *string `gorm:"size:36" json:"transfer_destination_id"`

	Notes       string    `gorm:"size:500" json:"notes"`
	PerformedBy *int      `gorm:"index:idx_ledger_performer,priority:2" json:"performed_by"`
	PerformedAt time.Time `gorm:"not null;index:idx_ledger_key,priority:4;index:idx_ledger_date,priority:2" json:"performed_at"`
}

type StorageLedger struct {
	LedgerCore
	FactoryId int `gorm:"not null;index:idx_ledger_key,priority:2" json:"factory_id"`
}

func (StorageLedger) TableName() string       { return "storage_ledgers" }
func (StorageLedger) LedgerSurface() Surface  { return SurfaceStorage }
func (StorageLedger) LocationColumn() string  { return "factory_id" }
func (e *StorageLedger) Core() *LedgerCore    { return &e.LedgerCore }
func (e *StorageLedger) LocationId() int      { return e.FactoryId }
func (e *StorageLedger) SetLocationId(id int) { e.FactoryId = id }

type MachineLedger struct {
	LedgerCore
	MachineId int `gorm:"not null;index:idx_ledger_key,priority:2" json:"machine_id"`
}

func (MachineLedger) TableName() string       { return "machine_ledgers" }
func (MachineLedger) LedgerSurface() Surface  { return SurfaceMachine }
func (MachineLedger) LocationColumn() string  { return "machine_id" }
func (e *MachineLedger) Core() *LedgerCore    { return &e.LedgerCore }
func (e *MachineLedger) LocationId() int      { return e.MachineId }
func (e *MachineLedger) SetLocationId(id int) { e.MachineId = id }

type DamagedLedger struct {
	LedgerCore
	FactoryId int `gorm:"not null;index:idx_ledger_key,priority:2" json:"factory_id"`
}

func (DamagedLedger) TableName() string       { return "damaged_ledgers" }
func (DamagedLedger) LedgerSurface() Surface  { return SurfaceDamaged }
func (DamagedLedger) LocationColumn() string  { return "factory_id" }
func (e *DamagedLedger) Core() *LedgerCore    { return &e.LedgerCore }
func (e *DamagedLedger) LocationId() int      { return e.FactoryId }
func (e *DamagedLedger) SetLocationId(id int) { e.FactoryId = id }

type ProjectComponentLedger struct {
	LedgerCore
	ProjectComponentId int `gorm:"not null;index:idx_ledger_key,priority:2" json:"project_component_id"`
}

func (ProjectComponentLedger) TableName() string       { return "project_component_ledgers" }
func (ProjectComponentLedger) LedgerSurface() Surface  { return SurfaceProjectComponent }
func (ProjectComponentLedger) LocationColumn() string  { return "project_component_id" }
func (e *ProjectComponentLedger) Core() *LedgerCore    { return &e.LedgerCore }
func (e *ProjectComponentLedger) LocationId() int      { return e.ProjectComponentId }
func (e *ProjectComponentLedger) SetLocationId(id int) { e.ProjectComponentId = id }

type FinishedGoodsLedger struct {
	LedgerCore
	FactoryId int `gorm:"not null;index:idx_ledger_key,priority:2" json:"factory_id"`
}

func (FinishedGoodsLedger) TableName() string       { return "finished_goods_ledgers" }
func (FinishedGoodsLedger) LedgerSurface() Surface  { return SurfaceFinishedGoods }
func (FinishedGoodsLedger) LocationColumn() string  { return "factory_id" }
func (e *FinishedGoodsLedger) Core() *LedgerCore    { return &e.LedgerCore }
func (e *FinishedGoodsLedger) LocationId() int      { return e.FactoryId }
func (e *FinishedGoodsLedger) SetLocationId(id int) { e.FactoryId = id }

// LedgerKey identifies one snapshot bucket and the stream of entries feeding it.
// workspace_id is part of the logical identity: the same location/item pair may
// exist across workspaces with independent histories.
type LedgerKey struct {
	WorkspaceId string
	LocationId  int
	ItemId      int
}

// LedgerView is the surface-tagged flattened form used by the entry writer,
// the reconciler and the cross-ledger reporter.
type LedgerView struct {
	Surface    Surface `json:"surface"`
	LocationId int     `json:"location_id"`
	LedgerCore
}

func (v *LedgerView) Key() LedgerKey {
	return LedgerKey{WorkspaceId: v.WorkspaceId, LocationId: v.LocationId, ItemId: v.ItemId}
}

// LedgerFilter narrows reporting queries. Zero-valued fields are ignored.
type LedgerFilter struct {
	ItemId          *int
	TransactionType *TransactionType
	OrderId         *int
	PerformedBy     *int
	From            *time.Time
	To              *time.Time
	Offset          int
	Limit           int
}

type ledgerModel interface {
	LedgerSurface() Surface
	LocationColumn() string
}

type ledgerPtr[T any] interface {
	*T
	Core() *LedgerCore
	LocationId() int
	SetLocationId(int)
}

func appendFor[T ledgerModel, PT ledgerPtr[T]](tx *gorm.DB, key LedgerKey, core LedgerCore) (*LedgerView, error) {
	var row T
	p := PT(&row)
	*p.Core() = core
	p.Core().WorkspaceId = key.WorkspaceId
	p.Core().ItemId = key.ItemId
	p.SetLocationId(key.LocationId)
	if err := tx.Create(p).Error; err != nil {
		return nil, utils.WrapStorageError("append "+string(row.LedgerSurface())+" ledger entry", err)
	}
	return toView(row.LedgerSurface(), p), nil
}

func latestFor[T ledgerModel, PT ledgerPtr[T]](tx *gorm.DB, key LedgerKey) (*LedgerView, error) {
	var model T
	var row T
	err := tx.
		Where("workspace_id = ? AND "+model.LocationColumn()+" = ? AND item_id = ?",
			key.WorkspaceId, key.LocationId, key.ItemId).
		Order("performed_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapStorageError("latest "+string(model.LedgerSurface())+" ledger entry", err)
	}
	return toView(model.LedgerSurface(), PT(&row)), nil
}

func queryFor[T ledgerModel, PT ledgerPtr[T]](tx *gorm.DB, workspaceId string, key *LedgerKey, f LedgerFilter) ([]*LedgerView, error) {
	var model T
	dbCtx := tx.Model(&model).Where("workspace_id = ?", workspaceId)
	if key != nil {
		dbCtx = dbCtx.Where(model.LocationColumn()+" = ? AND item_id = ?", key.LocationId, key.ItemId)
	}
	if f.ItemId != nil {
		dbCtx = dbCtx.Where("item_id = ?", *f.ItemId)
	}
	if f.TransactionType != nil {
		dbCtx = dbCtx.Where("transaction_type = ?", *f.TransactionType)
	}
	if f.OrderId != nil {
		dbCtx = dbCtx.Where("order_id = ?", *f.OrderId)
	}
	if f.PerformedBy != nil {
		dbCtx = dbCtx.Where("performed_by = ?", *f.PerformedBy)
	}
	if f.From != nil {
		dbCtx = dbCtx.Where("performed_at >= ?", *f.From)
	}
	if f.To != nil {
		dbCtx = dbCtx.Where("performed_at <= ?", *f.To)
	}
	dbCtx = dbCtx.Order("performed_at DESC, id DESC")
	if f.Offset > 0 {
		dbCtx = dbCtx.Offset(f.Offset)
	}
	if f.Limit > 0 {
		dbCtx = dbCtx.Limit(f.Limit)
	}

	var rows []T
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, utils.WrapStorageError("query "+string(model.LedgerSurface())+" ledger", err)
	}
	views := make([]*LedgerView, 0, len(rows))
	for i := range rows {
		views = append(views, toView(model.LedgerSurface(), PT(&rows[i])))
	}
	return views, nil
}

func toView[T any, PT ledgerPtr[T]](surface Surface, p PT) *LedgerView {
	return &LedgerView{
		Surface:    surface,
		LocationId: p.LocationId(),
		LedgerCore: *p.Core(),
	}
}

// AppendEntry inserts one immutable row into the surface's ledger. Content
// validity (signs, running balances, attribution) is the entry writer's
// responsibility; this layer only fails on infrastructure faults.
func AppendEntry(tx *gorm.DB, surface Surface, key LedgerKey, core LedgerCore) (*LedgerView, error) {
	switch surface {
	case SurfaceStorage:
		return appendFor[StorageLedger, *StorageLedger](tx, key, core)
	case SurfaceMachine:
		return appendFor[MachineLedger, *MachineLedger](tx, key, core)
	case SurfaceDamaged:
		return appendFor[DamagedLedger, *DamagedLedger](tx, key, core)
	case SurfaceProjectComponent:
		return appendFor[ProjectComponentLedger, *ProjectComponentLedger](tx, key, core)
	case SurfaceFinishedGoods:
		return appendFor[FinishedGoodsLedger, *FinishedGoodsLedger](tx, key, core)
	}
	return nil, errors.New("invalid surface")
}

// LatestEntry returns the newest entry for a key, or nil when the key has no
// history. performed_at is not strictly monotonic across concurrent writers,
// so (performed_at DESC, id DESC) is the canonical order.
func LatestEntry(tx *gorm.DB, surface Surface, key LedgerKey) (*LedgerView, error) {
	switch surface {
	case SurfaceStorage:
		return latestFor[StorageLedger, *StorageLedger](tx, key)
	case SurfaceMachine:
		return latestFor[MachineLedger, *MachineLedger](tx, key)
	case SurfaceDamaged:
		return latestFor[DamagedLedger, *DamagedLedger](tx, key)
	case SurfaceProjectComponent:
		return latestFor[ProjectComponentLedger, *ProjectComponentLedger](tx, key)
	case SurfaceFinishedGoods:
		return latestFor[FinishedGoodsLedger, *FinishedGoodsLedger](tx, key)
	}
	return nil, errors.New("invalid surface")
}

// LatestEntryForUpdate is LatestEntry as a locking read. Under REPEATABLE READ
// a plain SELECT serves the transaction's read view, which can predate a
// concurrent writer's commit; FOR UPDATE always reads the newest committed row.
// Writers must use this so qty_before chains off the real tail.
func LatestEntryForUpdate(tx *gorm.DB, surface Surface, key LedgerKey) (*LedgerView, error) {
	return LatestEntry(tx.Clauses(clause.Locking{Strength: "UPDATE"}), surface, key)
}

// QueryEntries is the shared filter query behind the history and reporting
// surfaces. key narrows to one bucket; pass nil for workspace-wide queries.
func QueryEntries(tx *gorm.DB, surface Surface, workspaceId string, key *LedgerKey, f LedgerFilter) ([]*LedgerView, error) {
	switch surface {
	case SurfaceStorage:
		return queryFor[StorageLedger, *StorageLedger](tx, workspaceId, key, f)
	case SurfaceMachine:
		return queryFor[MachineLedger, *MachineLedger](tx, workspaceId, key, f)
	case SurfaceDamaged:
		return queryFor[DamagedLedger, *DamagedLedger](tx, workspaceId, key, f)
	case SurfaceProjectComponent:
		return queryFor[ProjectComponentLedger, *ProjectComponentLedger](tx, workspaceId, key, f)
	case SurfaceFinishedGoods:
		return queryFor[FinishedGoodsLedger, *FinishedGoodsLedger](tx, workspaceId, key, f)
	}
	return nil, errors.New("invalid surface")
}

// EntriesByKey returns paged history for one bucket, newest first.
func EntriesByKey(tx *gorm.DB, surface Surface, key LedgerKey, offset, limit int) ([]*LedgerView, error) {
	return QueryEntries(tx, surface, key.WorkspaceId, &key, LedgerFilter{Offset: offset, Limit: limit})
}

func EntriesByType(tx *gorm.DB, surface Surface, workspaceId string, ttype TransactionType, offset, limit int) ([]*LedgerView, error) {
	return QueryEntries(tx, surface, workspaceId, nil, LedgerFilter{TransactionType: &ttype, Offset: offset, Limit: limit})
}

func EntriesByOrder(tx *gorm.DB, surface Surface, workspaceId string, orderId int) ([]*LedgerView, error) {
	return QueryEntries(tx, surface, workspaceId, nil, LedgerFilter{OrderId: &orderId})
}

func EntriesByPerformer(tx *gorm.DB, surface Surface, workspaceId string, userId int, offset, limit int) ([]*LedgerView, error) {
	return QueryEntries(tx, surface, workspaceId, nil, LedgerFilter{PerformedBy: &userId, Offset: offset, Limit: limit})
}

func EntriesByDateRange(tx *gorm.DB, surface Surface, workspaceId string, from, to time.Time, offset, limit int) ([]*LedgerView, error) {
	return QueryEntries(tx, surface, workspaceId, nil, LedgerFilter{From: &from, To: &to, Offset: offset, Limit: limit})
}
