package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotCore is the derived current-quantity row per key. It is a cache of
// the latest ledger entry's after-state: the ledger is the source of truth and
// the reconciler repairs any drift between the two.
type SnapshotCore struct {
	ID          int             `gorm:"primary_key" json:"id"`
	WorkspaceId string          `gorm:"size:36;not null;uniqueIndex:uniq_snapshot_key,priority:1" json:"workspace_id"`
	ItemId      int             `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:3" json:"item_id"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	AvgPrice    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"avg_price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type StorageSnapshot struct {
	SnapshotCore
	FactoryId int `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:2" json:"factory_id"`
}

func (StorageSnapshot) TableName() string       { return "storage_snapshots" }
func (StorageSnapshot) LedgerSurface() Surface  { return SurfaceStorage }
func (StorageSnapshot) LocationColumn() string  { return "factory_id" }
func (s *StorageSnapshot) Core() *SnapshotCore  { return &s.SnapshotCore }
func (s *StorageSnapshot) LocationId() int      { return s.FactoryId }
func (s *StorageSnapshot) SetLocationId(id int) { s.FactoryId = id }

type MachineSnapshot struct {
	SnapshotCore
	MachineId int `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:2" json:"machine_id"`
}

func (MachineSnapshot) TableName() string       { return "machine_snapshots" }
func (MachineSnapshot) LedgerSurface() Surface  { return SurfaceMachine }
func (MachineSnapshot) LocationColumn() string  { return "machine_id" }
func (s *MachineSnapshot) Core() *SnapshotCore  { return &s.SnapshotCore }
func (s *MachineSnapshot) LocationId() int      { return s.MachineId }
func (s *MachineSnapshot) SetLocationId(id int) { s.MachineId = id }

type DamagedSnapshot struct {
	SnapshotCore
	FactoryId int `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:2" json:"factory_id"`
}

func (DamagedSnapshot) TableName() string       { return "damaged_snapshots" }
func (DamagedSnapshot) LedgerSurface() Surface  { return SurfaceDamaged }
func (DamagedSnapshot) LocationColumn() string  { return "factory_id" }
func (s *DamagedSnapshot) Core() *SnapshotCore  { return &s.SnapshotCore }
func (s *DamagedSnapshot) LocationId() int      { return s.FactoryId }
func (s *DamagedSnapshot) SetLocationId(id int) { s.FactoryId = id }

type ProjectComponentSnapshot struct {
	SnapshotCore
	ProjectComponentId int `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:2" json:"project_component_id"`
}

func (ProjectComponentSnapshot) TableName() string       { return "project_component_snapshots" }
func (ProjectComponentSnapshot) LedgerSurface() Surface  { return SurfaceProjectComponent }
func (ProjectComponentSnapshot) LocationColumn() string  { return "project_component_id" }
func (s *ProjectComponentSnapshot) Core() *SnapshotCore  { return &s.SnapshotCore }
func (s *ProjectComponentSnapshot) LocationId() int      { return s.ProjectComponentId }
func (s *ProjectComponentSnapshot) SetLocationId(id int) { s.ProjectComponentId = id }

type FinishedGoodsSnapshot struct {
	SnapshotCore
	FactoryId int `gorm:"not null;uniqueIndex:uniq_snapshot_key,priority:2" json:"factory_id"`
}

func (FinishedGoodsSnapshot) TableName() string       { return "finished_goods_snapshots" }
func (FinishedGoodsSnapshot) LedgerSurface() Surface  { return SurfaceFinishedGoods }
func (FinishedGoodsSnapshot) LocationColumn() string  { return "factory_id" }
func (s *FinishedGoodsSnapshot) Core() *SnapshotCore  { return &s.SnapshotCore }
func (s *FinishedGoodsSnapshot) LocationId() int      { return s.FactoryId }
func (s *FinishedGoodsSnapshot) SetLocationId(id int) { s.FactoryId = id }

// SnapshotView is the surface-tagged flattened form returned to callers.
type SnapshotView struct {
	Surface    Surface `json:"surface"`
	LocationId int     `json:"location_id"`
	SnapshotCore
}

func (v *SnapshotView) Key() LedgerKey {
	return LedgerKey{WorkspaceId: v.WorkspaceId, LocationId: v.LocationId, ItemId: v.ItemId}
}

type snapshotPtr[T any] interface {
	*T
	Core() *SnapshotCore
	LocationId() int
	SetLocationId(int)
}

func snapshotToView[T any, PT snapshotPtr[T]](surface Surface, p PT) *SnapshotView {
	return &SnapshotView{
		Surface:      surface,
		LocationId:   p.LocationId(),
		SnapshotCore: *p.Core(),
	}
}

func getSnapshotFor[T ledgerModel, PT snapshotPtr[T]](tx *gorm.DB, key LedgerKey) (*SnapshotView, error) {
	var model T
	var row T
	err := tx.
		Where("workspace_id = ? AND "+model.LocationColumn()+" = ? AND item_id = ?",
			key.WorkspaceId, key.LocationId, key.ItemId).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapStorageError("get "+string(model.LedgerSurface())+" snapshot", err)
	}
	return snapshotToView(model.LedgerSurface(), PT(&row)), nil
}

func lockSnapshotFor[T ledgerModel, PT snapshotPtr[T]](tx *gorm.DB, key LedgerKey) (*SnapshotView, error) {
	var row T
	p := PT(&row)
	p.Core().WorkspaceId = key.WorkspaceId
	p.Core().ItemId = key.ItemId
	p.Core().AvgPrice = decimal.Zero
	p.SetLocationId(key.LocationId)
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ? AND "+row.LocationColumn()+" = ? AND item_id = ?",
			key.WorkspaceId, key.LocationId, key.ItemId).
		FirstOrCreate(p).Error
	if err != nil {
		return nil, utils.WrapStorageError("lock "+string(row.LedgerSurface())+" snapshot", err)
	}
	return snapshotToView(row.LedgerSurface(), p), nil
}

func upsertSnapshotFor[T ledgerModel, PT snapshotPtr[T]](tx *gorm.DB, key LedgerKey, quantity int, avgPrice decimal.Decimal) (*SnapshotView, error) {
	var row T
	p := PT(&row)
	p.Core().WorkspaceId = key.WorkspaceId
	p.Core().ItemId = key.ItemId
	p.Core().Quantity = quantity
	p.Core().AvgPrice = avgPrice
	p.SetLocationId(key.LocationId)
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "workspace_id"},
			{Name: row.LocationColumn()},
			{Name: "item_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return nil, utils.WrapStorageError("upsert "+string(row.LedgerSurface())+" snapshot", err)
	}
	return snapshotToView(row.LedgerSurface(), p), nil
}

func listSnapshotsFor[T ledgerModel, PT snapshotPtr[T]](tx *gorm.DB, workspaceId string, locationId *int, maxQty *int, offset, limit int) ([]*SnapshotView, error) {
	var model T
	dbCtx := tx.Model(&model).Where("workspace_id = ?", workspaceId)
	if locationId != nil {
		dbCtx = dbCtx.Where(model.LocationColumn()+" = ?", *locationId)
	}
	if maxQty != nil {
		dbCtx = dbCtx.Where("quantity <= ?", *maxQty)
	}
	dbCtx = dbCtx.Order(model.LocationColumn() + " ASC, item_id ASC")
	if offset > 0 {
		dbCtx = dbCtx.Offset(offset)
	}
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}

	var rows []T
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, utils.WrapStorageError("list "+string(model.LedgerSurface())+" snapshots", err)
	}
	views := make([]*SnapshotView, 0, len(rows))
	for i := range rows {
		views = append(views, snapshotToView(model.LedgerSurface(), PT(&rows[i])))
	}
	return views, nil
}

// GetSnapshot returns the cached balance for a key, or nil when the key has
// never been written. Absence is a normal state, not an error.
func GetSnapshot(tx *gorm.DB, surface Surface, key LedgerKey) (*SnapshotView, error) {
	switch surface {
	case SurfaceStorage:
		return getSnapshotFor[StorageSnapshot, *StorageSnapshot](tx, key)
	case SurfaceMachine:
		return getSnapshotFor[MachineSnapshot, *MachineSnapshot](tx, key)
	case SurfaceDamaged:
		return getSnapshotFor[DamagedSnapshot, *DamagedSnapshot](tx, key)
	case SurfaceProjectComponent:
		return getSnapshotFor[ProjectComponentSnapshot, *ProjectComponentSnapshot](tx, key)
	case SurfaceFinishedGoods:
		return getSnapshotFor[FinishedGoodsSnapshot, *FinishedGoodsSnapshot](tx, key)
	}
	return nil, errors.New("invalid surface")
}

// GetSnapshotForUpdate is GetSnapshot as a FOR UPDATE locking read. It queues
// behind any writer holding the key's row lock and then sees that writer's
// committed state; a missing row is still returned as nil, never created.
func GetSnapshotForUpdate(tx *gorm.DB, surface Surface, key LedgerKey) (*SnapshotView, error) {
	return GetSnapshot(tx.Clauses(clause.Locking{Strength: "UPDATE"}), surface, key)
}

// LockSnapshot takes the FOR UPDATE row lock that serializes writers of one
// key. The row is created at zero quantity on a key's first movement, so even
// two first writers queue on the same unique index entry. InnoDB holds the
// lock until the surrounding transaction commits, which is the point: the next
// writer cannot read the key's state until this writer's entry is visible.
func LockSnapshot(tx *gorm.DB, surface Surface, key LedgerKey) (*SnapshotView, error) {
	switch surface {
	case SurfaceStorage:
		return lockSnapshotFor[StorageSnapshot, *StorageSnapshot](tx, key)
	case SurfaceMachine:
		return lockSnapshotFor[MachineSnapshot, *MachineSnapshot](tx, key)
	case SurfaceDamaged:
		return lockSnapshotFor[DamagedSnapshot, *DamagedSnapshot](tx, key)
	case SurfaceProjectComponent:
		return lockSnapshotFor[ProjectComponentSnapshot, *ProjectComponentSnapshot](tx, key)
	case SurfaceFinishedGoods:
		return lockSnapshotFor[FinishedGoodsSnapshot, *FinishedGoodsSnapshot](tx, key)
	}
	return nil, errors.New("invalid surface")
}

// UpsertSnapshot writes the new balance for a key, creating the row on first
// write. Relies on the uniq_snapshot_key unique index for conflict detection.
func UpsertSnapshot(tx *gorm.DB, surface Surface, key LedgerKey, quantity int, avgPrice decimal.Decimal) (*SnapshotView, error) {
	switch surface {
	case SurfaceStorage:
		return upsertSnapshotFor[StorageSnapshot, *StorageSnapshot](tx, key, quantity, avgPrice)
	case SurfaceMachine:
		return upsertSnapshotFor[MachineSnapshot, *MachineSnapshot](tx, key, quantity, avgPrice)
	case SurfaceDamaged:
		return upsertSnapshotFor[DamagedSnapshot, *DamagedSnapshot](tx, key, quantity, avgPrice)
	case SurfaceProjectComponent:
		return upsertSnapshotFor[ProjectComponentSnapshot, *ProjectComponentSnapshot](tx, key, quantity, avgPrice)
	case SurfaceFinishedGoods:
		return upsertSnapshotFor[FinishedGoodsSnapshot, *FinishedGoodsSnapshot](tx, key, quantity, avgPrice)
	}
	return nil, errors.New("invalid surface")
}

// SnapshotsByWorkspace pages through every balance row of one surface.
func SnapshotsByWorkspace(tx *gorm.DB, surface Surface, workspaceId string, offset, limit int) ([]*SnapshotView, error) {
	return listSnapshots(tx, surface, workspaceId, nil, nil, offset, limit)
}

// SnapshotsByLocation narrows to one factory / machine / project component.
func SnapshotsByLocation(tx *gorm.DB, surface Surface, workspaceId string, locationId int, offset, limit int) ([]*SnapshotView, error) {
	return listSnapshots(tx, surface, workspaceId, &locationId, nil, offset, limit)
}

// LowStockSnapshots returns keys whose cached quantity is at or below the
// threshold. Keys with no snapshot row at all never had stock and are excluded.
func LowStockSnapshots(tx *gorm.DB, surface Surface, workspaceId string, threshold int) ([]*SnapshotView, error) {
	return listSnapshots(tx, surface, workspaceId, nil, &threshold, 0, 0)
}

func listSnapshots(tx *gorm.DB, surface Surface, workspaceId string, locationId *int, maxQty *int, offset, limit int) ([]*SnapshotView, error) {
	switch surface {
	case SurfaceStorage:
		return listSnapshotsFor[StorageSnapshot, *StorageSnapshot](tx, workspaceId, locationId, maxQty, offset, limit)
	case SurfaceMachine:
		return listSnapshotsFor[MachineSnapshot, *MachineSnapshot](tx, workspaceId, locationId, maxQty, offset, limit)
	case SurfaceDamaged:
		return listSnapshotsFor[DamagedSnapshot, *DamagedSnapshot](tx, workspaceId, locationId, maxQty, offset, limit)
	case SurfaceProjectComponent:
		return listSnapshotsFor[ProjectComponentSnapshot, *ProjectComponentSnapshot](tx, workspaceId, locationId, maxQty, offset, limit)
	case SurfaceFinishedGoods:
		return listSnapshotsFor[FinishedGoodsSnapshot, *FinishedGoodsSnapshot](tx, workspaceId, locationId, maxQty, offset, limit)
	}
	return nil, errors.New("invalid surface")
}
